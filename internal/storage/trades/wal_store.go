// Package trades persists closed trade records in a write-ahead log so the
// history survives restarts.
package trades

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/vigil/internal/domain"
)

const (
	DefaultDir   = "./wal/trades"
	segmentLimit = 100
	maxSegments  = 10

	tradeKeyPrefix = "trade_"
)

// Entry is a trade record together with its WAL position.
type Entry struct {
	Index  uint64             `json:"index"`
	Record domain.TradeRecord `json:"record"`
}

// Stats aggregates the persisted trade history.
type Stats struct {
	Total    int             `json:"total"`
	Wins     int             `json:"wins"`
	Losses   int             `json:"losses"`
	Flat     int             `json:"flat"`
	WinRate  float64         `json:"win_rate"`
	TotalPnL decimal.Decimal `json:"total_pnl"`
}

// WALStore is a gowal-backed append-only trade log.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore opens or creates the trade log in dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "trade_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init trade WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Append writes a closed trade record to the log.
func (s *WALStore) Append(record domain.TradeRecord) error {
	if s == nil || s.wal == nil {
		return errors.New("trade store is not initialized")
	}
	if record.Symbol == "" {
		return errors.New("trade record symbol is required")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "marshal trade record")
	}

	key := fmt.Sprintf("%s%s", tradeKeyPrefix, record.Symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

// RecordsAfter returns all trade records written after the given WAL index.
func (s *WALStore) RecordsAfter(index uint64) ([]Entry, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("trade store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	entries := make([]Entry, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil {
			continue
		}
		if !strings.HasPrefix(key, tradeKeyPrefix) {
			continue
		}

		var record domain.TradeRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, errors.Wrap(err, "decode trade record")
		}
		entries = append(entries, Entry{Index: idx, Record: record})
	}

	return entries, nil
}

// Stats folds the whole history into aggregate counters.
func (s *WALStore) Stats() (Stats, error) {
	entries, err := s.RecordsAfter(0)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{TotalPnL: decimal.Zero}
	for _, e := range entries {
		stats.Total++
		stats.TotalPnL = stats.TotalPnL.Add(e.Record.RealizedPnL)
		switch e.Record.Result {
		case domain.TradeResultWin:
			stats.Wins++
		case domain.TradeResultLoss:
			stats.Losses++
		default:
			stats.Flat++
		}
	}
	if stats.Total > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Total) * 100
	}

	return stats, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("trade store is not initialized")
	}
	return s.wal.Close()
}
