// Package collector fetches OHLCV bars from market data providers and turns
// them into indicator snapshots for the analyzer.
package collector

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/vigil/internal/domain"
	"github.com/vadiminshakov/vigil/pkg/indicators"
	"go.uber.org/zap"
)

const fetchTimeout = 30 * time.Second

// BarProvider fetches historical bars for a symbol and interval.
type BarProvider interface {
	FetchBars(ctx context.Context, symbol string, interval domain.Interval, lookback int) ([]domain.Bar, error)
}

type snapshotKey struct {
	symbol   string
	interval domain.Interval
}

// Collector composes a bar provider with indicator computation. Snapshots for
// a (symbol, interval) pair are monotonic: when the provider returns the same
// bar again, the previously computed snapshot is served instead of a
// duplicate with an equal AsOf.
type Collector struct {
	provider BarProvider
	lookback int

	mu   sync.Mutex
	last map[snapshotKey]domain.IndicatorSnapshot

	logger *zap.Logger
}

// NewCollector creates a collector over the given provider. lookback below the
// indicator minimum is raised to it.
func NewCollector(provider BarProvider, lookback int, logger *zap.Logger) *Collector {
	if lookback < indicators.MinBars {
		lookback = indicators.MinBars
	}
	return &Collector{
		provider: provider,
		lookback: lookback,
		last:     make(map[snapshotKey]domain.IndicatorSnapshot),
		logger:   logger,
	}
}

// Snapshot fetches bars and computes the indicator bundle for the pair.
func (c *Collector) Snapshot(ctx context.Context, symbol string, interval domain.Interval) (domain.IndicatorSnapshot, error) {
	if !interval.Valid() {
		return domain.IndicatorSnapshot{}, errors.Errorf("unsupported interval %s", interval)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	bars, err := c.provider.FetchBars(fetchCtx, symbol, interval, c.lookback)
	if err != nil {
		return domain.IndicatorSnapshot{}, errors.Wrapf(err, "fetch bars for %s %s", symbol, interval)
	}
	if len(bars) == 0 {
		return domain.IndicatorSnapshot{}, errors.Errorf("no bars returned for %s %s", symbol, interval)
	}

	snapshot, err := indicators.Compute(symbol, interval, bars)
	if err != nil {
		return domain.IndicatorSnapshot{}, errors.Wrapf(err, "compute indicators for %s %s", symbol, interval)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := snapshotKey{symbol: symbol, interval: interval}
	if prev, ok := c.last[key]; ok && !snapshot.AsOf.After(prev.AsOf) {
		c.logger.Debug("serving previous snapshot, no newer bar yet",
			zap.String("symbol", symbol),
			zap.String("interval", string(interval)),
			zap.Time("as_of", prev.AsOf))
		return prev, nil
	}
	c.last[key] = snapshot

	return snapshot, nil
}

// LatestPrice returns the close of the freshest snapshot held for the symbol,
// preferring shorter intervals. Returns false when nothing was collected yet.
func (c *Collector) LatestPrice(symbol string) (domain.IndicatorSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var best domain.IndicatorSnapshot
	found := false
	for _, interval := range domain.ScanIntervals {
		if s, ok := c.last[snapshotKey{symbol: symbol, interval: interval}]; ok {
			if !found || s.AsOf.After(best.AsOf) {
				best = s
				found = true
			}
		}
	}
	return best, found
}
