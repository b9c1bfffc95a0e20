// Package scanner drives the scan cycle: consensus analysis per watched
// symbol, position sizing for actionable calls, and alert candidates for
// everything worth telling the operator about.
package scanner

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/vigil/internal/domain"
	"github.com/vadiminshakov/vigil/internal/services/consensus"
	"github.com/vadiminshakov/vigil/internal/services/risk"
	"go.uber.org/zap"
)

// ConsensusEngine produces a multi-timeframe consensus for one symbol.
type ConsensusEngine interface {
	Analyze(ctx context.Context, symbol string) (domain.ConsensusResult, error)
}

// RiskLedger sizes positions and applies price updates.
type RiskLedger interface {
	SizePosition(symbol, sector string, entry, stopLoss, target decimal.Decimal, riskPct float64) (domain.SizingDecision, error)
	UpdatePrices(prices map[string]decimal.Decimal) []risk.PositionEvent
}

// AlertGate decides whether a candidate is worth delivering.
type AlertGate interface {
	Evaluate(candidate domain.AlertCandidate) (bool, string)
}

// AlertQueue receives accepted candidates for delivery.
type AlertQueue interface {
	Enqueue(candidate domain.AlertCandidate)
}

// MarketData exposes the freshest collected snapshot per symbol.
type MarketData interface {
	LatestPrice(symbol string) (domain.IndicatorSnapshot, bool)
}

// Watch binds a symbol to its sector for concentration accounting.
type Watch struct {
	Symbol string `json:"symbol" yaml:"symbol"`
	Sector string `json:"sector" yaml:"sector"`
}

// Config tunes the scan loop.
type Config struct {
	Watchlist []Watch

	// OpenInterval is the cycle period while the market trades,
	// ClosedInterval outside the session.
	OpenInterval   time.Duration
	ClosedInterval time.Duration
	Hours          MarketHours

	// TopSignals caps how many signal candidates one cycle may emit; the
	// strongest win. Zero means no cap.
	TopSignals int

	// PatternStrength is the minimum verdict strength for a pattern alert.
	PatternStrength float64
}

// DefaultConfig returns scan settings suitable for an always-open market.
func DefaultConfig() Config {
	return Config{
		OpenInterval:    5 * time.Minute,
		ClosedInterval:  30 * time.Minute,
		Hours:           DefaultMarketHours(),
		TopSignals:      5,
		PatternStrength: 60,
	}
}

// Scanner runs the recurring scan cycle.
type Scanner struct {
	cfg    Config
	engine ConsensusEngine
	ledger RiskLedger
	gate   AlertGate
	queue  AlertQueue
	market MarketData

	logger *zap.Logger
	now    func() time.Time
}

// New creates a scanner over the assembled pipeline.
func New(cfg Config, engine ConsensusEngine, ledger RiskLedger, gate AlertGate,
	queue AlertQueue, market MarketData, logger *zap.Logger) *Scanner {
	return &Scanner{
		cfg:    cfg,
		engine: engine,
		ledger: ledger,
		gate:   gate,
		queue:  queue,
		market: market,
		logger: logger,
		now:    time.Now,
	}
}

// Run executes scan cycles until ctx is cancelled. The first cycle starts
// immediately; subsequent ones follow the market-hours interval.
func (s *Scanner) Run(ctx context.Context) {
	s.logger.Info("scanner started",
		zap.Int("symbols", len(s.cfg.Watchlist)),
		zap.Duration("open_interval", s.cfg.OpenInterval),
		zap.Duration("closed_interval", s.cfg.ClosedInterval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scanner stopped")
			return
		case <-timer.C:
			s.RunCycle(ctx)
			timer.Reset(s.nextInterval())
		}
	}
}

// RunCycle performs one full scan over the watchlist. A failure on one symbol
// never aborts the rest.
func (s *Scanner) RunCycle(ctx context.Context) {
	started := s.now()

	var signals []domain.AlertCandidate
	for _, watch := range s.cfg.Watchlist {
		if ctx.Err() != nil {
			return
		}
		candidates, err := s.scanSymbol(ctx, watch)
		if err != nil {
			s.logger.Warn("symbol scan failed",
				zap.String("symbol", watch.Symbol),
				zap.Error(err))
			continue
		}
		for _, c := range candidates {
			if c.Category == domain.AlertCategorySignal {
				signals = append(signals, c)
				continue
			}
			s.submit(c)
		}
	}

	// strongest signals first; the per-cycle cap keeps a volatile market from
	// flooding the channels
	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Strength > signals[j].Strength
	})
	if s.cfg.TopSignals > 0 && len(signals) > s.cfg.TopSignals {
		signals = signals[:s.cfg.TopSignals]
	}
	for _, c := range signals {
		s.submit(c)
	}

	s.applyPriceUpdates()

	s.logger.Info("scan cycle finished",
		zap.Duration("took", s.now().Sub(started)),
		zap.Int("signals", len(signals)))
}

func (s *Scanner) scanSymbol(ctx context.Context, watch Watch) ([]domain.AlertCandidate, error) {
	result, err := s.engine.Analyze(ctx, watch.Symbol)
	if err != nil {
		if errors.Is(err, consensus.ErrInsufficientData) || errors.Is(err, consensus.ErrAnalysisTimeout) {
			s.logger.Debug("consensus unavailable",
				zap.String("symbol", watch.Symbol),
				zap.Error(err))
			return nil, nil
		}
		return nil, errors.Wrap(err, "analyze")
	}

	snapshot, ok := s.market.LatestPrice(watch.Symbol)
	if !ok {
		return nil, errors.Errorf("no market snapshot for %s", watch.Symbol)
	}

	now := s.now()
	var candidates []domain.AlertCandidate

	if c, ok := s.patternCandidate(result, snapshot, now); ok {
		candidates = append(candidates, c)
	}

	if !result.Recommendation.Actionable() {
		return candidates, nil
	}

	entry, stopLoss, target := s.tradeLevels(result, snapshot)
	decision, err := s.ledger.SizePosition(watch.Symbol, watch.Sector, entry, stopLoss, target, 0)
	if err != nil {
		return candidates, errors.Wrap(err, "size position")
	}

	switch decision.Status {
	case domain.SizingRejected:
		s.logger.Info("signal dropped by risk caps",
			zap.String("symbol", watch.Symbol),
			zap.Strings("violations", decision.Violations))
	case domain.SizingWarning:
		candidates = append(candidates,
			buildRiskWarningCandidate(result, decision, entry, now),
			buildSignalCandidate(result, decision, entry, stopLoss, target, now))
	default:
		candidates = append(candidates,
			buildSignalCandidate(result, decision, entry, stopLoss, target, now))
	}

	return candidates, nil
}

// tradeLevels derives entry, stop and target from the entry interval's key
// levels, falling back to an ATR band when the levels collapse.
func (s *Scanner) tradeLevels(result domain.ConsensusResult, snapshot domain.IndicatorSnapshot) (entry, stopLoss, target decimal.Decimal) {
	entry = snapshot.Price

	levels := result.PerInterval[result.EntryInterval].KeyLevels
	atrPad := snapshot.ATR14.Mul(decimal.NewFromInt(2))

	if result.OverallDirection.IsBullish() {
		stopLoss = levels.Support
		target = levels.Resistance
		if !stopLoss.IsPositive() || stopLoss.GreaterThanOrEqual(entry) {
			stopLoss = entry.Sub(atrPad)
		}
		if !target.IsPositive() || target.LessThanOrEqual(entry) {
			target = entry.Add(atrPad.Mul(decimal.NewFromInt(2)))
		}
		return entry, stopLoss, target
	}

	stopLoss = levels.Resistance
	target = levels.Support
	if !stopLoss.IsPositive() || stopLoss.LessThanOrEqual(entry) {
		stopLoss = entry.Add(atrPad)
	}
	if !target.IsPositive() || target.GreaterThanOrEqual(entry) {
		target = entry.Sub(atrPad.Mul(decimal.NewFromInt(2)))
	}
	return entry, stopLoss, target
}

func (s *Scanner) patternCandidate(result domain.ConsensusResult, snapshot domain.IndicatorSnapshot, now time.Time) (domain.AlertCandidate, bool) {
	if len(snapshot.Patterns()) == 0 {
		return domain.AlertCandidate{}, false
	}
	verdict, ok := result.PerInterval[snapshot.Interval]
	if !ok || verdict.Strength < s.cfg.PatternStrength {
		return domain.AlertCandidate{}, false
	}
	return buildPatternCandidate(snapshot, verdict, now), true
}

func (s *Scanner) applyPriceUpdates() {
	prices := make(map[string]decimal.Decimal, len(s.cfg.Watchlist))
	for _, watch := range s.cfg.Watchlist {
		if snapshot, ok := s.market.LatestPrice(watch.Symbol); ok {
			prices[watch.Symbol] = snapshot.Price
		}
	}
	if len(prices) == 0 {
		return
	}

	for _, event := range s.ledger.UpdatePrices(prices) {
		s.submit(buildPositionUpdateCandidate(event, s.now()))
	}
}

func (s *Scanner) submit(candidate domain.AlertCandidate) {
	accepted, reason := s.gate.Evaluate(candidate)
	if !accepted {
		s.logger.Debug("candidate filtered",
			zap.String("symbol", candidate.Symbol),
			zap.String("category", string(candidate.Category)),
			zap.String("reason", reason))
		return
	}
	s.queue.Enqueue(candidate)
}

func (s *Scanner) nextInterval() time.Duration {
	if s.cfg.Hours.IsOpen(s.now()) {
		return s.cfg.OpenInterval
	}
	return s.cfg.ClosedInterval
}
