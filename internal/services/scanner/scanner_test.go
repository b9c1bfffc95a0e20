package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/vigil/internal/domain"
	"github.com/vadiminshakov/vigil/internal/services/risk"
	"go.uber.org/zap"
)

type fakeEngine struct {
	results map[string]domain.ConsensusResult
	errs    map[string]error
}

func (e *fakeEngine) Analyze(ctx context.Context, symbol string) (domain.ConsensusResult, error) {
	if err, ok := e.errs[symbol]; ok {
		return domain.ConsensusResult{}, err
	}
	r, ok := e.results[symbol]
	if !ok {
		return domain.ConsensusResult{}, errors.Errorf("no result for %s", symbol)
	}
	return r, nil
}

type fakeLedger struct {
	decisions map[string]domain.SizingDecision
	events    []risk.PositionEvent
	sized     []string
	updated   map[string]decimal.Decimal
}

func (l *fakeLedger) SizePosition(symbol, sector string, entry, stopLoss, target decimal.Decimal, riskPct float64) (domain.SizingDecision, error) {
	l.sized = append(l.sized, symbol)
	if d, ok := l.decisions[symbol]; ok {
		return d, nil
	}
	return domain.SizingDecision{Symbol: symbol, Status: domain.SizingApproved, Shares: 10}, nil
}

func (l *fakeLedger) UpdatePrices(prices map[string]decimal.Decimal) []risk.PositionEvent {
	l.updated = prices
	return l.events
}

type fakeGate struct {
	rejectAll bool
	seen      []domain.AlertCandidate
}

func (g *fakeGate) Evaluate(candidate domain.AlertCandidate) (bool, string) {
	g.seen = append(g.seen, candidate)
	if g.rejectAll {
		return false, "rejected"
	}
	return true, ""
}

type fakeQueue struct {
	enqueued []domain.AlertCandidate
}

func (q *fakeQueue) Enqueue(candidate domain.AlertCandidate) {
	q.enqueued = append(q.enqueued, candidate)
}

type fakeMarket struct {
	snapshots map[string]domain.IndicatorSnapshot
}

func (m *fakeMarket) LatestPrice(symbol string) (domain.IndicatorSnapshot, bool) {
	s, ok := m.snapshots[symbol]
	return s, ok
}

func bullishResult(symbol string, strength float64, rec domain.Recommendation) domain.ConsensusResult {
	return domain.ConsensusResult{
		Symbol:            symbol,
		OverallDirection:  domain.DirectionBullish,
		OverallStrength:   strength,
		OverallConfidence: 70,
		ConsensusScore:    80,
		Recommendation:    rec,
		EntryInterval:     domain.Interval1h,
		PerInterval: map[domain.Interval]domain.TimeframeVerdict{
			domain.Interval1h: {
				Interval:  domain.Interval1h,
				Direction: domain.DirectionBullish,
				Strength:  strength,
				KeyLevels: domain.KeyLevels{
					Support:    decimal.NewFromInt(95),
					Resistance: decimal.NewFromInt(115),
				},
			},
		},
		AnalyzedAt: time.Now(),
	}
}

func snapshot(symbol string) domain.IndicatorSnapshot {
	return domain.IndicatorSnapshot{
		Symbol:   symbol,
		Interval: domain.Interval1h,
		Price:    decimal.NewFromInt(100),
		ATR14:    decimal.NewFromInt(2),
	}
}

func newTestScanner(cfg Config, engine *fakeEngine, ledger *fakeLedger, market *fakeMarket) (*Scanner, *fakeGate, *fakeQueue) {
	gate := &fakeGate{}
	queue := &fakeQueue{}
	s := New(cfg, engine, ledger, gate, queue, market, zap.NewNop())
	return s, gate, queue
}

func TestRunCycle_ActionableSignalDelivered(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Watchlist = []Watch{{Symbol: "RELIANCE", Sector: "energy"}}

	engine := &fakeEngine{results: map[string]domain.ConsensusResult{
		"RELIANCE": bullishResult("RELIANCE", 85, domain.RecommendationBuy),
	}}
	ledger := &fakeLedger{}
	market := &fakeMarket{snapshots: map[string]domain.IndicatorSnapshot{
		"RELIANCE": snapshot("RELIANCE"),
	}}

	s, _, queue := newTestScanner(cfg, engine, ledger, market)
	s.RunCycle(context.Background())

	require.Len(t, queue.enqueued, 1)
	c := queue.enqueued[0]
	assert.Equal(t, domain.AlertCategorySignal, c.Category)
	require.NotNil(t, c.Signal)
	assert.True(t, c.Signal.Entry.Equal(decimal.NewFromInt(100)))
	assert.True(t, c.Signal.StopLoss.Equal(decimal.NewFromInt(95)))
	assert.True(t, c.Signal.Target.Equal(decimal.NewFromInt(115)))
	assert.Equal(t, int64(10), c.Signal.Shares)
	assert.Contains(t, c.Message, "RELIANCE")

	// sizing happened before alerting
	assert.Equal(t, []string{"RELIANCE"}, ledger.sized)
}

func TestRunCycle_HoldProducesNoSignal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Watchlist = []Watch{{Symbol: "TCS", Sector: "it"}}

	engine := &fakeEngine{results: map[string]domain.ConsensusResult{
		"TCS": bullishResult("TCS", 55, domain.RecommendationHold),
	}}
	ledger := &fakeLedger{}
	market := &fakeMarket{snapshots: map[string]domain.IndicatorSnapshot{
		"TCS": snapshot("TCS"),
	}}

	s, _, queue := newTestScanner(cfg, engine, ledger, market)
	s.RunCycle(context.Background())

	assert.Empty(t, queue.enqueued)
	assert.Empty(t, ledger.sized)
}

func TestRunCycle_SizingWarningEmitsRiskWarning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Watchlist = []Watch{{Symbol: "RELIANCE", Sector: "energy"}}

	engine := &fakeEngine{results: map[string]domain.ConsensusResult{
		"RELIANCE": bullishResult("RELIANCE", 85, domain.RecommendationBuy),
	}}
	ledger := &fakeLedger{decisions: map[string]domain.SizingDecision{
		"RELIANCE": {
			Symbol:          "RELIANCE",
			Status:          domain.SizingWarning,
			Shares:          40,
			SuggestedShares: 15,
			Violations:      []string{"single position value cap exceeded"},
		},
	}}
	market := &fakeMarket{snapshots: map[string]domain.IndicatorSnapshot{
		"RELIANCE": snapshot("RELIANCE"),
	}}

	s, _, queue := newTestScanner(cfg, engine, ledger, market)
	s.RunCycle(context.Background())

	require.Len(t, queue.enqueued, 2)

	categories := []domain.AlertCategory{queue.enqueued[0].Category, queue.enqueued[1].Category}
	assert.Contains(t, categories, domain.AlertCategoryRiskWarning)
	assert.Contains(t, categories, domain.AlertCategorySignal)

	for _, c := range queue.enqueued {
		if c.Category == domain.AlertCategorySignal {
			assert.Equal(t, int64(15), c.Signal.Shares)
		}
	}
}

func TestRunCycle_RejectedSizingDropsSignal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Watchlist = []Watch{{Symbol: "RELIANCE", Sector: "energy"}}

	engine := &fakeEngine{results: map[string]domain.ConsensusResult{
		"RELIANCE": bullishResult("RELIANCE", 85, domain.RecommendationBuy),
	}}
	ledger := &fakeLedger{decisions: map[string]domain.SizingDecision{
		"RELIANCE": {Symbol: "RELIANCE", Status: domain.SizingRejected},
	}}
	market := &fakeMarket{snapshots: map[string]domain.IndicatorSnapshot{
		"RELIANCE": snapshot("RELIANCE"),
	}}

	s, _, queue := newTestScanner(cfg, engine, ledger, market)
	s.RunCycle(context.Background())

	assert.Empty(t, queue.enqueued)
}

func TestRunCycle_SymbolFailureIsolated(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Watchlist = []Watch{
		{Symbol: "BROKEN", Sector: "x"},
		{Symbol: "RELIANCE", Sector: "energy"},
	}

	engine := &fakeEngine{
		results: map[string]domain.ConsensusResult{
			"RELIANCE": bullishResult("RELIANCE", 85, domain.RecommendationBuy),
		},
		errs: map[string]error{"BROKEN": errors.New("provider down")},
	}
	ledger := &fakeLedger{}
	market := &fakeMarket{snapshots: map[string]domain.IndicatorSnapshot{
		"RELIANCE": snapshot("RELIANCE"),
	}}

	s, _, queue := newTestScanner(cfg, engine, ledger, market)
	s.RunCycle(context.Background())

	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, "RELIANCE", queue.enqueued[0].Symbol)
}

func TestRunCycle_TopSignalsCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopSignals = 2
	cfg.Watchlist = []Watch{
		{Symbol: "A", Sector: "s1"},
		{Symbol: "B", Sector: "s2"},
		{Symbol: "C", Sector: "s3"},
	}

	engine := &fakeEngine{results: map[string]domain.ConsensusResult{
		"A": bullishResult("A", 60, domain.RecommendationBuy),
		"B": bullishResult("B", 90, domain.RecommendationBuy),
		"C": bullishResult("C", 75, domain.RecommendationBuy),
	}}
	ledger := &fakeLedger{}
	market := &fakeMarket{snapshots: map[string]domain.IndicatorSnapshot{
		"A": snapshot("A"), "B": snapshot("B"), "C": snapshot("C"),
	}}

	s, _, queue := newTestScanner(cfg, engine, ledger, market)
	s.RunCycle(context.Background())

	require.Len(t, queue.enqueued, 2)
	assert.Equal(t, "B", queue.enqueued[0].Symbol)
	assert.Equal(t, "C", queue.enqueued[1].Symbol)
}

func TestRunCycle_PositionEventsBecomeAlerts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Watchlist = []Watch{{Symbol: "TCS", Sector: "it"}}

	engine := &fakeEngine{results: map[string]domain.ConsensusResult{
		"TCS": bullishResult("TCS", 55, domain.RecommendationHold),
	}}
	position, err := domain.NewPosition("TCS", "it", 10,
		decimal.NewFromInt(100), decimal.NewFromInt(95), decimal.NewFromInt(110), time.Now())
	require.NoError(t, err)
	position.ExitPrice = decimal.NewFromInt(95)

	ledger := &fakeLedger{events: []risk.PositionEvent{{
		Position:    *position,
		Reason:      domain.CloseReasonStopLoss,
		RealizedPnL: decimal.NewFromInt(-50),
	}}}
	market := &fakeMarket{snapshots: map[string]domain.IndicatorSnapshot{
		"TCS": snapshot("TCS"),
	}}

	s, _, queue := newTestScanner(cfg, engine, ledger, market)
	s.RunCycle(context.Background())

	require.Len(t, queue.enqueued, 1)
	c := queue.enqueued[0]
	assert.Equal(t, domain.AlertCategoryPositionUpdate, c.Category)
	assert.Equal(t, domain.PriorityCritical, c.Priority)
	require.NotNil(t, c.PositionUpdate)
	assert.Equal(t, domain.CloseReasonStopLoss, c.PositionUpdate.Reason)

	// prices from the cycle reached the ledger
	assert.Contains(t, ledger.updated, "TCS")
}

func TestRunCycle_GateRejectionStopsDelivery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Watchlist = []Watch{{Symbol: "RELIANCE", Sector: "energy"}}

	engine := &fakeEngine{results: map[string]domain.ConsensusResult{
		"RELIANCE": bullishResult("RELIANCE", 85, domain.RecommendationBuy),
	}}
	ledger := &fakeLedger{}
	market := &fakeMarket{snapshots: map[string]domain.IndicatorSnapshot{
		"RELIANCE": snapshot("RELIANCE"),
	}}

	s, gate, queue := newTestScanner(cfg, engine, ledger, market)
	gate.rejectAll = true
	s.RunCycle(context.Background())

	assert.NotEmpty(t, gate.seen)
	assert.Empty(t, queue.enqueued)
}

func TestNextInterval_FollowsMarketHours(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OpenInterval = 5 * time.Minute
	cfg.ClosedInterval = 30 * time.Minute
	cfg.Hours = MarketHours{
		OpenHour: 9, OpenMin: 15,
		CloseHour: 15, CloseMin: 30,
	}

	s, _, _ := newTestScanner(cfg, &fakeEngine{}, &fakeLedger{}, &fakeMarket{})

	// Monday noon: open
	s.now = func() time.Time { return time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC) }
	assert.Equal(t, 5*time.Minute, s.nextInterval())

	// Monday evening: closed
	s.now = func() time.Time { return time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC) }
	assert.Equal(t, 30*time.Minute, s.nextInterval())

	// Saturday: closed
	s.now = func() time.Time { return time.Date(2025, 6, 7, 12, 0, 0, 0, time.UTC) }
	assert.Equal(t, 30*time.Minute, s.nextInterval())
}

func TestMarketHours_AlwaysOpen(t *testing.T) {
	hours := DefaultMarketHours()
	assert.True(t, hours.IsOpen(time.Date(2025, 6, 7, 3, 0, 0, 0, time.UTC)))
}
