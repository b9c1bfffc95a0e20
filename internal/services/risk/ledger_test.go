package risk

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/vigil/internal/domain"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu      sync.Mutex
	records []domain.TradeRecord
}

func (s *recordingSink) Append(record domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func newTestLedger(t *testing.T, capital int64, profile domain.RiskProfile) (*Ledger, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	ledger, err := NewLedger(decimal.NewFromInt(capital), profile, sink, zap.NewNop())
	require.NoError(t, err)
	return ledger, sink
}

func TestSizePosition_SpecScenario(t *testing.T) {
	// capital=100000, Moderate (maxPositionRiskPct=2), entry=1000, stop=950:
	// riskAmount=2000, shares=40
	ledger, _ := newTestLedger(t, 100000, domain.ProfileModerate)

	decision, err := ledger.SizePosition("RELIANCE", "energy",
		decimal.NewFromInt(1000), decimal.NewFromInt(950), decimal.NewFromInt(1100), 0)
	require.NoError(t, err)

	assert.Equal(t, int64(40), decision.Shares)
	assert.True(t, decision.RiskAmount.Equal(decimal.NewFromInt(2000)), "riskAmount=%s", decision.RiskAmount)
	assert.InDelta(t, 2.0, decision.RiskReward, 0.001)

	// 40 shares at 1000 is worth 40000, past the 15% single-position cap, so
	// the full size comes back as a warning with a compliant suggestion
	assert.Equal(t, domain.SizingWarning, decision.Status)
	assert.Equal(t, int64(15), decision.SuggestedShares)
}

func TestSizePosition_ApprovedWithinAllCaps(t *testing.T) {
	ledger, _ := newTestLedger(t, 100000, domain.ProfileModerate)

	// riskPerShare 15 keeps the position value inside the 15% cap
	decision, err := ledger.SizePosition("RELIANCE", "energy",
		decimal.NewFromInt(100), decimal.NewFromInt(85), decimal.NewFromInt(130), 0)
	require.NoError(t, err)

	assert.Equal(t, domain.SizingApproved, decision.Status)
	assert.Equal(t, int64(133), decision.Shares)
	assert.Empty(t, decision.Violations)
}

func TestSizePosition_RiskAmountMatchesShares(t *testing.T) {
	ledger, _ := newTestLedger(t, 100000, domain.ProfileModerate)

	entry := decimal.NewFromFloat(333.33)
	stop := decimal.NewFromFloat(321.10)

	decision, err := ledger.SizePosition("TCS", "it", entry, stop, decimal.Zero, 0)
	require.NoError(t, err)

	// shares * |entry - stop| == reported risk amount, within one share of the budget
	perShare := entry.Sub(stop).Abs()
	assert.True(t, decision.RiskAmount.Equal(perShare.Mul(decimal.NewFromInt(decision.Shares))))
	assert.True(t, decision.RiskAmount.LessThanOrEqual(decimal.NewFromInt(2000)))
}

func TestSizePosition_InvalidStop(t *testing.T) {
	ledger, _ := newTestLedger(t, 100000, domain.ProfileModerate)

	_, err := ledger.SizePosition("TCS", "it",
		decimal.NewFromInt(500), decimal.NewFromInt(500), decimal.Zero, 0)
	require.ErrorIs(t, err, ErrInvalidStop)
}

func TestSizePosition_DuplicateSymbolRejected(t *testing.T) {
	ledger, _ := newTestLedger(t, 100000, domain.ProfileModerate)

	_, err := ledger.OpenPosition("SBIN", "banking",
		decimal.NewFromInt(600), decimal.NewFromInt(580), decimal.NewFromInt(650), 0)
	require.NoError(t, err)

	decision, err := ledger.SizePosition("SBIN", "banking",
		decimal.NewFromInt(610), decimal.NewFromInt(590), decimal.NewFromInt(660), 0)
	require.NoError(t, err)
	assert.Equal(t, domain.SizingRejected, decision.Status)
}

func TestSizePosition_PositionCountCapRejected(t *testing.T) {
	// Conservative allows 4 open positions
	ledger, _ := newTestLedger(t, 1000000, domain.ProfileConservative)

	symbols := []string{"A", "B", "C", "D"}
	for i, s := range symbols {
		_, err := ledger.OpenPosition(s, "sector"+s,
			decimal.NewFromInt(int64(100+i)), decimal.NewFromInt(int64(95+i)), decimal.Zero, 0)
		require.NoError(t, err)
	}

	decision, err := ledger.SizePosition("E", "misc",
		decimal.NewFromInt(100), decimal.NewFromInt(95), decimal.Zero, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.SizingRejected, decision.Status)
}

func TestSizePosition_ValueCapYieldsWarningWithReducedSize(t *testing.T) {
	// wide stop forces a huge position value relative to capital
	ledger, _ := newTestLedger(t, 100000, domain.ProfileModerate)

	decision, err := ledger.SizePosition("ITC", "fmcg",
		decimal.NewFromInt(400), decimal.NewFromFloat(399.5), decimal.NewFromInt(420), 0)
	require.NoError(t, err)

	assert.Equal(t, domain.SizingWarning, decision.Status)
	assert.NotEmpty(t, decision.Violations)
	assert.Greater(t, decision.Shares, decision.SuggestedShares)

	// the suggestion respects the 15% single-position value cap
	suggestedValue := decimal.NewFromInt(decision.SuggestedShares).Mul(decimal.NewFromInt(400))
	assert.True(t, suggestedValue.LessThanOrEqual(decimal.NewFromInt(15000)))
}

func TestSizePosition_SectorConcentrationWarning(t *testing.T) {
	ledger, _ := newTestLedger(t, 100000, domain.ProfileModerate)

	// fill most of the 30% banking sector budget
	_, err := ledger.OpenPosition("HDFCBANK", "banking",
		decimal.NewFromInt(1400), decimal.NewFromInt(1300), decimal.Zero, 0)
	require.NoError(t, err)

	// a second banking position of ~28k value cannot fit the remaining headroom
	decision, err := ledger.SizePosition("ICICIBANK", "banking",
		decimal.NewFromInt(1400), decimal.NewFromFloat(1399), decimal.Zero, 0)
	require.NoError(t, err)

	assert.Equal(t, domain.SizingWarning, decision.Status)
	found := false
	for _, v := range decision.Violations {
		if v == "sector concentration cap exceeded for banking" {
			found = true
		}
	}
	assert.True(t, found, "violations: %v", decision.Violations)
}

func TestUpdatePrices_StopLossClosesPosition(t *testing.T) {
	ledger, sink := newTestLedger(t, 100000, domain.ProfileModerate)

	position, err := ledger.OpenPosition("RELIANCE", "energy",
		decimal.NewFromInt(100), decimal.NewFromInt(80), decimal.NewFromInt(140), 0)
	require.NoError(t, err)
	require.Equal(t, int64(100), position.Shares)

	events := ledger.UpdatePrices(map[string]decimal.Decimal{
		"RELIANCE": decimal.NewFromInt(78), // gapped through the stop
	})
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, domain.CloseReasonStopLoss, event.Reason)
	// realized at the stop level: 100 * (80 - 100) = -2000
	assert.True(t, event.RealizedPnL.Equal(decimal.NewFromInt(-2000)), "pnl=%s", event.RealizedPnL)

	summary := ledger.Summary()
	assert.Equal(t, 0, summary.OpenPositions)
	assert.Equal(t, 1, summary.ClosedTrades)
	assert.True(t, summary.Capital.Equal(decimal.NewFromInt(98000)))

	require.Len(t, sink.records, 1)
	assert.Equal(t, domain.TradeResultLoss, sink.records[0].Result)
}

func TestUpdatePrices_TargetClosesPosition(t *testing.T) {
	ledger, _ := newTestLedger(t, 100000, domain.ProfileModerate)

	_, err := ledger.OpenPosition("TCS", "it",
		decimal.NewFromInt(100), decimal.NewFromInt(80), decimal.NewFromInt(140), 0)
	require.NoError(t, err)

	events := ledger.UpdatePrices(map[string]decimal.Decimal{
		"TCS": decimal.NewFromInt(142),
	})
	require.Len(t, events, 1)
	assert.Equal(t, domain.CloseReasonTarget, events[0].Reason)
	// realized at target: 100 * (140 - 100) = 4000
	assert.True(t, events[0].RealizedPnL.Equal(decimal.NewFromInt(4000)))
}

func TestUpdatePrices_BadSymbolIsolated(t *testing.T) {
	ledger, _ := newTestLedger(t, 100000, domain.ProfileModerate)

	_, err := ledger.OpenPosition("A", "x", decimal.NewFromInt(100), decimal.NewFromInt(90), decimal.Zero, 0)
	require.NoError(t, err)
	_, err = ledger.OpenPosition("B", "y", decimal.NewFromInt(100), decimal.NewFromInt(90), decimal.Zero, 0)
	require.NoError(t, err)

	events := ledger.UpdatePrices(map[string]decimal.Decimal{
		"A": decimal.NewFromInt(-5), // invalid, must not block B
		"B": decimal.NewFromInt(85),
	})
	require.Len(t, events, 1)
	assert.Equal(t, "B", events[0].Position.Symbol)
}

func TestClosePosition_ManualAndReentry(t *testing.T) {
	ledger, _ := newTestLedger(t, 100000, domain.ProfileModerate)

	_, err := ledger.OpenPosition("INFY", "it",
		decimal.NewFromInt(1500), decimal.NewFromInt(1450), decimal.Zero, 0)
	require.NoError(t, err)

	closed, err := ledger.ClosePosition("INFY", decimal.NewFromInt(1520), domain.CloseReasonManual)
	require.NoError(t, err)
	assert.Equal(t, domain.CloseReasonManual, closed.CloseReason)

	// re-entry on the same symbol is allowed once closed
	_, err = ledger.OpenPosition("INFY", "it",
		decimal.NewFromInt(1510), decimal.NewFromInt(1460), decimal.Zero, 0)
	require.NoError(t, err)
}

func TestClosePosition_UnknownSymbol(t *testing.T) {
	ledger, _ := newTestLedger(t, 100000, domain.ProfileModerate)

	_, err := ledger.ClosePosition("GHOST", decimal.NewFromInt(100), domain.CloseReasonManual)
	require.ErrorIs(t, err, ErrPositionNotFound)
}

func TestConcurrentSizing_BudgetNotDoubleSpent(t *testing.T) {
	// Conservative: max 4 positions. 10 goroutines race to open; only 4 may win.
	ledger, _ := newTestLedger(t, 1000000, domain.ProfileConservative)

	var wg sync.WaitGroup
	opened := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			symbol := string(rune('A' + i))
			_, err := ledger.OpenPosition(symbol, "sector-"+symbol,
				decimal.NewFromInt(100), decimal.NewFromInt(95), decimal.Zero, 0)
			if err == nil {
				opened <- symbol
			}
		}(i)
	}
	wg.Wait()
	close(opened)

	count := 0
	for range opened {
		count++
	}
	assert.Equal(t, 4, count)
	assert.Equal(t, 4, ledger.Summary().OpenPositions)
}

func TestShortPosition_StopAboveEntry(t *testing.T) {
	ledger, _ := newTestLedger(t, 100000, domain.ProfileModerate)

	// stop above entry marks a short
	position, err := ledger.OpenPosition("TATASTEEL", "metals",
		decimal.NewFromInt(150), decimal.NewFromInt(155), decimal.NewFromInt(140), 0)
	require.NoError(t, err)
	assert.False(t, position.IsLong())

	events := ledger.UpdatePrices(map[string]decimal.Decimal{
		"TATASTEEL": decimal.NewFromInt(156),
	})
	require.Len(t, events, 1)
	assert.Equal(t, domain.CloseReasonStopLoss, events[0].Reason)
	assert.True(t, events[0].RealizedPnL.IsNegative())
}
