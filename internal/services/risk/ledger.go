// Package risk holds the portfolio ledger: capital, open positions and the
// profile-driven caps every sizing request is validated against.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/vigil/internal/domain"
	"go.uber.org/zap"
)

var (
	// ErrInvalidStop signals a sizing request whose entry equals its stop.
	ErrInvalidStop = errors.New("entry price equals stop loss")
	// ErrPositionNotFound signals an operation on a symbol with no open position.
	ErrPositionNotFound = errors.New("no open position for symbol")
)

// TradeSink receives the record of every closed position. Realized by the WAL
// trade log.
type TradeSink interface {
	Append(record domain.TradeRecord) error
}

// PositionEvent notifies the scanner of a lifecycle change caused by a price
// update so it can raise a position alert.
type PositionEvent struct {
	Position    domain.Position
	Reason      domain.CloseReason
	RealizedPnL decimal.Decimal
}

// Ledger tracks capital and position lifecycle under one lock so concurrent
// sizing requests cannot both pass a budget check only one can satisfy.
type Ledger struct {
	mu sync.Mutex

	capital     decimal.Decimal
	profile     domain.RiskProfile
	open        map[string]*domain.Position
	closed      []*domain.Position
	lastPrices  map[string]decimal.Decimal
	realizedPnL decimal.Decimal

	sink   TradeSink
	logger *zap.Logger
	now    func() time.Time
}

// NewLedger creates a ledger with the given starting capital and profile.
// sink may be nil when no persistent trade log is configured.
func NewLedger(capital decimal.Decimal, profile domain.RiskProfile, sink TradeSink, logger *zap.Logger) (*Ledger, error) {
	if capital.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("capital must be greater than zero")
	}

	return &Ledger{
		capital:    capital,
		profile:    profile,
		open:       make(map[string]*domain.Position),
		lastPrices: make(map[string]decimal.Decimal),
		sink:       sink,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// SetProfile switches the active risk profile. Existing positions are not
// resized; only future sizing decisions use the new caps.
func (l *Ledger) SetProfile(profile domain.RiskProfile) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.profile = profile
	l.logger.Info("risk profile switched", zap.String("profile", string(profile)))
}

// Profile returns the active risk profile.
func (l *Ledger) Profile() domain.RiskProfile {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profile
}

// SizePosition sizes a hypothetical position for the symbol and validates it
// against the profile caps. riskPct <= 0 uses the profile default. Soft cap
// violations yield a Warning with a reduced suggestion; hard caps (duplicate
// symbol, position count) yield Rejected.
func (l *Ledger) SizePosition(symbol, sector string, entry, stopLoss, target decimal.Decimal, riskPct float64) (domain.SizingDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.sizeLocked(symbol, sector, entry, stopLoss, target, riskPct)
}

// OpenPosition sizes, validates and opens a position in one atomic step.
// Warning sizings open with the reduced suggested share count.
func (l *Ledger) OpenPosition(symbol, sector string, entry, stopLoss, target decimal.Decimal, riskPct float64) (*domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	decision, err := l.sizeLocked(symbol, sector, entry, stopLoss, target, riskPct)
	if err != nil {
		return nil, err
	}

	shares := decision.Shares
	if decision.Status == domain.SizingRejected {
		return nil, errors.Errorf("sizing rejected for %s: %v", symbol, decision.Violations)
	}
	if decision.Status == domain.SizingWarning {
		shares = decision.SuggestedShares
	}
	if shares <= 0 {
		return nil, errors.Errorf("no budget headroom to open %s", symbol)
	}

	position, err := domain.NewPosition(symbol, sector, shares, entry, stopLoss, target, l.now())
	if err != nil {
		return nil, errors.Wrap(err, "open position")
	}

	l.open[symbol] = position
	l.lastPrices[symbol] = entry

	l.logger.Info("position opened",
		zap.String("symbol", symbol),
		zap.Int64("shares", shares),
		zap.String("entry", entry.String()),
		zap.String("stop_loss", stopLoss.String()),
		zap.String("risk_amount", position.RiskAmount.String()))

	return position, nil
}

// UpdatePrices applies the latest prices to open positions and closes any
// whose stop or target was crossed. A failure on one symbol never blocks the
// rest. Returned events describe the closes performed.
func (l *Ledger) UpdatePrices(prices map[string]decimal.Decimal) []PositionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	var events []PositionEvent
	for symbol, price := range prices {
		position, ok := l.open[symbol]
		if !ok {
			continue
		}
		if price.LessThanOrEqual(decimal.Zero) {
			l.logger.Warn("ignoring non-positive price",
				zap.String("symbol", symbol),
				zap.String("price", price.String()))
			continue
		}

		prev, ok := l.lastPrices[symbol]
		if !ok {
			prev = position.EntryPrice
		}
		position.CurrentPrice = price
		l.lastPrices[symbol] = price

		switch {
		case position.StopHit(prev, price):
			event := l.closeLocked(position, position.StopLoss, domain.CloseReasonStopLoss)
			events = append(events, event)
		case position.TargetHit(prev, price):
			event := l.closeLocked(position, position.Target, domain.CloseReasonTarget)
			events = append(events, event)
		}
	}

	return events
}

// ClosePosition closes the symbol's open position at the given price.
func (l *Ledger) ClosePosition(symbol string, exitPrice decimal.Decimal, reason domain.CloseReason) (*domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	position, ok := l.open[symbol]
	if !ok {
		return nil, errors.Wrapf(ErrPositionNotFound, "close %s", symbol)
	}
	if exitPrice.LessThanOrEqual(decimal.Zero) {
		return nil, errors.Errorf("exit price must be greater than zero, got %s", exitPrice)
	}

	event := l.closeLocked(position, exitPrice, reason)
	return &event.Position, nil
}

// Summary builds a point-in-time portfolio view.
func (l *Ledger) Summary() domain.PortfolioSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	totalRisk := decimal.Zero
	unrealized := decimal.Zero
	sectors := make(map[string]decimal.Decimal)

	for _, p := range l.open {
		totalRisk = totalRisk.Add(p.RiskAmount)
		unrealized = unrealized.Add(p.UnrealizedPnL())
		sectors[p.Sector] = sectors[p.Sector].Add(p.Value())
	}

	riskPct := 0.0
	if l.capital.IsPositive() {
		riskPct, _ = totalRisk.Div(l.capital).Mul(decimal.NewFromInt(100)).Float64()
	}

	return domain.PortfolioSummary{
		Capital:        l.capital,
		Profile:        l.profile,
		OpenPositions:  len(l.open),
		ClosedTrades:   len(l.closed),
		TotalRisk:      totalRisk,
		TotalRiskPct:   riskPct,
		UnrealizedPnL:  unrealized,
		RealizedPnL:    l.realizedPnL,
		SectorExposure: sectors,
	}
}

// Positions returns copies of the open positions.
func (l *Ledger) Positions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	positions := make([]domain.Position, 0, len(l.open))
	for _, p := range l.open {
		positions = append(positions, *p)
	}
	return positions
}

// ClosedPositions returns copies of the closed position history.
func (l *Ledger) ClosedPositions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	positions := make([]domain.Position, 0, len(l.closed))
	for _, p := range l.closed {
		positions = append(positions, *p)
	}
	return positions
}

func (l *Ledger) sizeLocked(symbol, sector string, entry, stopLoss, target decimal.Decimal, riskPct float64) (domain.SizingDecision, error) {
	if entry.Equal(stopLoss) {
		return domain.SizingDecision{}, errors.Wrapf(ErrInvalidStop, "size %s", symbol)
	}
	if entry.LessThanOrEqual(decimal.Zero) {
		return domain.SizingDecision{}, errors.Errorf("entry price must be greater than zero, got %s", entry)
	}

	limits := l.profile.Limits()
	if riskPct <= 0 {
		riskPct = limits.MaxPositionRiskPct
	}

	riskAmount := l.capital.Mul(decimal.NewFromFloat(riskPct / 100))
	riskPerShare := entry.Sub(stopLoss).Abs()
	shares := riskAmount.Div(riskPerShare).IntPart()

	decision := domain.SizingDecision{
		Symbol:        symbol,
		Status:        domain.SizingApproved,
		Shares:        shares,
		RiskAmount:    riskPerShare.Mul(decimal.NewFromInt(shares)),
		PositionValue: entry.Mul(decimal.NewFromInt(shares)),
		RiskReward:    riskReward(entry, stopLoss, target),
	}

	// hard caps first: these reject outright
	if _, exists := l.open[symbol]; exists {
		decision.Status = domain.SizingRejected
		decision.Violations = append(decision.Violations, fmt.Sprintf("position already open for %s", symbol))
		return decision, nil
	}
	if len(l.open) >= limits.MaxPositions {
		decision.Status = domain.SizingRejected
		decision.Violations = append(decision.Violations, fmt.Sprintf("position count cap reached (%d)", limits.MaxPositions))
		return decision, nil
	}
	if shares <= 0 {
		decision.Status = domain.SizingRejected
		decision.Violations = append(decision.Violations, "risk budget too small for one share")
		return decision, nil
	}

	// soft caps: compute the remaining headroom of each and warn with the
	// smallest compliant size instead of rejecting
	maxSharesByRisk := l.portfolioRiskHeadroom(limits, riskPerShare)
	maxSharesByValue := l.positionValueHeadroom(limits, entry)
	maxSharesBySector := l.sectorHeadroom(limits, sector, entry)

	if shares > maxSharesByRisk {
		decision.Violations = append(decision.Violations, "portfolio risk cap exceeded")
	}
	if shares > maxSharesByValue {
		decision.Violations = append(decision.Violations, "single position value cap exceeded")
	}
	if shares > maxSharesBySector {
		decision.Violations = append(decision.Violations, fmt.Sprintf("sector concentration cap exceeded for %s", sector))
	}

	if len(decision.Violations) > 0 {
		decision.Status = domain.SizingWarning
		suggested := minInt64(shares, minInt64(maxSharesByRisk, minInt64(maxSharesByValue, maxSharesBySector)))
		if suggested < 0 {
			suggested = 0
		}
		decision.SuggestedShares = suggested

		l.logger.Warn("sizing capped",
			zap.String("symbol", symbol),
			zap.Int64("requested_shares", shares),
			zap.Int64("suggested_shares", suggested),
			zap.Strings("violations", decision.Violations))
	}

	return decision, nil
}

// portfolioRiskHeadroom returns the max shares whose added risk keeps the sum
// of open risk within the portfolio cap.
func (l *Ledger) portfolioRiskHeadroom(limits domain.RiskLimits, riskPerShare decimal.Decimal) int64 {
	openRisk := decimal.Zero
	for _, p := range l.open {
		openRisk = openRisk.Add(p.RiskAmount)
	}

	budget := l.capital.Mul(decimal.NewFromFloat(limits.MaxPortfolioRiskPct / 100)).Sub(openRisk)
	if budget.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	return budget.Div(riskPerShare).IntPart()
}

func (l *Ledger) positionValueHeadroom(limits domain.RiskLimits, entry decimal.Decimal) int64 {
	budget := l.capital.Mul(decimal.NewFromFloat(limits.MaxSinglePositionPct / 100))
	return budget.Div(entry).IntPart()
}

func (l *Ledger) sectorHeadroom(limits domain.RiskLimits, sector string, entry decimal.Decimal) int64 {
	sectorValue := decimal.Zero
	for _, p := range l.open {
		if p.Sector == sector {
			sectorValue = sectorValue.Add(p.Value())
		}
	}

	budget := l.capital.Mul(decimal.NewFromFloat(limits.MaxSectorConcentrationPct / 100)).Sub(sectorValue)
	if budget.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	return budget.Div(entry).IntPart()
}

func (l *Ledger) closeLocked(position *domain.Position, exitPrice decimal.Decimal, reason domain.CloseReason) PositionEvent {
	pnl := position.RealizedPnL(exitPrice)

	position.ClosedAt = l.now()
	position.ExitPrice = exitPrice
	position.CloseReason = reason
	position.CurrentPrice = exitPrice

	delete(l.open, position.Symbol)
	delete(l.lastPrices, position.Symbol)
	l.closed = append(l.closed, position)
	l.capital = l.capital.Add(pnl)
	l.realizedPnL = l.realizedPnL.Add(pnl)

	l.logger.Info("position closed",
		zap.String("symbol", position.Symbol),
		zap.String("reason", string(reason)),
		zap.String("exit", exitPrice.String()),
		zap.String("realized_pnl", pnl.String()))

	if l.sink != nil {
		record := domain.NewTradeRecord(position, nil)
		if err := l.sink.Append(record); err != nil {
			// the close already happened; losing the log entry must not fail it
			l.logger.Error("trade log append failed",
				zap.String("symbol", position.Symbol),
				zap.Error(err))
		}
	}

	return PositionEvent{
		Position:    *position,
		Reason:      reason,
		RealizedPnL: pnl,
	}
}

func riskReward(entry, stopLoss, target decimal.Decimal) float64 {
	risk := entry.Sub(stopLoss).Abs()
	if risk.IsZero() || target.IsZero() {
		return 0
	}
	reward := target.Sub(entry).Abs()
	rr, _ := reward.Div(risk).Float64()
	return rr
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
