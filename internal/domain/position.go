package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// CloseReason explains why a position left the open set.
type CloseReason string

const (
	CloseReasonStopLoss CloseReason = "stop_loss"
	CloseReasonTarget   CloseReason = "target"
	CloseReasonManual   CloseReason = "manual"
)

// Position is a sized holding tracked by the risk ledger. A symbol has at most
// one open position at a time; closed positions move to the ledger history.
type Position struct {
	Symbol       string          `json:"symbol"`
	Sector       string          `json:"sector"`
	Shares       int64           `json:"shares"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	StopLoss     decimal.Decimal `json:"stop_loss"`
	Target       decimal.Decimal `json:"target"`
	RiskAmount   decimal.Decimal `json:"risk_amount"`
	OpenedAt     time.Time       `json:"opened_at"`

	ClosedAt    time.Time       `json:"closed_at,omitempty"`
	ExitPrice   decimal.Decimal `json:"exit_price,omitempty"`
	CloseReason CloseReason     `json:"close_reason,omitempty"`
}

// NewPosition validates and constructs an open position.
// RiskAmount is shares * |entry - stopLoss| and is always non-negative.
func NewPosition(symbol, sector string, shares int64, entry, stopLoss, target decimal.Decimal, openedAt time.Time) (*Position, error) {
	if shares <= 0 {
		return nil, errors.New("position shares must be greater than zero")
	}
	if entry.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("entry price must be greater than zero")
	}
	if entry.Equal(stopLoss) {
		return nil, errors.New("entry price must differ from stop loss")
	}

	riskPerShare := entry.Sub(stopLoss).Abs()
	return &Position{
		Symbol:       symbol,
		Sector:       sector,
		Shares:       shares,
		EntryPrice:   entry,
		CurrentPrice: entry,
		StopLoss:     stopLoss,
		Target:       target,
		RiskAmount:   riskPerShare.Mul(decimal.NewFromInt(shares)),
		OpenedAt:     openedAt,
	}, nil
}

// IsLong reports whether the position profits from rising prices.
// Stop below entry means long; stop above entry means short.
func (p *Position) IsLong() bool {
	return p.StopLoss.LessThan(p.EntryPrice)
}

// UnrealizedPnL calculates profit and loss at the current tracked price.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return p.pnlAt(p.CurrentPrice)
}

// RealizedPnL calculates profit and loss for the given exit price.
func (p *Position) RealizedPnL(exitPrice decimal.Decimal) decimal.Decimal {
	return p.pnlAt(exitPrice)
}

func (p *Position) pnlAt(price decimal.Decimal) decimal.Decimal {
	if p == nil || price.IsZero() {
		return decimal.Zero
	}
	diff := price.Sub(p.EntryPrice)
	if !p.IsLong() {
		diff = diff.Neg()
	}
	return diff.Mul(decimal.NewFromInt(p.Shares))
}

// Value returns the position value at the current tracked price.
func (p *Position) Value() decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return p.CurrentPrice.Mul(decimal.NewFromInt(p.Shares))
}

// StopHit reports whether the price reached the stop level, comparing against
// the previous price so a gap through the stop is not missed.
func (p *Position) StopHit(prev, price decimal.Decimal) bool {
	if p.IsLong() {
		return price.LessThanOrEqual(p.StopLoss) || (prev.GreaterThan(p.StopLoss) && price.LessThanOrEqual(p.StopLoss))
	}
	return price.GreaterThanOrEqual(p.StopLoss) || (prev.LessThan(p.StopLoss) && price.GreaterThanOrEqual(p.StopLoss))
}

// TargetHit reports whether the price reached the target level.
func (p *Position) TargetHit(prev, price decimal.Decimal) bool {
	if p.Target.IsZero() {
		return false
	}
	if p.IsLong() {
		return price.GreaterThanOrEqual(p.Target) || (prev.LessThan(p.Target) && price.GreaterThanOrEqual(p.Target))
	}
	return price.LessThanOrEqual(p.Target) || (prev.GreaterThan(p.Target) && price.LessThanOrEqual(p.Target))
}

// SizingStatus grades the outcome of a sizing request.
type SizingStatus string

const (
	SizingApproved SizingStatus = "approved"
	SizingWarning  SizingStatus = "warning"
	SizingRejected SizingStatus = "rejected"
)

// SizingDecision is the answer to a SizePosition request.
type SizingDecision struct {
	Symbol          string          `json:"symbol"`
	Status          SizingStatus    `json:"status"`
	Shares          int64           `json:"shares"`
	SuggestedShares int64           `json:"suggested_shares,omitempty"`
	RiskAmount      decimal.Decimal `json:"risk_amount"`
	PositionValue   decimal.Decimal `json:"position_value"`
	RiskReward      float64         `json:"risk_reward"`
	Violations      []string        `json:"violations,omitempty"`
}

// PortfolioSummary is a point-in-time view of the ledger state.
type PortfolioSummary struct {
	Capital        decimal.Decimal            `json:"capital"`
	Profile        RiskProfile                `json:"profile"`
	OpenPositions  int                        `json:"open_positions"`
	ClosedTrades   int                        `json:"closed_trades"`
	TotalRisk      decimal.Decimal            `json:"total_risk"`
	TotalRiskPct   float64                    `json:"total_risk_pct"`
	UnrealizedPnL  decimal.Decimal            `json:"unrealized_pnl"`
	RealizedPnL    decimal.Decimal            `json:"realized_pnl"`
	SectorExposure map[string]decimal.Decimal `json:"sector_exposure,omitempty"`
}
