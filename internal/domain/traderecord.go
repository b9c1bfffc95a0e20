package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeResult labels the outcome of a closed trade.
type TradeResult string

const (
	TradeResultWin  TradeResult = "win"
	TradeResultLoss TradeResult = "loss"
	TradeResultFlat TradeResult = "flat"
)

// TradeRecord is the structured record appended to the persistent trade log
// when a position closes.
type TradeRecord struct {
	Symbol       string          `json:"symbol"`
	Sector       string          `json:"sector"`
	StrategyTags []string        `json:"strategy_tags,omitempty"`
	Shares       int64           `json:"shares"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	ExitPrice    decimal.Decimal `json:"exit_price"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	Result       TradeResult     `json:"result"`
	CloseReason  CloseReason     `json:"close_reason"`
	OpenedAt     time.Time       `json:"opened_at"`
	ClosedAt     time.Time       `json:"closed_at"`
}

// NewTradeRecord builds the log record for a closed position.
func NewTradeRecord(p *Position, tags []string) TradeRecord {
	pnl := p.RealizedPnL(p.ExitPrice)

	result := TradeResultFlat
	switch {
	case pnl.IsPositive():
		result = TradeResultWin
	case pnl.IsNegative():
		result = TradeResultLoss
	}

	return TradeRecord{
		Symbol:       p.Symbol,
		Sector:       p.Sector,
		StrategyTags: tags,
		Shares:       p.Shares,
		EntryPrice:   p.EntryPrice,
		ExitPrice:    p.ExitPrice,
		RealizedPnL:  pnl,
		Result:       result,
		CloseReason:  p.CloseReason,
		OpenedAt:     p.OpenedAt,
		ClosedAt:     p.ClosedAt,
	}
}
