package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertCategory classifies a candidate notification.
type AlertCategory string

const (
	AlertCategorySignal         AlertCategory = "signal"
	AlertCategoryRiskWarning    AlertCategory = "risk_warning"
	AlertCategoryPositionUpdate AlertCategory = "position_update"
	AlertCategoryPatternAlert   AlertCategory = "pattern_alert"
)

// AlertPriority orders candidates for delivery; higher values are more urgent.
type AlertPriority int

const (
	PriorityLow AlertPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Title returns a human-readable representation.
func (p AlertPriority) Title() string {
	switch p {
	case PriorityCritical:
		return "Critical"
	case PriorityHigh:
		return "High"
	case PriorityLow:
		return "Low"
	default:
		return "Normal"
	}
}

// SignalPayload carries the fields of a trade-signal alert.
type SignalPayload struct {
	Recommendation Recommendation  `json:"recommendation"`
	Direction      Direction       `json:"direction"`
	EntryInterval  Interval        `json:"entry_interval"`
	Entry          decimal.Decimal `json:"entry"`
	StopLoss       decimal.Decimal `json:"stop_loss"`
	Target         decimal.Decimal `json:"target"`
	Shares         int64           `json:"shares"`
}

// RiskWarningPayload carries the fields of a risk-cap warning alert.
type RiskWarningPayload struct {
	Violations      []string `json:"violations"`
	SuggestedShares int64    `json:"suggested_shares"`
}

// PositionUpdatePayload carries the fields of a position lifecycle alert.
type PositionUpdatePayload struct {
	Reason      CloseReason     `json:"reason"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// PatternAlertPayload carries the fields of a candle-pattern alert.
type PatternAlertPayload struct {
	Patterns []string `json:"patterns"`
	Interval Interval `json:"interval"`
}

// AlertCandidate is one notification awaiting gate evaluation. Exactly one of
// the payload fields matching Category is set; the rest are nil.
type AlertCandidate struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Category  AlertCategory   `json:"category"`
	Priority  AlertPriority   `json:"priority"`
	CreatedAt time.Time       `json:"created_at"`

	// Numeric fields consumed by the gate filters.
	Strength       float64         `json:"strength"`
	ConsensusScore float64         `json:"consensus_score"`
	Confidence     float64         `json:"confidence"`
	RiskReward     float64         `json:"risk_reward"`
	Price          decimal.Decimal `json:"price"`

	// Message is the rendered body delivered to channels.
	Message string `json:"message"`

	Signal         *SignalPayload         `json:"signal,omitempty"`
	RiskWarning    *RiskWarningPayload    `json:"risk_warning,omitempty"`
	PositionUpdate *PositionUpdatePayload `json:"position_update,omitempty"`
	PatternAlert   *PatternAlertPayload   `json:"pattern_alert,omitempty"`
}

// AlertStatistics aggregates gate and dispatcher counters.
type AlertStatistics struct {
	TotalGenerated   int64 `json:"total_generated"`
	FilteredOut      int64 `json:"filtered_out"`
	SentSuccessfully int64 `json:"sent_successfully"`
	DeliveryFailures int64 `json:"delivery_failures"`
	CooldownBlocks   int64 `json:"cooldown_blocks"`
	RateLimitBlocks  int64 `json:"rate_limit_blocks"`
}
