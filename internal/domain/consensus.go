package domain

import "time"

// Recommendation is the graded trading call derived from the consensus.
type Recommendation string

const (
	RecommendationStrongBuy  Recommendation = "strong_buy"
	RecommendationBuy        Recommendation = "buy"
	RecommendationHold       Recommendation = "hold"
	RecommendationSell       Recommendation = "sell"
	RecommendationStrongSell Recommendation = "strong_sell"
	RecommendationWait       Recommendation = "wait"
)

// Actionable reports whether the recommendation should reach the risk ledger.
func (r Recommendation) Actionable() bool {
	switch r {
	case RecommendationStrongBuy, RecommendationBuy, RecommendationSell, RecommendationStrongSell:
		return true
	default:
		return false
	}
}

// Title returns a human-readable representation.
func (r Recommendation) Title() string {
	switch r {
	case RecommendationStrongBuy:
		return "Strong Buy"
	case RecommendationBuy:
		return "Buy"
	case RecommendationHold:
		return "Hold"
	case RecommendationSell:
		return "Sell"
	case RecommendationStrongSell:
		return "Strong Sell"
	default:
		return "Wait"
	}
}

// RiskLevel grades how contested a consensus is.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelModerate RiskLevel = "moderate"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelVeryHigh RiskLevel = "very_high"
)

// ConsensusResult merges the per-interval verdicts for one symbol into a single
// directional call. Produced once per scan cycle and discarded afterwards
// (the engine may cache it for a bounded TTL).
type ConsensusResult struct {
	Symbol            string    `json:"symbol"`
	OverallDirection  Direction `json:"overall_direction"`
	OverallStrength   float64   `json:"overall_strength"`
	OverallConfidence float64   `json:"overall_confidence"`
	// ConsensusScore is the fraction of intervals agreeing with the majority
	// direction, scaled to 0-100.
	ConsensusScore float64                       `json:"consensus_score"`
	Recommendation Recommendation                `json:"recommendation"`
	EntryInterval  Interval                      `json:"entry_interval"`
	RiskLevel      RiskLevel                     `json:"risk_level"`
	Conflicts      []string                      `json:"conflicts,omitempty"`
	PerInterval    map[Interval]TimeframeVerdict `json:"per_interval"`
	AnalyzedAt     time.Time                     `json:"analyzed_at"`
}
