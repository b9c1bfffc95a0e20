package scanner

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/vigil/internal/domain"
	"github.com/vadiminshakov/vigil/internal/services/risk"
)

func signalPriority(r domain.Recommendation) domain.AlertPriority {
	switch r {
	case domain.RecommendationStrongBuy, domain.RecommendationStrongSell:
		return domain.PriorityCritical
	default:
		return domain.PriorityHigh
	}
}

func buildSignalCandidate(consensus domain.ConsensusResult, decision domain.SizingDecision,
	entry, stopLoss, target decimal.Decimal, now time.Time) domain.AlertCandidate {

	shares := decision.Shares
	if decision.Status == domain.SizingWarning {
		shares = decision.SuggestedShares
	}

	payload := &domain.SignalPayload{
		Recommendation: consensus.Recommendation,
		Direction:      consensus.OverallDirection,
		EntryInterval:  consensus.EntryInterval,
		Entry:          entry,
		StopLoss:       stopLoss,
		Target:         target,
		Shares:         shares,
	}

	candidate := domain.AlertCandidate{
		ID:             uuid.NewString(),
		Symbol:         consensus.Symbol,
		Category:       domain.AlertCategorySignal,
		Priority:       signalPriority(consensus.Recommendation),
		CreatedAt:      now,
		Strength:       consensus.OverallStrength,
		ConsensusScore: consensus.ConsensusScore,
		Confidence:     consensus.OverallConfidence,
		RiskReward:     decision.RiskReward,
		Price:          entry,
		Signal:         payload,
	}
	candidate.Message = renderSignalMessage(consensus, payload)
	return candidate
}

func buildRiskWarningCandidate(consensus domain.ConsensusResult, decision domain.SizingDecision,
	price decimal.Decimal, now time.Time) domain.AlertCandidate {

	payload := &domain.RiskWarningPayload{
		Violations:      decision.Violations,
		SuggestedShares: decision.SuggestedShares,
	}

	candidate := domain.AlertCandidate{
		ID:             uuid.NewString(),
		Symbol:         consensus.Symbol,
		Category:       domain.AlertCategoryRiskWarning,
		Priority:       domain.PriorityHigh,
		CreatedAt:      now,
		Strength:       consensus.OverallStrength,
		ConsensusScore: consensus.ConsensusScore,
		Confidence:     consensus.OverallConfidence,
		Price:          price,
		RiskWarning:    payload,
	}
	candidate.Message = renderRiskWarningMessage(consensus.Symbol, payload)
	return candidate
}

func buildPositionUpdateCandidate(event risk.PositionEvent, now time.Time) domain.AlertCandidate {
	priority := domain.PriorityHigh
	if event.Reason == domain.CloseReasonStopLoss {
		priority = domain.PriorityCritical
	}

	payload := &domain.PositionUpdatePayload{
		Reason:      event.Reason,
		ExitPrice:   event.Position.ExitPrice,
		RealizedPnL: event.RealizedPnL,
	}

	candidate := domain.AlertCandidate{
		ID:             uuid.NewString(),
		Symbol:         event.Position.Symbol,
		Category:       domain.AlertCategoryPositionUpdate,
		Priority:       priority,
		CreatedAt:      now,
		Price:          event.Position.ExitPrice,
		PositionUpdate: payload,
	}
	candidate.Message = renderPositionUpdateMessage(event.Position.Symbol, payload)
	return candidate
}

func buildPatternCandidate(snapshot domain.IndicatorSnapshot, verdict domain.TimeframeVerdict,
	now time.Time) domain.AlertCandidate {

	payload := &domain.PatternAlertPayload{
		Patterns: snapshot.Patterns(),
		Interval: snapshot.Interval,
	}

	candidate := domain.AlertCandidate{
		ID:           uuid.NewString(),
		Symbol:       snapshot.Symbol,
		Category:     domain.AlertCategoryPatternAlert,
		Priority:     domain.PriorityNormal,
		CreatedAt:    now,
		Strength:     verdict.Strength,
		Confidence:   verdict.Confidence,
		Price:        snapshot.Price,
		PatternAlert: payload,
	}
	candidate.Message = renderPatternMessage(snapshot.Symbol, payload)
	return candidate
}

func renderSignalMessage(consensus domain.ConsensusResult, payload *domain.SignalPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s Signal: %s*\n\n", consensus.Symbol, payload.Recommendation.Title())
	fmt.Fprintf(&b, "*Direction:* %s\n", payload.Direction.Title())
	fmt.Fprintf(&b, "*Consensus:* %.0f%% of timeframes\n", consensus.ConsensusScore)
	fmt.Fprintf(&b, "*Strength:* %.0f%%\n", consensus.OverallStrength)
	fmt.Fprintf(&b, "*Timeframe:* %s\n", payload.EntryInterval)
	fmt.Fprintf(&b, "*Entry:* %s\n", payload.Entry)
	fmt.Fprintf(&b, "*Stop:* %s\n", payload.StopLoss)
	fmt.Fprintf(&b, "*Target:* %s\n", payload.Target)
	fmt.Fprintf(&b, "*Size:* %d shares\n", payload.Shares)
	if len(consensus.Conflicts) > 0 {
		fmt.Fprintf(&b, "*Conflicts:* %s\n", strings.Join(consensus.Conflicts, "; "))
	}
	return b.String()
}

func renderRiskWarningMessage(symbol string, payload *domain.RiskWarningPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s Risk Warning*\n\n", symbol)
	for _, v := range payload.Violations {
		fmt.Fprintf(&b, "- %s\n", v)
	}
	fmt.Fprintf(&b, "*Suggested size:* %d shares\n", payload.SuggestedShares)
	return b.String()
}

func renderPositionUpdateMessage(symbol string, payload *domain.PositionUpdatePayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s Position Closed*\n\n", symbol)
	fmt.Fprintf(&b, "*Reason:* %s\n", payload.Reason)
	fmt.Fprintf(&b, "*Exit:* %s\n", payload.ExitPrice)
	fmt.Fprintf(&b, "*Realized PnL:* %s\n", payload.RealizedPnL)
	return b.String()
}

func renderPatternMessage(symbol string, payload *domain.PatternAlertPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s Pattern Alert*\n\n", symbol)
	fmt.Fprintf(&b, "*Patterns:* %s\n", strings.Join(payload.Patterns, ", "))
	fmt.Fprintf(&b, "*Timeframe:* %s\n", payload.Interval)
	return b.String()
}
