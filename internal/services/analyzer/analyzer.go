// Package analyzer scores a single (symbol, interval) pair into a directional
// verdict used by the consensus engine.
package analyzer

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/vigil/internal/domain"
	"go.uber.org/zap"
)

// SnapshotSource provides the technical feature bundle for a (symbol, interval)
// pair. Realized by the market collector.
type SnapshotSource interface {
	Snapshot(ctx context.Context, symbol string, interval domain.Interval) (domain.IndicatorSnapshot, error)
}

// Thresholds tunes the scoring rules. Zero value is not usable; call
// DefaultThresholds.
type Thresholds struct {
	RSIBullish float64 // RSI above this adds a bullish point
	RSIBearish float64 // RSI below this adds a bearish point

	VolumeTier1 float64 // smallest volume-ratio bonus tier
	VolumeTier2 float64
	VolumeTier3 float64

	StrengthFloor float64
	StrengthCap   float64
}

// DefaultThresholds returns the stock scoring thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RSIBullish:    55,
		RSIBearish:    45,
		VolumeTier1:   1.2,
		VolumeTier2:   1.5,
		VolumeTier3:   2.0,
		StrengthFloor: 15,
		StrengthCap:   95,
	}
}

// TimeframeAnalyzer converts indicator snapshots into timeframe verdicts.
type TimeframeAnalyzer struct {
	source     SnapshotSource
	thresholds Thresholds
	logger     *zap.Logger
}

// New creates a TimeframeAnalyzer.
func New(source SnapshotSource, thresholds Thresholds, logger *zap.Logger) *TimeframeAnalyzer {
	return &TimeframeAnalyzer{
		source:     source,
		thresholds: thresholds,
		logger:     logger,
	}
}

// Score analyzes one (symbol, interval) pair.
func (a *TimeframeAnalyzer) Score(ctx context.Context, symbol string, interval domain.Interval) (domain.TimeframeVerdict, error) {
	snapshot, err := a.source.Snapshot(ctx, symbol, interval)
	if err != nil {
		return domain.TimeframeVerdict{}, errors.Wrapf(err, "snapshot failed for %s %s", symbol, interval)
	}

	return a.scoreSnapshot(snapshot), nil
}

// scoreSnapshot holds the pure scoring logic; split out for tests.
func (a *TimeframeAnalyzer) scoreSnapshot(s domain.IndicatorSnapshot) domain.TimeframeVerdict {
	score := a.directionScore(s)
	direction := domain.DirectionFromScore(score)

	verdict := domain.TimeframeVerdict{
		Interval:        s.Interval,
		Direction:       direction,
		Strength:        a.strength(s, direction),
		Confidence:      a.confidence(s, direction),
		VolumeConfirmed: s.VolumeRatio >= a.thresholds.VolumeTier1,
		Patterns:        s.Patterns(),
		KeyLevels:       keyLevels(s),
	}

	a.logger.Debug("timeframe scored",
		zap.String("symbol", s.Symbol),
		zap.String("interval", string(s.Interval)),
		zap.Int("score", score),
		zap.String("direction", string(direction)),
		zap.Float64("strength", verdict.Strength))

	return verdict
}

// directionScore combines trend alignment, the MACD crossover and the RSI band
// into a signed score. Ordered EMA alignment contributes the most.
func (a *TimeframeAnalyzer) directionScore(s domain.IndicatorSnapshot) int {
	score := 0

	switch {
	case s.Price.GreaterThan(s.EMA20) && s.EMA20.GreaterThan(s.EMA50):
		score += 2
	case s.Price.LessThan(s.EMA20) && s.EMA20.LessThan(s.EMA50):
		score -= 2
	}

	if s.Price.GreaterThan(s.EMA8) {
		score++
	} else if s.Price.LessThan(s.EMA8) {
		score--
	}

	if s.MACD.GreaterThan(s.MACDSignal) {
		score++
	} else if s.MACD.LessThan(s.MACDSignal) {
		score--
	}

	if s.RSI14 > a.thresholds.RSIBullish {
		score++
	} else if s.RSI14 < a.thresholds.RSIBearish && s.RSI14 > 0 {
		score--
	}

	return score
}

// strength starts at a 50 baseline, accumulates bounded bonuses and is scaled
// by the interval reliability weight before clamping.
func (a *TimeframeAnalyzer) strength(s domain.IndicatorSnapshot, direction domain.Direction) float64 {
	strength := 50.0

	// oscillator extremity
	rsiDistance := s.RSI14 - 50
	if rsiDistance < 0 {
		rsiDistance = -rsiDistance
	}
	switch {
	case rsiDistance >= 25:
		strength += 10
	case rsiDistance >= 15:
		strength += 5
	}

	// tiered volume confirmation
	switch {
	case s.VolumeRatio >= a.thresholds.VolumeTier3:
		strength += 15
	case s.VolumeRatio >= a.thresholds.VolumeTier2:
		strength += 10
	case s.VolumeRatio >= a.thresholds.VolumeTier1:
		strength += 5
	}

	// MACD crossover magnitude relative to recent volatility
	if s.ATR14.IsPositive() {
		histogram := s.MACD.Sub(s.MACDSignal).Abs()
		quarter := s.ATR14.Mul(decimal.NewFromFloat(0.25))
		tenth := s.ATR14.Mul(decimal.NewFromFloat(0.10))
		switch {
		case histogram.GreaterThanOrEqual(quarter):
			strength += 10
		case histogram.GreaterThanOrEqual(tenth):
			strength += 5
		}
	}

	// full trend-average alignment
	if (s.Price.GreaterThan(s.EMA20) && s.EMA20.GreaterThan(s.EMA50)) ||
		(s.Price.LessThan(s.EMA20) && s.EMA20.LessThan(s.EMA50)) {
		strength += 10
	}

	// volatility band break
	if s.Price.GreaterThan(s.UpperBand) || s.Price.LessThan(s.LowerBand) {
		strength += 10
	}

	if reliability, ok := domain.IntervalReliability[s.Interval]; ok {
		strength *= reliability
	}

	return clamp(strength, a.thresholds.StrengthFloor, a.thresholds.StrengthCap)
}

// confidence counts how many independent indicator groups agree with the
// verdict direction.
func (a *TimeframeAnalyzer) confidence(s domain.IndicatorSnapshot, direction domain.Direction) float64 {
	if direction == domain.DirectionNeutral {
		return 30
	}

	bullish := direction.IsBullish()
	agreeing := 0

	if trendAgrees(s, bullish) {
		agreeing++
	}
	if macdAgrees(s, bullish) {
		agreeing++
	}
	if rsiAgrees(s, bullish, a.thresholds) {
		agreeing++
	}
	if s.VolumeRatio >= a.thresholds.VolumeTier1 {
		agreeing++
	}

	return clamp(40+float64(agreeing)*12.5, 0, 95)
}

func trendAgrees(s domain.IndicatorSnapshot, bullish bool) bool {
	if bullish {
		return s.Price.GreaterThan(s.EMA20) && s.EMA20.GreaterThan(s.EMA50)
	}
	return s.Price.LessThan(s.EMA20) && s.EMA20.LessThan(s.EMA50)
}

func macdAgrees(s domain.IndicatorSnapshot, bullish bool) bool {
	if bullish {
		return s.MACD.GreaterThan(s.MACDSignal)
	}
	return s.MACD.LessThan(s.MACDSignal)
}

func rsiAgrees(s domain.IndicatorSnapshot, bullish bool, t Thresholds) bool {
	if bullish {
		return s.RSI14 > t.RSIBullish
	}
	return s.RSI14 < t.RSIBearish
}

// keyLevels derives pivot levels from the recent range, classic floor-trader
// formula over (recent high, recent low, close).
func keyLevels(s domain.IndicatorSnapshot) domain.KeyLevels {
	three := decimal.NewFromInt(3)
	two := decimal.NewFromInt(2)

	pivot := s.RecentHigh.Add(s.RecentLow).Add(s.Price).Div(three)
	return domain.KeyLevels{
		Pivot:      pivot,
		Support:    pivot.Mul(two).Sub(s.RecentHigh),
		Resistance: pivot.Mul(two).Sub(s.RecentLow),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
