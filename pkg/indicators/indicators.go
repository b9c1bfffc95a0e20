// Package indicators derives the technical feature bundle (EMA, MACD, RSI, ATR,
// volume ratio, volatility band, candle patterns) consumed by the analyzer.
package indicators

import (
	"fmt"
	"time"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/vigil/internal/domain"
)

const (
	// MinBars is the minimum bar count required to compute the full bundle
	// (bounded by the EMA50 warmup).
	MinBars = 50

	volumeAveragePeriod = 20
	recentLevelLookback = 20
	bandATRFactor       = 2.0
)

// Compute builds an IndicatorSnapshot from the bar series. Bars must be ordered
// oldest to newest; the snapshot describes the most recent bar.
func Compute(symbol string, interval domain.Interval, bars []domain.Bar) (domain.IndicatorSnapshot, error) {
	if len(bars) < MinBars {
		return domain.IndicatorSnapshot{}, fmt.Errorf("not enough bars for %s %s: need %d, got %d", symbol, interval, MinBars, len(bars))
	}

	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		closes[i], _ = b.Close.Float64()
		highs[i], _ = b.High.Float64()
		lows[i], _ = b.Low.Float64()
	}

	ema8, err := computeEMA(closes, 8)
	if err != nil {
		return domain.IndicatorSnapshot{}, err
	}
	ema20, err := computeEMA(closes, 20)
	if err != nil {
		return domain.IndicatorSnapshot{}, err
	}
	ema50, err := computeEMA(closes, 50)
	if err != nil {
		return domain.IndicatorSnapshot{}, err
	}

	macdLine, macdSignal, err := computeMACD(closes)
	if err != nil {
		return domain.IndicatorSnapshot{}, err
	}

	rsi, err := computeRSI(closes, 14)
	if err != nil {
		return domain.IndicatorSnapshot{}, err
	}

	atr, err := computeATR(highs, lows, closes, 14)
	if err != nil {
		return domain.IndicatorSnapshot{}, err
	}

	last := bars[len(bars)-1]
	atrDec := decimal.NewFromFloat(atr)

	// volatility band around the mid price, Supertrend style
	hl2 := last.High.Add(last.Low).Div(decimal.NewFromInt(2))
	bandWidth := atrDec.Mul(decimal.NewFromFloat(bandATRFactor))

	recentHigh, recentLow := recentLevels(bars, recentLevelLookback)

	snapshot := domain.IndicatorSnapshot{
		Symbol:      symbol,
		Interval:    interval,
		AsOf:        lastBarTime(last),
		Price:       last.Close,
		EMA8:        decimal.NewFromFloat(ema8),
		EMA20:       decimal.NewFromFloat(ema20),
		EMA50:       decimal.NewFromFloat(ema50),
		RSI14:       rsi,
		MACD:        decimal.NewFromFloat(macdLine),
		MACDSignal:  decimal.NewFromFloat(macdSignal),
		ATR14:       atrDec,
		VolumeRatio: volumeRatio(bars, volumeAveragePeriod),
		UpperBand:   hl2.Add(bandWidth),
		LowerBand:   hl2.Sub(bandWidth),
		RecentHigh:  recentHigh,
		RecentLow:   recentLow,
	}

	detectPatterns(&snapshot, bars)

	return snapshot, nil
}

func computeEMA(closes []float64, period int) (float64, error) {
	if len(closes) < period {
		return 0, fmt.Errorf("not enough data points for EMA%d: need %d, got %d", period, period, len(closes))
	}

	ema := trend.NewEmaWithPeriod[float64](period)
	values := helper.ChanToSlice(ema.Compute(helper.SliceToChan(closes)))
	if len(values) == 0 {
		return 0, fmt.Errorf("EMA%d produced no values", period)
	}
	return values[len(values)-1], nil
}

func computeMACD(closes []float64) (line, signal float64, err error) {
	if len(closes) < 26 {
		return 0, 0, fmt.Errorf("not enough data points for MACD: need at least 26, got %d", len(closes))
	}

	macd := trend.NewMacd[float64]()
	macdChan, signalChan := macd.Compute(helper.SliceToChan(closes))
	macdValues := make([]float64, 0, len(closes))
	signalValues := make([]float64, 0, len(closes))

	done := make(chan struct{})
	go func() {
		for v := range signalChan {
			signalValues = append(signalValues, v)
		}
		close(done)
	}()
	for v := range macdChan {
		macdValues = append(macdValues, v)
	}
	<-done

	if len(macdValues) == 0 || len(signalValues) == 0 {
		return 0, 0, fmt.Errorf("MACD produced no values")
	}
	return macdValues[len(macdValues)-1], signalValues[len(signalValues)-1], nil
}

func computeRSI(closes []float64, period int) (float64, error) {
	if len(closes) < period+1 {
		return 0, fmt.Errorf("not enough data points for RSI: need %d, got %d", period+1, len(closes))
	}

	rsi := momentum.NewRsiWithPeriod[float64](period)
	values := helper.ChanToSlice(rsi.Compute(helper.SliceToChan(closes)))
	if len(values) == 0 {
		return 0, fmt.Errorf("RSI produced no values")
	}
	return values[len(values)-1], nil
}

func computeATR(highs, lows, closes []float64, period int) (float64, error) {
	if len(closes) < period+1 {
		return 0, fmt.Errorf("not enough data points for ATR: need %d, got %d", period+1, len(closes))
	}

	atr := volatility.NewAtrWithPeriod[float64](period)
	values := helper.ChanToSlice(atr.Compute(
		helper.SliceToChan(highs),
		helper.SliceToChan(lows),
		helper.SliceToChan(closes),
	))
	if len(values) == 0 {
		return 0, fmt.Errorf("ATR produced no values")
	}
	return values[len(values)-1], nil
}

// volumeRatio compares the latest volume against its rolling average.
func volumeRatio(bars []domain.Bar, period int) float64 {
	if len(bars) < period+1 {
		period = len(bars) - 1
	}
	if period <= 0 {
		return 0
	}

	sum := decimal.Zero
	for i := len(bars) - period - 1; i < len(bars)-1; i++ {
		sum = sum.Add(bars[i].Volume)
	}
	avg := sum.Div(decimal.NewFromInt(int64(period)))
	if !avg.IsPositive() {
		return 0
	}

	ratio, _ := bars[len(bars)-1].Volume.Div(avg).Float64()
	return ratio
}

func recentLevels(bars []domain.Bar, lookback int) (high, low decimal.Decimal) {
	start := len(bars) - lookback
	if start < 0 {
		start = 0
	}

	high = bars[start].High
	low = bars[start].Low
	for _, b := range bars[start:] {
		if b.High.GreaterThan(high) {
			high = b.High
		}
		if b.Low.LessThan(low) {
			low = b.Low
		}
	}
	return high, low
}

func detectPatterns(s *domain.IndicatorSnapshot, bars []domain.Bar) {
	if len(bars) < 2 {
		return
	}

	last := bars[len(bars)-1]
	prev := bars[len(bars)-2]

	lastBody := last.Close.Sub(last.Open)
	prevBody := prev.Close.Sub(prev.Open)

	// engulfing: current body swallows the previous opposite-colored body
	if lastBody.IsPositive() && prevBody.IsNegative() &&
		last.Close.GreaterThan(prev.Open) && last.Open.LessThan(prev.Close) {
		s.BullishEngulfing = true
	}
	if lastBody.IsNegative() && prevBody.IsPositive() &&
		last.Close.LessThan(prev.Open) && last.Open.GreaterThan(prev.Close) {
		s.BearishEngulfing = true
	}

	body := lastBody.Abs()
	if body.IsZero() {
		return
	}

	upperWick := last.High.Sub(maxDecimal(last.Open, last.Close))
	lowerWick := minDecimal(last.Open, last.Close).Sub(last.Low)
	two := decimal.NewFromInt(2)

	if lowerWick.GreaterThanOrEqual(body.Mul(two)) && upperWick.LessThan(body) {
		s.Hammer = true
	}
	if upperWick.GreaterThanOrEqual(body.Mul(two)) && lowerWick.LessThan(body) {
		s.ShootingStar = true
	}
}

func maxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func lastBarTime(b domain.Bar) time.Time {
	if b.Time.IsZero() {
		return time.Now()
	}
	return b.Time
}
