// Package domain holds the core data types shared by the scanner pipeline:
// market bars, indicator snapshots, per-timeframe verdicts, consensus results,
// positions and alert candidates.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is a single OHLCV price observation for a fixed interval.
type Bar struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// IndicatorSnapshot is the per-(symbol, interval) technical feature bundle
// consumed by the analyzer. It is immutable once produced; AsOf strictly
// increases per (symbol, interval).
type IndicatorSnapshot struct {
	Symbol   string
	Interval Interval
	AsOf     time.Time

	Price decimal.Decimal

	EMA8  decimal.Decimal
	EMA20 decimal.Decimal
	EMA50 decimal.Decimal

	RSI14      float64
	MACD       decimal.Decimal
	MACDSignal decimal.Decimal

	ATR14 decimal.Decimal

	// VolumeRatio is current volume divided by its rolling average.
	VolumeRatio float64

	// UpperBand/LowerBand form the volatility band around the price.
	UpperBand decimal.Decimal
	LowerBand decimal.Decimal

	RecentHigh decimal.Decimal
	RecentLow  decimal.Decimal

	BullishEngulfing bool
	BearishEngulfing bool
	Hammer           bool
	ShootingStar     bool
}

// Patterns lists the candle patterns detected in the snapshot.
func (s IndicatorSnapshot) Patterns() []string {
	var patterns []string
	if s.BullishEngulfing {
		patterns = append(patterns, "bullish_engulfing")
	}
	if s.BearishEngulfing {
		patterns = append(patterns, "bearish_engulfing")
	}
	if s.Hammer {
		patterns = append(patterns, "hammer")
	}
	if s.ShootingStar {
		patterns = append(patterns, "shooting_star")
	}
	return patterns
}
