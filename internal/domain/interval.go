package domain

import "time"

// Interval is a fixed sampling granularity for bars and indicators.
type Interval string

const (
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

// ScanIntervals lists the analyzed intervals ordered from shortest to longest.
var ScanIntervals = []Interval{Interval5m, Interval15m, Interval1h, Interval4h, Interval1d}

// IntervalWeights is the fixed consensus weight per interval. Weights sum to 1.0;
// longer horizons carry more weight.
var IntervalWeights = map[Interval]float64{
	Interval5m:  0.05,
	Interval15m: 0.15,
	Interval1h:  0.25,
	Interval4h:  0.35,
	Interval1d:  0.20,
}

// IntervalReliability scales raw per-interval strength: short intervals are
// noisier, so their contribution is damped.
var IntervalReliability = map[Interval]float64{
	Interval5m:  0.80,
	Interval15m: 0.90,
	Interval1h:  1.00,
	Interval4h:  1.00,
	Interval1d:  1.00,
}

// Duration returns the bar length of the interval.
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval4h:
		return 4 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether the interval is one of the scan intervals.
func (i Interval) Valid() bool {
	_, ok := IntervalWeights[i]
	return ok
}

// LongHorizonIntervals returns the two longest scan intervals. Their agreement
// gates Strong recommendations.
func LongHorizonIntervals() (Interval, Interval) {
	return Interval4h, Interval1d
}
