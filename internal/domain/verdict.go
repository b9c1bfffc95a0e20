package domain

import "github.com/shopspring/decimal"

// KeyLevels are the price levels an analyzed timeframe considers significant.
type KeyLevels struct {
	Support    decimal.Decimal `json:"support"`
	Resistance decimal.Decimal `json:"resistance"`
	Pivot      decimal.Decimal `json:"pivot"`
}

// TimeframeVerdict is the outcome of analyzing one (symbol, interval) pair.
// It lives only for the duration of one consensus run.
type TimeframeVerdict struct {
	Interval        Interval  `json:"interval"`
	Direction       Direction `json:"direction"`
	Strength        float64   `json:"strength"`   // 0-100
	Confidence      float64   `json:"confidence"` // 0-100
	VolumeConfirmed bool      `json:"volume_confirmed"`
	Patterns        []string  `json:"patterns,omitempty"`
	KeyLevels       KeyLevels `json:"key_levels"`
}
