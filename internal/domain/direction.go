package domain

// Direction is a five-way directional call for a timeframe or a consensus.
type Direction string

const (
	DirectionStrongBullish Direction = "strong_bullish"
	DirectionBullish       Direction = "bullish"
	DirectionNeutral       Direction = "neutral"
	DirectionBearish       Direction = "bearish"
	DirectionStrongBearish Direction = "strong_bearish"
)

// Title returns a human-readable representation.
func (d Direction) Title() string {
	switch d {
	case DirectionStrongBullish:
		return "Strong Bullish"
	case DirectionBullish:
		return "Bullish"
	case DirectionBearish:
		return "Bearish"
	case DirectionStrongBearish:
		return "Strong Bearish"
	default:
		return "Neutral"
	}
}

// IsBullish reports whether the direction is on the bullish side.
func (d Direction) IsBullish() bool {
	return d == DirectionBullish || d == DirectionStrongBullish
}

// IsBearish reports whether the direction is on the bearish side.
func (d Direction) IsBearish() bool {
	return d == DirectionBearish || d == DirectionStrongBearish
}

// SameSide reports whether two directions agree in sign (both bullish, both
// bearish, or both neutral).
func (d Direction) SameSide(other Direction) bool {
	switch {
	case d.IsBullish():
		return other.IsBullish()
	case d.IsBearish():
		return other.IsBearish()
	default:
		return other == DirectionNeutral
	}
}

// DirectionFromScore maps a signed integer indicator score to a direction.
// Thresholds: >= +4 strong bullish, >= +2 bullish, <= -4 strong bearish,
// <= -2 bearish, else neutral.
func DirectionFromScore(score int) Direction {
	switch {
	case score >= 4:
		return DirectionStrongBullish
	case score >= 2:
		return DirectionBullish
	case score <= -4:
		return DirectionStrongBearish
	case score <= -2:
		return DirectionBearish
	default:
		return DirectionNeutral
	}
}
