package domain

import "fmt"

// RiskProfile selects the active set of portfolio risk limits.
type RiskProfile string

const (
	ProfileConservative RiskProfile = "conservative"
	ProfileModerate     RiskProfile = "moderate"
	ProfileAggressive   RiskProfile = "aggressive"
)

// RiskLimits is the cap set carried by a risk profile. All percentages are
// expressed as whole numbers (2 means 2%).
type RiskLimits struct {
	MaxPortfolioRiskPct       float64
	MaxPositionRiskPct        float64
	MaxSectorConcentrationPct float64
	MaxSinglePositionPct      float64
	MaxPositions              int
}

var profileLimits = map[RiskProfile]RiskLimits{
	ProfileConservative: {
		MaxPortfolioRiskPct:       4,
		MaxPositionRiskPct:        1,
		MaxSectorConcentrationPct: 20,
		MaxSinglePositionPct:      10,
		MaxPositions:              4,
	},
	ProfileModerate: {
		MaxPortfolioRiskPct:       8,
		MaxPositionRiskPct:        2,
		MaxSectorConcentrationPct: 30,
		MaxSinglePositionPct:      15,
		MaxPositions:              8,
	},
	ProfileAggressive: {
		MaxPortfolioRiskPct:       15,
		MaxPositionRiskPct:        3,
		MaxSectorConcentrationPct: 40,
		MaxSinglePositionPct:      25,
		MaxPositions:              12,
	},
}

// Limits returns the cap set for the profile.
func (p RiskProfile) Limits() RiskLimits {
	limits, ok := profileLimits[p]
	if !ok {
		return profileLimits[ProfileModerate]
	}
	return limits
}

// ParseRiskProfile validates a profile name.
func ParseRiskProfile(s string) (RiskProfile, error) {
	switch RiskProfile(s) {
	case ProfileConservative, ProfileModerate, ProfileAggressive:
		return RiskProfile(s), nil
	default:
		return "", fmt.Errorf("unknown risk profile %q", s)
	}
}
