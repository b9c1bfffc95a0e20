// Package alert filters candidate notifications and delivers the accepted
// ones. The Gate decides what is worth sending; the Dispatcher gets it out.
package alert

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/vigil/internal/domain"
	"go.uber.org/zap"
)

// Threshold holds the per-category numeric floors a candidate must clear.
// Zero values disable the corresponding check.
type Threshold struct {
	MinStrength   float64         `json:"min_strength" yaml:"min_strength"`
	MinConsensus  float64         `json:"min_consensus" yaml:"min_consensus"`
	MinConfidence float64         `json:"min_confidence" yaml:"min_confidence"`
	MinRiskReward float64         `json:"min_risk_reward" yaml:"min_risk_reward"`
	MinPrice      decimal.Decimal `json:"min_price" yaml:"min_price"`
	MaxPrice      decimal.Decimal `json:"max_price" yaml:"max_price"`
}

// Filters is the full gate configuration. Replaced atomically by UpdateFilters.
type Filters struct {
	// EnabledCategories lists the categories the gate lets through. Empty
	// means all categories are enabled.
	EnabledCategories []domain.AlertCategory `json:"enabled_categories" yaml:"enabled_categories"`
	MinPriority       domain.AlertPriority   `json:"min_priority" yaml:"min_priority"`

	// AllowedSymbols empty means every symbol; BlockedSymbols always wins.
	AllowedSymbols []string `json:"allowed_symbols" yaml:"allowed_symbols"`
	BlockedSymbols []string `json:"blocked_symbols" yaml:"blocked_symbols"`

	Thresholds map[domain.AlertCategory]Threshold     `json:"thresholds" yaml:"thresholds"`
	Cooldowns  map[domain.AlertCategory]time.Duration `json:"cooldowns" yaml:"cooldowns"`
	MaxPerHour map[domain.AlertCategory]int           `json:"max_per_hour" yaml:"max_per_hour"`
}

// DefaultFilters returns the stock gate configuration.
func DefaultFilters() Filters {
	return Filters{
		MinPriority: domain.PriorityLow,
		Thresholds: map[domain.AlertCategory]Threshold{
			domain.AlertCategorySignal: {
				MinStrength:  70,
				MinConsensus: 60,
			},
			domain.AlertCategoryPatternAlert: {
				MinStrength: 60,
			},
		},
		Cooldowns: map[domain.AlertCategory]time.Duration{
			domain.AlertCategorySignal:       30 * time.Minute,
			domain.AlertCategoryRiskWarning:  15 * time.Minute,
			domain.AlertCategoryPatternAlert: time.Hour,
		},
		MaxPerHour: map[domain.AlertCategory]int{
			domain.AlertCategorySignal:         4,
			domain.AlertCategoryRiskWarning:    6,
			domain.AlertCategoryPositionUpdate: 12,
			domain.AlertCategoryPatternAlert:   3,
		},
	}
}

// Rule is a named predicate evaluated after the built-in filters. A matching
// rule may also tighten cooldown and rate bookkeeping under its own key.
type Rule struct {
	Name    string
	Enabled bool
	// Accept reports whether the candidate passes the rule.
	Accept func(candidate domain.AlertCandidate) bool
	// Cooldown and MaxPerHour override the category settings for candidates
	// this rule applies to. Zero leaves the category setting in force.
	Cooldown   time.Duration
	MaxPerHour int
}

type gateKey struct {
	symbol   string
	category domain.AlertCategory
	rule     string
}

// Gate evaluates alert candidates against filters, cooldowns and rate limits.
// Evaluation and counter updates happen under one lock so two concurrent
// candidates for the same symbol and category cannot both pass the cooldown.
type Gate struct {
	mu      sync.Mutex
	filters Filters
	rules   []Rule

	lastAccepted map[gateKey]time.Time
	history      map[gateKey][]time.Time

	stats  *Stats
	logger *zap.Logger
	now    func() time.Time
}

// NewGate creates a gate with the given filters. stats is shared with the
// dispatcher so the full pipeline reports through one snapshot.
func NewGate(filters Filters, stats *Stats, logger *zap.Logger) *Gate {
	return &Gate{
		filters:      filters,
		lastAccepted: make(map[gateKey]time.Time),
		history:      make(map[gateKey][]time.Time),
		stats:        stats,
		logger:       logger,
		now:          time.Now,
	}
}

// Evaluate runs the candidate through every filter in order. The first failing
// check wins and its reason is returned. Acceptance records the cooldown and
// rate counters immediately, before any delivery is attempted.
func (g *Gate) Evaluate(candidate domain.AlertCandidate) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stats.TotalGenerated.Add(1)

	if reason := g.checkCategoryAndPriority(candidate); reason != "" {
		return g.reject(candidate, reason)
	}
	if reason := g.checkSymbolLists(candidate); reason != "" {
		return g.reject(candidate, reason)
	}
	if reason := g.checkThresholds(candidate); reason != "" {
		return g.reject(candidate, reason)
	}

	now := g.now()
	key := gateKey{symbol: candidate.Symbol, category: candidate.Category}

	if reason := g.checkCooldown(key, now, g.filters.Cooldowns[candidate.Category]); reason != "" {
		g.stats.CooldownBlocks.Add(1)
		g.logRejection(candidate, reason)
		return false, reason
	}
	if reason := g.checkRate(key, now, g.filters.MaxPerHour[candidate.Category]); reason != "" {
		g.stats.RateLimitBlocks.Add(1)
		g.logRejection(candidate, reason)
		return false, reason
	}

	var matched []gateKey
	for _, rule := range g.rules {
		if !rule.Enabled {
			continue
		}
		if rule.Accept != nil && !rule.Accept(candidate) {
			return g.reject(candidate, fmt.Sprintf("blocked by rule %q", rule.Name))
		}

		ruleKey := gateKey{symbol: candidate.Symbol, category: candidate.Category, rule: rule.Name}
		if rule.Cooldown > 0 {
			if reason := g.checkCooldown(ruleKey, now, rule.Cooldown); reason != "" {
				g.stats.CooldownBlocks.Add(1)
				g.logRejection(candidate, fmt.Sprintf("rule %q: %s", rule.Name, reason))
				return false, fmt.Sprintf("rule %q: %s", rule.Name, reason)
			}
		}
		if rule.MaxPerHour > 0 {
			if reason := g.checkRate(ruleKey, now, rule.MaxPerHour); reason != "" {
				g.stats.RateLimitBlocks.Add(1)
				g.logRejection(candidate, fmt.Sprintf("rule %q: %s", rule.Name, reason))
				return false, fmt.Sprintf("rule %q: %s", rule.Name, reason)
			}
		}
		matched = append(matched, ruleKey)
	}

	g.record(key, now)
	for _, ruleKey := range matched {
		g.record(ruleKey, now)
	}

	return true, ""
}

// UpdateFilters replaces the gate configuration. Existing cooldown and rate
// state is kept; only the limits change.
func (g *Gate) UpdateFilters(filters Filters) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.filters = filters
	g.logger.Info("alert filters updated")
}

// Filters returns a copy of the active configuration.
func (g *Gate) Filters() Filters {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.filters
}

// ClearCooldowns drops all cooldown and rate bookkeeping.
func (g *Gate) ClearCooldowns() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.lastAccepted = make(map[gateKey]time.Time)
	g.history = make(map[gateKey][]time.Time)
	g.logger.Info("alert cooldowns cleared")
}

// AddRule registers a custom rule. Rules run in registration order.
func (g *Gate) AddRule(rule Rule) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = append(g.rules, rule)
}

// SetRuleEnabled toggles a rule by name.
func (g *Gate) SetRuleEnabled(name string, enabled bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.rules {
		if g.rules[i].Name == name {
			g.rules[i].Enabled = enabled
			return true
		}
	}
	return false
}

func (g *Gate) checkCategoryAndPriority(candidate domain.AlertCandidate) string {
	if len(g.filters.EnabledCategories) > 0 {
		enabled := false
		for _, c := range g.filters.EnabledCategories {
			if c == candidate.Category {
				enabled = true
				break
			}
		}
		if !enabled {
			return fmt.Sprintf("category %s disabled", candidate.Category)
		}
	}
	if candidate.Priority < g.filters.MinPriority {
		return fmt.Sprintf("priority %s below minimum %s",
			candidate.Priority.Title(), g.filters.MinPriority.Title())
	}
	return ""
}

func (g *Gate) checkSymbolLists(candidate domain.AlertCandidate) string {
	for _, s := range g.filters.BlockedSymbols {
		if s == candidate.Symbol {
			return fmt.Sprintf("symbol %s blocked", candidate.Symbol)
		}
	}
	if len(g.filters.AllowedSymbols) > 0 {
		for _, s := range g.filters.AllowedSymbols {
			if s == candidate.Symbol {
				return ""
			}
		}
		return fmt.Sprintf("symbol %s not in allow list", candidate.Symbol)
	}
	return ""
}

func (g *Gate) checkThresholds(candidate domain.AlertCandidate) string {
	threshold, ok := g.filters.Thresholds[candidate.Category]
	if !ok {
		return ""
	}

	if threshold.MinStrength > 0 && candidate.Strength < threshold.MinStrength {
		return fmt.Sprintf("strength %.1f below minimum %.1f", candidate.Strength, threshold.MinStrength)
	}
	if threshold.MinConsensus > 0 && candidate.ConsensusScore < threshold.MinConsensus {
		return fmt.Sprintf("consensus %.1f below minimum %.1f", candidate.ConsensusScore, threshold.MinConsensus)
	}
	if threshold.MinConfidence > 0 && candidate.Confidence < threshold.MinConfidence {
		return fmt.Sprintf("confidence %.1f below minimum %.1f", candidate.Confidence, threshold.MinConfidence)
	}
	if threshold.MinRiskReward > 0 && candidate.RiskReward < threshold.MinRiskReward {
		return fmt.Sprintf("risk-reward %.2f below minimum %.2f", candidate.RiskReward, threshold.MinRiskReward)
	}
	if threshold.MinPrice.IsPositive() && candidate.Price.LessThan(threshold.MinPrice) {
		return fmt.Sprintf("price %s below minimum %s", candidate.Price, threshold.MinPrice)
	}
	if threshold.MaxPrice.IsPositive() && candidate.Price.GreaterThan(threshold.MaxPrice) {
		return fmt.Sprintf("price %s above maximum %s", candidate.Price, threshold.MaxPrice)
	}
	return ""
}

func (g *Gate) checkCooldown(key gateKey, now time.Time, cooldown time.Duration) string {
	if cooldown <= 0 {
		return ""
	}
	last, ok := g.lastAccepted[key]
	if !ok {
		return ""
	}
	if elapsed := now.Sub(last); elapsed < cooldown {
		return fmt.Sprintf("cooldown active for %s/%s, %s remaining",
			key.symbol, key.category, (cooldown - elapsed).Round(time.Second))
	}
	return ""
}

func (g *Gate) checkRate(key gateKey, now time.Time, maxPerHour int) string {
	if maxPerHour <= 0 {
		return ""
	}

	cutoff := now.Add(-time.Hour)
	recent := g.history[key][:0]
	for _, t := range g.history[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	g.history[key] = recent

	if len(recent) >= maxPerHour {
		return fmt.Sprintf("rate limit reached for %s/%s, max %d per hour",
			key.symbol, key.category, maxPerHour)
	}
	return ""
}

func (g *Gate) record(key gateKey, now time.Time) {
	g.lastAccepted[key] = now
	g.history[key] = append(g.history[key], now)
}

func (g *Gate) reject(candidate domain.AlertCandidate, reason string) (bool, string) {
	g.stats.FilteredOut.Add(1)
	g.logRejection(candidate, reason)
	return false, reason
}

func (g *Gate) logRejection(candidate domain.AlertCandidate, reason string) {
	g.logger.Debug("alert rejected",
		zap.String("symbol", candidate.Symbol),
		zap.String("category", string(candidate.Category)),
		zap.String("reason", reason))
}
