// Package consensus fans a timeframe analyzer out over the scan intervals and
// merges the verdicts into one weighted directional call per symbol.
package consensus

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/vadiminshakov/vigil/internal/domain"
	"go.uber.org/zap"
)

var (
	// ErrInsufficientData signals that fewer than two intervals produced a
	// verdict, so no consensus can be formed.
	ErrInsufficientData = errors.New("insufficient timeframe verdicts for consensus")
	// ErrAnalysisTimeout signals that a per-interval analysis exceeded its
	// deadline.
	ErrAnalysisTimeout = errors.New("timeframe analysis timed out")
)

const minVerdicts = 2

// Scorer produces one verdict per (symbol, interval) pair.
type Scorer interface {
	Score(ctx context.Context, symbol string, interval domain.Interval) (domain.TimeframeVerdict, error)
}

// Config tunes the engine.
type Config struct {
	Intervals   []domain.Interval
	TaskTimeout time.Duration
	// PoolSize bounds concurrent per-interval tasks across all symbols so the
	// engine cannot flood the market data provider.
	PoolSize int
	CacheTTL time.Duration

	// StrongScore is the consensus score required for a Strong recommendation,
	// ActionScore the score required for Buy/Sell.
	StrongScore float64
	ActionScore float64
}

// DefaultConfig returns the stock engine configuration.
func DefaultConfig() Config {
	return Config{
		Intervals:   domain.ScanIntervals,
		TaskTimeout: 20 * time.Second,
		PoolSize:    8,
		CacheTTL:    2 * time.Minute,
		StrongScore: 80,
		ActionScore: 60,
	}
}

type cacheEntry struct {
	result  domain.ConsensusResult
	expires time.Time
}

// Engine merges per-interval verdicts into consensus results.
type Engine struct {
	scorer Scorer
	cfg    Config
	logger *zap.Logger

	// pool bounds concurrent Score calls.
	pool chan struct{}

	mu    sync.Mutex
	cache map[string]cacheEntry

	now func() time.Time
}

// NewEngine creates a consensus engine.
func NewEngine(scorer Scorer, cfg Config, logger *zap.Logger) *Engine {
	if len(cfg.Intervals) == 0 {
		cfg.Intervals = domain.ScanIntervals
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 8
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 20 * time.Second
	}

	return &Engine{
		scorer: scorer,
		cfg:    cfg,
		logger: logger,
		pool:   make(chan struct{}, cfg.PoolSize),
		cache:  make(map[string]cacheEntry),
		now:    time.Now,
	}
}

// Analyze runs the analyzer over all configured intervals concurrently and
// merges whatever verdicts complete in time. A fresh cached result is returned
// when available.
func (e *Engine) Analyze(ctx context.Context, symbol string) (domain.ConsensusResult, error) {
	if cached, ok := e.cachedResult(symbol); ok {
		return cached, nil
	}

	verdicts, timeouts := e.collectVerdicts(ctx, symbol)
	if len(verdicts) < minVerdicts {
		if timeouts > 0 {
			return domain.ConsensusResult{}, ErrAnalysisTimeout
		}
		return domain.ConsensusResult{}, ErrInsufficientData
	}

	result := e.merge(symbol, verdicts)
	e.storeResult(result)

	return result, nil
}

// ClearCache drops all cached consensus results.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cacheEntry)
}

// Cached returns the cached result for the symbol if still fresh.
func (e *Engine) Cached(symbol string) (domain.ConsensusResult, bool) {
	return e.cachedResult(symbol)
}

func (e *Engine) cachedResult(symbol string) (domain.ConsensusResult, bool) {
	if e.cfg.CacheTTL <= 0 {
		return domain.ConsensusResult{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.cache[symbol]
	if !ok || e.now().After(entry.expires) {
		return domain.ConsensusResult{}, false
	}
	return entry.result, true
}

func (e *Engine) storeResult(result domain.ConsensusResult) {
	if e.cfg.CacheTTL <= 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache[result.Symbol] = cacheEntry{
		result:  result,
		expires: e.now().Add(e.cfg.CacheTTL),
	}
}

// collectVerdicts fans out one bounded task per interval. Failures and
// timeouts only cost their own verdict.
func (e *Engine) collectVerdicts(ctx context.Context, symbol string) (map[domain.Interval]domain.TimeframeVerdict, int) {
	type outcome struct {
		interval domain.Interval
		verdict  domain.TimeframeVerdict
		err      error
	}

	results := make(chan outcome, len(e.cfg.Intervals))
	var wg sync.WaitGroup

	for _, interval := range e.cfg.Intervals {
		wg.Add(1)
		go func(interval domain.Interval) {
			defer wg.Done()

			select {
			case e.pool <- struct{}{}:
				defer func() { <-e.pool }()
			case <-ctx.Done():
				results <- outcome{interval: interval, err: ctx.Err()}
				return
			}

			taskCtx, cancel := context.WithTimeout(ctx, e.cfg.TaskTimeout)
			defer cancel()

			verdict, err := e.scorer.Score(taskCtx, symbol, interval)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					err = ErrAnalysisTimeout
				}
				results <- outcome{interval: interval, err: err}
				return
			}
			results <- outcome{interval: interval, verdict: verdict}
		}(interval)
	}

	wg.Wait()
	close(results)

	verdicts := make(map[domain.Interval]domain.TimeframeVerdict, len(e.cfg.Intervals))
	timeouts := 0
	for r := range results {
		if r.err != nil {
			if errors.Is(r.err, ErrAnalysisTimeout) {
				timeouts++
			}
			e.logger.Warn("interval analysis failed",
				zap.String("symbol", symbol),
				zap.String("interval", string(r.interval)),
				zap.Error(r.err))
			continue
		}
		verdicts[r.interval] = r.verdict
	}

	return verdicts, timeouts
}

func (e *Engine) merge(symbol string, verdicts map[domain.Interval]domain.TimeframeVerdict) domain.ConsensusResult {
	var (
		weightSum      float64
		strengthSum    float64
		confidenceSum  float64
		bullishCount   int
		bearishCount   int
	)

	for interval, v := range verdicts {
		weight := domain.IntervalWeights[interval]
		weightSum += weight
		strengthSum += v.Strength * weight
		confidenceSum += v.Confidence * weight

		if v.Direction.IsBullish() {
			bullishCount++
		} else if v.Direction.IsBearish() {
			bearishCount++
		}
	}

	overallStrength := 0.0
	overallConfidence := 0.0
	if weightSum > 0 {
		overallStrength = strengthSum / weightSum
		overallConfidence = confidenceSum / weightSum
	}

	majority, agreeing := majoritySide(verdicts, bullishCount, bearishCount)
	consensusScore := float64(agreeing) / float64(len(verdicts)) * 100

	longAgree, longConflict := longHorizonAgreement(verdicts, majority)
	conflicts := buildConflicts(bullishCount, bearishCount, longConflict)

	result := domain.ConsensusResult{
		Symbol:            symbol,
		OverallDirection:  overallDirection(majority, consensusScore, overallStrength),
		OverallStrength:   overallStrength,
		OverallConfidence: overallConfidence,
		ConsensusScore:    consensusScore,
		Recommendation:    e.recommend(majority, consensusScore, bullishCount, bearishCount, longAgree),
		EntryInterval:     entryInterval(verdicts, majority),
		RiskLevel:         riskLevel(consensusScore, longAgree, len(conflicts)),
		Conflicts:         conflicts,
		PerInterval:       verdicts,
		AnalyzedAt:        e.now(),
	}

	e.logger.Info("consensus formed",
		zap.String("symbol", symbol),
		zap.String("direction", string(result.OverallDirection)),
		zap.String("recommendation", string(result.Recommendation)),
		zap.Float64("consensus_score", result.ConsensusScore),
		zap.Int("verdicts", len(verdicts)))

	return result
}

type side int

const (
	sideNeutral side = iota
	sideBullish
	sideBearish
)

// majoritySide determines the dominant direction and how many verdicts agree
// with it.
func majoritySide(verdicts map[domain.Interval]domain.TimeframeVerdict, bullish, bearish int) (side, int) {
	neutral := len(verdicts) - bullish - bearish

	switch {
	case bullish > bearish && bullish >= neutral:
		return sideBullish, bullish
	case bearish > bullish && bearish >= neutral:
		return sideBearish, bearish
	case bullish == bearish && bullish > neutral:
		// tied sides; no side reaches a majority
		return sideNeutral, neutral
	default:
		return sideNeutral, neutral
	}
}

func sideMatches(s side, d domain.Direction) bool {
	switch s {
	case sideBullish:
		return d.IsBullish()
	case sideBearish:
		return d.IsBearish()
	default:
		return d == domain.DirectionNeutral
	}
}

// longHorizonAgreement checks the two longest intervals. Both must be present
// and on the majority side for agreement; a direct disagreement between the
// two is reported as a conflict.
func longHorizonAgreement(verdicts map[domain.Interval]domain.TimeframeVerdict, majority side) (agree, conflict bool) {
	first, second := domain.LongHorizonIntervals()
	v4h, ok4h := verdicts[first]
	v1d, ok1d := verdicts[second]

	if ok4h && ok1d && !v4h.Direction.SameSide(v1d.Direction) {
		conflict = true
	}

	if !ok4h || !ok1d {
		return false, conflict
	}
	return sideMatches(majority, v4h.Direction) && sideMatches(majority, v1d.Direction), conflict
}

func buildConflicts(bullish, bearish int, longConflict bool) []string {
	var conflicts []string
	if bullish > 0 && bearish > 0 {
		conflicts = append(conflicts, "mixed bullish and bearish intervals")
	}
	if longConflict {
		conflicts = append(conflicts, "long-horizon intervals disagree")
	}
	return conflicts
}

// recommend derives the graded call. Strong recommendations additionally
// require the two longest intervals to agree with the majority, so short
// intervals alone can never produce one.
func (e *Engine) recommend(majority side, score float64, bullish, bearish int, longAgree bool) domain.Recommendation {
	switch majority {
	case sideBullish:
		if score >= e.cfg.StrongScore && longAgree {
			return domain.RecommendationStrongBuy
		}
		if score >= e.cfg.ActionScore {
			return domain.RecommendationBuy
		}
		return domain.RecommendationHold
	case sideBearish:
		if score >= e.cfg.StrongScore && longAgree {
			return domain.RecommendationStrongSell
		}
		if score >= e.cfg.ActionScore {
			return domain.RecommendationSell
		}
		return domain.RecommendationHold
	default:
		if bullish > 0 || bearish > 0 {
			return domain.RecommendationHold
		}
		return domain.RecommendationWait
	}
}

// entryInterval picks the shortest interval whose own direction matches the
// majority, defaulting to the middle interval.
func entryInterval(verdicts map[domain.Interval]domain.TimeframeVerdict, majority side) domain.Interval {
	ordered := make([]domain.Interval, 0, len(verdicts))
	for interval := range verdicts {
		ordered = append(ordered, interval)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Duration() < ordered[j].Duration()
	})

	for _, interval := range ordered {
		if sideMatches(majority, verdicts[interval].Direction) {
			return interval
		}
	}
	return domain.Interval1h
}

func overallDirection(majority side, score, strength float64) domain.Direction {
	switch majority {
	case sideBullish:
		if score >= 80 && strength >= 70 {
			return domain.DirectionStrongBullish
		}
		return domain.DirectionBullish
	case sideBearish:
		if score >= 80 && strength >= 70 {
			return domain.DirectionStrongBearish
		}
		return domain.DirectionBearish
	default:
		return domain.DirectionNeutral
	}
}

func riskLevel(score float64, longAgree bool, conflicts int) domain.RiskLevel {
	switch {
	case score >= 80 && longAgree && conflicts == 0:
		return domain.RiskLevelLow
	case score >= 60 && conflicts <= 1:
		return domain.RiskLevelModerate
	case score >= 40:
		return domain.RiskLevelHigh
	default:
		return domain.RiskLevelVeryHigh
	}
}
