// Package signal turns raw experience events into the normalized signal
// vector consumed by the tier router and the decay model.
package signal

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

// neutralSignal is the default for malformed or missing inputs. Mid-range
// rather than zero so a missing field cannot push an event toward the
// discard rule.
const neutralSignal = 0.5

// successBase maps an event outcome to its base success score.
var successBase = map[string]float64{
	types.OutcomeSuccess: 0.95,
	types.OutcomePartial: 0.55,
	types.OutcomeFailure: 0.05,
}

// criticalityBase maps event types to base criticality.
var criticalityBase = map[string]float64{
	"security_breach": 0.95,
	"data_corruption": 0.90,
	"outage":          0.85,
	"degradation":     0.50,
	"normal":          0.10,
}

// impactFactor scales criticality by blast radius.
var impactFactor = map[string]float64{
	types.ImpactLocal:   0.50,
	types.ImpactService: 0.70,
	types.ImpactRegion:  0.85,
	types.ImpactAll:     1.00,
}

// Config tunes signal extraction.
type Config struct {
	// LatencyThresholdMs is the execution time beyond which the success
	// score is penalized.
	LatencyThresholdMs float64 `json:"latency_threshold_ms" yaml:"latency_threshold_ms"`
	// SimilarityTimeout bounds the pattern-similarity lookup.
	SimilarityTimeout time.Duration `json:"similarity_timeout" yaml:"similarity_timeout"`
	// SimilarityTopK and SimilarityThreshold parameterize the lookup.
	SimilarityTopK      int     `json:"similarity_top_k" yaml:"similarity_top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LatencyThresholdMs:  1000,
		SimilarityTimeout:   2 * time.Second,
		SimilarityTopK:      25,
		SimilarityThreshold: 0.8,
	}
}

// Extractor derives the signal vector for an event. The similarity lookup
// is the only call that can block; everything else is pure arithmetic.
type Extractor struct {
	config Config
	index  SimilarityIndex
	logger *zap.Logger
	now    func() time.Time
}

// NewExtractor creates an extractor. index may be nil (treated as no
// matches); logger may be nil.
func NewExtractor(config Config, index SimilarityIndex, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if index == nil {
		index = NopSimilarityIndex{}
	}
	if config.LatencyThresholdMs <= 0 {
		config.LatencyThresholdMs = 1000
	}
	if config.SimilarityTimeout <= 0 {
		config.SimilarityTimeout = 2 * time.Second
	}
	if config.SimilarityTopK <= 0 {
		config.SimilarityTopK = 25
	}
	if config.SimilarityThreshold <= 0 {
		config.SimilarityThreshold = 0.8
	}
	return &Extractor{
		config: config,
		index:  index,
		logger: logger.With(zap.String("component", "signal_extractor")),
		now:    time.Now,
	}
}

// SetNow overrides the clock. Test hook.
func (e *Extractor) SetNow(now func() time.Time) { e.now = now }

// Extract computes the full signal vector for the event.
func (e *Extractor) Extract(ctx context.Context, event *types.RawEvent) types.SignalVector {
	similar := e.similarCount(ctx, event)
	repetition := event.RepetitionCount
	if similar > repetition {
		repetition = similar
	}

	return types.SignalVector{
		SuccessScore:       e.successScore(event),
		RepetitionCount:    repetition,
		RepetitionSignal:   RepetitionSignal(repetition),
		Criticality:        e.criticality(event),
		PatternNovelty:     NoveltyFromSimilarCount(similar),
		ContextRichness:    contextRichness(event),
		EmotionalIntensity: emotionalIntensity(event),
		TemporalUrgency:    temporalUrgency(event, e.now()),
	}
}

// successScore derives the success signal from outcome, error rate,
// latency, user satisfaction, and performance vs baseline. Boosts scale
// with the remaining headroom so a near-perfect base stays near its table
// value instead of saturating at 1.0.
func (e *Extractor) successScore(event *types.RawEvent) float64 {
	base, ok := successBase[event.Outcome]
	if !ok {
		e.logger.Warn("unknown outcome, using neutral success score",
			zap.String("event_id", event.ID),
			zap.String("outcome", event.Outcome))
		base = neutralSignal
	}

	score := base
	score -= clamp01(event.ErrorRate) * 0.3

	if event.ExecutionTimeMs > e.config.LatencyThresholdMs {
		excess := event.ExecutionTimeMs/e.config.LatencyThresholdMs - 1
		score -= math.Min(0.2, excess*0.05)
	}

	if event.UserSatisfaction != nil {
		score += (1 - score) * clamp01(*event.UserSatisfaction) * 0.1
	}
	if event.PerformanceVsBaseline != nil && *event.PerformanceVsBaseline > 1 {
		score += (1 - score) * (*event.PerformanceVsBaseline - 1) * 0.15
	}

	return clamp01(score)
}

// criticality combines the event-type base, a severity adjustment, and the
// impact-scope factor.
func (e *Extractor) criticality(event *types.RawEvent) float64 {
	base, ok := criticalityBase[event.EventType]
	if !ok {
		base = criticalityBase["normal"]
	}

	score := base
	if event.Severity != nil {
		// Severity shifts criticality by up to +-0.1, scaled by headroom
		// on the way up.
		adj := (clamp01(*event.Severity) - 0.5) * 0.2
		if adj > 0 {
			score += (1 - score) * adj
		} else {
			score += adj
		}
	}

	factor, ok := impactFactor[event.ImpactScope]
	if !ok {
		if event.ImpactScope != "" {
			e.logger.Warn("unknown impact scope, using service-level factor",
				zap.String("event_id", event.ID),
				zap.String("impact_scope", event.ImpactScope))
		}
		factor = impactFactor[types.ImpactService]
	}
	return clamp01(score * factor)
}

// RepetitionSignal is the logistic transform of the repetition count,
// centered at 5 repetitions.
func RepetitionSignal(count int) float64 {
	return 1 / (1 + math.Exp(-0.5*(float64(count)-5)))
}

// NoveltyFromSimilarCount maps a similar-record count to the novelty
// signal, stepping down from fully novel to 0.1 past 10 matches.
func NoveltyFromSimilarCount(count int) float64 {
	switch {
	case count == 0:
		return 1.0
	case count <= 2:
		return 0.85
	case count <= 5:
		return 0.70
	case count <= 10:
		return 0.40
	default:
		return 0.10
	}
}

func (e *Extractor) similarCount(ctx context.Context, event *types.RawEvent) int {
	lookupCtx, cancel := context.WithTimeout(ctx, e.config.SimilarityTimeout)
	defer cancel()

	count, err := e.index.FindSimilar(lookupCtx, event.PatternSignature(), e.config.SimilarityTopK, e.config.SimilarityThreshold)
	if err != nil {
		// Unknown novelty is treated as novel; premature discard is the
		// costlier mistake.
		e.logger.Warn("similarity lookup failed, treating event as novel",
			zap.String("event_id", event.ID),
			zap.Error(err))
		return 0
	}
	return count
}

// richnessWeights is the contribution of each expected descriptive field.
var richnessWeights = []struct {
	weight  float64
	present func(*types.RawEvent) bool
}{
	{0.25, func(e *types.RawEvent) bool { return e.Description != "" }},
	{0.20, func(e *types.RawEvent) bool { return e.Outcome != "" }},
	{0.15, func(e *types.RawEvent) bool { return e.ErrorDetail != "" }},
	{0.15, func(e *types.RawEvent) bool { return e.UserContext != "" }},
	{0.10, func(e *types.RawEvent) bool { return e.SystemContext != "" }},
	{0.05, func(e *types.RawEvent) bool { return !e.Timestamp.IsZero() }},
	{0.10, func(e *types.RawEvent) bool { return len(e.Metadata) > 0 }},
}

func contextRichness(event *types.RawEvent) float64 {
	var score float64
	for _, f := range richnessWeights {
		if f.present(event) {
			score += f.weight
		}
	}
	return clamp01(score)
}

// emotionalIntensity sums fixed indicator weights, capped at 1.0.
func emotionalIntensity(event *types.RawEvent) float64 {
	var score float64
	if event.Outcome == types.OutcomeFailure {
		score += 0.40
	}
	if event.AffectedUsers > 0 {
		score += 0.30
	}
	if event.FinancialImpact {
		score += 0.25
	}
	if event.DowntimeMinutes > 0 {
		score += 0.20
	}
	if event.DataLoss {
		score += 0.35
	}
	return clamp01(score)
}

// temporalUrgency combines the urgency flag, deadline proximity, and
// stakeholder count, capped at 1.0.
func temporalUrgency(event *types.RawEvent, now time.Time) float64 {
	var score float64
	if event.Urgent {
		score += 0.50
	}
	if event.Deadline != nil {
		switch until := event.Deadline.Sub(now); {
		case until <= 24*time.Hour:
			score += 0.40
		case until <= 72*time.Hour:
			score += 0.25
		case until <= 7*24*time.Hour:
			score += 0.10
		}
	}
	score += math.Min(0.30, float64(event.Stakeholders)*0.05)
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
