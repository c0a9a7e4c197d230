// Package router scores extracted signals against per-tier weights and
// applies the prioritized threshold ladder that picks a destination tier.
package router

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

// runnerUpFloor is the minimum score for a tier to appear in the ranked
// runner-up diagnostics.
const runnerUpFloor = 0.3

// Thresholds holds the ladder cutoffs. Rules are evaluated strictly in
// priority order; the first score above its cutoff wins, regardless of
// magnitudes elsewhere.
type Thresholds struct {
	Shock      float64 `json:"shock" yaml:"shock"`
	Discard    float64 `json:"discard" yaml:"discard"`
	Procedural float64 `json:"procedural" yaml:"procedural"`
	LongTerm   float64 `json:"long_term" yaml:"long_term"`
	GutPattern float64 `json:"gut_pattern" yaml:"gut_pattern"`
}

// DefaultThresholds returns the standard ladder.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Shock:      0.85,
		Discard:    0.70,
		Procedural: 0.60,
		LongTerm:   0.70,
		GutPattern: 0.50,
	}
}

// rules is the fixed priority order.
func (t Thresholds) rules() []struct {
	tier   types.Tier
	cutoff float64
} {
	return []struct {
		tier   types.Tier
		cutoff float64
	}{
		{types.TierShock, t.Shock},
		{types.TierDiscard, t.Discard},
		{types.TierProcedural, t.Procedural},
		{types.TierLongTerm, t.LongTerm},
		{types.TierGutPattern, t.GutPattern},
	}
}

// TierScore computes one tier's score as the weighted linear combination of
// the signal vector under the given weights.
func TierScore(signals types.SignalVector, weights map[string]float64) float64 {
	var score float64
	for name, w := range weights {
		score += w * signals.Value(name)
	}
	return score
}

// Route is the pure routing function: identical signals and weights always
// produce the identical decision (minus id and timestamps, which the
// caller fills in).
func Route(signals types.SignalVector, weights *types.RouterWeights, th Thresholds) *types.RoutingDecision {
	scores := make(map[types.Tier]float64, len(weights.ByTier))
	for tier, w := range weights.ByTier {
		scores[tier] = TierScore(signals, w)
	}

	chosen := types.TierFresh
	confidence := scores[types.TierFresh]
	reasoning := "no tier threshold met, holding in fresh tier for re-evaluation"
	for _, rule := range th.rules() {
		if scores[rule.tier] > rule.cutoff {
			chosen = rule.tier
			confidence = scores[rule.tier]
			reasoning = fmt.Sprintf("%s score %.3f exceeded threshold %.2f", rule.tier, scores[rule.tier], rule.cutoff)
			break
		}
	}

	return &types.RoutingDecision{
		Signals:        signals,
		ScoresByTier:   scores,
		ChosenTier:     chosen,
		Confidence:     confidence,
		Reasoning:      reasoning,
		RunnersUp:      runnersUp(scores, chosen),
		WeightsVersion: weights.Version,
	}
}

// runnersUp ranks the non-chosen tiers scoring above the diagnostic floor.
func runnersUp(scores map[types.Tier]float64, chosen types.Tier) []types.TierScore {
	var out []types.TierScore
	for tier, score := range scores {
		if tier == chosen || score <= runnerUpFloor {
			continue
		}
		out = append(out, types.TierScore{Tier: tier, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Tier < out[j].Tier
	})
	return out
}

// Router wraps the pure routing function with the current weights
// snapshot. Swaps are atomic; an in-flight decision keeps the snapshot it
// started with.
type Router struct {
	weights    atomic.Pointer[types.RouterWeights]
	thresholds Thresholds
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a router seeded with the given weights.
func New(weights *types.RouterWeights, thresholds Thresholds, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if weights == nil {
		weights = types.DefaultRouterWeights()
	}
	r := &Router{
		thresholds: thresholds,
		logger:     logger.With(zap.String("component", "tier_router")),
		now:        time.Now,
	}
	r.weights.Store(weights)
	return r
}

// Decide routes one event's signals and stamps the decision.
func (r *Router) Decide(event *types.RawEvent, signals types.SignalVector) *types.RoutingDecision {
	decision := Route(signals, r.Weights(), r.thresholds)
	decision.ID = uuid.NewString()
	decision.EventID = event.ID
	decision.OwnerID = event.OwnerID
	decision.CreatedAt = r.now()

	r.logger.Debug("routing decision",
		zap.String("event_id", event.ID),
		zap.String("tier", string(decision.ChosenTier)),
		zap.Float64("confidence", decision.Confidence),
		zap.Int("weights_version", decision.WeightsVersion),
	)
	return decision
}

// Weights returns the current immutable snapshot.
func (r *Router) Weights() *types.RouterWeights {
	return r.weights.Load()
}

// SwapWeights atomically replaces the weight set. Called only by the
// feedback adapter.
func (r *Router) SwapWeights(w *types.RouterWeights) {
	r.weights.Store(w)
	r.logger.Info("router weights swapped", zap.Int("version", w.Version))
}

// Thresholds returns the configured ladder.
func (r *Router) Thresholds() Thresholds {
	return r.thresholds
}
