package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/memflow/engine/signal"
	"github.com/BaSui01/memflow/types"
)

func defaultRouter() *Router {
	return New(types.DefaultRouterWeights(), DefaultThresholds(), nil)
}

func TestRouteSuccessfulNovelSolution(t *testing.T) {
	t.Parallel()

	// A successful, context-rich, fairly novel solution seen a few times
	// lands in long_term.
	signals := types.SignalVector{
		SuccessScore:       0.95,
		RepetitionCount:    3,
		RepetitionSignal:   signal.RepetitionSignal(3),
		Criticality:        0.30,
		PatternNovelty:     0.70,
		ContextRichness:    0.80,
		EmotionalIntensity: 0.20,
		TemporalUrgency:    0.10,
	}

	d := Route(signals, types.DefaultRouterWeights(), DefaultThresholds())
	require.Equal(t, types.TierLongTerm, d.ChosenTier)
	require.InDelta(t, 0.78, d.Confidence, 0.05)
}

func TestRouteCriticalFailure(t *testing.T) {
	t.Parallel()

	// A severe security breach with wide impact routes to shock.
	signals := types.SignalVector{
		SuccessScore:       0.05,
		Criticality:        0.954,
		PatternNovelty:     1.0,
		ContextRichness:    0.60,
		EmotionalIntensity: 0.70,
		TemporalUrgency:    0.50,
	}

	d := Route(signals, types.DefaultRouterWeights(), DefaultThresholds())
	require.Equal(t, types.TierShock, d.ChosenTier)
	require.InDelta(t, 0.92, d.Confidence, 0.03)
}

func TestRouteUnremarkableEventDiscards(t *testing.T) {
	t.Parallel()

	signals := types.SignalVector{
		SuccessScore:     0.55,
		ContextRichness:  0.10,
		PatternNovelty:   0.10,
		RepetitionSignal: signal.RepetitionSignal(1),
	}

	d := Route(signals, types.DefaultRouterWeights(), DefaultThresholds())
	require.Equal(t, types.TierDiscard, d.ChosenTier)
}

func TestRouteRepeatedFailurePatternHitsGutPattern(t *testing.T) {
	t.Parallel()

	// Frequently recurring failure with rich context: too unsuccessful
	// for procedural, too rich for discard, the recurring pattern still
	// feeds the collective layer.
	signals := types.SignalVector{
		SuccessScore:     0.05,
		RepetitionCount:  7,
		RepetitionSignal: signal.RepetitionSignal(7),
		PatternNovelty:   0.10,
		ContextRichness:  0.90,
	}

	d := Route(signals, types.DefaultRouterWeights(), DefaultThresholds())
	require.Equal(t, types.TierGutPattern, d.ChosenTier)
}

func TestRouteFallsThroughToFresh(t *testing.T) {
	t.Parallel()

	signals := types.SignalVector{
		SuccessScore:    0.55,
		PatternNovelty:  0.50,
		ContextRichness: 0.50,
		Criticality:     0.20,
		TemporalUrgency: 0.30,
	}

	d := Route(signals, types.DefaultRouterWeights(), DefaultThresholds())
	require.Equal(t, types.TierFresh, d.ChosenTier)
	require.Contains(t, d.Reasoning, "fresh")
}

func TestDecideStampsDecision(t *testing.T) {
	t.Parallel()

	r := defaultRouter()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	event := &types.RawEvent{ID: "evt-1", OwnerID: "agent-9", EventType: "normal", Outcome: types.OutcomeSuccess}
	d := r.Decide(event, types.SignalVector{SuccessScore: 0.95, ContextRichness: 0.8, PatternNovelty: 0.7})

	require.NotEmpty(t, d.ID)
	require.Equal(t, "evt-1", d.EventID)
	require.Equal(t, "agent-9", d.OwnerID)
	require.Equal(t, now, d.CreatedAt)
	require.Equal(t, 1, d.WeightsVersion)
}

func TestSwapWeightsAffectsNextDecisionOnly(t *testing.T) {
	t.Parallel()

	r := defaultRouter()
	snapshot := r.Weights()

	next := snapshot.Clone()
	next.Version = 2
	next.ByTier[types.TierLongTerm][types.SignalSuccess] = 0.05
	r.SwapWeights(next)

	require.Equal(t, 2, r.Weights().Version)
	// The old snapshot an in-flight decision holds is untouched.
	require.InDelta(t, 0.45, snapshot.ByTier[types.TierLongTerm][types.SignalSuccess], 1e-9)
}

func TestRoutePropertyDeterministicAndThresholdConsistent(t *testing.T) {
	t.Parallel()

	weights := types.DefaultRouterWeights()
	th := DefaultThresholds()

	rapid.Check(t, func(t *rapid.T) {
		unit := rapid.Float64Range(0, 1)
		signals := types.SignalVector{
			SuccessScore:       unit.Draw(t, "success"),
			RepetitionSignal:   unit.Draw(t, "repetition"),
			Criticality:        unit.Draw(t, "criticality"),
			PatternNovelty:     unit.Draw(t, "novelty"),
			ContextRichness:    unit.Draw(t, "richness"),
			EmotionalIntensity: unit.Draw(t, "emotional"),
			TemporalUrgency:    unit.Draw(t, "urgency"),
		}

		first := Route(signals, weights, th)
		second := Route(signals, weights, th)
		require.Equal(t, first.ChosenTier, second.ChosenTier)
		require.Equal(t, first.Confidence, second.Confidence)
		require.Equal(t, first.ScoresByTier, second.ScoresByTier)

		// The chosen tier is the first rule in priority order whose
		// score clears its cutoff.
		rules := []struct {
			tier   types.Tier
			cutoff float64
		}{
			{types.TierShock, th.Shock},
			{types.TierDiscard, th.Discard},
			{types.TierProcedural, th.Procedural},
			{types.TierLongTerm, th.LongTerm},
			{types.TierGutPattern, th.GutPattern},
		}
		for _, rule := range rules {
			if first.ScoresByTier[rule.tier] > rule.cutoff {
				require.Equal(t, rule.tier, first.ChosenTier)
				return
			}
			require.NotEqual(t, rule.tier, first.ChosenTier)
		}
		require.Equal(t, types.TierFresh, first.ChosenTier)
	})
}
