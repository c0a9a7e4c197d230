package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultRouterWeightsValid(t *testing.T) {
	t.Parallel()

	w := DefaultRouterWeights()
	require.NoError(t, w.Validate())
	require.Equal(t, 1, w.Version)

	for _, tier := range Tiers() {
		require.NotEmpty(t, w.ByTier[tier], "tier %s must carry weights", tier)
	}
}

func TestRouterWeightsCloneIsIndependent(t *testing.T) {
	t.Parallel()

	w := DefaultRouterWeights()
	clone := w.Clone()
	clone.Version = 7
	clone.ByTier[TierShock][SignalCriticality] = 0.1

	require.Equal(t, 1, w.Version)
	require.InDelta(t, 0.80, w.ByTier[TierShock][SignalCriticality], 1e-9)
}

func TestRouterWeightsValidateRejectsBroken(t *testing.T) {
	t.Parallel()

	w := DefaultRouterWeights()
	w.Version = 0
	require.Error(t, w.Validate())

	w = DefaultRouterWeights()
	delete(w.ByTier, TierDiscard)
	require.Error(t, w.Validate())

	w = &RouterWeights{Version: 3}
	require.Error(t, w.Validate())
}
