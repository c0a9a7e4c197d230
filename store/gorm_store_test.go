package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/types"
)

func testGormStore(t *testing.T) *GormStore {
	t.Helper()
	// A named shared in-memory database keeps the pool's connections on
	// the same data; the test name keeps parallel tests apart.
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	s, err := Open("sqlite", dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGormStoreUnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := Open("oracle", "dsn", nil)
	require.Error(t, err)
}

func TestGormStoreRecordRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testGormStore(t)
	records := s.Records()

	rec := seedRecord("r1", storeEpoch)
	rec.Criticality = 0.42
	require.NoError(t, records.Create(ctx, rec))

	loaded, err := records.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, rec.Content, loaded.Content)
	require.InDelta(t, 0.42, loaded.Criticality, 1e-9)
	require.Equal(t, types.PhaseEpisodic, loaded.CurrentPhase)

	_, err = records.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGormStoreTouchIncrements(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testGormStore(t)
	records := s.Records()
	require.NoError(t, records.Create(ctx, seedRecord("r1", storeEpoch)))

	later := storeEpoch.Add(time.Hour)
	require.NoError(t, records.Touch(ctx, "r1", later))
	require.NoError(t, records.Touch(ctx, "r1", later))

	rec, err := records.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, 2, rec.AccessCount)

	require.ErrorIs(t, records.Touch(ctx, "missing", later), ErrNotFound)
}

func TestGormStoreApplyTransitionCAS(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testGormStore(t)
	records := s.Records()
	require.NoError(t, records.Create(ctx, seedRecord("r1", storeEpoch)))

	rec, err := records.Get(ctx, "r1")
	require.NoError(t, err)

	expected := rec.LastDecayUpdate
	rec.CurrentPhase = types.PhaseCompressed1
	rec.Content = "compressed"
	rec.CurrentTokens = 12
	rec.LastDecayUpdate = storeEpoch.Add(24 * time.Hour)

	require.NoError(t, records.ApplyTransition(ctx, rec, expected))
	require.ErrorIs(t, records.ApplyTransition(ctx, rec, expected), ErrConflict)

	missing := seedRecord("missing", storeEpoch)
	require.ErrorIs(t, records.ApplyTransition(ctx, missing, storeEpoch), ErrNotFound)

	stored, err := records.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, types.PhaseCompressed1, stored.CurrentPhase)
	require.Equal(t, 12, stored.CurrentTokens)
}

func TestGormStoreDueForDecayFiltersAndOrders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testGormStore(t)
	records := s.Records()

	require.NoError(t, records.Create(ctx, seedRecord("old", storeEpoch.Add(-48*time.Hour))))
	require.NoError(t, records.Create(ctx, seedRecord("older", storeEpoch.Add(-72*time.Hour))))
	require.NoError(t, records.Create(ctx, seedRecord("fresh", storeEpoch)))

	gone := seedRecord("gone", storeEpoch.Add(-96*time.Hour))
	gone.CurrentPhase = types.PhaseForgotten
	require.NoError(t, records.Create(ctx, gone))

	due, err := records.DueForDecay(ctx, storeEpoch.Add(-24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, "older", due[0].ID)
}

func TestGormStoreDecisionWithOutcome(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testGormStore(t)
	decisions := s.Decisions()

	d := &types.RoutingDecision{
		ID:      "d1",
		EventID: "e1",
		OwnerID: "agent-1",
		Signals: types.SignalVector{SuccessScore: 0.95, ContextRichness: 0.8},
		ScoresByTier: map[types.Tier]float64{
			types.TierLongTerm: 0.79,
			types.TierFresh:    0.44,
		},
		ChosenTier:     types.TierLongTerm,
		Confidence:     0.79,
		Reasoning:      "long_term score 0.790 exceeded threshold 0.70",
		RunnersUp:      []types.TierScore{{Tier: types.TierFresh, Score: 0.44}},
		WeightsVersion: 3,
		CreatedAt:      storeEpoch,
	}
	require.NoError(t, decisions.Create(ctx, d))

	loaded, err := decisions.Get(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, types.TierLongTerm, loaded.ChosenTier)
	require.InDelta(t, 0.95, loaded.Signals.SuccessScore, 1e-9)
	require.InDelta(t, 0.79, loaded.ScoresByTier[types.TierLongTerm], 1e-9)
	require.Len(t, loaded.RunnersUp, 1)
	require.Nil(t, loaded.OutcomeFeedback)

	fb := types.OutcomeFeedback{Outcome: "useful_retrieval", ReceivedAt: storeEpoch.Add(time.Hour)}
	require.NoError(t, decisions.SetOutcome(ctx, "d1", fb))

	loaded, err = decisions.Get(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, loaded.OutcomeFeedback)
	require.Equal(t, "useful_retrieval", loaded.OutcomeFeedback.Outcome)
}

func TestGormStoreLedgerSince(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testGormStore(t)
	ledger := s.Ledger()

	for i, ts := range []time.Time{storeEpoch.Add(-time.Hour), storeEpoch, storeEpoch.Add(time.Hour)} {
		require.NoError(t, ledger.Append(ctx, &types.TokenEconomicsEntry{
			ID:           string(rune('a' + i)),
			RecordID:     "r1",
			FromPhase:    types.PhaseEpisodic,
			ToPhase:      types.PhaseCompressed1,
			TokensBefore: 100,
			TokensAfter:  70,
			Timestamp:    ts,
		}))
	}

	entries, err := ledger.Since(ctx, storeEpoch)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, 30, entries[0].TokensSaved())
}

func TestGormStoreWeightsVersioningAndFallback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := testGormStore(t)
	weights := s.Weights()

	_, err := weights.LoadLatest(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	v1 := types.DefaultRouterWeights()
	require.NoError(t, weights.Save(ctx, v1))

	v2 := v1.Clone()
	v2.Version = 2
	v2.ByTier[types.TierShock][types.SignalCriticality] = 0.75
	require.NoError(t, weights.Save(ctx, v2))

	loaded, err := weights.LoadLatest(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, loaded.Version)
	require.InDelta(t, 0.75, loaded.ByTier[types.TierShock][types.SignalCriticality], 1e-9)

	// A corrupt newest row falls back to the last good version.
	require.NoError(t, s.DB().WithContext(ctx).Create(&routerWeightsRow{
		Version:   3,
		Payload:   "{broken",
		UpdatedAt: storeEpoch,
	}).Error)

	loaded, err = weights.LoadLatest(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, loaded.Version)
}
