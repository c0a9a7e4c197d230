package economics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/types"
)

var trackerEpoch = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func newTestTracker(t *testing.T) (*Tracker, store.Store) {
	t.Helper()
	st := store.NewMemoryStore(nil)
	tracker := NewTracker(st.Ledger(), nil, nil)
	tracker.SetNow(func() time.Time { return trackerEpoch })
	return tracker, st
}

func TestRecordTransitionAppendsEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracker, st := newTestTracker(t)

	rec := &types.MemoryRecord{ID: "r1", OwnerID: "agent-1"}
	entry, err := tracker.RecordTransition(ctx, rec, types.PhaseEpisodic, types.PhaseCompressed1, 400, 300, false)
	require.NoError(t, err)
	require.Equal(t, 100, entry.TokensSaved())
	require.Equal(t, trackerEpoch, entry.Timestamp)

	entries, err := st.Ledger().Since(ctx, trackerEpoch.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "r1", entries[0].RecordID)
}

func TestReportWindows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracker, st := newTestTracker(t)
	ledger := st.Ledger()

	add := func(id string, age time.Duration, from types.Phase, saved int) {
		require.NoError(t, ledger.Append(ctx, &types.TokenEconomicsEntry{
			ID:           id,
			RecordID:     "r-" + id,
			FromPhase:    from,
			ToPhase:      types.PhaseForgotten,
			TokensBefore: saved,
			TokensAfter:  0,
			Timestamp:    trackerEpoch.Add(-age),
		}))
	}

	add("hour", time.Hour, types.PhaseEpisodic, 100)
	add("threedays", 3*24*time.Hour, types.PhaseEpisodic, 200)
	add("twoweeks", 14*24*time.Hour, types.PhaseSemantic, 50)
	add("ancient", 60*24*time.Hour, types.PhaseSemantic, 999)

	report, err := tracker.Report(ctx)
	require.NoError(t, err)

	require.Equal(t, 1, report.Daily.Transitions)
	require.Equal(t, 100, report.Daily.TokensSaved)

	require.Equal(t, 2, report.Weekly.Transitions)
	require.Equal(t, 300, report.Weekly.TokensSaved)

	require.Equal(t, 3, report.Monthly.Transitions)
	require.Equal(t, 350, report.Monthly.TokensSaved)

	require.Equal(t, 2, report.ByFromPhase[types.PhaseEpisodic].Transitions)
	require.Equal(t, 300, report.ByFromPhase[types.PhaseEpisodic].TokensSaved)
	require.Equal(t, 1, report.ByFromPhase[types.PhaseSemantic].Transitions)
}
