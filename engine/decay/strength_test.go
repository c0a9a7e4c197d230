package decay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/memflow/types"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func recordAgedDays(days float64, halfLife float64) *types.MemoryRecord {
	created := testEpoch.Add(-time.Duration(days * 24 * float64(time.Hour)))
	return &types.MemoryRecord{
		ID:                "rec-1",
		CurrentPhase:      types.PhaseEpisodic,
		DecayHalfLifeDays: halfLife,
		CreatedAt:         created,
		LastAccessedAt:    created,
	}
}

func TestStrengthShockExempt(t *testing.T) {
	t.Parallel()

	p := DefaultStrengthParams()
	rec := recordAgedDays(365, 30)
	rec.Criticality = 0.95

	require.True(t, ShockExempt(rec, p))
	require.Equal(t, 1.0, Strength(rec, testEpoch, p))

	rec.ShockResolved = true
	require.False(t, ShockExempt(rec, p))
	require.Less(t, Strength(rec, testEpoch, p), 1.0)
}

func TestStrengthFormula(t *testing.T) {
	t.Parallel()

	p := DefaultStrengthParams()
	rec := recordAgedDays(30, 30)
	rec.Criticality = 0.1
	rec.SuccessScore = 0.8

	// base 0.5, resistance 0.93, success term 0.24, recency e^(-30/7)
	require.InDelta(t, 0.583, Strength(rec, testEpoch, p), 0.005)
}

func TestStrengthRecencyBoost(t *testing.T) {
	t.Parallel()

	p := DefaultStrengthParams()

	stale := recordAgedDays(60, 30)
	touched := recordAgedDays(60, 30)
	touched.LastAccessedAt = testEpoch.Add(-24 * time.Hour)

	require.Greater(t, Strength(touched, testEpoch, p), Strength(stale, testEpoch, p))
}

func TestStrengthRepetitionBoostCapped(t *testing.T) {
	t.Parallel()

	p := DefaultStrengthParams()

	few := recordAgedDays(30, 30)
	few.RepetitionCount = 2
	many := recordAgedDays(30, 30)
	many.RepetitionCount = 10
	excess := recordAgedDays(30, 30)
	excess.RepetitionCount = 100

	require.Greater(t, Strength(many, testEpoch, p), Strength(few, testEpoch, p))
	// 10 hits already reach the 0.5 cap.
	require.Equal(t, Strength(many, testEpoch, p), Strength(excess, testEpoch, p))
}

func TestStrengthHalfLifeFloor(t *testing.T) {
	t.Parallel()

	p := DefaultStrengthParams()
	rec := recordAgedDays(2, 0)

	// Half-life below one day is clamped to one.
	require.InDelta(t, 0.25*1*(1+1.0*0+0.7515), Strength(rec, testEpoch, p), 0.05)
}

func TestStrengthPropertyMonotoneInAge(t *testing.T) {
	t.Parallel()

	p := DefaultStrengthParams()

	rapid.Check(t, func(t *rapid.T) {
		rec := recordAgedDays(0, rapid.Float64Range(1, 365).Draw(t, "half_life"))
		rec.Criticality = rapid.Float64Range(0, 0.89).Draw(t, "criticality")
		rec.SuccessScore = rapid.Float64Range(0, 1).Draw(t, "success")
		rec.RepetitionCount = rapid.IntRange(0, 50).Draw(t, "repetition")

		d1 := rapid.Float64Range(0, 1000).Draw(t, "days")
		d2 := d1 + rapid.Float64Range(0.1, 100).Draw(t, "delta")

		s1 := Strength(rec, testEpoch.Add(time.Duration(d1*24*float64(time.Hour))), p)
		s2 := Strength(rec, testEpoch.Add(time.Duration(d2*24*float64(time.Hour))), p)
		require.GreaterOrEqual(t, s1, s2)
	})
}
