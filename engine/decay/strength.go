// Package decay implements the time-varying strength model and the phase
// transition manager that progressively compresses stored records.
package decay

import (
	"math"
	"time"

	"github.com/BaSui01/memflow/types"
)

// StrengthParams tunes the strength formula.
type StrengthParams struct {
	// RecencyHalfLifeDays drives the last-access boost, e^(-days/7).
	RecencyHalfLifeDays float64 `json:"recency_half_life_days" yaml:"recency_half_life_days"`
	// RepetitionBoostPerHit and RepetitionBoostCap bound the repetition
	// contribution.
	RepetitionBoostPerHit float64 `json:"repetition_boost_per_hit" yaml:"repetition_boost_per_hit"`
	RepetitionBoostCap    float64 `json:"repetition_boost_cap" yaml:"repetition_boost_cap"`
	// CriticalityDecayWeight is how strongly criticality resists decay:
	// resistance = 1 - criticality*weight.
	CriticalityDecayWeight float64 `json:"criticality_decay_weight" yaml:"criticality_decay_weight"`
	// SuccessWeight scales the success-score contribution.
	SuccessWeight float64 `json:"success_weight" yaml:"success_weight"`
	// ShockCriticality is the cutoff above which a record is exempt from
	// automatic phase advancement until manually resolved.
	ShockCriticality float64 `json:"shock_criticality" yaml:"shock_criticality"`
}

// DefaultStrengthParams returns the standard parameters.
func DefaultStrengthParams() StrengthParams {
	return StrengthParams{
		RecencyHalfLifeDays:    7,
		RepetitionBoostPerHit:  0.05,
		RepetitionBoostCap:     0.5,
		CriticalityDecayWeight: 0.7,
		SuccessWeight:          0.3,
		ShockCriticality:       0.9,
	}
}

// ShockExempt reports whether the record is pinned by the shock rule:
// criticality at or above the cutoff and not yet manually resolved.
func ShockExempt(rec *types.MemoryRecord, p StrengthParams) bool {
	return rec.Criticality >= p.ShockCriticality && !rec.ShockResolved
}

// Strength computes the record's current strength in [0,1].
//
//	base       = 0.5 ^ (daysSinceCreated / halfLifeDays)
//	recency    = e ^ (-daysSinceLastAccess / recencyHalfLife)
//	repetition = min(cap, repetitionCount * perHit)
//	resistance = 1 - criticality*weight
//	strength   = clamp01(base * resistance * (1 + success*w + recency + repetition))
//
// Shock-exempt records do not decay at all; their strength holds at 1
// until explicit manual resolution.
func Strength(rec *types.MemoryRecord, now time.Time, p StrengthParams) float64 {
	if ShockExempt(rec, p) {
		return 1.0
	}

	halfLife := rec.DecayHalfLifeDays
	if halfLife < 1 {
		halfLife = 1
	}

	daysSinceCreated := now.Sub(rec.CreatedAt).Hours() / 24
	if daysSinceCreated < 0 {
		daysSinceCreated = 0
	}
	lastAccess := rec.LastAccessedAt
	if lastAccess.IsZero() {
		lastAccess = rec.CreatedAt
	}
	daysSinceAccess := now.Sub(lastAccess).Hours() / 24
	if daysSinceAccess < 0 {
		daysSinceAccess = 0
	}

	base := math.Pow(0.5, daysSinceCreated/halfLife)
	recency := math.Exp(-daysSinceAccess / p.RecencyHalfLifeDays)
	repetition := math.Min(p.RepetitionBoostCap, float64(rec.RepetitionCount)*p.RepetitionBoostPerHit)
	resistance := 1 - rec.Criticality*p.CriticalityDecayWeight

	strength := base * resistance * (1 + rec.SuccessScore*p.SuccessWeight + recency + repetition)
	return clamp01(strength)
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
