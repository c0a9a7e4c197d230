// Package types provides unified type definitions for the memflow engine.
package types

import "time"

// Phase defines the compression stage of a stored memory record, from full
// detail (PhaseEpisodic) down to the terminal PhaseForgotten state.
type Phase string

const (
	PhaseEpisodic    Phase = "episodic"
	PhaseCompressed1 Phase = "compressed_1"
	PhaseCompressed2 Phase = "compressed_2"
	PhaseSemantic    Phase = "semantic"
	PhasePattern     Phase = "pattern"
	PhaseIntuitive   Phase = "intuitive"
	PhaseForgotten   Phase = "forgotten"
)

// phaseOrder lists phases from most detailed to least.
var phaseOrder = []Phase{
	PhaseEpisodic,
	PhaseCompressed1,
	PhaseCompressed2,
	PhaseSemantic,
	PhasePattern,
	PhaseIntuitive,
	PhaseForgotten,
}

// Phases returns all phases ordered from most detailed to least.
func Phases() []Phase {
	out := make([]Phase, len(phaseOrder))
	copy(out, phaseOrder)
	return out
}

// Index returns the position of the phase in detail order (0 = episodic).
// Unknown phases return -1.
func (p Phase) Index() int {
	for i, ph := range phaseOrder {
		if ph == p {
			return i
		}
	}
	return -1
}

// Valid reports whether the phase is one of the defined stages.
func (p Phase) Valid() bool { return p.Index() >= 0 }

// LessDetailedThan reports whether p carries less detail than other.
// A transition is only legal when the destination is less detailed.
func (p Phase) LessDetailedThan(other Phase) bool {
	return p.Index() > other.Index()
}

// ForgottenMarker replaces record content when a record reaches
// PhaseForgotten. The row itself is never deleted so the collective-pattern
// layer can still reference its signature.
const ForgottenMarker = "[forgotten]"

// MemoryRecord is the unit of storage. Content, phase and token counts are
// mutated only by the phase transition manager; access bookkeeping touches
// AccessCount and LastAccessedAt.
type MemoryRecord struct {
	ID                string    `json:"id"`
	OwnerID           string    `json:"owner_id"`
	Content           string    `json:"content"`
	PatternSignature  string    `json:"pattern_signature,omitempty"`
	CurrentPhase      Phase     `json:"current_phase"`
	OriginalTokens    int       `json:"original_token_count"`
	CurrentTokens     int       `json:"current_token_count"`
	SuccessScore      float64   `json:"success_score"`
	Criticality       float64   `json:"criticality"`
	RepetitionCount   int       `json:"repetition_count"`
	AccessCount       int       `json:"access_count"`
	DecayHalfLifeDays float64   `json:"decay_half_life_days"`
	Degraded          bool      `json:"degraded"`
	ShockResolved     bool      `json:"shock_resolved"`
	CreatedAt         time.Time `json:"created_at"`
	LastAccessedAt    time.Time `json:"last_accessed_at"`
	LastDecayUpdate   time.Time `json:"last_decay_update"`
}

// Forgotten reports whether the record has reached the terminal phase.
func (r *MemoryRecord) Forgotten() bool { return r.CurrentPhase == PhaseForgotten }

// Tier is a named destination category for an inbound experience event.
type Tier string

const (
	// TierShock is the never-decaying critical tier.
	TierShock Tier = "shock"
	// TierDiscard routes straight to forgotten, skipping storage.
	TierDiscard Tier = "discard"
	// TierProcedural holds habit and automated-pattern memories.
	TierProcedural Tier = "procedural"
	// TierLongTerm holds durable knowledge.
	TierLongTerm Tier = "long_term"
	// TierGutPattern contributes a signature to the collective-pattern
	// layer without retaining the full record.
	TierGutPattern Tier = "gut_pattern"
	// TierFresh is the short-lived holding tier, re-evaluated next cycle.
	TierFresh Tier = "fresh"
)

// Tiers returns all tiers in router priority order, highest first.
func Tiers() []Tier {
	return []Tier{TierShock, TierDiscard, TierProcedural, TierLongTerm, TierGutPattern, TierFresh}
}

// Persistent reports whether events routed to the tier create a stored
// MemoryRecord.
func (t Tier) Persistent() bool {
	switch t {
	case TierShock, TierProcedural, TierLongTerm, TierFresh:
		return true
	default:
		return false
	}
}
