package types

import (
	"fmt"
	"time"
)

// RouterWeights maps signal name to weight per tier. It is a versioned,
// process-wide configuration owned by the feedback adapter; the router only
// ever reads an immutable snapshot. Updates replace the whole object.
type RouterWeights struct {
	Version   int                         `json:"version"`
	UpdatedAt time.Time                   `json:"updated_at"`
	ByTier    map[Tier]map[string]float64 `json:"by_tier"`
}

// DefaultRouterWeights returns the hardcoded safe defaults used at first
// startup and as the last-resort fallback when persisted weights are
// corrupt.
func DefaultRouterWeights() *RouterWeights {
	return &RouterWeights{
		Version: 1,
		ByTier: map[Tier]map[string]float64{
			TierShock: {
				SignalCriticality: 0.80,
				SignalEmotional:   0.20,
			},
			// Unremarkable, already-familiar, unsuccessful events are
			// immediate discard candidates.
			TierDiscard: {
				SignalInvSuccess:  0.40,
				SignalInvRichness: 0.30,
				SignalInvNovelty:  0.30,
			},
			TierProcedural: {
				SignalRepetition: 0.50,
				SignalSuccess:    0.30,
				SignalInvNovelty: 0.20,
			},
			TierLongTerm: {
				SignalSuccess:    0.45,
				SignalRichness:   0.30,
				SignalNovelty:    0.15,
				SignalRepetition: 0.10,
			},
			TierGutPattern: {
				SignalRepetition: 0.60,
				SignalInvNovelty: 0.40,
			},
			TierFresh: {
				SignalRichness: 0.30,
				SignalNovelty:  0.40,
				SignalUrgency:  0.30,
			},
		},
	}
}

// Clone returns a deep copy. The feedback adapter adjusts a clone and swaps
// it in whole; weight sets are never mutated in place.
func (w *RouterWeights) Clone() *RouterWeights {
	out := &RouterWeights{
		Version:   w.Version,
		UpdatedAt: w.UpdatedAt,
		ByTier:    make(map[Tier]map[string]float64, len(w.ByTier)),
	}
	for tier, weights := range w.ByTier {
		m := make(map[string]float64, len(weights))
		for name, v := range weights {
			m[name] = v
		}
		out.ByTier[tier] = m
	}
	return out
}

// Validate checks the weight set is usable: a positive version and at least
// one weighted signal per known tier.
func (w *RouterWeights) Validate() error {
	if w.Version <= 0 {
		return fmt.Errorf("weights version must be positive, got %d", w.Version)
	}
	if len(w.ByTier) == 0 {
		return fmt.Errorf("weights have no tiers")
	}
	for _, tier := range Tiers() {
		weights, ok := w.ByTier[tier]
		if !ok || len(weights) == 0 {
			return fmt.Errorf("tier %s has no weights", tier)
		}
	}
	return nil
}
