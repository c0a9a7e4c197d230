// Package compress defines the external compressor boundary used by the
// phase transition manager, plus the retry/fallback wrapper and the token
// accounting around it. The compressor itself is a pluggable black box; no
// particular model or determinism is assumed from it.
package compress

import (
	"context"

	"github.com/BaSui01/memflow/types"
)

// Request describes one compression call. Ratio is the target size as a
// fraction of the input (CurrentTokens * Ratio ~= destination budget).
type Request struct {
	Content       string
	FromPhase     types.Phase
	ToPhase       types.Phase
	Ratio         float64
	PreserveHints []string
	TokenBudget   int
}

// Compressor rewrites content for a phase transition. Implementations must
// be safe to retry with the same request. A failed call returns an error
// wrapping types.ErrCompressionUnavailable.
type Compressor interface {
	Compress(ctx context.Context, req Request) (string, error)
}

// ErrUnavailable is the condition raised when the external compressor
// cannot serve a request.
var ErrUnavailable = types.NewError(types.ErrCompressionUnavailable, "compressor unavailable").WithRetryable(true)

// preserveByPhase names what each destination phase must keep. Keyed by
// destination because the hint set depends on how much detail survives,
// not on where the content came from.
var preserveByPhase = map[types.Phase][]string{
	types.PhaseCompressed1: {"outcome", "decision", "estimate"},
	types.PhaseCompressed2: {"outcome", "decision"},
	types.PhaseSemantic:    {"lesson", "outcome"},
	types.PhasePattern:     {"pattern_signature"},
	types.PhaseIntuitive:   {"pattern_signature"},
	types.PhaseForgotten:   nil,
}

// HintsFor returns the preservation hints for a transition. Transitions may
// skip phases; hints follow the destination.
func HintsFor(from, to types.Phase) []string {
	hints, ok := preserveByPhase[to]
	if !ok {
		return nil
	}
	out := make([]string, len(hints))
	copy(out, hints)
	return out
}
