package signal

import "context"

// SimilarityIndex is the external vector-similarity collaborator. Only the
// match count is consumed here; it feeds the novelty and repetition
// signals.
type SimilarityIndex interface {
	// FindSimilar returns how many stored records match the signature at
	// or above threshold, up to topK.
	FindSimilar(ctx context.Context, signature string, topK int, threshold float64) (int, error)
}

// NopSimilarityIndex always reports zero matches. Used when no index is
// configured; every event then looks novel, which is the safer default.
type NopSimilarityIndex struct{}

func (NopSimilarityIndex) FindSimilar(context.Context, string, int, float64) (int, error) {
	return 0, nil
}
