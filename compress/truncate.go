package compress

import "context"

// TruncatingCompressor is the deterministic local fallback used when the
// external compressor exhausts its retries. It keeps the head of the
// content up to the destination token budget. Records compressed this way
// are marked degraded for a later re-attempt.
type TruncatingCompressor struct {
	counter *TokenCounter
}

// NewTruncatingCompressor creates the fallback compressor.
func NewTruncatingCompressor(counter *TokenCounter) *TruncatingCompressor {
	if counter == nil {
		counter = NewTokenCounter("")
	}
	return &TruncatingCompressor{counter: counter}
}

// Compress implements Compressor by truncation. It never fails.
func (t *TruncatingCompressor) Compress(_ context.Context, req Request) (string, error) {
	budget := req.TokenBudget
	if budget <= 0 {
		budget = int(float64(t.counter.Count(req.Content)) * req.Ratio)
	}
	return t.counter.Head(req.Content, budget), nil
}
