package compress

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RetryPolicy configures the backoff loop around the external compressor.
type RetryPolicy struct {
	MaxRetries     int           // maximum retry attempts (0 means no retry)
	InitialDelay   time.Duration // delay before the first retry
	MaxDelay       time.Duration // backoff ceiling
	Multiplier     float64       // exponential factor
	Jitter         bool          // add random jitter to avoid retry storms
	AttemptTimeout time.Duration // bound on a single compressor call
}

// DefaultRetryPolicy returns the default policy for compressor calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
		AttemptTimeout: 15 * time.Second,
	}
}

// Result is the outcome of a resilient compression. Degraded marks content
// produced by the local truncation fallback rather than the real
// compressor.
type Result struct {
	Content  string
	Degraded bool
	Attempts int
}

// Resilient wraps a Compressor with a rate limiter, per-attempt timeouts,
// exponential backoff, and the deterministic truncation fallback.
type Resilient struct {
	inner    Compressor
	fallback *TruncatingCompressor
	policy   RetryPolicy
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewResilient creates the wrapper. limiter may be nil for unlimited call
// rate; logger may be nil.
func NewResilient(inner Compressor, counter *TokenCounter, policy RetryPolicy, limiter *rate.Limiter, logger *zap.Logger) *Resilient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 500 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 10 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}
	if policy.AttemptTimeout <= 0 {
		policy.AttemptTimeout = 15 * time.Second
	}
	return &Resilient{
		inner:    inner,
		fallback: NewTruncatingCompressor(counter),
		policy:   policy,
		limiter:  limiter,
		logger:   logger.With(zap.String("component", "compressor")),
	}
}

// Compress runs the external compressor with retries. On exhausted retries
// it falls back to local truncation and reports Degraded.
func (r *Resilient) Compress(ctx context.Context, req Request) (Result, error) {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.delay(attempt)
			r.logger.Debug("retrying compression",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return Result{}, fmt.Errorf("compression canceled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return Result{}, fmt.Errorf("compression canceled: %w", err)
			}
		}

		content, err := r.attempt(ctx, req)
		if err == nil {
			return Result{Content: content, Attempts: attempt + 1}, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("compression canceled: %w", ctx.Err())
		}
	}

	r.logger.Warn("compressor retries exhausted, truncating locally",
		zap.String("from_phase", string(req.FromPhase)),
		zap.String("to_phase", string(req.ToPhase)),
		zap.Error(lastErr),
	)

	content, _ := r.fallback.Compress(ctx, req)
	return Result{Content: content, Degraded: true, Attempts: r.policy.MaxRetries + 1}, nil
}

func (r *Resilient) attempt(ctx context.Context, req Request) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.policy.AttemptTimeout)
	defer cancel()
	return r.inner.Compress(attemptCtx, req)
}

func (r *Resilient) delay(attempt int) time.Duration {
	d := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if d > float64(r.policy.MaxDelay) {
		d = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter {
		jitter := d * 0.25
		d = d + (rand.Float64()*2-1)*jitter
	}
	if d < float64(r.policy.InitialDelay) {
		d = float64(r.policy.InitialDelay)
	}
	return time.Duration(d)
}
