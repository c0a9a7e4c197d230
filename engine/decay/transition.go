package decay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/compress"
	"github.com/BaSui01/memflow/types"
)

// PhaseConfig holds the per-phase token budgets and strength thresholds.
// Both are configuration, not constants, but budgets must be strictly
// decreasing in detail order and thresholds strictly descending.
type PhaseConfig struct {
	Budgets    map[types.Phase]int     `json:"budgets" yaml:"budgets"`
	Thresholds map[types.Phase]float64 `json:"thresholds" yaml:"thresholds"`
}

// DefaultPhaseConfig returns the standard budgets and thresholds.
func DefaultPhaseConfig() PhaseConfig {
	return PhaseConfig{
		Budgets: map[types.Phase]int{
			types.PhaseEpisodic:    500,
			types.PhaseCompressed1: 350,
			types.PhaseCompressed2: 250,
			types.PhaseSemantic:    150,
			types.PhasePattern:     75,
			types.PhaseIntuitive:   50,
			types.PhaseForgotten:   0,
		},
		Thresholds: map[types.Phase]float64{
			types.PhaseEpisodic:    1.0,
			types.PhaseCompressed1: 0.8,
			types.PhaseCompressed2: 0.6,
			types.PhaseSemantic:    0.4,
			types.PhasePattern:     0.2,
			types.PhaseIntuitive:   0.1,
			types.PhaseForgotten:   0.01,
		},
	}
}

// Validate enforces the structural invariants on the configuration.
func (c PhaseConfig) Validate() error {
	phases := types.Phases()
	for i, p := range phases {
		budget, ok := c.Budgets[p]
		if !ok {
			return fmt.Errorf("missing budget for phase %s", p)
		}
		if _, ok := c.Thresholds[p]; !ok {
			return fmt.Errorf("missing threshold for phase %s", p)
		}
		if i > 0 {
			if budget >= c.Budgets[phases[i-1]] {
				return fmt.Errorf("budget for %s (%d) must be below %s (%d)", p, budget, phases[i-1], c.Budgets[phases[i-1]])
			}
			if c.Thresholds[p] >= c.Thresholds[phases[i-1]] {
				return fmt.Errorf("threshold for %s must be below %s", p, phases[i-1])
			}
		}
	}
	if c.Budgets[types.PhaseForgotten] != 0 {
		return fmt.Errorf("forgotten budget must be zero")
	}
	return nil
}

// TargetPhase returns the most detailed phase whose threshold is at or
// below the strength. Below every threshold the record is forgotten.
func (c PhaseConfig) TargetPhase(strength float64) types.Phase {
	for _, p := range types.Phases() {
		if c.Thresholds[p] <= strength {
			return p
		}
	}
	return types.PhaseForgotten
}

// Transition describes one applied phase change.
type Transition struct {
	From         types.Phase
	To           types.Phase
	TokensBefore int
	TokensAfter  int
	Degraded     bool
	Strength     float64
}

// Manager evaluates records against the strength model and applies forward
// phase transitions, invoking the compressor as needed. It mutates the
// record in memory; committing the change is the caller's concern.
type Manager struct {
	phases     PhaseConfig
	params     StrengthParams
	compressor *compress.Resilient
	counter    *compress.TokenCounter
	logger     *zap.Logger
	now        func() time.Time
}

// NewManager creates a transition manager.
func NewManager(phases PhaseConfig, params StrengthParams, compressor *compress.Resilient, counter *compress.TokenCounter, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if counter == nil {
		counter = compress.NewTokenCounter("")
	}
	return &Manager{
		phases:     phases,
		params:     params,
		compressor: compressor,
		counter:    counter,
		logger:     logger.With(zap.String("component", "phase_manager")),
		now:        time.Now,
	}
}

// SetNow overrides the clock, for tests and simulations.
func (m *Manager) SetNow(now func() time.Time) { m.now = now }

// Phases returns the phase configuration.
func (m *Manager) Phases() PhaseConfig { return m.phases }

// Params returns the strength parameters.
func (m *Manager) Params() StrengthParams { return m.params }

// Evaluate recomputes the record's strength and applies a forward
// transition when the target phase is less detailed than the current one.
// A more detailed target is never acted on; phases only move forward.
// Returns nil when no transition was applied. LastDecayUpdate is always
// refreshed so the scheduler's due query stays idempotent.
func (m *Manager) Evaluate(ctx context.Context, rec *types.MemoryRecord) (*Transition, error) {
	now := m.now()
	if rec.Forgotten() {
		rec.LastDecayUpdate = now
		return nil, nil
	}

	strength := Strength(rec, now, m.params)

	if ShockExempt(rec, m.params) {
		rec.LastDecayUpdate = now
		return nil, nil
	}

	target := m.phases.TargetPhase(strength)
	if !target.LessDetailedThan(rec.CurrentPhase) {
		// Degraded records re-attempt real compression of their current
		// phase on later cycles.
		if rec.Degraded {
			if err := m.reattempt(ctx, rec); err != nil {
				return nil, err
			}
		}
		rec.LastDecayUpdate = now
		return nil, nil
	}

	tokensBefore := rec.CurrentTokens
	from := rec.CurrentPhase
	degraded := false

	if target == types.PhaseForgotten {
		rec.Content = types.ForgottenMarker
		rec.CurrentTokens = 0
	} else {
		budget := m.phases.Budgets[target]
		result, err := m.compressor.Compress(ctx, compress.Request{
			Content:       rec.Content,
			FromPhase:     from,
			ToPhase:       target,
			Ratio:         ratio(budget, tokensBefore),
			PreserveHints: compress.HintsFor(from, target),
			TokenBudget:   budget,
		})
		if err != nil {
			return nil, err
		}
		content, count := m.fit(result.Content, budget, tokensBefore, rec.Content)
		rec.Content = content
		rec.CurrentTokens = count
		degraded = result.Degraded
	}

	rec.CurrentPhase = target
	rec.Degraded = degraded
	rec.LastDecayUpdate = now

	m.logger.Info("phase transition applied",
		zap.String("record_id", rec.ID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.Int("tokens_before", tokensBefore),
		zap.Int("tokens_after", rec.CurrentTokens),
		zap.Float64("strength", strength),
		zap.Bool("degraded", degraded),
	)

	return &Transition{
		From:         from,
		To:           target,
		TokensBefore: tokensBefore,
		TokensAfter:  rec.CurrentTokens,
		Degraded:     degraded,
		Strength:     strength,
	}, nil
}

// reattempt retries real compression for a record whose last transition
// fell back to truncation. On success the degraded flag clears.
func (m *Manager) reattempt(ctx context.Context, rec *types.MemoryRecord) error {
	budget := m.phases.Budgets[rec.CurrentPhase]
	result, err := m.compressor.Compress(ctx, compress.Request{
		Content:       rec.Content,
		FromPhase:     rec.CurrentPhase,
		ToPhase:       rec.CurrentPhase,
		Ratio:         ratio(budget, rec.CurrentTokens),
		PreserveHints: compress.HintsFor(rec.CurrentPhase, rec.CurrentPhase),
		TokenBudget:   budget,
	})
	if err != nil {
		return err
	}
	if result.Degraded {
		return nil
	}
	content, count := m.fit(result.Content, budget, rec.CurrentTokens, rec.Content)
	rec.Content = content
	rec.CurrentTokens = count
	rec.Degraded = false
	return nil
}

// fit enforces the token invariants on compressor output: the result never
// exceeds the destination budget and never grows past the previous count.
// A compressor that inflates the content is ignored in favor of truncating
// the original.
func (m *Manager) fit(content string, budget, tokensBefore int, original string) (string, int) {
	limit := budget
	if tokensBefore < limit {
		limit = tokensBefore
	}
	count := m.counter.Count(content)
	if count > limit {
		if m.counter.Count(original) <= limit {
			content = original
		} else {
			content = m.counter.Head(content, limit)
		}
		count = m.counter.Count(content)
	}
	return content, count
}

func ratio(budget, tokens int) float64 {
	if tokens <= 0 {
		return 1
	}
	r := float64(budget) / float64(tokens)
	if r > 1 {
		r = 1
	}
	return r
}
