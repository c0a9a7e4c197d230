// Package engine composes the pipeline: signal extraction, tier
// routing, record creation and the access/decay surface exposed to
// callers.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/compress"
	"github.com/BaSui01/memflow/engine/decay"
	"github.com/BaSui01/memflow/engine/router"
	"github.com/BaSui01/memflow/engine/signal"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/types"
)

// PatternSink receives pattern signatures for events routed to the
// gut_pattern tier. The full record is not retained; only the signature
// contributes to the collective pattern layer.
type PatternSink interface {
	RecordPattern(ctx context.Context, ownerID, signature string, signals types.SignalVector) error
}

// NopPatternSink discards pattern contributions.
type NopPatternSink struct{}

func (NopPatternSink) RecordPattern(context.Context, string, string, types.SignalVector) error {
	return nil
}

// Config holds the facade's own knobs; subsystem configs live with
// their packages.
type Config struct {
	// HalfLifeDaysByTier sets the decay half-life assigned to records at
	// creation, per destination tier.
	HalfLifeDaysByTier map[types.Tier]float64 `yaml:"half_life_days_by_tier" json:"half_life_days_by_tier"`
	// EpisodicTokenBudget caps a record's token count at creation.
	// Oversized content is truncated so new records already satisfy the
	// episodic phase budget instead of waiting for the first transition.
	EpisodicTokenBudget int `yaml:"episodic_token_budget" json:"episodic_token_budget"`
}

// DefaultConfig assigns longer half-lives to more durable tiers. Shock
// records are decay-exempt until resolved, so their half-life only
// matters after resolution.
func DefaultConfig() Config {
	return Config{
		HalfLifeDaysByTier: map[types.Tier]float64{
			types.TierShock:      90,
			types.TierProcedural: 45,
			types.TierLongTerm:   30,
			types.TierFresh:      7,
		},
		EpisodicTokenBudget: decay.DefaultPhaseConfig().Budgets[types.PhaseEpisodic],
	}
}

// ProcessResult is what one event produced: always a decision, and a
// stored record when the chosen tier persists.
type ProcessResult struct {
	Decision *types.RoutingDecision `json:"decision"`
	Record   *types.MemoryRecord    `json:"record,omitempty"`
}

// Engine is the pipeline facade.
type Engine struct {
	cfg       Config
	extractor *signal.Extractor
	router    *router.Router
	store     store.Store
	patterns  PatternSink
	counter   *compress.TokenCounter
	metrics   *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time
}

// New wires the engine. PatternSink and metrics may be nil.
func New(cfg Config, extractor *signal.Extractor, rt *router.Router, st store.Store, patterns PatternSink, counter *compress.TokenCounter, collector *metrics.Collector, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if patterns == nil {
		patterns = NopPatternSink{}
	}
	if counter == nil {
		counter = compress.NewTokenCounter("")
	}
	if len(cfg.HalfLifeDaysByTier) == 0 {
		cfg.HalfLifeDaysByTier = DefaultConfig().HalfLifeDaysByTier
	}
	if cfg.EpisodicTokenBudget <= 0 {
		cfg.EpisodicTokenBudget = DefaultConfig().EpisodicTokenBudget
	}
	return &Engine{
		cfg:       cfg,
		extractor: extractor,
		router:    rt,
		store:     st,
		patterns:  patterns,
		counter:   counter,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "engine")),
		now:       time.Now,
	}
}

// SetNow overrides the clock. Test hook.
func (e *Engine) SetNow(now func() time.Time) { e.now = now }

func validateEvent(event *types.RawEvent) error {
	if event == nil {
		return types.NewError(types.ErrInvalidEvent, "event is nil")
	}
	if event.EventType == "" {
		return types.NewError(types.ErrInvalidEvent, "event_type is required")
	}
	switch event.Outcome {
	case types.OutcomeSuccess, types.OutcomePartial, types.OutcomeFailure:
	default:
		return types.NewError(types.ErrInvalidEvent, fmt.Sprintf("unknown outcome %q", event.Outcome))
	}
	return nil
}

// Process runs one raw event through extraction and routing, persists
// the decision, and creates the memory record for persistent tiers.
// Discarded events leave only the decision behind; gut_pattern events
// additionally contribute their signature to the pattern sink.
func (e *Engine) Process(ctx context.Context, event *types.RawEvent) (*ProcessResult, error) {
	if err := validateEvent(event); err != nil {
		return nil, err
	}
	now := e.now()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = now
	}

	extractStart := time.Now()
	signals := e.extractor.Extract(ctx, event)
	extractDuration := time.Since(extractStart)

	decision := e.router.Decide(event, signals)
	if err := e.store.Decisions().Create(ctx, decision); err != nil {
		return nil, fmt.Errorf("persist routing decision: %w", err)
	}
	if e.metrics != nil {
		e.metrics.RecordRoutingDecision(string(decision.ChosenTier), decision.Confidence, extractDuration)
	}

	result := &ProcessResult{Decision: decision}

	switch {
	case decision.ChosenTier.Persistent():
		rec, err := e.createRecord(ctx, event, signals, decision, now)
		if err != nil {
			return nil, err
		}
		result.Record = rec
	case decision.ChosenTier == types.TierGutPattern:
		if err := e.patterns.RecordPattern(ctx, event.OwnerID, event.PatternSignature(), signals); err != nil {
			// Pattern contribution is best effort; the decision stands.
			e.logger.Warn("pattern sink rejected contribution",
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	}

	e.logger.Debug("event processed",
		zap.String("event_id", event.ID),
		zap.String("owner_id", event.OwnerID),
		zap.String("tier", string(decision.ChosenTier)),
		zap.Float64("confidence", decision.Confidence),
		zap.Bool("stored", result.Record != nil))
	return result, nil
}

func (e *Engine) createRecord(ctx context.Context, event *types.RawEvent, signals types.SignalVector, decision *types.RoutingDecision, now time.Time) (*types.MemoryRecord, error) {
	content := renderContent(event)
	tokens := e.counter.Count(content)
	originalTokens := tokens
	if tokens > e.cfg.EpisodicTokenBudget {
		content = e.counter.Head(content, e.cfg.EpisodicTokenBudget)
		tokens = e.counter.Count(content)
		e.logger.Warn("event content over the episodic budget, truncating",
			zap.String("event_id", event.ID),
			zap.Int("tokens", originalTokens),
			zap.Int("budget", e.cfg.EpisodicTokenBudget))
	}

	halfLife, ok := e.cfg.HalfLifeDaysByTier[decision.ChosenTier]
	if !ok {
		halfLife = DefaultConfig().HalfLifeDaysByTier[types.TierFresh]
	}

	rec := &types.MemoryRecord{
		ID:                uuid.NewString(),
		OwnerID:           event.OwnerID,
		Content:           content,
		PatternSignature:  event.PatternSignature(),
		CurrentPhase:      types.PhaseEpisodic,
		OriginalTokens:    originalTokens,
		CurrentTokens:     tokens,
		SuccessScore:      signals.SuccessScore,
		Criticality:       signals.Criticality,
		RepetitionCount:   event.RepetitionCount,
		AccessCount:       0,
		DecayHalfLifeDays: halfLife,
		CreatedAt:         now,
		LastAccessedAt:    now,
		LastDecayUpdate:   now,
	}
	if err := e.store.Records().Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist memory record: %w", err)
	}
	return rec, nil
}

// renderContent flattens the event into the stored episodic text.
func renderContent(event *types.RawEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", event.EventType, event.Outcome)
	if event.Category != "" {
		fmt.Fprintf(&b, " (%s)", event.Category)
	}
	if event.Description != "" {
		b.WriteString("\n")
		b.WriteString(event.Description)
	}
	if event.ErrorDetail != "" {
		fmt.Fprintf(&b, "\nerror: %s", event.ErrorDetail)
	}
	if event.UserContext != "" {
		fmt.Fprintf(&b, "\nuser: %s", event.UserContext)
	}
	if event.SystemContext != "" {
		fmt.Fprintf(&b, "\nsystem: %s", event.SystemContext)
	}
	return b.String()
}

// Touch records an access: bumps the access count and refreshes the
// last-accessed time, which slows decay through the recency boost.
// Touching a forgotten record is allowed but does not revive it.
func (e *Engine) Touch(ctx context.Context, recordID string) error {
	return e.store.Records().Touch(ctx, recordID, e.now())
}

// ResolveShock lifts a shock record's decay exemption so it starts
// aging like any other record.
func (e *Engine) ResolveShock(ctx context.Context, recordID string) error {
	rec, err := e.store.Records().Get(ctx, recordID)
	if err != nil {
		return err
	}
	if rec.ShockResolved {
		return nil
	}
	if err := e.store.Records().ResolveShock(ctx, recordID); err != nil {
		return err
	}
	e.logger.Info("shock resolved, decay resumes",
		zap.String("record_id", recordID),
		zap.Float64("criticality", rec.Criticality))
	return nil
}

// GetRecord returns a record by id.
func (e *Engine) GetRecord(ctx context.Context, id string) (*types.MemoryRecord, error) {
	return e.store.Records().Get(ctx, id)
}

// GetDecision returns a routing decision by id.
func (e *Engine) GetDecision(ctx context.Context, id string) (*types.RoutingDecision, error) {
	return e.store.Decisions().Get(ctx, id)
}
