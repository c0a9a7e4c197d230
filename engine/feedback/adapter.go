// Package feedback closes the routing loop: delayed outcome signals on
// past routing decisions nudge the per-tier signal weights, and the
// adjusted weight set is versioned, persisted and swapped into the
// router atomically.
package feedback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/engine/router"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/types"
)

// Outcome names accepted on feedback submissions.
const (
	OutcomeUsefulRetrieval     = "useful_retrieval"
	OutcomeNeverRetrieved      = "never_retrieved"
	OutcomeAutomated           = "automated"
	OutcomeAutomationFailed    = "automation_failed"
	OutcomeRecurrence          = "recurrence"
	OutcomePreventedRecurrence = "prevented_recurrence"
)

// misrouteOutcomes lists, per chosen tier, the outcomes that indicate the
// decision was wrong and its contributing weights should shrink.
var misrouteOutcomes = map[types.Tier]map[string]bool{
	types.TierShock:      {OutcomeNeverRetrieved: true},
	types.TierDiscard:    {OutcomeRecurrence: true},
	types.TierProcedural: {OutcomeAutomationFailed: true},
	types.TierLongTerm:   {OutcomeNeverRetrieved: true},
	types.TierGutPattern: {OutcomeAutomationFailed: true, OutcomeNeverRetrieved: true},
	types.TierFresh:      {OutcomeNeverRetrieved: true},
}

// reinforceOutcomes lists outcomes that confirm the routing was right.
var reinforceOutcomes = map[string]bool{
	OutcomeUsefulRetrieval:     true,
	OutcomeAutomated:           true,
	OutcomePreventedRecurrence: true,
}

// Config tunes the adjustment step.
type Config struct {
	// LearningRate scales each weight delta by the signal's observed
	// value at decision time.
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate"`
	// ReinforceFactor discounts positive adjustments relative to
	// negative ones so weights drift down faster than up.
	ReinforceFactor float64 `yaml:"reinforce_factor" json:"reinforce_factor"`
	// MaxDelta caps the absolute change to any single weight per
	// adjustment.
	MaxDelta float64 `yaml:"max_delta" json:"max_delta"`
	// MinWeight is the floor a weight can be driven down to; it keeps a
	// signal recoverable instead of permanently silenced.
	MinWeight float64 `yaml:"min_weight" json:"min_weight"`
	// MaxWeight caps how far reinforcement can push a single weight.
	MaxWeight float64 `yaml:"max_weight" json:"max_weight"`
	// QueueSize bounds the async submission queue.
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// DefaultConfig returns conservative adjustment parameters.
func DefaultConfig() Config {
	return Config{
		LearningRate:    0.05,
		ReinforceFactor: 0.5,
		MaxDelta:        0.05,
		MinWeight:       0.01,
		MaxWeight:       1.0,
		QueueSize:       256,
	}
}

// Submission pairs a decision id with its outcome.
type Submission struct {
	DecisionID string
	Feedback   types.OutcomeFeedback
}

// Adapter applies outcome feedback to the router's weight set.
type Adapter struct {
	cfg       Config
	router    *router.Router
	decisions store.DecisionStore
	weights   store.WeightsStore
	cache     *store.WeightsCache
	metrics   *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time

	// mu serializes adjustments so version increments never race.
	mu sync.Mutex

	queue  chan Submission
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewAdapter wires the adapter. Cache and metrics may be nil.
func NewAdapter(cfg Config, rt *router.Router, st store.Store, cache *store.WeightsCache, collector *metrics.Collector, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = DefaultConfig().LearningRate
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.MaxDelta <= 0 {
		cfg.MaxDelta = DefaultConfig().MaxDelta
	}
	if cfg.MaxWeight <= 0 {
		cfg.MaxWeight = DefaultConfig().MaxWeight
	}
	return &Adapter{
		cfg:       cfg,
		router:    rt,
		decisions: st.Decisions(),
		weights:   st.Weights(),
		cache:     cache,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "feedback")),
		now:       time.Now,
		queue:     make(chan Submission, cfg.QueueSize),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// SetNow overrides the clock. Test hook.
func (a *Adapter) SetNow(now func() time.Time) { a.now = now }

// LoadWeights primes the router with the best available weight set:
// cache first, then the newest valid persisted version, then the
// hardcoded defaults.
func (a *Adapter) LoadWeights(ctx context.Context) error {
	if w, err := a.cache.Get(ctx); err == nil && w != nil {
		a.router.SwapWeights(w)
		a.logger.Info("router weights loaded from cache", zap.Int("version", w.Version))
		return nil
	} else if err != nil {
		a.logger.Warn("weights cache unavailable", zap.Error(err))
	}

	w, err := a.weights.LoadLatest(ctx)
	switch {
	case err == store.ErrNotFound:
		w = types.DefaultRouterWeights()
		w.UpdatedAt = a.now()
		if err := a.weights.Save(ctx, w); err != nil {
			return fmt.Errorf("seed default weights: %w", err)
		}
		a.logger.Info("seeded default router weights")
	case err != nil:
		return fmt.Errorf("load router weights: %w", err)
	}

	a.router.SwapWeights(w)
	if err := a.cache.Set(ctx, w); err != nil {
		a.logger.Warn("prime weights cache", zap.Error(err))
	}
	a.logger.Info("router weights loaded", zap.Int("version", w.Version))
	return nil
}

// Apply records the outcome on the decision and, when the outcome
// implies a misroute or a confirmation, adjusts the chosen tier's
// weights and publishes a new version.
func (a *Adapter) Apply(ctx context.Context, decisionID string, fb types.OutcomeFeedback) error {
	if fb.ReceivedAt.IsZero() {
		fb.ReceivedAt = a.now()
	}

	decision, err := a.decisions.Get(ctx, decisionID)
	if err != nil {
		return fmt.Errorf("load decision %s: %w", decisionID, err)
	}
	if err := a.decisions.SetOutcome(ctx, decisionID, fb); err != nil {
		return fmt.Errorf("record outcome on decision %s: %w", decisionID, err)
	}

	misroute := misrouteOutcomes[decision.ChosenTier][fb.Outcome]
	reinforce := reinforceOutcomes[fb.Outcome]
	if !misroute && !reinforce {
		a.logger.Debug("outcome carries no weight adjustment",
			zap.String("decision_id", decisionID),
			zap.String("outcome", fb.Outcome),
			zap.String("tier", string(decision.ChosenTier)))
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	current := a.router.Weights()
	next := current.Clone()
	next.Version = current.Version + 1
	next.UpdatedAt = a.now()

	tierWeights := next.ByTier[decision.ChosenTier]
	if tierWeights == nil {
		return fmt.Errorf("%w: tier %s missing from weights version %d",
			store.ErrNotFound, decision.ChosenTier, current.Version)
	}

	changed := a.adjustTier(tierWeights, decision.Signals, misroute)
	if !changed {
		return nil
	}

	if err := a.weights.Save(ctx, next); err != nil {
		return fmt.Errorf("persist weights version %d: %w", next.Version, err)
	}
	a.router.SwapWeights(next)
	if err := a.cache.Set(ctx, next); err != nil {
		a.logger.Warn("refresh weights cache", zap.Error(err))
	}
	if a.metrics != nil {
		a.metrics.RecordWeightAdjustment(string(decision.ChosenTier))
	}
	a.logger.Info("router weights adjusted",
		zap.String("decision_id", decisionID),
		zap.String("tier", string(decision.ChosenTier)),
		zap.String("outcome", fb.Outcome),
		zap.Bool("misroute", misroute),
		zap.Int("version", next.Version))
	return nil
}

// adjustTier shifts each contributing weight proportionally to the
// signal value observed at decision time. Misroutes shrink weights,
// confirmations grow them at a discounted rate. Reports whether any
// weight actually moved.
func (a *Adapter) adjustTier(tierWeights map[string]float64, signals types.SignalVector, misroute bool) bool {
	changed := false
	for name, weight := range tierWeights {
		value := signals.Value(name)
		if value <= 0 {
			continue
		}
		delta := a.cfg.LearningRate * value
		if delta > a.cfg.MaxDelta {
			delta = a.cfg.MaxDelta
		}
		var next float64
		if misroute {
			next = weight - delta
			if next < a.cfg.MinWeight {
				next = a.cfg.MinWeight
			}
		} else {
			next = weight + delta*a.cfg.ReinforceFactor
			if next > a.cfg.MaxWeight {
				next = a.cfg.MaxWeight
			}
		}
		if next != weight {
			tierWeights[name] = next
			changed = true
		}
	}
	return changed
}

// Submit enqueues feedback for asynchronous application. Returns false
// when the queue is full; the caller can fall back to Apply.
func (a *Adapter) Submit(decisionID string, fb types.OutcomeFeedback) bool {
	select {
	case a.queue <- Submission{DecisionID: decisionID, Feedback: fb}:
		return true
	default:
		a.logger.Warn("feedback queue full, dropping submission",
			zap.String("decision_id", decisionID))
		return false
	}
}

// Start launches the background worker draining the submission queue.
func (a *Adapter) Start(ctx context.Context) {
	go func() {
		defer close(a.doneCh)
		for {
			select {
			case sub := <-a.queue:
				if err := a.Apply(ctx, sub.DecisionID, sub.Feedback); err != nil {
					a.logger.Error("apply feedback",
						zap.String("decision_id", sub.DecisionID),
						zap.Error(err))
				}
			case <-a.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the background worker and waits for it to exit.
func (a *Adapter) Stop() {
	close(a.stopCh)
	<-a.doneCh
}
