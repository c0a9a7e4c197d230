package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

// MemoryStore is an in-memory Store implementation for development and
// tests. All four stores share one mutex; copies go in and out so callers
// can never alias internal state.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]types.MemoryRecord
	decisions map[string]types.RoutingDecision
	ledger    []types.TokenEconomicsEntry
	weights   []types.RouterWeights
	closed    bool
	logger    *zap.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		records:   make(map[string]types.MemoryRecord),
		decisions: make(map[string]types.RoutingDecision),
		logger:    logger.With(zap.String("component", "memory_store")),
	}
}

func (s *MemoryStore) Records() RecordStore     { return (*memoryRecords)(s) }
func (s *MemoryStore) Decisions() DecisionStore { return (*memoryDecisions)(s) }
func (s *MemoryStore) Ledger() LedgerStore      { return (*memoryLedger)(s) }
func (s *MemoryStore) Weights() WeightsStore    { return (*memoryWeights)(s) }

// Close marks the store closed; later calls fail with ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

type memoryRecords MemoryStore

func (s *memoryRecords) Create(ctx context.Context, rec *types.MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := (*MemoryStore)(s).check(ctx); err != nil {
		return err
	}
	s.records[rec.ID] = *rec
	return nil
}

func (s *memoryRecords) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := (*MemoryStore)(s).check(ctx); err != nil {
		return nil, err
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := rec
	return &copied, nil
}

func (s *memoryRecords) Touch(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := (*MemoryStore)(s).check(ctx); err != nil {
		return err
	}
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.AccessCount++
	rec.LastAccessedAt = now
	s.records[id] = rec
	return nil
}

func (s *memoryRecords) ResolveShock(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := (*MemoryStore)(s).check(ctx); err != nil {
		return err
	}
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.ShockResolved = true
	s.records[id] = rec
	return nil
}

func (s *memoryRecords) DueForDecay(ctx context.Context, cutoff time.Time, limit int) ([]*types.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := (*MemoryStore)(s).check(ctx); err != nil {
		return nil, err
	}
	var due []*types.MemoryRecord
	for _, rec := range s.records {
		if rec.Forgotten() {
			continue
		}
		if rec.LastDecayUpdate.After(cutoff) {
			continue
		}
		copied := rec
		due = append(due, &copied)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].LastDecayUpdate.Before(due[j].LastDecayUpdate)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memoryRecords) ApplyTransition(ctx context.Context, rec *types.MemoryRecord, expected time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := (*MemoryStore)(s).check(ctx); err != nil {
		return err
	}
	current, ok := s.records[rec.ID]
	if !ok {
		return ErrNotFound
	}
	if !current.LastDecayUpdate.Equal(expected) {
		return ErrConflict
	}
	current.Content = rec.Content
	current.CurrentPhase = rec.CurrentPhase
	current.CurrentTokens = rec.CurrentTokens
	current.Degraded = rec.Degraded
	current.LastDecayUpdate = rec.LastDecayUpdate
	s.records[rec.ID] = current
	return nil
}

func (s *memoryRecords) CountDegraded(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := (*MemoryStore)(s).check(ctx); err != nil {
		return 0, err
	}
	var n int64
	for _, rec := range s.records {
		if rec.Degraded {
			n++
		}
	}
	return n, nil
}

type memoryDecisions MemoryStore

func (s *memoryDecisions) Create(ctx context.Context, d *types.RoutingDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := (*MemoryStore)(s).check(ctx); err != nil {
		return err
	}
	s.decisions[d.ID] = *d
	return nil
}

func (s *memoryDecisions) Get(ctx context.Context, id string) (*types.RoutingDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := (*MemoryStore)(s).check(ctx); err != nil {
		return nil, err
	}
	d, ok := s.decisions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := d
	return &copied, nil
}

func (s *memoryDecisions) SetOutcome(ctx context.Context, id string, fb types.OutcomeFeedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := (*MemoryStore)(s).check(ctx); err != nil {
		return err
	}
	d, ok := s.decisions[id]
	if !ok {
		return ErrNotFound
	}
	d.OutcomeFeedback = &fb
	s.decisions[id] = d
	return nil
}

type memoryLedger MemoryStore

func (s *memoryLedger) Append(ctx context.Context, entry *types.TokenEconomicsEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := (*MemoryStore)(s).check(ctx); err != nil {
		return err
	}
	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *memoryLedger) Since(ctx context.Context, t time.Time) ([]types.TokenEconomicsEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := (*MemoryStore)(s).check(ctx); err != nil {
		return nil, err
	}
	var out []types.TokenEconomicsEntry
	for _, e := range s.ledger {
		if e.Timestamp.Before(t) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

type memoryWeights MemoryStore

func (s *memoryWeights) Save(ctx context.Context, w *types.RouterWeights) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := (*MemoryStore)(s).check(ctx); err != nil {
		return err
	}
	s.weights = append(s.weights, *w.Clone())
	return nil
}

func (s *memoryWeights) LoadLatest(ctx context.Context) (*types.RouterWeights, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := (*MemoryStore)(s).check(ctx); err != nil {
		return nil, err
	}
	for i := len(s.weights) - 1; i >= 0; i-- {
		w := s.weights[i]
		if w.Validate() == nil {
			return w.Clone(), nil
		}
	}
	return nil, ErrNotFound
}
