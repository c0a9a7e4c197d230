// Package store provides persistent storage for memory records, routing
// decisions, the token economics ledger, and router weight versions.
//
// Supported backends:
// - Memory: for development and testing (default)
// - GORM (sqlite, postgres, mysql): for production deployments
package store

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/memflow/types"
)

// Common errors
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("concurrent update conflict")
	ErrStoreClosed = errors.New("store is closed")
)

// RecordStore persists memory records. Writes to a given record are
// serialized through the compare-and-set discipline on LastDecayUpdate.
type RecordStore interface {
	Create(ctx context.Context, rec *types.MemoryRecord) error
	Get(ctx context.Context, id string) (*types.MemoryRecord, error)

	// Touch updates access bookkeeping: bumps AccessCount and sets
	// LastAccessedAt. Forgotten records are still touchable; access does
	// not revive them.
	Touch(ctx context.Context, id string, now time.Time) error

	// ResolveShock lifts the shock exemption so the record resumes
	// normal decay.
	ResolveShock(ctx context.Context, id string) error

	// DueForDecay returns non-forgotten records whose LastDecayUpdate is
	// at or before the cutoff, oldest first, up to limit.
	DueForDecay(ctx context.Context, cutoff time.Time, limit int) ([]*types.MemoryRecord, error)

	// ApplyTransition commits the record's phase, content, token count,
	// degraded flag and LastDecayUpdate in one write, guarded by the
	// expected previous LastDecayUpdate. Returns ErrConflict when
	// another writer got there first.
	ApplyTransition(ctx context.Context, rec *types.MemoryRecord, expected time.Time) error

	// CountDegraded returns how many records are marked degraded.
	CountDegraded(ctx context.Context) (int64, error)
}

// DecisionStore persists routing decisions. Decisions are immutable except
// for the outcome feedback.
type DecisionStore interface {
	Create(ctx context.Context, d *types.RoutingDecision) error
	Get(ctx context.Context, id string) (*types.RoutingDecision, error)
	SetOutcome(ctx context.Context, id string, fb types.OutcomeFeedback) error
}

// LedgerStore is the append-only token economics ledger.
type LedgerStore interface {
	Append(ctx context.Context, entry *types.TokenEconomicsEntry) error
	Since(ctx context.Context, t time.Time) ([]types.TokenEconomicsEntry, error)
}

// WeightsStore persists versioned router weight sets. Every adjustment
// saves a new version; load returns the latest version that parses,
// falling back to earlier versions when the newest is corrupt.
type WeightsStore interface {
	Save(ctx context.Context, w *types.RouterWeights) error
	LoadLatest(ctx context.Context) (*types.RouterWeights, error)
}

// Store bundles the four stores over one backend.
type Store interface {
	Records() RecordStore
	Decisions() DecisionStore
	Ledger() LedgerStore
	Weights() WeightsStore
	Close() error
}
