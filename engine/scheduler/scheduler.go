// Package scheduler runs the periodic decay batch: it pulls records due
// for evaluation, advances their phase through the decay manager, and
// commits each change with a compare-and-set so concurrent batches and
// crash-restarted batches never double-apply a transition.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/memflow/engine/decay"
	"github.com/BaSui01/memflow/engine/economics"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/types"
)

// Config tunes the batch run.
type Config struct {
	// CronSpec is the schedule in cron syntax. Empty disables the
	// periodic trigger; RunOnce still works.
	CronSpec string `yaml:"cron_spec" json:"cron_spec"`
	// Interval is the minimum age of a record's last decay evaluation
	// before it is due again.
	Interval time.Duration `yaml:"interval" json:"interval"`
	// Workers bounds concurrent record evaluations within a batch.
	Workers int `yaml:"workers" json:"workers"`
	// BatchLimit caps how many records one batch pulls. Zero means all
	// due records.
	BatchLimit int `yaml:"batch_limit" json:"batch_limit"`
}

// DefaultConfig runs nightly with modest concurrency.
func DefaultConfig() Config {
	return Config{
		CronSpec:   "0 3 * * *",
		Interval:   24 * time.Hour,
		Workers:    8,
		BatchLimit: 0,
	}
}

// BatchSummary reports what one decay batch did.
type BatchSummary struct {
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	Processed        int           `json:"processed"`
	Advanced         int           `json:"advanced"`
	Forgotten        int           `json:"forgotten"`
	Skipped          int           `json:"skipped"`
	TokensSaved      int           `json:"tokens_saved"`
	AvgPhaseMovement float64       `json:"avg_phase_movement"`
}

// Scheduler drives batch decay runs.
type Scheduler struct {
	cfg       Config
	records   store.RecordStore
	manager   *decay.Manager
	economics *economics.Tracker
	metrics   *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time

	cron   *cron.Cron
	runMu  sync.Mutex
	closed bool
}

// New wires the scheduler. Economics and metrics may be nil.
func New(cfg Config, records store.RecordStore, manager *decay.Manager, tracker *economics.Tracker, collector *metrics.Collector, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Scheduler{
		cfg:       cfg,
		records:   records,
		manager:   manager,
		economics: tracker,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "decay_scheduler")),
		now:       time.Now,
	}
}

// SetNow overrides the clock. Test hook.
func (s *Scheduler) SetNow(now func() time.Time) {
	s.now = now
	s.manager.SetNow(now)
}

// RunOnce executes a single decay batch. Batches overlap-guard through
// a mutex within the process and through the per-record compare-and-set
// across processes: a record claimed by another batch simply reports a
// conflict and is skipped here.
func (s *Scheduler) RunOnce(ctx context.Context) (*BatchSummary, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("scheduler stopped")
	}

	started := s.now()
	cutoff := started.Add(-s.cfg.Interval)

	due, err := s.records.DueForDecay(ctx, cutoff, s.cfg.BatchLimit)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordBatch("error", 0, s.now().Sub(started))
		}
		return nil, fmt.Errorf("query due records: %w", err)
	}

	summary := &BatchSummary{StartedAt: started}
	var mu sync.Mutex
	var phaseMovement int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for _, rec := range due {
		rec := rec
		g.Go(func() error {
			// A cancelled batch stops picking up records but finishes
			// the ones already in flight, so a record is never left
			// half-evaluated.
			if gctx.Err() != nil {
				return gctx.Err()
			}
			recCtx := context.WithoutCancel(gctx)

			trans, skipped, err := s.processRecord(recCtx, rec)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			summary.Processed++
			if skipped {
				summary.Skipped++
				return nil
			}
			if trans != nil {
				summary.Advanced++
				summary.TokensSaved += trans.TokensBefore - trans.TokensAfter
				phaseMovement += trans.To.Index() - trans.From.Index()
				if trans.To == types.PhaseForgotten {
					summary.Forgotten++
				}
			}
			return nil
		})
	}

	runErr := g.Wait()
	summary.Duration = s.now().Sub(started)
	if summary.Advanced > 0 {
		summary.AvgPhaseMovement = float64(phaseMovement) / float64(summary.Advanced)
	}

	status := "ok"
	if runErr != nil {
		status = "error"
	}
	if s.metrics != nil {
		s.metrics.RecordBatch(status, summary.Processed, summary.Duration)
		if n, err := s.records.CountDegraded(context.WithoutCancel(ctx)); err == nil {
			s.metrics.SetDegradedRecords(int(n))
		}
	}

	s.logger.Info("decay batch finished",
		zap.String("status", status),
		zap.Int("due", len(due)),
		zap.Int("processed", summary.Processed),
		zap.Int("advanced", summary.Advanced),
		zap.Int("forgotten", summary.Forgotten),
		zap.Int("skipped", summary.Skipped),
		zap.Int("tokens_saved", summary.TokensSaved),
		zap.Duration("duration", summary.Duration),
	)
	if runErr != nil {
		return summary, runErr
	}
	return summary, nil
}

// processRecord evaluates one record and commits the result. The commit
// is guarded by the LastDecayUpdate the record carried when pulled; a
// conflict means another batch already handled it, which is a skip, not
// an error.
func (s *Scheduler) processRecord(ctx context.Context, rec *types.MemoryRecord) (*decay.Transition, bool, error) {
	expected := rec.LastDecayUpdate

	trans, err := s.manager.Evaluate(ctx, rec)
	if err != nil {
		s.logger.Error("evaluate record",
			zap.String("record_id", rec.ID),
			zap.Error(err))
		return nil, true, nil
	}

	err = s.records.ApplyTransition(ctx, rec, expected)
	switch {
	case err == store.ErrConflict:
		s.logger.Debug("record claimed by concurrent batch",
			zap.String("record_id", rec.ID))
		return nil, true, nil
	case err == store.ErrNotFound:
		s.logger.Warn("record vanished during batch",
			zap.String("record_id", rec.ID))
		return nil, true, nil
	case err != nil:
		return nil, false, fmt.Errorf("commit record %s: %w", rec.ID, err)
	}

	// Ledger entries are written after the commit so a crashed batch
	// never books savings for a transition that did not land.
	if trans != nil && s.economics != nil {
		if _, err := s.economics.RecordTransition(ctx, rec, trans.From, trans.To, trans.TokensBefore, trans.TokensAfter, trans.Degraded); err != nil {
			s.logger.Error("append economics entry",
				zap.String("record_id", rec.ID),
				zap.Error(err))
		}
	}
	return trans, false, nil
}

// Start registers the cron trigger and begins periodic batches.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.CronSpec == "" {
		s.logger.Info("cron trigger disabled")
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(s.cfg.CronSpec, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("scheduled decay batch", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("register cron spec %q: %w", s.cfg.CronSpec, err)
	}
	s.cron = c
	c.Start()
	s.logger.Info("decay scheduler started", zap.String("cron", s.cfg.CronSpec))
	return nil
}

// Stop halts the cron trigger and waits for a running batch to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
	}
	// Acquiring the run mutex waits out an in-flight RunOnce.
	s.runMu.Lock()
	s.closed = true
	s.runMu.Unlock()
}
