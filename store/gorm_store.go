package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/memflow/types"
)

// memoryRecordRow is the relational shape of a MemoryRecord.
type memoryRecordRow struct {
	ID                string `gorm:"primaryKey;size:36"`
	OwnerID           string `gorm:"index;size:64"`
	Content           string
	PatternSignature  string `gorm:"index;size:255"`
	CurrentPhase      string `gorm:"size:16;index:idx_decay_due,priority:1"`
	OriginalTokens    int
	CurrentTokens     int
	SuccessScore      float64
	Criticality       float64
	RepetitionCount   int
	AccessCount       int
	DecayHalfLifeDays float64
	Degraded          bool `gorm:"index"`
	ShockResolved     bool
	CreatedAt         time.Time
	LastAccessedAt    time.Time
	LastDecayUpdate   time.Time `gorm:"index:idx_decay_due,priority:2"`
}

func (memoryRecordRow) TableName() string { return "memory_records" }

// routingDecisionRow stores the decision with its signal snapshot and
// per-tier scores serialized as JSON.
type routingDecisionRow struct {
	ID             string `gorm:"primaryKey;size:36"`
	EventID        string `gorm:"index;size:64"`
	OwnerID        string `gorm:"index;size:64"`
	SignalsJSON    string
	ScoresJSON     string
	ChosenTier     string `gorm:"size:16;index"`
	Confidence     float64
	Reasoning      string
	RunnersUpJSON  string
	WeightsVersion int
	CreatedAt      time.Time
	OutcomeJSON    *string
}

func (routingDecisionRow) TableName() string { return "routing_decisions" }

type economicsEntryRow struct {
	ID           string `gorm:"primaryKey;size:36"`
	RecordID     string `gorm:"index;size:36"`
	OwnerID      string `gorm:"size:64"`
	FromPhase    string `gorm:"size:16"`
	ToPhase      string `gorm:"size:16"`
	TokensBefore int
	TokensAfter  int
	Timestamp    time.Time `gorm:"index"`
}

func (economicsEntryRow) TableName() string { return "token_economics_entries" }

type routerWeightsRow struct {
	Version   int `gorm:"primaryKey;autoIncrement:false"`
	Payload   string
	UpdatedAt time.Time
}

func (routerWeightsRow) TableName() string { return "router_weights" }

// GormStore is the relational Store implementation.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the configured database and migrates the schema.
// Supported drivers: sqlite, postgres, mysql.
func Open(driver, dsn string, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "gorm_store"), zap.String("driver", driver)),
	}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *GormStore) migrate() error {
	err := s.db.AutoMigrate(
		&memoryRecordRow{},
		&routingDecisionRow{},
		&economicsEntryRow{},
		&routerWeightsRow{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func (s *GormStore) Records() RecordStore     { return &gormRecords{s} }
func (s *GormStore) Decisions() DecisionStore { return &gormDecisions{s} }
func (s *GormStore) Ledger() LedgerStore      { return &gormLedger{s} }
func (s *GormStore) Weights() WeightsStore    { return &gormWeights{s} }

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB exposes the handle for migrations and diagnostics.
func (s *GormStore) DB() *gorm.DB { return s.db }

func recordToRow(rec *types.MemoryRecord) memoryRecordRow {
	return memoryRecordRow{
		ID:                rec.ID,
		OwnerID:           rec.OwnerID,
		Content:           rec.Content,
		PatternSignature:  rec.PatternSignature,
		CurrentPhase:      string(rec.CurrentPhase),
		OriginalTokens:    rec.OriginalTokens,
		CurrentTokens:     rec.CurrentTokens,
		SuccessScore:      rec.SuccessScore,
		Criticality:       rec.Criticality,
		RepetitionCount:   rec.RepetitionCount,
		AccessCount:       rec.AccessCount,
		DecayHalfLifeDays: rec.DecayHalfLifeDays,
		Degraded:          rec.Degraded,
		ShockResolved:     rec.ShockResolved,
		CreatedAt:         rec.CreatedAt,
		LastAccessedAt:    rec.LastAccessedAt,
		LastDecayUpdate:   rec.LastDecayUpdate,
	}
}

func rowToRecord(row *memoryRecordRow) *types.MemoryRecord {
	return &types.MemoryRecord{
		ID:                row.ID,
		OwnerID:           row.OwnerID,
		Content:           row.Content,
		PatternSignature:  row.PatternSignature,
		CurrentPhase:      types.Phase(row.CurrentPhase),
		OriginalTokens:    row.OriginalTokens,
		CurrentTokens:     row.CurrentTokens,
		SuccessScore:      row.SuccessScore,
		Criticality:       row.Criticality,
		RepetitionCount:   row.RepetitionCount,
		AccessCount:       row.AccessCount,
		DecayHalfLifeDays: row.DecayHalfLifeDays,
		Degraded:          row.Degraded,
		ShockResolved:     row.ShockResolved,
		CreatedAt:         row.CreatedAt,
		LastAccessedAt:    row.LastAccessedAt,
		LastDecayUpdate:   row.LastDecayUpdate,
	}
}

type gormRecords struct{ s *GormStore }

func (g *gormRecords) Create(ctx context.Context, rec *types.MemoryRecord) error {
	row := recordToRow(rec)
	return g.s.db.WithContext(ctx).Create(&row).Error
}

func (g *gormRecords) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	var row memoryRecordRow
	err := g.s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToRecord(&row), nil
}

func (g *gormRecords) Touch(ctx context.Context, id string, now time.Time) error {
	res := g.s.db.WithContext(ctx).Model(&memoryRecordRow{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"access_count":     gorm.Expr("access_count + 1"),
			"last_accessed_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *gormRecords) ResolveShock(ctx context.Context, id string) error {
	res := g.s.db.WithContext(ctx).Model(&memoryRecordRow{}).
		Where("id = ?", id).
		Update("shock_resolved", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *gormRecords) DueForDecay(ctx context.Context, cutoff time.Time, limit int) ([]*types.MemoryRecord, error) {
	var rows []memoryRecordRow
	q := g.s.db.WithContext(ctx).
		Where("current_phase <> ?", string(types.PhaseForgotten)).
		Where("last_decay_update <= ?", cutoff).
		Order("last_decay_update asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*types.MemoryRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rowToRecord(&rows[i]))
	}
	return out, nil
}

// ApplyTransition commits phase, content and token changes in one write
// guarded by the expected LastDecayUpdate. A losing writer observes
// ErrConflict instead of silently double-applying.
func (g *gormRecords) ApplyTransition(ctx context.Context, rec *types.MemoryRecord, expected time.Time) error {
	res := g.s.db.WithContext(ctx).Model(&memoryRecordRow{}).
		Where("id = ? AND last_decay_update = ?", rec.ID, expected).
		Updates(map[string]any{
			"content":           rec.Content,
			"current_phase":     string(rec.CurrentPhase),
			"current_tokens":    rec.CurrentTokens,
			"degraded":          rec.Degraded,
			"last_decay_update": rec.LastDecayUpdate,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := g.s.db.WithContext(ctx).Model(&memoryRecordRow{}).Where("id = ?", rec.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (g *gormRecords) CountDegraded(ctx context.Context) (int64, error) {
	var n int64
	err := g.s.db.WithContext(ctx).Model(&memoryRecordRow{}).Where("degraded = ?", true).Count(&n).Error
	return n, err
}

type gormDecisions struct{ s *GormStore }

func (g *gormDecisions) Create(ctx context.Context, d *types.RoutingDecision) error {
	signals, err := json.Marshal(d.Signals)
	if err != nil {
		return err
	}
	scores, err := json.Marshal(d.ScoresByTier)
	if err != nil {
		return err
	}
	runners, err := json.Marshal(d.RunnersUp)
	if err != nil {
		return err
	}
	row := routingDecisionRow{
		ID:             d.ID,
		EventID:        d.EventID,
		OwnerID:        d.OwnerID,
		SignalsJSON:    string(signals),
		ScoresJSON:     string(scores),
		ChosenTier:     string(d.ChosenTier),
		Confidence:     d.Confidence,
		Reasoning:      d.Reasoning,
		RunnersUpJSON:  string(runners),
		WeightsVersion: d.WeightsVersion,
		CreatedAt:      d.CreatedAt,
	}
	return g.s.db.WithContext(ctx).Create(&row).Error
}

func (g *gormDecisions) Get(ctx context.Context, id string) (*types.RoutingDecision, error) {
	var row routingDecisionRow
	err := g.s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	d := &types.RoutingDecision{
		ID:             row.ID,
		EventID:        row.EventID,
		OwnerID:        row.OwnerID,
		ChosenTier:     types.Tier(row.ChosenTier),
		Confidence:     row.Confidence,
		Reasoning:      row.Reasoning,
		WeightsVersion: row.WeightsVersion,
		CreatedAt:      row.CreatedAt,
	}
	if err := json.Unmarshal([]byte(row.SignalsJSON), &d.Signals); err != nil {
		return nil, fmt.Errorf("decode signals for decision %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(row.ScoresJSON), &d.ScoresByTier); err != nil {
		return nil, fmt.Errorf("decode scores for decision %s: %w", id, err)
	}
	if row.RunnersUpJSON != "" {
		if err := json.Unmarshal([]byte(row.RunnersUpJSON), &d.RunnersUp); err != nil {
			return nil, fmt.Errorf("decode runners-up for decision %s: %w", id, err)
		}
	}
	if row.OutcomeJSON != nil {
		var fb types.OutcomeFeedback
		if err := json.Unmarshal([]byte(*row.OutcomeJSON), &fb); err != nil {
			return nil, fmt.Errorf("decode outcome for decision %s: %w", id, err)
		}
		d.OutcomeFeedback = &fb
	}
	return d, nil
}

func (g *gormDecisions) SetOutcome(ctx context.Context, id string, fb types.OutcomeFeedback) error {
	payload, err := json.Marshal(fb)
	if err != nil {
		return err
	}
	res := g.s.db.WithContext(ctx).Model(&routingDecisionRow{}).
		Where("id = ?", id).
		Update("outcome_json", string(payload))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type gormLedger struct{ s *GormStore }

func (g *gormLedger) Append(ctx context.Context, entry *types.TokenEconomicsEntry) error {
	row := economicsEntryRow{
		ID:           entry.ID,
		RecordID:     entry.RecordID,
		OwnerID:      entry.OwnerID,
		FromPhase:    string(entry.FromPhase),
		ToPhase:      string(entry.ToPhase),
		TokensBefore: entry.TokensBefore,
		TokensAfter:  entry.TokensAfter,
		Timestamp:    entry.Timestamp,
	}
	return g.s.db.WithContext(ctx).Create(&row).Error
}

func (g *gormLedger) Since(ctx context.Context, t time.Time) ([]types.TokenEconomicsEntry, error) {
	var rows []economicsEntryRow
	err := g.s.db.WithContext(ctx).
		Where("timestamp >= ?", t).
		Order("timestamp asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.TokenEconomicsEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, types.TokenEconomicsEntry{
			ID:           row.ID,
			RecordID:     row.RecordID,
			OwnerID:      row.OwnerID,
			FromPhase:    types.Phase(row.FromPhase),
			ToPhase:      types.Phase(row.ToPhase),
			TokensBefore: row.TokensBefore,
			TokensAfter:  row.TokensAfter,
			Timestamp:    row.Timestamp,
		})
	}
	return out, nil
}

type gormWeights struct{ s *GormStore }

func (g *gormWeights) Save(ctx context.Context, w *types.RouterWeights) error {
	payload, err := json.Marshal(w)
	if err != nil {
		return err
	}
	row := routerWeightsRow{
		Version:   w.Version,
		Payload:   string(payload),
		UpdatedAt: w.UpdatedAt,
	}
	return g.s.db.WithContext(ctx).Create(&row).Error
}

// LoadLatest walks versions newest first and returns the first that
// parses and validates, so a corrupt newest version falls back to the
// last known good one.
func (g *gormWeights) LoadLatest(ctx context.Context) (*types.RouterWeights, error) {
	var rows []routerWeightsRow
	err := g.s.db.WithContext(ctx).Order("version desc").Limit(10).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		var w types.RouterWeights
		if err := json.Unmarshal([]byte(row.Payload), &w); err != nil {
			g.s.logger.Warn("corrupt router weights version, falling back",
				zap.Int("version", row.Version),
				zap.Error(err))
			continue
		}
		if err := w.Validate(); err != nil {
			g.s.logger.Warn("invalid router weights version, falling back",
				zap.Int("version", row.Version),
				zap.Error(err))
			continue
		}
		return &w, nil
	}
	return nil, ErrNotFound
}
