// Package store is the durable, cross-process record of executions and
// their metrics. Every write is a short independent transaction; there
// are no long-held locks.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/loadworks/loadoor/pkg/config"
	"github.com/loadworks/loadoor/pkg/loadtest"
)

// ErrNotFound is returned when no record exists for an execution id.
var ErrNotFound = errors.New("execution record not found")

// Store provides persistence for execution records and their
// per-endpoint results.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	CreateExecution(ctx context.Context, rec *ExecutionRecord) error
	FindByExecutionID(ctx context.Context, executionID string) (*ExecutionRecord, error)
	FindByStatus(ctx context.Context, status loadtest.Status) ([]ExecutionRecord, error)
	ListNonTerminal(ctx context.Context) ([]ExecutionRecord, error)
	UpdateStatus(
		ctx context.Context,
		executionID string,
		status loadtest.Status,
		startedAt, endedAt *time.Time,
	) error
	UpdateMetrics(ctx context.Context, executionID string, m *ExecutionMetrics) error
	SetNotes(ctx context.Context, executionID, notes string) error
	SetGrade(ctx context.Context, executionID, grade string) error
	MarkBaseline(ctx context.Context, executionID string) error
	FindLatestBaseline(ctx context.Context, configKey string) (*ExecutionRecord, error)
	CountByStatus(ctx context.Context) (map[loadtest.Status]int64, error)

	DeleteEndpointResults(ctx context.Context, executionID string) error
	BulkInsertEndpointResults(ctx context.Context, rows []EndpointResult) error
	ListEndpointResults(ctx context.Context, executionID string) ([]EndpointResult, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.DatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&ExecutionRecord{},
		&EndpointResult{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// --- ExecutionRecord ---

func (s *store) CreateExecution(
	ctx context.Context, rec *ExecutionRecord,
) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("creating execution record: %w", err)
	}

	return nil
}

func (s *store) FindByExecutionID(
	ctx context.Context, executionID string,
) (*ExecutionRecord, error) {
	var rec ExecutionRecord

	err := s.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("finding execution %s: %w", executionID, err)
	}

	return &rec, nil
}

func (s *store) FindByStatus(
	ctx context.Context, status loadtest.Status,
) ([]ExecutionRecord, error) {
	var recs []ExecutionRecord

	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("listing executions by status: %w", err)
	}

	return recs, nil
}

// ListNonTerminal returns all records still in queued or running state,
// the set the synchronizer has to reconcile each tick.
func (s *store) ListNonTerminal(
	ctx context.Context,
) ([]ExecutionRecord, error) {
	var recs []ExecutionRecord

	err := s.db.WithContext(ctx).
		Where("status IN ?", []loadtest.Status{
			loadtest.StatusQueued, loadtest.StatusRunning,
		}).
		Order("created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("listing non-terminal executions: %w", err)
	}

	return recs, nil
}

func (s *store) UpdateStatus(
	ctx context.Context,
	executionID string,
	status loadtest.Status,
	startedAt, endedAt *time.Time,
) error {
	updates := map[string]any{"status": status}

	if startedAt != nil {
		updates["started_at"] = *startedAt
	}

	if endedAt != nil {
		updates["ended_at"] = *endedAt
	}

	if startedAt != nil && endedAt != nil {
		updates["duration_sec"] = endedAt.Sub(*startedAt).Seconds()
	}

	err := s.db.WithContext(ctx).
		Model(&ExecutionRecord{}).
		Where("execution_id = ?", executionID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("updating status for %s: %w", executionID, err)
	}

	return nil
}

func (s *store) UpdateMetrics(
	ctx context.Context, executionID string, m *ExecutionMetrics,
) error {
	updates := map[string]any{
		"total_requests":    m.TotalRequests,
		"success_count":     m.SuccessCount,
		"failure_count":     m.FailureCount,
		"mean_throughput":   m.MeanThroughput,
		"mean_response_ms":  m.MeanResponseMs,
		"min_response_ms":   m.MinResponseMs,
		"max_response_ms":   m.MaxResponseMs,
		"p50_response_ms":   m.P50ResponseMs,
		"p75_response_ms":   m.P75ResponseMs,
		"p95_response_ms":   m.P95ResponseMs,
		"p99_response_ms":   m.P99ResponseMs,
		"error_rate":        m.ErrorRate,
		"validation_status": m.ValidationStatus,
		"sla_compliant":     m.SLACompliant,
		"report_path":       m.ReportPath,
	}

	err := s.db.WithContext(ctx).
		Model(&ExecutionRecord{}).
		Where("execution_id = ?", executionID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("updating metrics for %s: %w", executionID, err)
	}

	return nil
}

func (s *store) SetNotes(
	ctx context.Context, executionID, notes string,
) error {
	err := s.db.WithContext(ctx).
		Model(&ExecutionRecord{}).
		Where("execution_id = ?", executionID).
		Update("notes", notes).Error
	if err != nil {
		return fmt.Errorf("setting notes for %s: %w", executionID, err)
	}

	return nil
}

func (s *store) SetGrade(
	ctx context.Context, executionID, grade string,
) error {
	err := s.db.WithContext(ctx).
		Model(&ExecutionRecord{}).
		Where("execution_id = ?", executionID).
		Update("grade", grade).Error
	if err != nil {
		return fmt.Errorf("setting grade for %s: %w", executionID, err)
	}

	return nil
}

func (s *store) MarkBaseline(
	ctx context.Context, executionID string,
) error {
	err := s.db.WithContext(ctx).
		Model(&ExecutionRecord{}).
		Where("execution_id = ?", executionID).
		Update("is_baseline", true).Error
	if err != nil {
		return fmt.Errorf("marking baseline for %s: %w", executionID, err)
	}

	return nil
}

// FindLatestBaseline returns the most recent baseline-flagged record
// for the given configuration key.
func (s *store) FindLatestBaseline(
	ctx context.Context, configKey string,
) (*ExecutionRecord, error) {
	var rec ExecutionRecord

	err := s.db.WithContext(ctx).
		Where("config_key = ? AND is_baseline = ?", configKey, true).
		Order("created_at DESC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("finding baseline for %s: %w", configKey, err)
	}

	return &rec, nil
}

func (s *store) CountByStatus(
	ctx context.Context,
) (map[loadtest.Status]int64, error) {
	type row struct {
		Status loadtest.Status
		N      int64
	}

	var rows []row

	err := s.db.WithContext(ctx).
		Model(&ExecutionRecord{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting executions by status: %w", err)
	}

	counts := make(map[loadtest.Status]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}

	return counts, nil
}

// --- EndpointResult ---

func (s *store) DeleteEndpointResults(
	ctx context.Context, executionID string,
) error {
	err := s.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Delete(&EndpointResult{}).Error
	if err != nil {
		return fmt.Errorf("deleting endpoint results for %s: %w", executionID, err)
	}

	return nil
}

func (s *store) BulkInsertEndpointResults(
	ctx context.Context, rows []EndpointResult,
) error {
	if len(rows) == 0 {
		return nil
	}

	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("inserting endpoint results: %w", err)
	}

	return nil
}

func (s *store) ListEndpointResults(
	ctx context.Context, executionID string,
) ([]EndpointResult, error) {
	var rows []EndpointResult

	err := s.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing endpoint results for %s: %w", executionID, err)
	}

	return rows, nil
}
