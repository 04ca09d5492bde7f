// Package syncer is the background reconciler between the ephemeral
// state store, the on-disk artifacts and the durable database. It is
// the component that finalizes runs nobody asked about.
package syncer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loadworks/loadoor/pkg/loadtest"
	"github.com/loadworks/loadoor/pkg/orchestrator"
	"github.com/loadworks/loadoor/pkg/parser"
	"github.com/loadworks/loadoor/pkg/statestore"
	"github.com/loadworks/loadoor/pkg/store"
)

// Syncer periodically reconciles all non-terminal execution records.
type Syncer interface {
	Start(ctx context.Context) error
	Stop() error

	// SyncOnce runs a single reconciliation pass. Exposed for tests
	// and for the CLI's one-shot mode.
	SyncOnce(ctx context.Context) error
}

// Config for the syncer.
type Config struct {
	RunsDir  string
	Interval time.Duration

	// StalenessThreshold is how old a non-terminal record with no
	// ephemeral entry must be before artifact detection applies and,
	// absent artifacts, the record is force-failed.
	StalenessThreshold time.Duration
}

// NewSyncer creates a Syncer over the given stores.
func NewSyncer(
	log logrus.FieldLogger,
	cfg *Config,
	states statestore.Store,
	durable store.Store,
) Syncer {
	return &syncer{
		log:     log.WithField("component", "syncer"),
		cfg:     cfg,
		states:  states,
		durable: durable,
		done:    make(chan struct{}),
	}
}

type syncer struct {
	log     logrus.FieldLogger
	cfg     *Config
	states  statestore.Store
	durable store.Store
	done    chan struct{}
	wg      sync.WaitGroup
}

// Ensure interface compliance.
var _ Syncer = (*syncer)(nil)

// Start launches the reconciliation loop.
func (s *syncer) Start(ctx context.Context) error {
	s.wg.Add(1)

	go s.loop(ctx)

	s.log.WithField("interval", s.cfg.Interval).Info("Syncer started")

	return nil
}

// Stop terminates the loop and waits for the in-flight pass.
func (s *syncer) Stop() error {
	close(s.done)
	s.wg.Wait()

	s.log.Debug("Syncer stopped")

	return nil
}

func (s *syncer) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SyncOnce(ctx); err != nil {
				s.log.WithError(err).Error("Sync pass failed")
			}
		}
	}
}

// SyncOnce reconciles every non-terminal record once.
func (s *syncer) SyncOnce(ctx context.Context) error {
	recs, err := s.durable.ListNonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("listing non-terminal executions: %w", err)
	}

	for i := range recs {
		if err := s.reconcile(ctx, &recs[i]); err != nil {
			s.log.WithError(err).
				WithField("execution_id", recs[i].ExecutionID).
				Warn("Failed to reconcile execution")
		}
	}

	return nil
}

// reconcile advances one record. The ephemeral store wins when it is
// ahead. Artifact detection only applies once the record has sat past
// the staleness threshold: a younger run may still be driven by
// another process whose log lines would otherwise be misread as a
// verdict. A stale record with no artifacts is force-failed.
func (s *syncer) reconcile(ctx context.Context, rec *store.ExecutionRecord) error {
	log := s.log.WithField("execution_id", rec.ExecutionID)

	if eph, ok := s.states.Get(rec.ExecutionID); ok {
		if eph.Status.Order() <= rec.Status.Order() {
			return nil
		}

		log.WithFields(logrus.Fields{
			"from": rec.Status,
			"to":   eph.Status,
		}).Debug("Syncing ephemeral progress")

		return s.durable.UpdateStatus(
			ctx, rec.ExecutionID, eph.Status, eph.StartedAt, eph.EndedAt,
		)
	}

	age := time.Since(rec.UpdatedAt)
	if age < s.cfg.StalenessThreshold {
		return nil
	}

	runDir := filepath.Join(s.cfg.RunsDir, rec.ExecutionID)

	if parser.HasSummary(runDir) {
		now := time.Now().UTC()

		log.Info("Finalizing execution from completion artifact")

		if err := s.durable.UpdateStatus(
			ctx, rec.ExecutionID, loadtest.StatusSucceeded, nil, &now,
		); err != nil {
			return err
		}

		s.ingestSummary(ctx, rec, runDir)

		return nil
	}

	if detected, excerpt := parser.DetectFailure(runDir); detected {
		now := time.Now().UTC()

		log.Info("Finalizing execution from failure markers")

		if err := s.durable.UpdateStatus(
			ctx, rec.ExecutionID, loadtest.StatusFailed, nil, &now,
		); err != nil {
			return err
		}

		if excerpt != "" {
			return s.durable.SetNotes(
				ctx, rec.ExecutionID,
				fmt.Sprintf("failure markers in process log:\n%s", excerpt),
			)
		}

		return nil
	}

	return s.finalizeStale(ctx, rec, age)
}

// ingestSummary writes the summary metrics for a run the synchronizer
// just finalized, so its record carries data even if nobody ever polls
// it. Best effort: a write failure is logged, not returned.
func (s *syncer) ingestSummary(
	ctx context.Context, rec *store.ExecutionRecord, runDir string,
) {
	if rec.TotalRequests > 0 {
		return
	}

	summary, err := parser.ReadSummary(runDir)
	if err != nil {
		s.log.WithError(err).
			WithField("execution_id", rec.ExecutionID).
			Warn("Failed to read summary for metrics ingestion")

		return
	}

	metrics := orchestrator.SummaryMetrics(rec, summary)

	if err := s.durable.UpdateMetrics(ctx, rec.ExecutionID, metrics); err != nil {
		s.log.WithError(err).
			WithField("execution_id", rec.ExecutionID).
			Warn("Failed to ingest execution metrics")
	}
}

// finalizeStale fails a record that has sat non-terminal past the
// staleness threshold with nothing left that could complete it.
func (s *syncer) finalizeStale(
	ctx context.Context, rec *store.ExecutionRecord, age time.Duration,
) error {
	now := time.Now().UTC()

	s.log.WithFields(logrus.Fields{
		"execution_id": rec.ExecutionID,
		"age":          age.Round(time.Second),
		"last_status":  rec.Status,
	}).Warn("Force-failing stale execution")

	if err := s.durable.UpdateStatus(
		ctx, rec.ExecutionID, loadtest.StatusFailed, nil, &now,
	); err != nil {
		return err
	}

	return s.durable.SetNotes(
		ctx, rec.ExecutionID,
		fmt.Sprintf(
			"force-failed by synchronizer: no progress for %s (last status %s, threshold %s)",
			age.Round(time.Second), rec.Status, s.cfg.StalenessThreshold,
		),
	)
}
