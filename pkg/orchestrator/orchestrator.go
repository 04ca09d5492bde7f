// Package orchestrator ties the submission pipeline together: policy
// validation, directory resolution, config build, durable record
// creation and engine launch, plus the reconciled status view.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/loadworks/loadoor/pkg/directory"
	"github.com/loadworks/loadoor/pkg/engine"
	"github.com/loadworks/loadoor/pkg/guardrail"
	"github.com/loadworks/loadoor/pkg/loadtest"
	"github.com/loadworks/loadoor/pkg/parser"
	"github.com/loadworks/loadoor/pkg/runner"
	"github.com/loadworks/loadoor/pkg/statestore"
	"github.com/loadworks/loadoor/pkg/store"
)

// DefaultBatchConcurrency bounds batch submission when the caller does
// not supply a limit.
const DefaultBatchConcurrency = 4

// Submission is the acknowledgement returned for an accepted request.
type Submission struct {
	ExecutionID string          `json:"execution_id"`
	ConfigKey   string          `json:"config_key"`
	Status      loadtest.Status `json:"status"`
}

// BatchResult is one entry of a batch submission outcome, in request
// order. Exactly one of Submission and Error is set.
type BatchResult struct {
	Submission *Submission `json:"submission,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// StatusResult is the reconciled view of one execution.
type StatusResult struct {
	Record  *store.ExecutionRecord `json:"record"`
	Summary *parser.Summary        `json:"summary,omitempty"`
}

// Archiver is the archival trigger the orchestrator fires after a run
// reaches a terminal state and its metrics are ingested.
type Archiver interface {
	TriggerArchive(executionID string)
}

// Orchestrator is the submission and status surface of the system.
type Orchestrator interface {
	Start(ctx context.Context) error
	Stop() error

	Submit(ctx context.Context, req *loadtest.SubmissionRequest) (*Submission, error)

	// SubmitBatch submits every request with at most limit in flight.
	// A non-positive limit falls back to DefaultBatchConcurrency.
	SubmitBatch(ctx context.Context, reqs []*loadtest.SubmissionRequest, limit int) []BatchResult
	Status(ctx context.Context, executionID string) (*StatusResult, error)
	WaitForTerminal(ctx context.Context, executionID string) (*StatusResult, error)
}

// Config for the orchestrator.
type Config struct {
	RunsDir string

	// WaitPollInterval is how often WaitForTerminal re-checks.
	WaitPollInterval time.Duration
}

// NewOrchestrator wires the pipeline. The archiver is optional.
func NewOrchestrator(
	log logrus.FieldLogger,
	cfg *Config,
	validator *guardrail.Validator,
	resolver directory.Resolver,
	states statestore.Store,
	durable store.Store,
	run runner.Runner,
	arch Archiver,
) Orchestrator {
	if cfg.WaitPollInterval == 0 {
		cfg.WaitPollInterval = 500 * time.Millisecond
	}

	return &orchestrator{
		log:       log.WithField("component", "orchestrator"),
		cfg:       cfg,
		validator: validator,
		resolver:  resolver,
		states:    states,
		durable:   durable,
		runner:    run,
		archiver:  arch,
	}
}

type orchestrator struct {
	log       logrus.FieldLogger
	cfg       *Config
	validator *guardrail.Validator
	resolver  directory.Resolver
	states    statestore.Store
	durable   store.Store
	runner    runner.Runner
	archiver  Archiver
}

// Ensure interface compliance.
var _ Orchestrator = (*orchestrator)(nil)

func (o *orchestrator) Start(_ context.Context) error {
	o.log.Debug("Orchestrator started")

	return nil
}

func (o *orchestrator) Stop() error {
	return nil
}

// Submit validates, resolves and launches one request. The durable
// record exists before the engine is asked to run, so a crash between
// the two leaves a queued record the synchronizer can finalize.
func (o *orchestrator) Submit(
	ctx context.Context, req *loadtest.SubmissionRequest,
) (*Submission, error) {
	if err := o.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validating request: %w", err)
	}

	urls, err := o.resolveScenarios(ctx, req)
	if err != nil {
		return nil, err
	}

	executionID := uuid.New().String()

	cfg, err := engine.BuildConfig(executionID, req, urls)
	if err != nil {
		return nil, fmt.Errorf("building execution config: %w", err)
	}

	snapshot, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshaling config snapshot: %w", err)
	}

	rec := &store.ExecutionRecord{
		ExecutionID:    executionID,
		Name:           cfg.Name,
		Status:         loadtest.StatusQueued,
		Kind:           cfg.Kind,
		AppCode:        cfg.AppCode,
		EnvCode:        cfg.EnvCode,
		CountryCode:    cfg.CountryCode,
		ConfigKey:      cfg.ConfigKey(),
		ConfigSnapshot: string(snapshot),
	}

	if err := o.durable.CreateExecution(ctx, rec); err != nil {
		return nil, fmt.Errorf("recording execution: %w", err)
	}

	if err := o.runner.Submit(ctx, cfg); err != nil {
		now := time.Now().UTC()

		if uerr := o.durable.UpdateStatus(
			ctx, executionID, loadtest.StatusFailed, nil, &now,
		); uerr != nil {
			o.log.WithError(uerr).
				WithField("execution_id", executionID).
				Error("Failed to record launch failure")
		}

		return nil, fmt.Errorf("launching execution: %w", err)
	}

	o.log.WithFields(logrus.Fields{
		"execution_id": executionID,
		"config_key":   rec.ConfigKey,
		"users":        cfg.Users,
		"duration_sec": cfg.DurationSec,
	}).Info("Execution submitted")

	return &Submission{
		ExecutionID: executionID,
		ConfigKey:   rec.ConfigKey,
		Status:      loadtest.StatusQueued,
	}, nil
}

// SubmitBatch submits the requests with bounded concurrency and
// returns outcomes in request order. One bad request never blocks its
// siblings.
func (o *orchestrator) SubmitBatch(
	ctx context.Context, reqs []*loadtest.SubmissionRequest, limit int,
) []BatchResult {
	if limit <= 0 {
		limit = DefaultBatchConcurrency
	}

	results := make([]BatchResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, req := range reqs {
		g.Go(func() error {
			sub, err := o.Submit(gctx, req)
			if err != nil {
				results[i] = BatchResult{Error: err.Error()}

				return nil
			}

			results[i] = BatchResult{Submission: sub}

			return nil
		})
	}

	// Per-request errors are carried in the results, never returned.
	_ = g.Wait()

	return results
}

// resolveScenarios maps every scenario to a concrete URL. A literal
// scheme-prefixed URL bypasses the directory entirely; the scope is
// resolved at most once per request.
func (o *orchestrator) resolveScenarios(
	ctx context.Context, req *loadtest.SubmissionRequest,
) ([]string, error) {
	scenarios := req.EffectiveScenarios()
	urls := make([]string, len(scenarios))

	var scope *directory.Scope

	for i, sc := range scenarios {
		if sc.LiteralURL() {
			urls[i] = sc.EndpointURL

			continue
		}

		if scope == nil {
			resolved, err := o.resolver.Resolve(
				ctx, req.AppCode, req.EnvCode, req.CountryCode,
			)
			if err != nil {
				return nil, fmt.Errorf("resolving scope: %w", err)
			}

			scope = resolved
		}

		url, err := o.resolver.FindEndpoint(ctx, scope, sc.EndpointName)
		if err != nil {
			return nil, fmt.Errorf("resolving scenario %q: %w", sc.Name, err)
		}

		urls[i] = url
	}

	return urls, nil
}

// Status returns the reconciled view of one execution and persists any
// progress it learns about along the way.
func (o *orchestrator) Status(
	ctx context.Context, executionID string,
) (*StatusResult, error) {
	rec, err := o.durable.FindByExecutionID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	effective, startedAt, endedAt := o.reconcile(rec)

	if effective.Order() > rec.Status.Order() {
		if err := o.durable.UpdateStatus(
			ctx, executionID, effective, startedAt, endedAt,
		); err != nil {
			return nil, fmt.Errorf("persisting reconciled status: %w", err)
		}

		rec, err = o.durable.FindByExecutionID(ctx, executionID)
		if err != nil {
			return nil, err
		}
	}

	result := &StatusResult{Record: rec}

	if rec.Status == loadtest.StatusSucceeded {
		result.Summary = o.ingest(ctx, rec)
	}

	if rec.Status.Terminal() && o.archiver != nil {
		o.archiver.TriggerArchive(executionID)
	}

	return result, nil
}

// reconcile merges the durable record with the ephemeral entry and the
// on-disk artifacts. Higher lifecycle order wins; on an equal order the
// durable record stays authoritative, including its timestamps.
func (o *orchestrator) reconcile(
	rec *store.ExecutionRecord,
) (loadtest.Status, *time.Time, *time.Time) {
	if eph, ok := o.states.Get(rec.ExecutionID); ok {
		if eph.Status.Order() > rec.Status.Order() {
			return eph.Status, eph.StartedAt, eph.EndedAt
		}

		return rec.Status, nil, nil
	}

	if rec.Status.Terminal() {
		return rec.Status, nil, nil
	}

	// No ephemeral entry: the run belongs to another process or a
	// previous life of this one. Completion is detectable from the
	// artifacts alone.
	runDir := filepath.Join(o.cfg.RunsDir, rec.ExecutionID)

	if parser.HasSummary(runDir) {
		now := time.Now().UTC()

		return loadtest.StatusSucceeded, nil, &now
	}

	if detected, _ := parser.DetectFailure(runDir); detected {
		now := time.Now().UTC()

		return loadtest.StatusFailed, nil, &now
	}

	return rec.Status, nil, nil
}

// ingest copies the parsed summary metrics into the durable record the
// first time a succeeded execution is observed. Ingestion failures are
// logged, not returned: the status answer is still valid without them.
func (o *orchestrator) ingest(
	ctx context.Context, rec *store.ExecutionRecord,
) *parser.Summary {
	runDir := filepath.Join(o.cfg.RunsDir, rec.ExecutionID)

	summary, err := parser.ReadSummary(runDir)
	if err != nil {
		o.log.WithError(err).
			WithField("execution_id", rec.ExecutionID).
			Debug("No summary artifact to ingest")

		return nil
	}

	if rec.TotalRequests > 0 {
		// Already ingested; re-processing the same artifacts would
		// only rewrite identical values.
		return summary
	}

	metrics := SummaryMetrics(rec, summary)

	if err := o.durable.UpdateMetrics(ctx, rec.ExecutionID, metrics); err != nil {
		o.log.WithError(err).
			WithField("execution_id", rec.ExecutionID).
			Warn("Failed to ingest execution metrics")

		return summary
	}

	o.replaceEndpointRows(ctx, rec.ExecutionID, summary)

	// Refresh the caller's record with what was just written.
	if fresh, ferr := o.durable.FindByExecutionID(ctx, rec.ExecutionID); ferr == nil {
		*rec = *fresh
	}

	return summary
}

// replaceEndpointRows rewrites the per-endpoint breakdown so repeated
// ingestion of the same artifacts stays idempotent.
func (o *orchestrator) replaceEndpointRows(
	ctx context.Context, executionID string, summary *parser.Summary,
) {
	if err := o.durable.DeleteEndpointResults(ctx, executionID); err != nil {
		o.log.WithError(err).
			WithField("execution_id", executionID).
			Warn("Failed to clear endpoint results")

		return
	}

	rows := make([]store.EndpointResult, 0, len(summary.Endpoints))
	for _, ep := range summary.Endpoints {
		rows = append(rows, store.EndpointResult{
			ExecutionID:    executionID,
			Name:           ep.Name,
			TotalRequests:  ep.Total,
			SuccessCount:   ep.OK,
			FailureCount:   ep.KO,
			MeanThroughput: ep.MeanRPS,
			MeanResponseMs: ep.MeanMs,
			P95ResponseMs:  ep.P95Ms,
			P99ResponseMs:  ep.P99Ms,
		})
	}

	if err := o.durable.BulkInsertEndpointResults(ctx, rows); err != nil {
		o.log.WithError(err).
			WithField("execution_id", executionID).
			Warn("Failed to insert endpoint results")
	}
}

// SummaryMetrics maps a parsed summary onto the durable metrics
// columns. The validation verdict comes from the assertions frozen in
// the record's config snapshot. Shared with the synchronizer so both
// ingestion paths write identical values.
func SummaryMetrics(
	rec *store.ExecutionRecord, summary *parser.Summary,
) *store.ExecutionMetrics {
	validation, compliant := evaluateAssertions(rec, summary)

	return &store.ExecutionMetrics{
		TotalRequests:    summary.Global.Total,
		SuccessCount:     summary.Global.OK,
		FailureCount:     summary.Global.KO,
		MeanThroughput:   summary.Global.MeanRPS,
		MeanResponseMs:   summary.Global.MeanMs,
		MinResponseMs:    summary.Global.MinMs,
		MaxResponseMs:    summary.Global.MaxMs,
		P50ResponseMs:    summary.Global.P50Ms,
		P75ResponseMs:    summary.Global.P75Ms,
		P95ResponseMs:    summary.Global.P95Ms,
		P99ResponseMs:    summary.Global.P99Ms,
		ErrorRate:        summary.Global.ErrorRate(),
		ValidationStatus: validation,
		SLACompliant:     compliant,
		ReportPath:       summary.ReportPath,
	}
}

// evaluateAssertions checks the summary against the thresholds frozen
// in the config snapshot.
func evaluateAssertions(
	rec *store.ExecutionRecord, summary *parser.Summary,
) (string, bool) {
	var cfg engine.ExecutionConfig
	if err := yaml.Unmarshal([]byte(rec.ConfigSnapshot), &cfg); err != nil || cfg.Assertions == nil {
		// Nothing asserted: any completed run passes by definition.
		return "passed", true
	}

	a := cfg.Assertions

	failurePct := summary.Global.ErrorRate() * 100

	switch {
	case a.MaxFailurePercent > 0 && failurePct > a.MaxFailurePercent:
		return "failed", false
	case a.P95ResponseMs > 0 && summary.Global.P95Ms > a.P95ResponseMs:
		return "failed", false
	case a.P99ResponseMs > 0 && summary.Global.P99Ms > a.P99ResponseMs:
		return "failed", false
	case a.MeanResponseMs > 0 && summary.Global.MeanMs > a.MeanResponseMs:
		return "failed", false
	default:
		return "passed", true
	}
}

// WaitForTerminal blocks until the execution reaches a terminal status
// or the context expires.
func (o *orchestrator) WaitForTerminal(
	ctx context.Context, executionID string,
) (*StatusResult, error) {
	ticker := time.NewTicker(o.cfg.WaitPollInterval)
	defer ticker.Stop()

	for {
		result, err := o.Status(ctx, executionID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}

		if err == nil && result.Record.Status.Terminal() {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
