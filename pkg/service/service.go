// Package service is the facade the API surfaces sit on: submission
// and status via the orchestrator, record detail, baseline management
// and comparisons.
package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/loadworks/loadoor/pkg/baseline"
	"github.com/loadworks/loadoor/pkg/directory"
	"github.com/loadworks/loadoor/pkg/loadtest"
	"github.com/loadworks/loadoor/pkg/orchestrator"
	"github.com/loadworks/loadoor/pkg/store"
)

// ExecutionDetail is a record together with its endpoint breakdown.
type ExecutionDetail struct {
	Record    *store.ExecutionRecord `json:"record"`
	Endpoints []store.EndpointResult `json:"endpoints"`
}

// Service is the application facade consumed by the HTTP API.
type Service interface {
	Submit(ctx context.Context, req *loadtest.SubmissionRequest) (*orchestrator.Submission, error)
	SubmitBatch(ctx context.Context, reqs []*loadtest.SubmissionRequest, limit int) []orchestrator.BatchResult
	Status(ctx context.Context, executionID string) (*orchestrator.StatusResult, error)
	GetExecution(ctx context.Context, executionID string) (*ExecutionDetail, error)
	ListByStatus(ctx context.Context, status loadtest.Status) ([]store.ExecutionRecord, error)

	MarkBaseline(ctx context.Context, executionID string) error
	CompareToBaseline(ctx context.Context, executionID string) (*baseline.Comparison, error)

	ListEndpoints(ctx context.Context, appCode, envCode, countryCode string) ([]directory.Endpoint, error)
}

// NewService wires the facade.
func NewService(
	log logrus.FieldLogger,
	orch orchestrator.Orchestrator,
	durable store.Store,
	resolver directory.Resolver,
) Service {
	return &service{
		log:      log.WithField("component", "service"),
		orch:     orch,
		durable:  durable,
		resolver: resolver,
	}
}

type service struct {
	log      logrus.FieldLogger
	orch     orchestrator.Orchestrator
	durable  store.Store
	resolver directory.Resolver
}

// Ensure interface compliance.
var _ Service = (*service)(nil)

func (s *service) Submit(
	ctx context.Context, req *loadtest.SubmissionRequest,
) (*orchestrator.Submission, error) {
	return s.orch.Submit(ctx, req)
}

func (s *service) SubmitBatch(
	ctx context.Context, reqs []*loadtest.SubmissionRequest, limit int,
) []orchestrator.BatchResult {
	return s.orch.SubmitBatch(ctx, reqs, limit)
}

func (s *service) Status(
	ctx context.Context, executionID string,
) (*orchestrator.StatusResult, error) {
	return s.orch.Status(ctx, executionID)
}

// GetExecution reconciles the execution first so the detail view never
// lags behind what Status would say.
func (s *service) GetExecution(
	ctx context.Context, executionID string,
) (*ExecutionDetail, error) {
	result, err := s.orch.Status(ctx, executionID)
	if err != nil {
		return nil, err
	}

	endpoints, err := s.durable.ListEndpointResults(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return &ExecutionDetail{
		Record:    result.Record,
		Endpoints: endpoints,
	}, nil
}

func (s *service) ListByStatus(
	ctx context.Context, status loadtest.Status,
) ([]store.ExecutionRecord, error) {
	return s.durable.FindByStatus(ctx, status)
}

// MarkBaseline flags a succeeded, ingested execution as the baseline
// for its configuration family.
func (s *service) MarkBaseline(ctx context.Context, executionID string) error {
	rec, err := s.durable.FindByExecutionID(ctx, executionID)
	if err != nil {
		return err
	}

	if rec.Status != loadtest.StatusSucceeded {
		return fmt.Errorf(
			"execution %s is %s; only succeeded executions can be baselines",
			executionID, rec.Status,
		)
	}

	if rec.TotalRequests == 0 {
		return fmt.Errorf(
			"execution %s has no ingested metrics to anchor a baseline",
			executionID,
		)
	}

	if err := s.durable.MarkBaseline(ctx, executionID); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"execution_id": executionID,
		"config_key":   rec.ConfigKey,
	}).Info("Execution marked as baseline")

	return nil
}

// CompareToBaseline grades an execution against the latest baseline of
// its configuration family and persists the grade.
func (s *service) CompareToBaseline(
	ctx context.Context, executionID string,
) (*baseline.Comparison, error) {
	candidate, err := s.durable.FindByExecutionID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	base, err := s.durable.FindLatestBaseline(ctx, candidate.ConfigKey)
	if err != nil {
		return nil, fmt.Errorf(
			"no baseline recorded for %s: %w", candidate.ConfigKey, err,
		)
	}

	if base.ExecutionID == candidate.ExecutionID {
		return nil, fmt.Errorf(
			"execution %s is itself the current baseline", executionID,
		)
	}

	comparison, err := baseline.Compare(base, candidate)
	if err != nil {
		return nil, err
	}

	if err := s.durable.SetGrade(ctx, executionID, string(comparison.Grade)); err != nil {
		s.log.WithError(err).
			WithField("execution_id", executionID).
			Warn("Failed to persist comparison grade")
	}

	return comparison, nil
}

// ListEndpoints exposes the directory catalogue for a scope.
func (s *service) ListEndpoints(
	ctx context.Context, appCode, envCode, countryCode string,
) ([]directory.Endpoint, error) {
	scope, err := s.resolver.Resolve(ctx, appCode, envCode, countryCode)
	if err != nil {
		return nil, err
	}

	return s.resolver.ListEndpoints(ctx, scope)
}
