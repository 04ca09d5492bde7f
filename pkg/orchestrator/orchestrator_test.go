package orchestrator_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadworks/loadoor/pkg/config"
	"github.com/loadworks/loadoor/pkg/directory"
	"github.com/loadworks/loadoor/pkg/guardrail"
	"github.com/loadworks/loadoor/pkg/loadtest"
	"github.com/loadworks/loadoor/pkg/orchestrator"
	"github.com/loadworks/loadoor/pkg/parser"
	"github.com/loadworks/loadoor/pkg/runner"
	"github.com/loadworks/loadoor/pkg/statestore"
	"github.com/loadworks/loadoor/pkg/store"
)

type recordingArchiver struct {
	mu  sync.Mutex
	ids []string
}

func (a *recordingArchiver) TriggerArchive(executionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.ids = append(a.ids, executionID)
}

func (a *recordingArchiver) triggered() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]string(nil), a.ids...)
}

type fixture struct {
	orch     orchestrator.Orchestrator
	states   statestore.Store
	durable  store.Store
	archiver *recordingArchiver
	runsDir  string
}

func setup(t *testing.T) *fixture {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	durable := store.NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, durable.Start(context.Background()))
	t.Cleanup(func() {
		_ = durable.Stop()
	})

	runsDir := t.TempDir()
	states := statestore.NewStore()

	run := runner.NewSimulatedRunner(log, runsDir, states, 0)
	require.NoError(t, run.Start(context.Background()))
	t.Cleanup(func() {
		_ = run.Stop()
	})

	resolver := &directory.StaticResolver{
		Scopes: map[string]*directory.Scope{
			"shop/staging": {AppID: "app-1", EnvID: "env-1"},
		},
		Endpoints: map[string][]directory.Endpoint{
			"app-1/env-1": {
				{Name: "checkout", URL: "https://staging.shop.example.com/checkout"},
			},
		},
	}

	arch := &recordingArchiver{}

	orch := orchestrator.NewOrchestrator(
		log,
		&orchestrator.Config{
			RunsDir:          runsDir,
			WaitPollInterval: 10 * time.Millisecond,
		},
		guardrail.NewValidator(guardrail.Config{}),
		resolver,
		states,
		durable,
		run,
		arch,
	)
	require.NoError(t, orch.Start(context.Background()))
	t.Cleanup(func() {
		_ = orch.Stop()
	})

	return &fixture{
		orch:     orch,
		states:   states,
		durable:  durable,
		archiver: arch,
		runsDir:  runsDir,
	}
}

func validRequest() *loadtest.SubmissionRequest {
	return &loadtest.SubmissionRequest{
		AppCode:      "shop",
		EnvCode:      "staging",
		Kind:         loadtest.KindSmoke,
		Users:        5,
		DurationSec:  10,
		EndpointName: "checkout",
	}
}

func TestSubmit_FullLifecycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sub, err := f.orch.Submit(ctx, validRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ExecutionID)
	assert.Equal(t, "shop/staging//smoke", sub.ConfigKey)
	assert.Equal(t, loadtest.StatusQueued, sub.Status)

	// The durable record exists immediately.
	rec, err := f.durable.FindByExecutionID(ctx, sub.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, "shop-staging-smoke", rec.Name)
	assert.Contains(t, rec.ConfigSnapshot, "https://staging.shop.example.com/checkout")

	result, err := f.orch.WaitForTerminal(ctx, sub.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, loadtest.StatusSucceeded, result.Record.Status)
	require.NotNil(t, result.Summary)

	// Metrics were ingested into the durable record.
	assert.Equal(t, int64(50), result.Record.TotalRequests)
	assert.Equal(t, "passed", result.Record.ValidationStatus)
	require.NotNil(t, result.Record.SLACompliant)
	assert.True(t, *result.Record.SLACompliant)

	rows, err := f.durable.ListEndpointResults(ctx, sub.ExecutionID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "default", rows[0].Name)

	assert.Contains(t, f.archiver.triggered(), sub.ExecutionID)
}

func TestSubmit_GuardrailRejection(t *testing.T) {
	f := setup(t)

	req := validRequest()
	req.Kind = loadtest.KindStress
	req.EnvCode = "production"
	req.EndpointURL = "https://shop.example.com"
	req.EndpointName = ""

	_, err := f.orch.Submit(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validating request")
}

func TestSubmit_UnknownEndpoint(t *testing.T) {
	f := setup(t)

	req := validRequest()
	req.EndpointName = "no-such-endpoint"

	_, err := f.orch.Submit(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-endpoint")
}

func TestSubmit_LiteralURLBypassesDirectory(t *testing.T) {
	f := setup(t)

	req := validRequest()
	req.AppCode = "unknown-app"
	req.EndpointName = ""
	req.EndpointURL = "https://direct.example.com/api"

	sub, err := f.orch.Submit(context.Background(), req)
	require.NoError(t, err)

	rec, err := f.durable.FindByExecutionID(context.Background(), sub.ExecutionID)
	require.NoError(t, err)
	assert.Contains(t, rec.ConfigSnapshot, "https://direct.example.com/api")
}

func TestSubmitBatch_OrderPreservedAndIsolated(t *testing.T) {
	f := setup(t)

	bad := validRequest()
	bad.EndpointName = "missing"

	results := f.orch.SubmitBatch(context.Background(), []*loadtest.SubmissionRequest{
		validRequest(),
		bad,
		validRequest(),
	}, 0)

	require.Len(t, results, 3)
	assert.NotNil(t, results[0].Submission)
	assert.Empty(t, results[0].Error)
	assert.Nil(t, results[1].Submission)
	assert.Contains(t, results[1].Error, "missing")
	assert.NotNil(t, results[2].Submission)
}

func TestSubmitBatch_BoundedConcurrency(t *testing.T) {
	f := setup(t)

	// A limit of one serializes the batch; every request must still be
	// processed and answered in order.
	reqs := make([]*loadtest.SubmissionRequest, 5)
	for i := range reqs {
		reqs[i] = validRequest()
	}

	results := f.orch.SubmitBatch(context.Background(), reqs, 1)

	require.Len(t, results, 5)

	seen := make(map[string]struct{}, len(results))

	for i, res := range results {
		require.NotNil(t, res.Submission, "result %d", i)
		assert.Empty(t, res.Error)

		seen[res.Submission.ExecutionID] = struct{}{}
	}

	assert.Len(t, seen, 5)
}

func TestStatus_UnknownExecution(t *testing.T) {
	f := setup(t)

	_, err := f.orch.Status(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStatus_CrossProcessArtifactDetection(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// A record from another process: durable says running, nothing in
	// the ephemeral store.
	rec := &store.ExecutionRecord{
		ExecutionID: "foreign-1",
		Status:      loadtest.StatusRunning,
		ConfigKey:   "shop/staging//smoke",
	}
	require.NoError(t, f.durable.CreateExecution(ctx, rec))

	runDir := filepath.Join(f.runsDir, "foreign-1")
	require.NoError(t, parser.WriteSummary(runDir, &parser.Summary{
		Parsed: true,
		Source: "stats-json",
		Global: parser.Stats{Total: 100, OK: 98, KO: 2},
	}))

	result, err := f.orch.Status(ctx, "foreign-1")
	require.NoError(t, err)
	assert.Equal(t, loadtest.StatusSucceeded, result.Record.Status)
	assert.Equal(t, int64(100), result.Record.TotalRequests)
	assert.InDelta(t, 0.02, result.Record.ErrorRate, 0.0001)
}

func TestStatus_TerminalDurableWinsOverStaleEphemeral(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.durable.CreateExecution(ctx, &store.ExecutionRecord{
		ExecutionID: "exec-1",
		Status:      loadtest.StatusFailed,
		ConfigKey:   "shop/staging//smoke",
	}))

	// Ephemeral lags behind at running.
	f.states.MarkQueued("exec-1")
	f.states.SetStatus("exec-1", loadtest.StatusRunning)

	result, err := f.orch.Status(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, loadtest.StatusFailed, result.Record.Status)
}
