package syncer_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadworks/loadoor/pkg/config"
	"github.com/loadworks/loadoor/pkg/loadtest"
	"github.com/loadworks/loadoor/pkg/parser"
	"github.com/loadworks/loadoor/pkg/statestore"
	"github.com/loadworks/loadoor/pkg/store"
	"github.com/loadworks/loadoor/pkg/syncer"
)

type fixture struct {
	syncer  syncer.Syncer
	states  statestore.Store
	durable store.Store
	runsDir string
}

func setup(t *testing.T, staleness time.Duration) *fixture {
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

	states := statestore.NewStore()
	runsDir := t.TempDir()

	s := syncer.NewSyncer(log, &syncer.Config{
		RunsDir:            runsDir,
		Interval:           time.Hour, // loop never fires in tests
		StalenessThreshold: staleness,
	}, states, durable)

	return &fixture{syncer: s, states: states, durable: durable, runsDir: runsDir}
}

func createRecord(
	t *testing.T, durable store.Store, executionID string, status loadtest.Status,
) {
	t.Helper()

	require.NoError(t, durable.CreateExecution(context.Background(), &store.ExecutionRecord{
		ExecutionID: executionID,
		Status:      status,
		ConfigKey:   "shop/staging//smoke",
	}))
}

func TestSyncOnce_EphemeralProgress(t *testing.T) {
	f := setup(t, time.Hour)
	ctx := context.Background()

	createRecord(t, f.durable, "exec-1", loadtest.StatusQueued)

	f.states.MarkQueued("exec-1")
	f.states.SetStatus("exec-1", loadtest.StatusRunning)

	require.NoError(t, f.syncer.SyncOnce(ctx))

	rec, err := f.durable.FindByExecutionID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, loadtest.StatusRunning, rec.Status)
	require.NotNil(t, rec.StartedAt)
}

func TestSyncOnce_EphemeralBehindIsIgnored(t *testing.T) {
	f := setup(t, time.Hour)
	ctx := context.Background()

	createRecord(t, f.durable, "exec-1", loadtest.StatusRunning)

	f.states.MarkQueued("exec-1")

	require.NoError(t, f.syncer.SyncOnce(ctx))

	rec, err := f.durable.FindByExecutionID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, loadtest.StatusRunning, rec.Status)
}

func TestSyncOnce_ArtifactCompletion(t *testing.T) {
	f := setup(t, time.Nanosecond)
	ctx := context.Background()

	createRecord(t, f.durable, "exec-1", loadtest.StatusRunning)

	runDir := filepath.Join(f.runsDir, "exec-1")
	require.NoError(t, parser.WriteSummary(runDir, &parser.Summary{
		Parsed: true,
		Global: parser.Stats{Total: 100, OK: 98, KO: 2, MeanMs: 120},
	}))

	time.Sleep(time.Millisecond)

	require.NoError(t, f.syncer.SyncOnce(ctx))

	rec, err := f.durable.FindByExecutionID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, loadtest.StatusSucceeded, rec.Status)
	require.NotNil(t, rec.EndedAt)

	// Finalization carries the summary metrics with it, so a record
	// nobody ever polls still has data.
	assert.Equal(t, int64(100), rec.TotalRequests)
	assert.Equal(t, int64(2), rec.FailureCount)
	assert.InDelta(t, 0.02, rec.ErrorRate, 0.0001)
	assert.InDelta(t, 120.0, rec.MeanResponseMs, 0.001)
}

func TestSyncOnce_FailureMarkers(t *testing.T) {
	f := setup(t, time.Nanosecond)
	ctx := context.Background()

	createRecord(t, f.durable, "exec-1", loadtest.StatusRunning)

	runDir := filepath.Join(f.runsDir, "exec-1")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(runDir, parser.ProcessLogFileName),
		[]byte("compiling simulation\nBUILD FAILURE: missing feeder file\n"),
		0o644,
	))

	time.Sleep(time.Millisecond)

	require.NoError(t, f.syncer.SyncOnce(ctx))

	rec, err := f.durable.FindByExecutionID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, loadtest.StatusFailed, rec.Status)
	assert.Contains(t, rec.Notes, "failure markers")
	assert.Contains(t, rec.Notes, "BUILD FAILURE")
}

func TestSyncOnce_FreshRunNotJudgedByArtifacts(t *testing.T) {
	f := setup(t, time.Hour)
	ctx := context.Background()

	createRecord(t, f.durable, "exec-1", loadtest.StatusRunning)

	// A run still executing in another process: its log already
	// carries error lines, but the record is seconds old.
	runDir := filepath.Join(f.runsDir, "exec-1")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(runDir, parser.ProcessLogFileName),
		[]byte("[ERROR] request /checkout returned 500\n"),
		0o644,
	))

	require.NoError(t, f.syncer.SyncOnce(ctx))

	rec, err := f.durable.FindByExecutionID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, loadtest.StatusRunning, rec.Status)
	assert.Empty(t, rec.Notes)
}

func TestSyncOnce_StaleExecutionForceFailed(t *testing.T) {
	f := setup(t, time.Nanosecond)
	ctx := context.Background()

	createRecord(t, f.durable, "exec-1", loadtest.StatusRunning)

	time.Sleep(time.Millisecond)

	require.NoError(t, f.syncer.SyncOnce(ctx))

	rec, err := f.durable.FindByExecutionID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, loadtest.StatusFailed, rec.Status)
	assert.Contains(t, rec.Notes, "force-failed by synchronizer")
}

func TestSyncOnce_FreshExecutionLeftAlone(t *testing.T) {
	f := setup(t, time.Hour)
	ctx := context.Background()

	createRecord(t, f.durable, "exec-1", loadtest.StatusQueued)

	require.NoError(t, f.syncer.SyncOnce(ctx))

	rec, err := f.durable.FindByExecutionID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, loadtest.StatusQueued, rec.Status)
	assert.Empty(t, rec.Notes)
}

func TestSyncOnce_TerminalRecordsNotTouched(t *testing.T) {
	f := setup(t, time.Nanosecond)
	ctx := context.Background()

	createRecord(t, f.durable, "exec-1", loadtest.StatusSucceeded)

	require.NoError(t, f.syncer.SyncOnce(ctx))

	rec, err := f.durable.FindByExecutionID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, loadtest.StatusSucceeded, rec.Status)
}
