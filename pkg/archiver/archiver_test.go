package archiver_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadworks/loadoor/pkg/archiver"
	"github.com/loadworks/loadoor/pkg/config"
	"github.com/loadworks/loadoor/pkg/loadtest"
	"github.com/loadworks/loadoor/pkg/store"
)

type fixture struct {
	archiver   archiver.Archiver
	durable    store.Store
	runsDir    string
	archiveDir string
}

func setup(t *testing.T, keepLatest int, retention time.Duration) *fixture {
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
	archiveDir := filepath.Join(runsDir, "archive")
	require.NoError(t, os.MkdirAll(archiveDir, 0o755))

	a := archiver.NewArchiver(log, &archiver.Config{
		RunsDir:    runsDir,
		ArchiveDir: archiveDir,
		KeepLatest: keepLatest,
		Retention:  retention,
		Interval:   time.Hour,
	}, durable, nil)

	return &fixture{
		archiver:   a,
		durable:    durable,
		runsDir:    runsDir,
		archiveDir: archiveDir,
	}
}

// makeRun creates a run directory with one artifact and, optionally, a
// durable record in the given status.
func (f *fixture) makeRun(
	t *testing.T, executionID string, status loadtest.Status, recorded bool,
) {
	t.Helper()

	dir := filepath.Join(f.runsDir, executionID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "process.log"), []byte("done\n"), 0o644,
	))

	if recorded {
		require.NoError(t, f.durable.CreateExecution(context.Background(), &store.ExecutionRecord{
			ExecutionID: executionID,
			Status:      status,
			ConfigKey:   "shop/staging//smoke",
		}))
	}
}

func (f *fixture) inRuns(id string) bool {
	_, err := os.Stat(filepath.Join(f.runsDir, id))

	return err == nil
}

func (f *fixture) inArchive(id string) bool {
	_, err := os.Stat(filepath.Join(f.archiveDir, id))

	return err == nil
}

func TestSweep_ArchivesTerminalRuns(t *testing.T) {
	f := setup(t, 0, time.Hour)

	f.makeRun(t, "exec-1", loadtest.StatusSucceeded, true)
	f.makeRun(t, "exec-2", loadtest.StatusFailed, true)

	require.NoError(t, f.archiver.SweepOnce(context.Background()))

	assert.False(t, f.inRuns("exec-1"))
	assert.True(t, f.inArchive("exec-1"))
	assert.False(t, f.inRuns("exec-2"))
	assert.True(t, f.inArchive("exec-2"))
}

func TestSweep_SkipsNonTerminalRuns(t *testing.T) {
	f := setup(t, 0, time.Hour)

	f.makeRun(t, "exec-1", loadtest.StatusRunning, true)

	require.NoError(t, f.archiver.SweepOnce(context.Background()))

	assert.True(t, f.inRuns("exec-1"))
	assert.False(t, f.inArchive("exec-1"))
}

func TestSweep_SkipsUnrecordedRuns(t *testing.T) {
	f := setup(t, 0, time.Hour)

	// A directory the store knows nothing about must never be moved.
	f.makeRun(t, "mystery", loadtest.StatusSucceeded, false)

	require.NoError(t, f.archiver.SweepOnce(context.Background()))

	assert.True(t, f.inRuns("mystery"))
	assert.False(t, f.inArchive("mystery"))
}

func TestSweep_KeepsLatest(t *testing.T) {
	f := setup(t, 1, time.Hour)

	f.makeRun(t, "exec-old", loadtest.StatusSucceeded, true)
	f.makeRun(t, "exec-new", loadtest.StatusSucceeded, true)

	// Make the age ordering unambiguous.
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(f.runsDir, "exec-old"), old, old))

	require.NoError(t, f.archiver.SweepOnce(context.Background()))

	assert.True(t, f.inRuns("exec-new"))
	assert.False(t, f.inRuns("exec-old"))
	assert.True(t, f.inArchive("exec-old"))
}

func TestSweep_PurgesExpiredArchives(t *testing.T) {
	f := setup(t, 0, time.Hour)

	expired := filepath.Join(f.archiveDir, "exec-ancient")
	require.NoError(t, os.MkdirAll(expired, 0o755))

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(expired, old, old))

	fresh := filepath.Join(f.archiveDir, "exec-recent")
	require.NoError(t, os.MkdirAll(fresh, 0o755))

	require.NoError(t, f.archiver.SweepOnce(context.Background()))

	assert.False(t, f.inArchive("exec-ancient"))
	assert.True(t, f.inArchive("exec-recent"))
}

func TestSweep_Idempotent(t *testing.T) {
	f := setup(t, 0, time.Hour)

	f.makeRun(t, "exec-1", loadtest.StatusSucceeded, true)

	require.NoError(t, f.archiver.SweepOnce(context.Background()))
	require.NoError(t, f.archiver.SweepOnce(context.Background()))

	assert.True(t, f.inArchive("exec-1"))
}

func TestTriggerArchive_ProcessedByLoop(t *testing.T) {
	f := setup(t, 0, time.Hour)

	f.makeRun(t, "exec-1", loadtest.StatusSucceeded, true)

	require.NoError(t, f.archiver.Start(context.Background()))
	t.Cleanup(func() {
		_ = f.archiver.Stop()
	})

	f.archiver.TriggerArchive("exec-1")

	assert.Eventually(t, func() bool {
		return f.inArchive("exec-1")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestTriggerArchive_RespectsKeepLatest(t *testing.T) {
	f := setup(t, 1, time.Hour)

	// The run that just finished is by definition the most recently
	// modified directory, so a trigger must not move it.
	f.makeRun(t, "exec-1", loadtest.StatusSucceeded, true)

	require.NoError(t, f.archiver.Start(context.Background()))
	t.Cleanup(func() {
		_ = f.archiver.Stop()
	})

	f.archiver.TriggerArchive("exec-1")

	time.Sleep(300 * time.Millisecond)

	assert.True(t, f.inRuns("exec-1"))
	assert.False(t, f.inArchive("exec-1"))
}
