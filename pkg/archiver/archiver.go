// Package archiver moves finished run directories out of the active
// runs directory and enforces retention on the archive. It never
// touches a directory it cannot verify against the durable store.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/loadworks/loadoor/pkg/store"
	"github.com/loadworks/loadoor/pkg/upload"
)

// triggerBuffer bounds the queue of archive requests; a full queue
// just defers the run to the next periodic sweep.
const triggerBuffer = 64

// Archiver manages run directory retention.
type Archiver interface {
	Start(ctx context.Context) error
	Stop() error

	// TriggerArchive requests archival of one execution's run
	// directory. Best-effort and non-blocking.
	TriggerArchive(executionID string)

	// SweepOnce runs a single archival and purge pass.
	SweepOnce(ctx context.Context) error
}

// Config for the archiver.
type Config struct {
	RunsDir    string
	ArchiveDir string

	// KeepLatest run directories are exempt from archival.
	KeepLatest int

	// Retention is how long archived directories are kept.
	Retention time.Duration

	Interval time.Duration
}

// NewArchiver creates an Archiver. The uploader is optional; when set,
// every directory is uploaded before it is moved into the archive.
func NewArchiver(
	log logrus.FieldLogger,
	cfg *Config,
	durable store.Store,
	uploader upload.Uploader,
) Archiver {
	return &archiver{
		log:      log.WithField("component", "archiver"),
		cfg:      cfg,
		durable:  durable,
		uploader: uploader,
		triggers: make(chan string, triggerBuffer),
		done:     make(chan struct{}),
	}
}

type archiver struct {
	log      logrus.FieldLogger
	cfg      *Config
	durable  store.Store
	uploader upload.Uploader
	triggers chan string
	done     chan struct{}
	wg       sync.WaitGroup
}

// Ensure interface compliance.
var _ Archiver = (*archiver)(nil)

// Start creates the archive directory and launches the sweep loop.
func (a *archiver) Start(ctx context.Context) error {
	if err := os.MkdirAll(a.cfg.ArchiveDir, 0o755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}

	a.wg.Add(1)

	go a.loop(ctx)

	a.log.WithFields(logrus.Fields{
		"archive_dir": a.cfg.ArchiveDir,
		"keep_latest": a.cfg.KeepLatest,
		"retention":   a.cfg.Retention,
	}).Info("Archiver started")

	return nil
}

// Stop terminates the sweep loop.
func (a *archiver) Stop() error {
	close(a.done)
	a.wg.Wait()

	a.log.Debug("Archiver stopped")

	return nil
}

// TriggerArchive requests an early sweep without blocking. The sweep
// applies the same eligibility rules as the periodic one, so the
// KeepLatest exemption holds for freshly finished runs too.
func (a *archiver) TriggerArchive(executionID string) {
	select {
	case a.triggers <- executionID:
	default:
		// Queue full; the periodic sweep will pick it up.
	}
}

func (a *archiver) loop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-ctx.Done():
			return
		case executionID := <-a.triggers:
			if err := a.SweepOnce(ctx); err != nil {
				a.log.WithError(err).
					WithField("execution_id", executionID).
					Error("Triggered archive sweep failed")
			}
		case <-ticker.C:
			if err := a.SweepOnce(ctx); err != nil {
				a.log.WithError(err).Error("Archive sweep failed")
			}
		}
	}
}

// SweepOnce archives every eligible run directory and purges expired
// archive entries. Per-directory failures are logged and skipped so one
// bad directory never blocks the rest.
func (a *archiver) SweepOnce(ctx context.Context) error {
	candidates, err := a.listCandidates()
	if err != nil {
		return err
	}

	for _, executionID := range candidates {
		if err := a.archiveRun(ctx, executionID); err != nil {
			a.log.WithError(err).
				WithField("execution_id", executionID).
				Warn("Failed to archive run")
		}
	}

	a.purgeExpired()

	return nil
}

// listCandidates returns execution ids of run directories eligible for
// archival: everything except the KeepLatest most recently modified.
func (a *archiver) listCandidates() ([]string, error) {
	entries, err := os.ReadDir(a.cfg.RunsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading runs directory: %w", err)
	}

	type runDir struct {
		name    string
		modTime time.Time
	}

	dirs := make([]runDir, 0, len(entries))

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		// The archive may live inside the runs directory.
		if filepath.Join(a.cfg.RunsDir, e.Name()) == filepath.Clean(a.cfg.ArchiveDir) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}

		dirs = append(dirs, runDir{name: e.Name(), modTime: info.ModTime()})
	}

	sort.Slice(dirs, func(i, j int) bool {
		return dirs[i].modTime.After(dirs[j].modTime)
	})

	if len(dirs) <= a.cfg.KeepLatest {
		return nil, nil
	}

	candidates := make([]string, 0, len(dirs)-a.cfg.KeepLatest)
	for _, d := range dirs[a.cfg.KeepLatest:] {
		candidates = append(candidates, d.name)
	}

	return candidates, nil
}

// archiveRun moves one run directory into the archive after verifying
// its record is terminal. Directories with no verifiable record are
// left untouched.
func (a *archiver) archiveRun(ctx context.Context, executionID string) error {
	src := filepath.Join(a.cfg.RunsDir, executionID)
	dst := filepath.Join(a.cfg.ArchiveDir, executionID)

	if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		// Already archived or never existed; either way nothing to do.
		return nil
	}

	rec, err := a.durable.FindByExecutionID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("verifying record: %w", err)
	}

	if !rec.Status.Terminal() {
		return nil
	}

	size := dirSize(src)

	if a.uploader != nil {
		if err := a.uploader.Upload(ctx, executionID, src); err != nil {
			return fmt.Errorf("uploading run directory: %w", err)
		}
	}

	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("moving run directory: %w", err)
	}

	a.log.WithFields(logrus.Fields{
		"execution_id": executionID,
		"size":         units.HumanSize(float64(size)),
	}).Info("Run directory archived")

	return nil
}

// purgeExpired removes archived directories older than the retention
// window.
func (a *archiver) purgeExpired() {
	entries, err := os.ReadDir(a.cfg.ArchiveDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			a.log.WithError(err).Warn("Failed to read archive directory")
		}

		return
	}

	cutoff := time.Now().Add(-a.cfg.Retention)

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(a.cfg.ArchiveDir, e.Name())

		if err := os.RemoveAll(path); err != nil {
			a.log.WithError(err).
				WithField("path", path).
				Warn("Failed to purge archived run")

			continue
		}

		a.log.WithFields(logrus.Fields{
			"execution_id": e.Name(),
			"age":          time.Since(info.ModTime()).Round(time.Hour),
		}).Info("Archived run purged")
	}
}

// dirSize sums the file sizes under a directory, best effort.
func dirSize(root string) int64 {
	var total int64

	_ = filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += info.Size()
		}

		return nil
	})

	return total
}
