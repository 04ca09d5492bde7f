// Package runner launches load-test executions and drives each one to
// a terminal status in the ephemeral state store.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/loadworks/loadoor/pkg/engine"
	"github.com/loadworks/loadoor/pkg/loadtest"
	"github.com/loadworks/loadoor/pkg/parser"
	"github.com/loadworks/loadoor/pkg/statestore"
)

// Runner executes submitted configurations. Submit returns once the
// execution is accepted; the run itself proceeds asynchronously and is
// observable through the state store.
type Runner interface {
	Start(ctx context.Context) error
	Stop() error

	// Submit accepts a validated execution configuration and launches
	// it. A returned error means the execution could not start at all;
	// its state is already failed in that case.
	Submit(ctx context.Context, cfg *engine.ExecutionConfig) error
}

// Config for the process runner.
type Config struct {
	RunsDir  string
	Template engine.CommandTemplate
}

// NewProcessRunner creates a Runner that executes the configured engine
// binary as a child process, one per execution.
func NewProcessRunner(
	log logrus.FieldLogger,
	cfg *Config,
	states statestore.Store,
) Runner {
	return &processRunner{
		log:    log.WithField("component", "runner"),
		cfg:    cfg,
		states: states,
		done:   make(chan struct{}),
	}
}

type processRunner struct {
	log    logrus.FieldLogger
	cfg    *Config
	states statestore.Store
	done   chan struct{}
	wg     sync.WaitGroup
}

// Ensure interface compliance.
var _ Runner = (*processRunner)(nil)

// Start ensures the runs directory exists.
func (r *processRunner) Start(_ context.Context) error {
	if err := os.MkdirAll(r.cfg.RunsDir, 0o755); err != nil {
		return fmt.Errorf("creating runs directory: %w", err)
	}

	r.log.WithField("runs_dir", r.cfg.RunsDir).Debug("Runner started")

	return nil
}

// Stop signals in-flight executions to terminate and waits for them.
func (r *processRunner) Stop() error {
	close(r.done)
	r.wg.Wait()

	r.log.Debug("Runner stopped")

	return nil
}

// Submit prepares the run directory and launches the engine process.
// Preparation failures are reported synchronously so the caller never
// sees an execution that silently went nowhere.
func (r *processRunner) Submit(
	_ context.Context, cfg *engine.ExecutionConfig,
) error {
	runDir := filepath.Join(r.cfg.RunsDir, cfg.ExecutionID)
	resultsDir := filepath.Join(runDir, parser.ResultsDirName)

	r.states.MarkQueued(cfg.ExecutionID)

	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		r.states.SetStatus(cfg.ExecutionID, loadtest.StatusFailed)

		return fmt.Errorf("creating run directory: %w", err)
	}

	if err := engine.WriteSnapshot(runDir, cfg); err != nil {
		r.states.SetStatus(cfg.ExecutionID, loadtest.StatusFailed)

		return fmt.Errorf("writing config snapshot: %w", err)
	}

	argv, err := r.cfg.Template.BuildCommand(cfg, runDir, resultsDir)
	if err != nil {
		r.states.SetStatus(cfg.ExecutionID, loadtest.StatusFailed)

		return fmt.Errorf("building engine command: %w", err)
	}

	// Fail fast on a missing binary instead of discovering it in the
	// background goroutine.
	if _, err := exec.LookPath(argv[0]); err != nil {
		r.states.SetStatus(cfg.ExecutionID, loadtest.StatusFailed)

		return fmt.Errorf("engine binary not found: %w", err)
	}

	r.wg.Add(1)

	go r.execute(cfg.ExecutionID, runDir, argv)

	return nil
}

// execute runs the engine process to completion and finalizes the run
// directory. It owns the execution's terminal status.
func (r *processRunner) execute(executionID, runDir string, argv []string) {
	defer r.wg.Done()

	log := r.log.WithField("execution_id", executionID)

	defer func() {
		if p := recover(); p != nil {
			log.WithField("panic", p).Error("Execution panicked")
			r.states.SetStatus(executionID, loadtest.StatusFailed)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-r.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	r.states.SetStatus(executionID, loadtest.StatusRunning)

	logFile, err := os.Create(filepath.Join(runDir, parser.ProcessLogFileName))
	if err != nil {
		log.WithError(err).Error("Failed to create process log")
		r.states.SetStatus(executionID, loadtest.StatusFailed)

		return
	}
	defer logFile.Close()

	log.WithField("command", argv).Info("Starting engine process")

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = runDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	runErr := cmd.Run()

	r.finalize(log, executionID, runDir, runErr)
}

// finalize parses whatever artifacts the engine produced, writes the
// stable summary, and sets the terminal status.
func (r *processRunner) finalize(
	log logrus.FieldLogger, executionID, runDir string, runErr error,
) {
	summary := parser.ParseRunDir(runDir)

	failed := runErr != nil

	if detected, excerpt := parser.DetectFailure(runDir); detected {
		failed = true

		if excerpt != "" {
			log.WithField("excerpt", excerpt).Warn("Failure markers in process log")
		}
	}

	if !failed && !summary.Parsed {
		// A clean exit with no parseable results is still a failure;
		// the engine produced nothing we can grade.
		failed = true
	}

	if failed {
		if runErr != nil {
			log.WithError(runErr).Warn("Engine process failed")
		}

		// No summary.json for failed runs. Its presence is the
		// cross-process success signal.
		r.states.SetStatus(executionID, loadtest.StatusFailed)

		return
	}

	if err := parser.WriteSummary(runDir, summary); err != nil {
		log.WithError(err).Error("Failed to write summary")
		r.states.SetStatus(executionID, loadtest.StatusFailed)

		return
	}

	log.WithFields(logrus.Fields{
		"total_requests": summary.Global.Total,
		"error_rate":     summary.Global.ErrorRate(),
	}).Info("Execution completed")

	r.states.SetStatus(executionID, loadtest.StatusSucceeded)
}
