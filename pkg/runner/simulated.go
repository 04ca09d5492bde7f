package runner

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loadworks/loadoor/pkg/engine"
	"github.com/loadworks/loadoor/pkg/loadtest"
	"github.com/loadworks/loadoor/pkg/parser"
	"github.com/loadworks/loadoor/pkg/statestore"
)

// NewSimulatedRunner creates a Runner that never spawns a process.
// Each submission walks the full queued/running/succeeded progression
// and leaves a plausible summary on disk, so everything downstream of
// the runner behaves exactly as in a real deployment.
func NewSimulatedRunner(
	log logrus.FieldLogger,
	runsDir string,
	states statestore.Store,
	stepDelay time.Duration,
) Runner {
	return &simulatedRunner{
		log:       log.WithField("component", "simulated_runner"),
		runsDir:   runsDir,
		states:    states,
		stepDelay: stepDelay,
		done:      make(chan struct{}),
	}
}

type simulatedRunner struct {
	log       logrus.FieldLogger
	runsDir   string
	states    statestore.Store
	stepDelay time.Duration
	done      chan struct{}
	wg        sync.WaitGroup
}

var _ Runner = (*simulatedRunner)(nil)

func (r *simulatedRunner) Start(_ context.Context) error {
	if err := os.MkdirAll(r.runsDir, 0o755); err != nil {
		return fmt.Errorf("creating runs directory: %w", err)
	}

	return nil
}

func (r *simulatedRunner) Stop() error {
	close(r.done)
	r.wg.Wait()

	return nil
}

func (r *simulatedRunner) Submit(
	_ context.Context, cfg *engine.ExecutionConfig,
) error {
	runDir := filepath.Join(r.runsDir, cfg.ExecutionID)

	r.states.MarkQueued(cfg.ExecutionID)

	if err := os.MkdirAll(filepath.Join(runDir, parser.ResultsDirName), 0o755); err != nil {
		r.states.SetStatus(cfg.ExecutionID, loadtest.StatusFailed)

		return fmt.Errorf("creating run directory: %w", err)
	}

	if err := engine.WriteSnapshot(runDir, cfg); err != nil {
		r.states.SetStatus(cfg.ExecutionID, loadtest.StatusFailed)

		return fmt.Errorf("writing config snapshot: %w", err)
	}

	r.wg.Add(1)

	go r.simulate(cfg, runDir)

	return nil
}

func (r *simulatedRunner) simulate(cfg *engine.ExecutionConfig, runDir string) {
	defer r.wg.Done()

	if !r.pause() {
		return
	}

	r.states.SetStatus(cfg.ExecutionID, loadtest.StatusRunning)

	if !r.pause() {
		return
	}

	summary := synthesizeSummary(cfg)
	if err := parser.WriteSummary(runDir, summary); err != nil {
		r.log.WithError(err).Error("Failed to write simulated summary")
		r.states.SetStatus(cfg.ExecutionID, loadtest.StatusFailed)

		return
	}

	r.states.SetStatus(cfg.ExecutionID, loadtest.StatusSucceeded)
}

// pause waits one step delay, returning false if the runner stopped.
func (r *simulatedRunner) pause() bool {
	if r.stepDelay == 0 {
		select {
		case <-r.done:
			return false
		default:
			return true
		}
	}

	select {
	case <-r.done:
		return false
	case <-time.After(r.stepDelay):
		return true
	}
}

// synthesizeSummary derives deterministic metrics from the requested
// load so repeated simulations of the same request are identical.
func synthesizeSummary(cfg *engine.ExecutionConfig) *parser.Summary {
	users := cfg.Users
	if users <= 0 {
		users = 1
	}

	duration := cfg.DurationSec
	if duration <= 0 {
		duration = 1
	}

	total := int64(users * duration)
	ko := total / 100
	ok := total - ko

	meanMs := 50 + 2*float64(users)

	global := parser.Stats{
		Total:   total,
		OK:      ok,
		KO:      ko,
		MeanRPS: math.Round(float64(total)/float64(duration)*100) / 100,
		MinMs:   meanMs * 0.2,
		MeanMs:  meanMs,
		MaxMs:   meanMs * 4,
		P50Ms:   meanMs * 0.9,
		P75Ms:   meanMs * 1.2,
		P95Ms:   meanMs * 2,
		P99Ms:   meanMs * 3,
	}

	summary := &parser.Summary{
		Parsed: true,
		Source: "simulated",
		Global: global,
	}

	for _, sc := range cfg.Scenarios {
		summary.Endpoints = append(summary.Endpoints, parser.EndpointStats{
			Name:  sc.Name,
			Stats: global,
		})
	}

	return summary
}
