package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/loadworks/loadoor/pkg/api"
	"github.com/loadworks/loadoor/pkg/archiver"
	"github.com/loadworks/loadoor/pkg/config"
	"github.com/loadworks/loadoor/pkg/directory"
	"github.com/loadworks/loadoor/pkg/engine"
	"github.com/loadworks/loadoor/pkg/guardrail"
	"github.com/loadworks/loadoor/pkg/metrics"
	"github.com/loadworks/loadoor/pkg/orchestrator"
	"github.com/loadworks/loadoor/pkg/runner"
	"github.com/loadworks/loadoor/pkg/service"
	"github.com/loadworks/loadoor/pkg/statestore"
	"github.com/loadworks/loadoor/pkg/store"
	"github.com/loadworks/loadoor/pkg/syncer"
	"github.com/loadworks/loadoor/pkg/upload"
)

// simulatedStepDelay paces the simulated runner's status progression so
// that a local deployment is observable through the status endpoints.
const simulatedStepDelay = 500 * time.Millisecond

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator service",
	Long: `Start the full orchestrator: HTTP API, execution runner,
background synchronizer, archiver, and metrics exporter.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// component is the common lifecycle shared by everything serve starts.
type component interface {
	Start(ctx context.Context) error
	Stop() error
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	// The config file's log level applies unless the flag overrode it.
	if !cmd.Flags().Changed("log-level") && cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}

		log.SetLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	components, srv, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}

	// Start everything in dependency order, then the HTTP surface last.
	started := make([]component, 0, len(components)+1)

	stopAll := func() {
		for i := len(started) - 1; i >= 0; i-- {
			if err := started[i].Stop(); err != nil {
				log.WithError(err).Warn("Failed to stop component")
			}
		}
	}

	for _, c := range append(components, srv) {
		if err := c.Start(ctx); err != nil {
			stopAll()

			return fmt.Errorf("starting component: %w", err)
		}

		started = append(started, c)
	}

	log.WithField("listen", cfg.Server.Listen).Info("Loadoor is up")

	<-ctx.Done()

	stopAll()

	return nil
}

// buildComponents wires the full pipeline from config. The returned
// slice is in start order; the API server is returned separately so it
// comes up only after everything it depends on.
func buildComponents(ctx context.Context, cfg *config.Config) ([]component, component, error) {
	durable := store.NewStore(log, &cfg.Database)
	states := statestore.NewStore()

	var run runner.Runner
	if cfg.Engine.Simulate {
		run = runner.NewSimulatedRunner(log, cfg.RunsDir, states, simulatedStepDelay)
	} else {
		run = runner.NewProcessRunner(log, &runner.Config{
			RunsDir: cfg.RunsDir,
			Template: engine.CommandTemplate{
				Binary:       cfg.Engine.Binary,
				ArgsTemplate: cfg.Engine.ArgsTemplate,
			},
		}, states)
	}

	validator := guardrail.NewValidator(guardrail.Config{
		MaxUsers:       cfg.Guardrail.MaxUsers,
		MaxDurationSec: cfg.Guardrail.MaxDurationSec,
		ProductionEnvs: cfg.Guardrail.ProductionEnvs,
	})

	var resolver directory.Resolver = directory.NewClient(log, cfg.Directory.BaseURL)

	components := []component{durable, run}

	var arch orchestrator.Archiver

	if cfg.Archiver.Enabled {
		var uploader upload.Uploader

		if cfg.Archiver.Upload != nil && cfg.Archiver.Upload.Enabled {
			up, err := upload.NewS3Uploader(log, cfg.Archiver.Upload)
			if err != nil {
				return nil, nil, fmt.Errorf("creating s3 uploader: %w", err)
			}

			if err := up.Preflight(ctx); err != nil {
				return nil, nil, fmt.Errorf("s3 preflight: %w", err)
			}

			uploader = up
		}

		a := archiver.NewArchiver(log, &archiver.Config{
			RunsDir:    cfg.RunsDir,
			ArchiveDir: cfg.Archiver.ArchiveDir,
			KeepLatest: cfg.Archiver.KeepLatest,
			Retention:  cfg.Archiver.Retention,
			Interval:   cfg.Archiver.Interval,
		}, durable, uploader)

		arch = a
		components = append(components, a)
	}

	orch := orchestrator.NewOrchestrator(
		log,
		&orchestrator.Config{RunsDir: cfg.RunsDir},
		validator, resolver, states, durable, run, arch,
	)
	components = append(components, orch)

	components = append(components, syncer.NewSyncer(log, &syncer.Config{
		RunsDir:            cfg.RunsDir,
		Interval:           cfg.Syncer.Interval,
		StalenessThreshold: cfg.Syncer.StalenessThreshold,
	}, states, durable))

	if cfg.Metrics.Enabled {
		components = append(components, metrics.NewExporter(log, &metrics.Config{
			Listen:   cfg.Metrics.Listen,
			Interval: cfg.Metrics.Interval,
		}, durable))
	}

	svc := service.NewService(log, orch, durable, resolver)
	srv := api.NewServer(log, &cfg.Server, svc)

	return components, srv, nil
}
