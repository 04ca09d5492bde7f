// Package metrics exposes execution counts as Prometheus metrics. The
// exporter polls the durable store; nothing on the hot path of a
// submission touches a metric directly.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/loadworks/loadoor/pkg/loadtest"
	"github.com/loadworks/loadoor/pkg/store"
)

// Exporter serves the /metrics endpoint and keeps it current.
type Exporter interface {
	Start(ctx context.Context) error
	Stop() error

	// CollectOnce runs a single poll of the durable store. Exposed for
	// tests.
	CollectOnce(ctx context.Context) error
}

// Config for the exporter.
type Config struct {
	Listen   string
	Interval time.Duration
}

// NewExporter creates an Exporter over the durable store.
func NewExporter(
	log logrus.FieldLogger,
	cfg *Config,
	durable store.Store,
) Exporter {
	registry := prometheus.NewRegistry()

	executions := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loadoor_executions",
		Help: "Number of executions currently recorded, by status.",
	}, []string{"status"})

	completed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loadoor_executions_completed_total",
		Help: "Total executions that reached a terminal status since start.",
	}, []string{"status"})

	registry.MustRegister(executions, completed)

	return &exporter{
		log:        log.WithField("component", "metrics"),
		cfg:        cfg,
		durable:    durable,
		registry:   registry,
		executions: executions,
		completed:  completed,
		lastSeen:   make(map[loadtest.Status]int64, 2),
		done:       make(chan struct{}),
	}
}

type exporter struct {
	log     logrus.FieldLogger
	cfg     *Config
	durable store.Store

	registry   *prometheus.Registry
	executions *prometheus.GaugeVec
	completed  *prometheus.CounterVec

	// lastSeen holds the previous terminal counts so the counter only
	// advances by the positive delta between polls.
	lastSeen map[loadtest.Status]int64

	server *http.Server
	done   chan struct{}
	wg     sync.WaitGroup
}

// Ensure interface compliance.
var _ Exporter = (*exporter)(nil)

// Start launches the poll loop and the HTTP listener.
func (e *exporter) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		e.registry, promhttp.HandlerOpts{},
	))

	e.server = &http.Server{
		Addr:              e.cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	e.wg.Add(2)

	go func() {
		defer e.wg.Done()

		if err := e.server.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			e.log.WithError(err).Error("Metrics server failed")
		}
	}()

	go e.loop(ctx)

	e.log.WithField("listen", e.cfg.Listen).Info("Metrics exporter started")

	return nil
}

// Stop shuts down the listener and the poll loop.
func (e *exporter) Stop() error {
	close(e.done)

	if e.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := e.server.Shutdown(ctx); err != nil {
			e.log.WithError(err).Warn("Metrics server shutdown failed")
		}
	}

	e.wg.Wait()

	e.log.Debug("Metrics exporter stopped")

	return nil
}

func (e *exporter) loop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.CollectOnce(ctx); err != nil {
				e.log.WithError(err).Warn("Metrics collection failed")
			}
		}
	}
}

// CollectOnce refreshes the gauges and advances the completion
// counters by the delta since the previous poll.
func (e *exporter) CollectOnce(ctx context.Context) error {
	counts, err := e.durable.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("counting executions: %w", err)
	}

	for _, status := range []loadtest.Status{
		loadtest.StatusQueued,
		loadtest.StatusRunning,
		loadtest.StatusSucceeded,
		loadtest.StatusFailed,
	} {
		e.executions.WithLabelValues(string(status)).Set(float64(counts[status]))

		if !status.Terminal() {
			continue
		}

		if delta := counts[status] - e.lastSeen[status]; delta > 0 {
			e.completed.WithLabelValues(string(status)).Add(float64(delta))
		}

		e.lastSeen[status] = counts[status]
	}

	return nil
}

// Registry exposes the exporter's registry so tests can read back the
// collected values.
func (e *exporter) Registry() *prometheus.Registry {
	return e.registry
}
