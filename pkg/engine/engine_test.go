package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadworks/loadoor/pkg/engine"
	"github.com/loadworks/loadoor/pkg/loadtest"
)

func TestBuildConfig_SingleScenario(t *testing.T) {
	req := &loadtest.SubmissionRequest{
		AppCode:       "shop",
		CountryCode:   "de",
		EnvCode:       "staging",
		Kind:          loadtest.KindSmoke,
		Users:         10,
		DurationSec:   60,
		EndpointName:  "ping",
		ThroughputRPS: 5,
	}

	cfg, err := engine.BuildConfig("exec-1", req, []string{"http://x/ping"})
	require.NoError(t, err)

	assert.Equal(t, "exec-1", cfg.ExecutionID)
	assert.Equal(t, "shop-staging-smoke", cfg.Name)
	require.Len(t, cfg.Scenarios, 1)
	assert.Equal(t, "http://x/ping", cfg.Scenarios[0].URL)

	// Flat legacy fields mirror the single scenario.
	assert.Equal(t, "http://x/ping", cfg.BaseURL)
	assert.Equal(t, float64(5), cfg.ThroughputRPS)
}

func TestBuildConfig_MultiScenario(t *testing.T) {
	req := &loadtest.SubmissionRequest{
		AppCode:     "shop",
		EnvCode:     "staging",
		Kind:        loadtest.KindLoad,
		Users:       100,
		DurationSec: 300,
		Scenarios: []loadtest.Scenario{
			{Name: "browse", EndpointName: "catalogue"},
			{Name: "buy", EndpointURL: "http://x/checkout"},
		},
	}

	cfg, err := engine.BuildConfig(
		"exec-2", req, []string{"http://x/catalogue", "http://x/checkout"},
	)
	require.NoError(t, err)

	require.Len(t, cfg.Scenarios, 2)
	assert.Equal(t, "browse", cfg.Scenarios[0].Name)
	// Flat fields stay empty for multi-scenario runs.
	assert.Empty(t, cfg.BaseURL)
}

func TestBuildConfig_URLCountMismatch(t *testing.T) {
	req := &loadtest.SubmissionRequest{
		AppCode:      "shop",
		EnvCode:      "staging",
		Kind:         loadtest.KindSmoke,
		Users:        1,
		DurationSec:  1,
		EndpointName: "ping",
	}

	_, err := engine.BuildConfig("exec-3", req, nil)
	require.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := &engine.ExecutionConfig{
		ExecutionID: "exec-4",
		Name:        "shop-staging-load",
		Kind:        loadtest.KindLoad,
		AppCode:     "shop",
		EnvCode:     "staging",
		Users:       50,
		DurationSec: 120,
		Scenarios: []engine.ScenarioConfig{
			{Name: "default", URL: "http://x/ping"},
		},
	}

	require.NoError(t, engine.WriteSnapshot(dir, cfg))

	got, err := engine.ReadSnapshot(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestConfigKey(t *testing.T) {
	cfg := &engine.ExecutionConfig{
		AppCode:     "shop",
		EnvCode:     "staging",
		CountryCode: "de",
		Kind:        loadtest.KindLoad,
	}

	assert.Equal(t, "shop/staging/de/load", cfg.ConfigKey())
}

func TestBuildCommand(t *testing.T) {
	tmpl := &engine.CommandTemplate{Binary: "/opt/engine/launch"}

	cfg := &engine.ExecutionConfig{
		ExecutionID:   "exec-5",
		BaseURL:       "http://x/ping",
		Users:         10,
		DurationSec:   60,
		ThroughputRPS: 2.5,
		Assertions: &loadtest.AssertionThresholds{
			MaxFailurePercent: 1,
			P95ResponseMs:     800,
		},
	}

	argv, err := tmpl.BuildCommand(cfg, "/runs/exec-5", "/runs/exec-5/results")
	require.NoError(t, err)

	assert.Equal(t, "/opt/engine/launch", argv[0])
	joined := ""
	for _, a := range argv[1:] {
		joined += a + " "
	}

	assert.Contains(t, joined, "--base-url http://x/ping")
	assert.Contains(t, joined, "--users 10")
	assert.Contains(t, joined, "--duration 60")
	assert.Contains(t, joined, "--throughput 2.5")
	assert.Contains(t, joined, "--max-failure-pct 1")
	assert.Contains(t, joined, "--assert-p95-ms 800")
}

func TestBuildCommand_ContainerizedTemplate(t *testing.T) {
	// Containerized execution is just a different binary plus template.
	tmpl := &engine.CommandTemplate{
		Binary: "docker",
		ArgsTemplate: "run --rm -v {{.RunDir}}:/work loadengine:latest " +
			"--config /work/config.yaml --users {{.Users}}",
	}

	cfg := &engine.ExecutionConfig{ExecutionID: "exec-6", Users: 3}

	argv, err := tmpl.BuildCommand(cfg, "/runs/exec-6", "/runs/exec-6/results")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"docker", "run", "--rm", "-v", "/runs/exec-6:/work",
		"loadengine:latest", "--config", "/work/config.yaml", "--users", "3",
	}, argv)
}

func TestBuildCommand_MissingBinary(t *testing.T) {
	tmpl := &engine.CommandTemplate{}

	_, err := tmpl.BuildCommand(&engine.ExecutionConfig{}, "/r", "/r/results")
	require.Error(t, err)
}
