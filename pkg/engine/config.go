// Package engine builds the normalized execution configuration handed
// to the external load-testing engine and renders its command line.
package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/loadworks/loadoor/pkg/loadtest"
)

// SnapshotFileName is the configuration snapshot written into every
// run directory. The on-disk layout is a cross-process contract; this
// name must stay stable.
const SnapshotFileName = "config.yaml"

// ScenarioConfig is one fully resolved scenario within a run.
type ScenarioConfig struct {
	Name           string                   `yaml:"name"`
	URL            string                   `yaml:"url"`
	ThroughputRPS  float64                  `yaml:"throughput_rps,omitempty"`
	FeederPath     string                   `yaml:"feeder_path,omitempty"`
	InjectionSteps []loadtest.InjectionStep `yaml:"injection_steps,omitempty"`
}

// ExecutionConfig is the typed, normalized description of a run. It is
// an explicit struct rather than an open map so shape drift between the
// builder and the runner is caught at compile time.
type ExecutionConfig struct {
	ExecutionID string            `yaml:"execution_id"`
	Name        string            `yaml:"name"`
	Kind        loadtest.TestKind `yaml:"kind"`
	AppCode     string            `yaml:"app_code"`
	EnvCode     string            `yaml:"env_code"`
	CountryCode string            `yaml:"country_code,omitempty"`
	Users       int               `yaml:"users"`
	DurationSec int               `yaml:"duration_sec"`

	// Flat fields mirroring the first scenario, kept so older tooling
	// reading the snapshot keeps working for single-scenario runs.
	BaseURL       string  `yaml:"base_url,omitempty"`
	ThroughputRPS float64 `yaml:"throughput_rps,omitempty"`
	FeederPath    string  `yaml:"feeder_path,omitempty"`

	Scenarios  []ScenarioConfig              `yaml:"scenarios"`
	Assertions *loadtest.AssertionThresholds `yaml:"assertions,omitempty"`
	Shape      *loadtest.InjectionShape      `yaml:"shape,omitempty"`
}

// ConfigKey identifies the comparable configuration family of a run.
// Baseline lookup matches on this key.
func (c *ExecutionConfig) ConfigKey() string {
	return fmt.Sprintf("%s/%s/%s/%s", c.AppCode, c.EnvCode, c.CountryCode, c.Kind)
}

// BuildConfig is a pure transform from a validated request plus the
// per-scenario resolved URLs into a normalized configuration. The
// resolvedURLs slice must line up with req.EffectiveScenarios().
func BuildConfig(
	executionID string,
	req *loadtest.SubmissionRequest,
	resolvedURLs []string,
) (*ExecutionConfig, error) {
	scenarios := req.EffectiveScenarios()
	if len(resolvedURLs) != len(scenarios) {
		return nil, fmt.Errorf(
			"resolved %d urls for %d scenarios", len(resolvedURLs), len(scenarios),
		)
	}

	cfg := &ExecutionConfig{
		ExecutionID: executionID,
		Name:        fmt.Sprintf("%s-%s-%s", req.AppCode, req.EnvCode, req.Kind),
		Kind:        req.Kind,
		AppCode:     req.AppCode,
		EnvCode:     req.EnvCode,
		CountryCode: req.CountryCode,
		Users:       req.Users,
		DurationSec: req.DurationSec,
		Assertions:  req.Assertions,
		Shape:       req.Shape,
		Scenarios:   make([]ScenarioConfig, 0, len(scenarios)),
	}

	for i, sc := range scenarios {
		url := resolvedURLs[i]
		if url == "" {
			return nil, fmt.Errorf("scenario %d (%s): empty resolved url", i, sc.Name)
		}

		cfg.Scenarios = append(cfg.Scenarios, ScenarioConfig{
			Name:           sc.Name,
			URL:            url,
			ThroughputRPS:  sc.ThroughputRPS,
			FeederPath:     sc.FeederPath,
			InjectionSteps: sc.InjectionSteps,
		})
	}

	// Single-scenario runs also populate the flat legacy fields.
	if len(cfg.Scenarios) == 1 {
		cfg.BaseURL = cfg.Scenarios[0].URL
		cfg.ThroughputRPS = cfg.Scenarios[0].ThroughputRPS
		cfg.FeederPath = cfg.Scenarios[0].FeederPath
	}

	return cfg, nil
}

// WriteSnapshot writes the configuration snapshot into a run directory.
func WriteSnapshot(runDir string, cfg *ExecutionConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config snapshot: %w", err)
	}

	path := filepath.Join(runDir, SnapshotFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config snapshot: %w", err)
	}

	return nil
}

// ReadSnapshot reads a configuration snapshot back from a run directory.
func ReadSnapshot(runDir string) (*ExecutionConfig, error) {
	data, err := os.ReadFile(filepath.Join(runDir, SnapshotFileName))
	if err != nil {
		return nil, fmt.Errorf("reading config snapshot: %w", err)
	}

	var cfg ExecutionConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config snapshot: %w", err)
	}

	return &cfg, nil
}
