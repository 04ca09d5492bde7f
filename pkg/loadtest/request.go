package loadtest

import (
	"fmt"
	"strings"
)

// TestKind classifies the intent and impact of a run.
type TestKind string

const (
	KindSmoke    TestKind = "smoke"
	KindBaseline TestKind = "baseline"
	KindLoad     TestKind = "load"
	KindStress   TestKind = "stress"
)

// Kinds lists all supported test kinds.
func Kinds() []TestKind {
	return []TestKind{KindSmoke, KindBaseline, KindLoad, KindStress}
}

// Valid reports whether the kind is one of the supported values.
func (k TestKind) Valid() bool {
	switch k {
	case KindSmoke, KindBaseline, KindLoad, KindStress:
		return true
	default:
		return false
	}
}

// LowImpact reports whether the kind is safe to run against
// production-like environments.
func (k TestKind) LowImpact() bool {
	return k == KindSmoke || k == KindBaseline
}

// InjectionStep is a single step of a stepped injection profile.
type InjectionStep struct {
	Users       int `json:"users" yaml:"users"`
	DurationSec int `json:"duration_sec" yaml:"duration_sec"`
}

// InjectionShape describes the ramp profile applied to a run.
type InjectionShape struct {
	RampUpSec     int `json:"ramp_up_sec,omitempty" yaml:"ramp_up_sec,omitempty"`
	HoldSec       int `json:"hold_sec,omitempty" yaml:"hold_sec,omitempty"`
	RampDownSec   int `json:"ramp_down_sec,omitempty" yaml:"ramp_down_sec,omitempty"`
	TargetUsers   int `json:"target_users,omitempty" yaml:"target_users,omitempty"`
	StepPauseSec  int `json:"step_pause_sec,omitempty" yaml:"step_pause_sec,omitempty"`
}

// AssertionThresholds are the pass/fail ceilings asserted by the engine.
type AssertionThresholds struct {
	MaxFailurePercent float64 `json:"max_failure_percent,omitempty" yaml:"max_failure_percent,omitempty"`
	P95ResponseMs     float64 `json:"p95_response_ms,omitempty" yaml:"p95_response_ms,omitempty"`
	P99ResponseMs     float64 `json:"p99_response_ms,omitempty" yaml:"p99_response_ms,omitempty"`
	MeanResponseMs    float64 `json:"mean_response_ms,omitempty" yaml:"mean_response_ms,omitempty"`
}

// Scenario is one named endpoint target plus its load shape within a run.
type Scenario struct {
	Name           string           `json:"name,omitempty" yaml:"name,omitempty"`
	EndpointName   string           `json:"endpoint_name,omitempty" yaml:"endpoint_name,omitempty"`
	EndpointURL    string           `json:"endpoint_url,omitempty" yaml:"endpoint_url,omitempty"`
	ThroughputRPS  float64          `json:"throughput_rps,omitempty" yaml:"throughput_rps,omitempty"`
	FeederPath     string           `json:"feeder_path,omitempty" yaml:"feeder_path,omitempty"`
	InjectionSteps []InjectionStep  `json:"injection_steps,omitempty" yaml:"injection_steps,omitempty"`
}

// HasTarget reports whether the scenario names any endpoint at all.
func (s Scenario) HasTarget() bool {
	return s.EndpointName != "" || s.EndpointURL != ""
}

// LiteralURL reports whether the scenario carries a scheme-prefixed URL
// that bypasses directory resolution.
func (s Scenario) LiteralURL() bool {
	return strings.HasPrefix(s.EndpointURL, "http://") ||
		strings.HasPrefix(s.EndpointURL, "https://")
}

// SubmissionRequest is the caller-supplied description of a run. It is
// immutable once validated; the orchestrator never mutates it.
type SubmissionRequest struct {
	AppCode     string   `json:"app_code" yaml:"app_code"`
	CountryCode string   `json:"country_code" yaml:"country_code"`
	EnvCode     string   `json:"env_code" yaml:"env_code"`
	Kind        TestKind `json:"kind" yaml:"kind"`
	Users       int      `json:"users" yaml:"users"`
	DurationSec int      `json:"duration_sec" yaml:"duration_sec"`

	// Flat single-scenario fields, kept for callers that predate the
	// scenario list. Ignored when Scenarios is non-empty.
	EndpointName   string          `json:"endpoint_name,omitempty" yaml:"endpoint_name,omitempty"`
	EndpointURL    string          `json:"endpoint_url,omitempty" yaml:"endpoint_url,omitempty"`
	ThroughputRPS  float64         `json:"throughput_rps,omitempty" yaml:"throughput_rps,omitempty"`
	FeederPath     string          `json:"feeder_path,omitempty" yaml:"feeder_path,omitempty"`
	InjectionSteps []InjectionStep `json:"injection_steps,omitempty" yaml:"injection_steps,omitempty"`

	Scenarios  []Scenario           `json:"scenarios,omitempty" yaml:"scenarios,omitempty"`
	Assertions *AssertionThresholds `json:"assertions,omitempty" yaml:"assertions,omitempty"`
	Shape      *InjectionShape      `json:"shape,omitempty" yaml:"shape,omitempty"`
}

// EffectiveScenarios folds the flat single-scenario fields into a
// scenario list so the rest of the pipeline only deals with one shape.
func (r *SubmissionRequest) EffectiveScenarios() []Scenario {
	if len(r.Scenarios) > 0 {
		return r.Scenarios
	}

	return []Scenario{{
		Name:           "default",
		EndpointName:   r.EndpointName,
		EndpointURL:    r.EndpointURL,
		ThroughputRPS:  r.ThroughputRPS,
		FeederPath:     r.FeederPath,
		InjectionSteps: r.InjectionSteps,
	}}
}

// Validate checks structural invariants of the request. Policy checks
// (environment restrictions, load ceilings) live in the guardrail
// package; this only rejects requests that cannot be processed at all.
func (r *SubmissionRequest) Validate() error {
	if r.AppCode == "" {
		return fmt.Errorf("app_code is required")
	}

	if r.EnvCode == "" {
		return fmt.Errorf("env_code is required")
	}

	if !r.Kind.Valid() {
		return fmt.Errorf("unknown test kind %q", string(r.Kind))
	}

	if r.Users <= 0 {
		return fmt.Errorf("users must be positive")
	}

	if r.DurationSec <= 0 {
		return fmt.Errorf("duration_sec must be positive")
	}

	for i, sc := range r.EffectiveScenarios() {
		if !sc.HasTarget() {
			return fmt.Errorf(
				"scenario %d: endpoint_name or endpoint_url is required", i,
			)
		}
	}

	return nil
}
