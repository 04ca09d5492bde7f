// Package guardrail applies submission policy checks before any
// execution resource is created.
package guardrail

import (
	"fmt"

	"github.com/loadworks/loadoor/pkg/loadtest"
)

const (
	// DefaultMaxUsers is the default ceiling on the user-load count.
	DefaultMaxUsers = 1000

	// DefaultMaxDurationSec is the default ceiling on run duration.
	DefaultMaxDurationSec = 3600
)

// defaultProductionEnvs are environment codes treated as production-like
// when no explicit set is configured.
var defaultProductionEnvs = []string{"production", "prod", "live"}

// ValidationError describes a rejected submission. It names the
// offending field so the caller gets a single actionable sentence.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// Config holds the guardrail ceilings and environment policy.
type Config struct {
	MaxUsers       int
	MaxDurationSec int
	ProductionEnvs []string
}

// Validator checks submission requests against policy. It is stateless
// and safe for concurrent use.
type Validator struct {
	cfg Config
}

// NewValidator creates a validator, filling unset ceilings with defaults.
func NewValidator(cfg Config) *Validator {
	if cfg.MaxUsers <= 0 {
		cfg.MaxUsers = DefaultMaxUsers
	}

	if cfg.MaxDurationSec <= 0 {
		cfg.MaxDurationSec = DefaultMaxDurationSec
	}

	if len(cfg.ProductionEnvs) == 0 {
		cfg.ProductionEnvs = defaultProductionEnvs
	}

	return &Validator{cfg: cfg}
}

// Validate runs structural validation followed by the policy rule set.
// A nil return means the request may proceed to resolution.
func (v *Validator) Validate(req *loadtest.SubmissionRequest) error {
	if err := req.Validate(); err != nil {
		return &ValidationError{Field: "request", Reason: err.Error()}
	}

	if v.productionLike(req.EnvCode) && !req.Kind.LowImpact() {
		return &ValidationError{
			Field: "kind",
			Reason: fmt.Sprintf(
				"test kind %q is not allowed against environment %q; allowed kinds are smoke and baseline",
				req.Kind, req.EnvCode,
			),
		}
	}

	if req.Users > v.cfg.MaxUsers {
		return &ValidationError{
			Field: "users",
			Reason: fmt.Sprintf(
				"user count %d exceeds the ceiling of %d",
				req.Users, v.cfg.MaxUsers,
			),
		}
	}

	if req.DurationSec > v.cfg.MaxDurationSec {
		return &ValidationError{
			Field: "duration_sec",
			Reason: fmt.Sprintf(
				"duration %ds exceeds the ceiling of %ds",
				req.DurationSec, v.cfg.MaxDurationSec,
			),
		}
	}

	return nil
}

func (v *Validator) productionLike(env string) bool {
	for _, e := range v.cfg.ProductionEnvs {
		if e == env {
			return true
		}
	}

	return false
}
