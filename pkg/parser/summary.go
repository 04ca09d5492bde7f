// Package parser reads run artifact directories and produces a
// normalized result summary. All parsing is read-only and tolerant:
// strategy failures degrade to the next strategy, never past the
// package boundary.
package parser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// ResultsDirName is the subdirectory of a run directory holding
	// the engine's native report and the derived summary.
	ResultsDirName = "results"

	// SummaryFileName is the normalized summary artifact. Its
	// presence marks a run as completed for cross-process detection.
	SummaryFileName = "summary.json"

	// ProcessLogFileName is the captured engine output.
	ProcessLogFileName = "process.log"

	// GlobalEndpointName labels the synthetic breakdown row used when
	// no per-endpoint detail is available.
	GlobalEndpointName = "GLOBAL"
)

// Stats is the normalized global result shape shared by every
// parsing strategy.
type Stats struct {
	Total   int64   `json:"total"`
	OK      int64   `json:"ok"`
	KO      int64   `json:"ko"`
	MeanRPS float64 `json:"mean_rps"`
	MinMs   float64 `json:"min_ms"`
	MeanMs  float64 `json:"mean_ms"`
	MaxMs   float64 `json:"max_ms"`
	P50Ms   float64 `json:"p50_ms"`
	P75Ms   float64 `json:"p75_ms"`
	P95Ms   float64 `json:"p95_ms"`
	P99Ms   float64 `json:"p99_ms"`
}

// ErrorRate returns the failure ratio in 0..1.
func (s *Stats) ErrorRate() float64 {
	if s.Total == 0 {
		return 0
	}

	return float64(s.KO) / float64(s.Total)
}

// EndpointStats is one row of the per-endpoint breakdown.
type EndpointStats struct {
	Name string `json:"name"`
	Stats
}

// Summary wraps the global stats and the endpoint breakdown plus
// derived metadata. It is the shape persisted as summary.json.
type Summary struct {
	Parsed      bool            `json:"parsed"`
	Reason      string          `json:"reason,omitempty"`
	Source      string          `json:"source,omitempty"`
	Global      Stats           `json:"global"`
	Endpoints   []EndpointStats `json:"endpoints"`
	SuccessRate float64         `json:"success_rate"`
	FailureRate float64         `json:"failure_rate"`
	AllPassed   bool            `json:"all_passed"`
	AllFailed   bool            `json:"all_failed"`
	ReportPath  string          `json:"report_path,omitempty"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// enhance fills the derived metadata from the global stats.
func (s *Summary) enhance() {
	if s.Global.Total > 0 {
		s.SuccessRate = float64(s.Global.OK) / float64(s.Global.Total)
		s.FailureRate = float64(s.Global.KO) / float64(s.Global.Total)
		s.AllPassed = s.Global.KO == 0
		s.AllFailed = s.Global.OK == 0
	}
}

// WriteSummary persists the summary into the run's results directory,
// filling the derived metadata first.
func WriteSummary(runDir string, summary *Summary) error {
	summary.enhance()

	if summary.GeneratedAt.IsZero() {
		summary.GeneratedAt = time.Now().UTC()
	}

	resultsDir := filepath.Join(runDir, ResultsDirName)
	if err := os.MkdirAll(resultsDir, 0755); err != nil {
		return fmt.Errorf("creating results directory: %w", err)
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}

	path := filepath.Join(resultsDir, SummaryFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}

	return nil
}

// ReadSummary loads a previously written summary artifact. A missing
// or malformed file is an error; callers treat it as "not completed".
func ReadSummary(runDir string) (*Summary, error) {
	path := filepath.Join(runDir, ResultsDirName, SummaryFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading summary: %w", err)
	}

	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("parsing summary: %w", err)
	}

	return &summary, nil
}

// HasSummary reports whether a valid summary artifact exists for the
// run directory. Used for cross-process completion detection.
func HasSummary(runDir string) bool {
	s, err := ReadSummary(runDir)

	return err == nil && s != nil
}
