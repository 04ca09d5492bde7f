package engine

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/loadworks/loadoor/pkg/loadtest"
)

// CommandTemplate renders the engine invocation for a run. The same
// template mechanism covers bare-process and containerized execution;
// a containerized deployment simply prefixes the binary with its
// container runtime invocation in config.
type CommandTemplate struct {
	// Binary is the engine launcher (e.g. a wrapper script or a
	// container runtime binary such as "docker").
	Binary string

	// ArgsTemplate is a text/template rendered with CommandData and
	// split on whitespace into argv.
	ArgsTemplate string
}

// CommandData is the data handed to ArgsTemplate.
type CommandData struct {
	ExecutionID string
	RunDir      string
	ResultsDir  string
	ConfigPath  string
	BaseURL     string
	Users       int
	DurationSec int
	Throughput  float64
	FeederPath  string
	ExtraArgs   string
}

// DefaultArgsTemplate drives a gatling-style launcher with the run's
// normalized parameters. Injection shape and per-scenario steps are
// not flags; the engine reads them from the config snapshot passed
// via --config.
const DefaultArgsTemplate = `run --config {{.ConfigPath}} ` +
	`--results {{.ResultsDir}} --base-url {{.BaseURL}} ` +
	`--users {{.Users}} --duration {{.DurationSec}}` +
	`{{if .Throughput}} --throughput {{.Throughput}}{{end}}` +
	`{{if .FeederPath}} --feeder {{.FeederPath}}{{end}}` +
	`{{if .ExtraArgs}} {{.ExtraArgs}}{{end}}`

// BuildCommand renders argv for the given execution. The first element
// is the binary, the rest are its arguments.
func (t *CommandTemplate) BuildCommand(
	cfg *ExecutionConfig, runDir, resultsDir string,
) ([]string, error) {
	if t.Binary == "" {
		return nil, fmt.Errorf("engine binary is not configured")
	}

	argsTmpl := t.ArgsTemplate
	if argsTmpl == "" {
		argsTmpl = DefaultArgsTemplate
	}

	tmpl, err := template.New("args").Parse(argsTmpl)
	if err != nil {
		return nil, fmt.Errorf("parsing command template: %w", err)
	}

	data := CommandData{
		ExecutionID: cfg.ExecutionID,
		RunDir:      runDir,
		ResultsDir:  resultsDir,
		ConfigPath:  runDir + "/" + SnapshotFileName,
		BaseURL:     cfg.BaseURL,
		Users:       cfg.Users,
		DurationSec: cfg.DurationSec,
		Throughput:  cfg.ThroughputRPS,
		FeederPath:  cfg.FeederPath,
		ExtraArgs:   assertionArgs(cfg.Assertions),
	}

	// Multi-scenario runs are driven entirely from the config snapshot;
	// the base URL flag then carries the first scenario's target.
	if data.BaseURL == "" && len(cfg.Scenarios) > 0 {
		data.BaseURL = cfg.Scenarios[0].URL
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return nil, fmt.Errorf("rendering command template: %w", err)
	}

	argv := append([]string{t.Binary}, strings.Fields(sb.String())...)

	return argv, nil
}

// assertionArgs flattens assertion thresholds into engine flags.
func assertionArgs(a *loadtest.AssertionThresholds) string {
	if a == nil {
		return ""
	}

	var parts []string

	if a.MaxFailurePercent > 0 {
		parts = append(parts, "--max-failure-pct "+formatFloat(a.MaxFailurePercent))
	}

	if a.P95ResponseMs > 0 {
		parts = append(parts, "--assert-p95-ms "+formatFloat(a.P95ResponseMs))
	}

	if a.P99ResponseMs > 0 {
		parts = append(parts, "--assert-p99-ms "+formatFloat(a.P99ResponseMs))
	}

	if a.MeanResponseMs > 0 {
		parts = append(parts, "--assert-mean-ms "+formatFloat(a.MeanResponseMs))
	}

	return strings.Join(parts, " ")
}

// formatFloat trims trailing zeros so command lines stay readable.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
