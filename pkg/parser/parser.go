package parser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// strategy is one parsing approach over a results directory. Each
// strategy returns the normalized shape or an error; errors only ever
// cause fallthrough to the next strategy.
type strategy struct {
	name  string
	parse func(resultsDir string) (*Stats, []EndpointStats, error)
}

// strategies is the priority-ordered chain. First success wins.
var strategies = []strategy{
	{name: "report", parse: parseReportDir},
	{name: "stats-json", parse: parseStatsJSON},
	{name: "stats-js", parse: parseStatsJS},
	{name: "run-log", parse: parseRunLog},
}

// firstSuccess runs the chain and returns the first strategy that
// yields a result, together with its name.
func firstSuccess(
	resultsDir string, chain []strategy,
) (*Stats, []EndpointStats, string, error) {
	var errs []string

	for _, s := range chain {
		stats, endpoints, err := s.parse(resultsDir)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", s.name, err))

			continue
		}

		return stats, endpoints, s.name, nil
	}

	return nil, nil, "", errors.New(strings.Join(errs, "; "))
}

// ParseRunDir parses a run directory into a Summary. It never returns
// an error: when every strategy fails the summary is marked unparsed
// with the accumulated reason.
func ParseRunDir(runDir string) *Summary {
	resultsDir := filepath.Join(runDir, ResultsDirName)

	summary := &Summary{GeneratedAt: time.Now().UTC()}

	stats, endpoints, source, err := firstSuccess(resultsDir, strategies)
	if err != nil {
		summary.Reason = err.Error()

		return summary
	}

	summary.Parsed = true
	summary.Source = source
	summary.Global = *stats
	summary.Endpoints = endpoints

	// Fall back to a single synthetic row when no per-endpoint detail
	// was available from any strategy.
	if len(summary.Endpoints) == 0 {
		summary.Endpoints = []EndpointStats{
			{Name: GlobalEndpointName, Stats: *stats},
		}
	}

	if reportDir := filepath.Join(resultsDir, "report"); dirExists(reportDir) {
		summary.ReportPath = reportDir
	}

	summary.enhance()

	return summary
}

func dirExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.IsDir()
}
