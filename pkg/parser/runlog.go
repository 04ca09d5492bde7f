package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

// Labeled-field patterns over the engine's human-readable run log,
// e.g. "> request count  1000 (OK=990  KO=10)".
var (
	runLogCountRe = regexp.MustCompile(
		`>\s*request count\s+(\d+)\s*\(OK=(\d+)\s+KO=(\d+)\)`,
	)
	runLogFieldRes = map[string]*regexp.Regexp{
		"mean_rps": regexp.MustCompile(`>\s*mean requests/sec\s+([\d.]+)`),
		"min_ms":   regexp.MustCompile(`>\s*min response time\s+([\d.]+)`),
		"mean_ms":  regexp.MustCompile(`>\s*mean response time\s+([\d.]+)`),
		"max_ms":   regexp.MustCompile(`>\s*max response time\s+([\d.]+)`),
		"p50_ms":   regexp.MustCompile(`>\s*response time 50th percentile\s+([\d.]+)`),
		"p75_ms":   regexp.MustCompile(`>\s*response time 75th percentile\s+([\d.]+)`),
		"p95_ms":   regexp.MustCompile(`>\s*response time 95th percentile\s+([\d.]+)`),
		"p99_ms":   regexp.MustCompile(`>\s*response time 99th percentile\s+([\d.]+)`),
	}
)

// parseRunLog scrapes the labeled summary block the engine prints at
// the end of a run. Last resort: no per-endpoint detail is available
// at this level.
func parseRunLog(resultsDir string) (*Stats, []EndpointStats, error) {
	data, err := os.ReadFile(filepath.Join(resultsDir, "run.log"))
	if err != nil {
		return nil, nil, fmt.Errorf("reading run.log: %w", err)
	}

	text := string(data)

	m := runLogCountRe.FindStringSubmatch(text)
	if m == nil {
		return nil, nil, fmt.Errorf("run.log has no request count line")
	}

	stats := &Stats{}
	stats.Total, _ = strconv.ParseInt(m[1], 10, 64)
	stats.OK, _ = strconv.ParseInt(m[2], 10, 64)
	stats.KO, _ = strconv.ParseInt(m[3], 10, 64)

	if stats.Total == 0 {
		return nil, nil, fmt.Errorf("run.log reports zero requests")
	}

	fields := map[string]*float64{
		"mean_rps": &stats.MeanRPS,
		"min_ms":   &stats.MinMs,
		"mean_ms":  &stats.MeanMs,
		"max_ms":   &stats.MaxMs,
		"p50_ms":   &stats.P50Ms,
		"p75_ms":   &stats.P75Ms,
		"p95_ms":   &stats.P95Ms,
		"p99_ms":   &stats.P99Ms,
	}

	for name, re := range runLogFieldRes {
		if fm := re.FindStringSubmatch(text); fm != nil {
			if v, err := strconv.ParseFloat(fm[1], 64); err == nil {
				*fields[name] = v
			}
		}
	}

	return stats, nil, nil
}
