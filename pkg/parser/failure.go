package parser

import (
	"os"
	"path/filepath"
	"strings"
)

// failureMarkers are log fragments that identify a run as failed when
// no summary artifact exists. Build-tool failures and engine crashes
// both surface through these.
var failureMarkers = []string{
	"BUILD FAILURE",
	"BUILD FAILED",
	"[ERROR]",
	"FATAL",
	"Exception in thread",
	"engine exited with non-zero status",
}

// excerptLines is how many trailing log lines are returned as the
// diagnostic excerpt.
const excerptLines = 10

// DetectFailure scans the run's captured process log for failure
// markers. It returns whether a marker was found, plus the tail of the
// log as a diagnostic excerpt. A missing log yields (false, "").
func DetectFailure(runDir string) (bool, string) {
	data, err := os.ReadFile(filepath.Join(runDir, ProcessLogFileName))
	if err != nil {
		return false, ""
	}

	text := string(data)

	for _, marker := range failureMarkers {
		if strings.Contains(text, marker) {
			return true, logTail(text, excerptLines)
		}
	}

	return false, ""
}

// logTail returns the last n non-empty lines of a log.
func logTail(text string, n int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")

	kept := make([]string, 0, n)

	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}

		kept = append(kept, lines[i])
	}

	// Reverse back into original order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	return strings.Join(kept, "\n")
}
