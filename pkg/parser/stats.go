package parser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// statsDocument is the engine's compact statistics file shape, shared
// by stats.json and the payload embedded in stats.js.
type statsDocument struct {
	Stats     *Stats          `json:"stats"`
	Endpoints []EndpointStats `json:"endpoints"`
}

// parseStatsJSON reads results/stats.json.
func parseStatsJSON(resultsDir string) (*Stats, []EndpointStats, error) {
	data, err := os.ReadFile(filepath.Join(resultsDir, "stats.json"))
	if err != nil {
		return nil, nil, fmt.Errorf("reading stats.json: %w", err)
	}

	return decodeStatsDocument(data)
}

// parseStatsJS reads results/stats.js, a script wrapping the same
// statistics document in a variable assignment. The JSON payload is
// cut out of the script before parsing.
func parseStatsJS(resultsDir string) (*Stats, []EndpointStats, error) {
	data, err := os.ReadFile(filepath.Join(resultsDir, "stats.js"))
	if err != nil {
		return nil, nil, fmt.Errorf("reading stats.js: %w", err)
	}

	payload, err := extractJSPayload(string(data))
	if err != nil {
		return nil, nil, err
	}

	return decodeStatsDocument([]byte(payload))
}

func decodeStatsDocument(data []byte) (*Stats, []EndpointStats, error) {
	var doc statsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parsing statistics document: %w", err)
	}

	if doc.Stats == nil || doc.Stats.Total == 0 {
		return nil, nil, fmt.Errorf("statistics document has no global stats")
	}

	return doc.Stats, doc.Endpoints, nil
}

// extractJSPayload cuts the outermost brace-delimited object out of a
// script body. Brace depth tracking handles nested objects; string
// literals inside the payload do not contain braces in practice.
func extractJSPayload(script string) (string, error) {
	start := strings.IndexByte(script, '{')
	if start < 0 {
		return "", fmt.Errorf("stats.js contains no object payload")
	}

	depth := 0

	for i := start; i < len(script); i++ {
		switch script[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return script[start : i+1], nil
			}
		}
	}

	return "", fmt.Errorf("stats.js payload is truncated")
}
