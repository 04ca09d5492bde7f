package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// parseReportDir extracts stats from the engine's HTML report
// directory. The DOM-aware extractor runs first; when it cannot find
// the statistics table, a regex extractor takes over the same bytes.
func parseReportDir(resultsDir string) (*Stats, []EndpointStats, error) {
	indexPath := filepath.Join(resultsDir, "report", "index.html")

	data, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading report index: %w", err)
	}

	stats, endpoints, err := extractFromDOM(data)
	if err == nil {
		return stats, endpoints, nil
	}

	stats, err = extractFromRegex(data)
	if err != nil {
		return nil, nil, err
	}

	return stats, nil, nil
}

// reportLabels maps the report's row labels to Stats field setters.
var reportLabels = map[string]func(*Stats, float64){
	"total requests":                func(s *Stats, v float64) { s.Total = int64(v) },
	"successful requests":           func(s *Stats, v float64) { s.OK = int64(v) },
	"failed requests":               func(s *Stats, v float64) { s.KO = int64(v) },
	"mean requests/sec":             func(s *Stats, v float64) { s.MeanRPS = v },
	"min response time":             func(s *Stats, v float64) { s.MinMs = v },
	"mean response time":            func(s *Stats, v float64) { s.MeanMs = v },
	"max response time":             func(s *Stats, v float64) { s.MaxMs = v },
	"response time 50th percentile": func(s *Stats, v float64) { s.P50Ms = v },
	"response time 75th percentile": func(s *Stats, v float64) { s.P75Ms = v },
	"response time 95th percentile": func(s *Stats, v float64) { s.P95Ms = v },
	"response time 99th percentile": func(s *Stats, v float64) { s.P99Ms = v },
}

// extractFromDOM walks the report DOM looking for the global statistics
// table and the optional per-endpoint table.
func extractFromDOM(data []byte) (*Stats, []EndpointStats, error) {
	doc, err := html.Parse(strings.NewReader(string(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("parsing report html: %w", err)
	}

	var (
		stats     *Stats
		endpoints []EndpointStats
	)

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "table" {
			switch nodeAttr(n, "id") {
			case "global-stats":
				stats = parseGlobalTable(n)
			case "endpoint-stats":
				endpoints = parseEndpointTable(n)
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if stats == nil || stats.Total == 0 {
		return nil, nil, fmt.Errorf("report html has no usable global statistics table")
	}

	return stats, endpoints, nil
}

// parseGlobalTable reads label/value row pairs from the global table.
func parseGlobalTable(table *html.Node) *Stats {
	stats := &Stats{}

	for _, row := range tableRows(table) {
		cells := rowCells(row)
		if len(cells) < 2 {
			continue
		}

		label := strings.ToLower(strings.TrimSpace(cells[0]))

		set, ok := reportLabels[label]
		if !ok {
			continue
		}

		if v, err := strconv.ParseFloat(strings.TrimSpace(cells[1]), 64); err == nil {
			set(stats, v)
		}
	}

	return stats
}

// endpointColumns is the fixed column order of the endpoint table.
var endpointColumns = []string{
	"name", "total", "ok", "ko", "mean_rps", "mean_ms", "p95_ms",
}

// parseEndpointTable reads one breakdown row per named request.
func parseEndpointTable(table *html.Node) []EndpointStats {
	var endpoints []EndpointStats

	for _, row := range tableRows(table) {
		cells := rowCells(row)
		if len(cells) < len(endpointColumns) {
			continue
		}

		ep := EndpointStats{Name: strings.TrimSpace(cells[0])}
		if ep.Name == "" || strings.EqualFold(ep.Name, "name") {
			// Header row.
			continue
		}

		nums := make([]float64, 0, len(endpointColumns)-1)

		ok := true

		for _, c := range cells[1:len(endpointColumns)] {
			v, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
			if err != nil {
				ok = false

				break
			}

			nums = append(nums, v)
		}

		if !ok {
			continue
		}

		ep.Total = int64(nums[0])
		ep.OK = int64(nums[1])
		ep.KO = int64(nums[2])
		ep.MeanRPS = nums[3]
		ep.MeanMs = nums[4]
		ep.P95Ms = nums[5]

		endpoints = append(endpoints, ep)
	}

	return endpoints
}

// tableRows collects all tr descendants of a table node.
func tableRows(table *html.Node) []*html.Node {
	var rows []*html.Node

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			rows = append(rows, n)

			return
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(table)

	return rows
}

// rowCells returns the text content of each td/th cell in a row.
func rowCells(row *html.Node) []string {
	var cells []string

	for c := row.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
			cells = append(cells, nodeText(c))
		}
	}

	return cells
}

// nodeText concatenates all text descendants of a node.
func nodeText(n *html.Node) string {
	var sb strings.Builder

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	return sb.String()
}

// nodeAttr returns the value of an attribute on a node.
func nodeAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}

	return ""
}

// reportCellRe matches a label cell followed by a numeric value cell.
// Used when the DOM extractor fails (e.g. truncated or malformed html).
var reportCellRe = regexp.MustCompile(
	`(?is)<td[^>]*>\s*([a-z0-9 /]+?)\s*</td>\s*<td[^>]*>\s*([\d.]+)\s*</td>`,
)

// extractFromRegex scrapes label/value pairs out of raw report bytes.
func extractFromRegex(data []byte) (*Stats, error) {
	stats := &Stats{}
	found := false

	for _, m := range reportCellRe.FindAllStringSubmatch(string(data), -1) {
		label := strings.ToLower(strings.TrimSpace(m[1]))

		set, ok := reportLabels[label]
		if !ok {
			continue
		}

		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}

		set(stats, v)

		found = true
	}

	if !found || stats.Total == 0 {
		return nil, fmt.Errorf("report html matched no known statistics labels")
	}

	return stats, nil
}
