// Package baseline compares a finished execution against the recorded
// baseline of its configuration family and grades the outcome.
package baseline

import (
	"fmt"
	"strings"

	"github.com/loadworks/loadoor/pkg/store"
)

// Weights of each metric's percentage delta in the composite score.
// Response time and error rate hurt when they grow, throughput helps.
const (
	weightResponseTime = -0.4
	weightThroughput   = 0.4
	weightErrorRate    = -0.2
)

// errorRateBlowoutPts is the error-rate increase, in percentage
// points, beyond which the grade is forced to the worst level no
// matter what the other metrics did.
const errorRateBlowoutPts = 50.0

// Grade is the five-level verdict of a comparison.
type Grade string

const (
	GradeMajorImprovement Grade = "A"
	GradeImprovement      Grade = "B"
	GradeComparable       Grade = "C"
	GradeRegression       Grade = "D"
	GradeSevereRegression Grade = "F"
)

// Comparison is the full result of grading a candidate run against its
// baseline.
type Comparison struct {
	BaselineID  string `json:"baseline_id"`
	CandidateID string `json:"candidate_id"`
	ConfigKey   string `json:"config_key"`

	// Percentage deltas relative to the baseline. Positive means the
	// candidate's value is higher.
	ResponseTimeDeltaPct float64 `json:"response_time_delta_pct"`
	ThroughputDeltaPct   float64 `json:"throughput_delta_pct"`

	// ErrorRateDeltaPts is the absolute change in error rate,
	// candidate minus baseline, in percentage points.
	ErrorRateDeltaPts float64 `json:"error_rate_delta_pts"`

	Score          float64 `json:"score"`
	Grade          Grade   `json:"grade"`
	Recommendation string  `json:"recommendation"`
}

// Compare grades the candidate against the baseline. Both records must
// carry ingested metrics; a baseline with no traffic cannot anchor a
// comparison.
func Compare(base, candidate *store.ExecutionRecord) (*Comparison, error) {
	if base.TotalRequests == 0 {
		return nil, fmt.Errorf("baseline %s has no recorded traffic", base.ExecutionID)
	}

	if candidate.TotalRequests == 0 {
		return nil, fmt.Errorf("candidate %s has no recorded traffic", candidate.ExecutionID)
	}

	c := &Comparison{
		BaselineID:  base.ExecutionID,
		CandidateID: candidate.ExecutionID,
		ConfigKey:   base.ConfigKey,

		ResponseTimeDeltaPct: pctDelta(base.MeanResponseMs, candidate.MeanResponseMs),
		ThroughputDeltaPct:   pctDelta(base.MeanThroughput, candidate.MeanThroughput),
		// Stored error rates are 0..1 ratios; the delta is expressed
		// in percentage points.
		ErrorRateDeltaPts: (candidate.ErrorRate - base.ErrorRate) * 100,
	}

	// Positive score means the candidate is better. Deltas where
	// growth is bad carry negative weights.
	c.Score = weightResponseTime*c.ResponseTimeDeltaPct +
		weightThroughput*c.ThroughputDeltaPct +
		weightErrorRate*c.ErrorRateDeltaPts

	c.Grade = grade(c.Score, c.ErrorRateDeltaPts)
	c.Recommendation = recommendation(c)

	return c, nil
}

// pctDelta is the percentage change from base to candidate. A zero
// base yields zero so an unmeasured metric cannot dominate the score.
func pctDelta(base, candidate float64) float64 {
	if base == 0 {
		return 0
	}

	return (candidate - base) / base * 100
}

func grade(score, errorRateDeltaPts float64) Grade {
	if errorRateDeltaPts > errorRateBlowoutPts {
		return GradeSevereRegression
	}

	switch {
	case score >= 10:
		return GradeMajorImprovement
	case score >= 5:
		return GradeImprovement
	case score > -5:
		return GradeComparable
	case score > -15:
		return GradeRegression
	default:
		return GradeSevereRegression
	}
}

// Per-delta noise floors below which a metric contributes no
// recommendation sentence.
const (
	responseTimeNoisePct = 5.0
	throughputNoisePct   = 5.0
	errorRateNoisePts    = 1.0
)

// recommendation combines independent rules on each delta. Every rule
// that fires contributes one sentence; when none fire the verdict is
// neutral.
func recommendation(c *Comparison) string {
	var parts []string

	switch {
	case c.ResponseTimeDeltaPct <= -responseTimeNoisePct:
		parts = append(parts, fmt.Sprintf(
			"Mean response time improved by %.1f%%.", -c.ResponseTimeDeltaPct,
		))
	case c.ResponseTimeDeltaPct >= responseTimeNoisePct:
		parts = append(parts, fmt.Sprintf(
			"Mean response time degraded by %.1f%%; investigate before releasing.",
			c.ResponseTimeDeltaPct,
		))
	}

	switch {
	case c.ThroughputDeltaPct >= throughputNoisePct:
		parts = append(parts, fmt.Sprintf(
			"Throughput increased by %.1f%%.", c.ThroughputDeltaPct,
		))
	case c.ThroughputDeltaPct <= -throughputNoisePct:
		parts = append(parts, fmt.Sprintf(
			"Throughput dropped by %.1f%%.", -c.ThroughputDeltaPct,
		))
	}

	switch {
	case c.ErrorRateDeltaPts > errorRateBlowoutPts:
		parts = append(parts, fmt.Sprintf(
			"Error rate increased by %.1f percentage points; do not release before the failures are understood.",
			c.ErrorRateDeltaPts,
		))
	case c.ErrorRateDeltaPts >= errorRateNoisePts:
		parts = append(parts, fmt.Sprintf(
			"Error rate increased by %.1f percentage points.", c.ErrorRateDeltaPts,
		))
	case c.ErrorRateDeltaPts <= -errorRateNoisePts:
		parts = append(parts, fmt.Sprintf(
			"Error rate decreased by %.1f percentage points.", -c.ErrorRateDeltaPts,
		))
	}

	if len(parts) == 0 {
		return "Performance is within normal range of the baseline."
	}

	return strings.Join(parts, " ")
}
