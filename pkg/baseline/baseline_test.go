package baseline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadworks/loadoor/pkg/baseline"
	"github.com/loadworks/loadoor/pkg/store"
)

func record(id string, meanMs, throughput, errorRate float64) *store.ExecutionRecord {
	return &store.ExecutionRecord{
		ExecutionID:    id,
		ConfigKey:      "shop/staging//load",
		TotalRequests:  10000,
		MeanResponseMs: meanMs,
		MeanThroughput: throughput,
		ErrorRate:      errorRate,
	}
}

func TestCompare_Grades(t *testing.T) {
	base := record("base", 200, 100, 0.01)

	tests := []struct {
		name      string
		candidate *store.ExecutionRecord
		want      baseline.Grade
	}{
		{
			name:      "identical run is comparable",
			candidate: record("cand", 200, 100, 0.01),
			want:      baseline.GradeComparable,
		},
		{
			name: "faster and higher throughput is a major improvement",
			// -20% response time, +20% throughput: score 16.
			candidate: record("cand", 160, 120, 0.01),
			want:      baseline.GradeMajorImprovement,
		},
		{
			name: "modest improvement",
			// -10% response time: score 4 from RT plus a little
			// throughput gain pushes it over 5.
			candidate: record("cand", 180, 105, 0.01),
			want:      baseline.GradeImprovement,
		},
		{
			name: "slowdown within tolerance",
			// +10% response time: score -4.
			candidate: record("cand", 220, 100, 0.01),
			want:      baseline.GradeComparable,
		},
		{
			name: "clear regression",
			// +25% response time: score -10.
			candidate: record("cand", 250, 100, 0.01),
			want:      baseline.GradeRegression,
		},
		{
			name: "severe regression",
			// +30% response time, -20% throughput: score -20.
			candidate: record("cand", 260, 80, 0.01),
			want:      baseline.GradeSevereRegression,
		},
		{
			name: "error blowout overrides good latency",
			// Latency halved, but error rate jumped 60 points.
			candidate: record("cand", 100, 100, 0.61),
			want:      baseline.GradeSevereRegression,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := baseline.Compare(base, tt.candidate)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Grade)
			assert.NotEmpty(t, c.Recommendation)
		})
	}
}

func TestCompare_Deltas(t *testing.T) {
	base := record("base", 200, 100, 0.02)
	cand := record("cand", 150, 130, 0.01)

	c, err := baseline.Compare(base, cand)
	require.NoError(t, err)

	assert.InDelta(t, -25.0, c.ResponseTimeDeltaPct, 0.001)
	assert.InDelta(t, 30.0, c.ThroughputDeltaPct, 0.001)
	assert.InDelta(t, -1.0, c.ErrorRateDeltaPts, 0.001)
	// 0.4*25 + 0.4*30 + 0.2*1 = 22.2
	assert.InDelta(t, 22.2, c.Score, 0.001)
	assert.Equal(t, baseline.GradeMajorImprovement, c.Grade)
	assert.Equal(t, "base", c.BaselineID)
	assert.Equal(t, "cand", c.CandidateID)
}

func TestCompare_RecommendationCoversEachDelta(t *testing.T) {
	base := record("base", 200, 100, 0.01)

	// Slower but with a throughput gain that offsets the score. Both
	// movements must show up independently in the recommendation.
	cand := record("cand", 240, 125, 0.01)

	c, err := baseline.Compare(base, cand)
	require.NoError(t, err)

	assert.Contains(t, c.Recommendation, "response time degraded by 20.0%")
	assert.Contains(t, c.Recommendation, "Throughput increased by 25.0%")
	assert.NotContains(t, c.Recommendation, "Error rate")
}

func TestCompare_RecommendationNeutralWhenNothingMoved(t *testing.T) {
	base := record("base", 200, 100, 0.01)
	cand := record("cand", 202, 99, 0.01)

	c, err := baseline.Compare(base, cand)
	require.NoError(t, err)
	assert.Equal(t, "Performance is within normal range of the baseline.", c.Recommendation)
}

func TestCompare_RecommendationFlagsErrorBlowout(t *testing.T) {
	base := record("base", 200, 100, 0.01)
	cand := record("cand", 200, 100, 0.61)

	c, err := baseline.Compare(base, cand)
	require.NoError(t, err)
	assert.Contains(t, c.Recommendation, "60.0 percentage points")
	assert.Contains(t, c.Recommendation, "do not release")
}

func TestCompare_ZeroBaselineMetricIsNeutral(t *testing.T) {
	base := record("base", 0, 100, 0.01)
	cand := record("cand", 500, 100, 0.01)

	c, err := baseline.Compare(base, cand)
	require.NoError(t, err)
	assert.Zero(t, c.ResponseTimeDeltaPct)
	assert.Equal(t, baseline.GradeComparable, c.Grade)
}

func TestCompare_RequiresTraffic(t *testing.T) {
	empty := &store.ExecutionRecord{ExecutionID: "empty"}
	full := record("full", 200, 100, 0.01)

	_, err := baseline.Compare(empty, full)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no recorded traffic")

	_, err = baseline.Compare(full, empty)
	require.Error(t, err)
}
