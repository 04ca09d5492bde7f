package loadtest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadworks/loadoor/pkg/loadtest"
)

func TestStatusOrder(t *testing.T) {
	assert.Equal(t, 0, loadtest.StatusQueued.Order())
	assert.Equal(t, 1, loadtest.StatusRunning.Order())
	assert.Equal(t, 2, loadtest.StatusSucceeded.Order())
	assert.Equal(t, 2, loadtest.StatusFailed.Order())
	assert.Equal(t, -1, loadtest.Status("bogus").Order())

	// Terminal states never regress relative to each other.
	assert.False(t, loadtest.StatusSucceeded.Order() > loadtest.StatusFailed.Order())
	assert.False(t, loadtest.StatusFailed.Order() > loadtest.StatusSucceeded.Order())
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, loadtest.StatusQueued.Terminal())
	assert.False(t, loadtest.StatusRunning.Terminal())
	assert.True(t, loadtest.StatusSucceeded.Terminal())
	assert.True(t, loadtest.StatusFailed.Terminal())
}

func TestEffectiveScenarios_FlatFields(t *testing.T) {
	req := &loadtest.SubmissionRequest{
		AppCode:       "shop",
		EnvCode:       "staging",
		Kind:          loadtest.KindLoad,
		Users:         50,
		DurationSec:   120,
		EndpointName:  "checkout",
		ThroughputRPS: 10,
	}

	scenarios := req.EffectiveScenarios()
	require.Len(t, scenarios, 1)
	assert.Equal(t, "default", scenarios[0].Name)
	assert.Equal(t, "checkout", scenarios[0].EndpointName)
	assert.Equal(t, float64(10), scenarios[0].ThroughputRPS)
}

func TestEffectiveScenarios_ListWins(t *testing.T) {
	req := &loadtest.SubmissionRequest{
		EndpointName: "ignored",
		Scenarios: []loadtest.Scenario{
			{Name: "a", EndpointURL: "http://x/a"},
			{Name: "b", EndpointName: "b-endpoint"},
		},
	}

	scenarios := req.EffectiveScenarios()
	require.Len(t, scenarios, 2)
	assert.Equal(t, "a", scenarios[0].Name)
}

func TestValidate(t *testing.T) {
	valid := loadtest.SubmissionRequest{
		AppCode:      "shop",
		CountryCode:  "de",
		EnvCode:      "staging",
		Kind:         loadtest.KindSmoke,
		Users:        10,
		DurationSec:  60,
		EndpointName: "ping",
	}

	tests := []struct {
		name    string
		mutate  func(r *loadtest.SubmissionRequest)
		wantErr string
	}{
		{
			name:   "valid request",
			mutate: func(_ *loadtest.SubmissionRequest) {},
		},
		{
			name:    "missing app code",
			mutate:  func(r *loadtest.SubmissionRequest) { r.AppCode = "" },
			wantErr: "app_code",
		},
		{
			name:    "missing env code",
			mutate:  func(r *loadtest.SubmissionRequest) { r.EnvCode = "" },
			wantErr: "env_code",
		},
		{
			name:    "unknown kind",
			mutate:  func(r *loadtest.SubmissionRequest) { r.Kind = "spike" },
			wantErr: "unknown test kind",
		},
		{
			name:    "zero users",
			mutate:  func(r *loadtest.SubmissionRequest) { r.Users = 0 },
			wantErr: "users",
		},
		{
			name:    "zero duration",
			mutate:  func(r *loadtest.SubmissionRequest) { r.DurationSec = 0 },
			wantErr: "duration_sec",
		},
		{
			name: "scenario without any target fails closed",
			mutate: func(r *loadtest.SubmissionRequest) {
				r.EndpointName = ""
				r.Scenarios = []loadtest.Scenario{{Name: "empty"}}
			},
			wantErr: "endpoint_name or endpoint_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)

			err := req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestScenarioLiteralURL(t *testing.T) {
	assert.True(t, loadtest.Scenario{EndpointURL: "http://x/ping"}.LiteralURL())
	assert.True(t, loadtest.Scenario{EndpointURL: "https://x/ping"}.LiteralURL())
	assert.False(t, loadtest.Scenario{EndpointURL: "x/ping"}.LiteralURL())
	assert.False(t, loadtest.Scenario{EndpointName: "ping"}.LiteralURL())
}
