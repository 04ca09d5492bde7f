package store

import (
	"time"

	"github.com/loadworks/loadoor/pkg/loadtest"
)

// ExecutionRecord is the durable entity for one submitted run. Records
// are never deleted; archival only removes on-disk artifacts.
type ExecutionRecord struct {
	ID          uint   `gorm:"primaryKey" json:"-"`
	ExecutionID string `gorm:"uniqueIndex;not null" json:"execution_id"`
	Name        string `json:"name"`

	Status      loadtest.Status   `gorm:"index;not null" json:"status"`
	Kind        loadtest.TestKind `json:"kind"`
	AppCode     string            `json:"app_code"`
	EnvCode     string            `json:"env_code"`
	CountryCode string            `json:"country_code,omitempty"`

	// ConfigKey identifies the comparable configuration family; the
	// baseline lookup matches on it.
	ConfigKey string `gorm:"index" json:"config_key"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	DurationSec float64    `json:"duration_sec"`

	// Aggregate metrics written once at ingestion.
	TotalRequests  int64   `json:"total_requests"`
	SuccessCount   int64   `json:"success_count"`
	FailureCount   int64   `json:"failure_count"`
	MeanThroughput float64 `json:"mean_throughput"`
	MeanResponseMs float64 `json:"mean_response_ms"`
	MinResponseMs  float64 `json:"min_response_ms"`
	MaxResponseMs  float64 `json:"max_response_ms"`
	P50ResponseMs  float64 `json:"p50_response_ms"`
	P75ResponseMs  float64 `json:"p75_response_ms"`
	P95ResponseMs  float64 `json:"p95_response_ms"`
	P99ResponseMs  float64 `json:"p99_response_ms"`

	// ErrorRate is a 0..1 ratio of failed to total requests.
	ErrorRate float64 `json:"error_rate"`

	ValidationStatus string `json:"validation_status,omitempty"`
	SLACompliant     *bool  `json:"sla_compliant,omitempty"`
	Grade            string `json:"grade,omitempty"`
	IsBaseline       bool   `gorm:"index" json:"is_baseline"`
	Notes            string `gorm:"type:text" json:"notes,omitempty"`
	ReportPath       string `json:"report_path,omitempty"`

	// ConfigSnapshot is the resolved execution configuration as YAML.
	ConfigSnapshot string `gorm:"type:text" json:"config_snapshot,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EndpointResult is one per-endpoint row of an execution's breakdown.
// Rows are fully replaced on each ingestion so re-processing the same
// artifacts stays idempotent.
type EndpointResult struct {
	ID          uint   `gorm:"primaryKey" json:"-"`
	ExecutionID string `gorm:"index;not null" json:"execution_id"`
	Name        string `gorm:"not null" json:"name"`

	TotalRequests  int64   `json:"total_requests"`
	SuccessCount   int64   `json:"success_count"`
	FailureCount   int64   `json:"failure_count"`
	MeanThroughput float64 `json:"mean_throughput"`
	MeanResponseMs float64 `json:"mean_response_ms"`
	P95ResponseMs  float64 `json:"p95_response_ms"`
	P99ResponseMs  float64 `json:"p99_response_ms"`

	CreatedAt time.Time `json:"created_at"`
}

// ExecutionMetrics is the fixed field set extracted from a parsed
// summary and written to the record at ingestion.
type ExecutionMetrics struct {
	TotalRequests    int64
	SuccessCount     int64
	FailureCount     int64
	MeanThroughput   float64
	MeanResponseMs   float64
	MinResponseMs    float64
	MaxResponseMs    float64
	P50ResponseMs    float64
	P75ResponseMs    float64
	P95ResponseMs    float64
	P99ResponseMs    float64
	ErrorRate        float64
	ValidationStatus string
	SLACompliant     bool
	ReportPath       string
}
