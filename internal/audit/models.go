// Package audit assembles and persists one immutable record per processed
// request. Records are written after the terminal outcome is known and never
// mutated afterwards.
package audit

import (
	"time"
)

// ViolationRateLimit tags records for requests rejected over quota.
const ViolationRateLimit = "rate_limit_exceeded"

// ViolationQuotaUnavailable tags records for requests rejected because the
// counter store could not answer and the pipeline runs fail-closed.
const ViolationQuotaUnavailable = "quota_check_unavailable"

// Subject identifies the caller a record is tracked against.
type Subject struct {
	UserID     string
	Username   string
	Role       string
	Department string
}

// RequestFacts are known before the downstream handler runs.
type RequestFacts struct {
	Action      string
	Endpoint    string
	Method      string
	RequestSize int64
	ClientIP    string
	UserAgent   string
}

// ResponseFacts are known only after the terminal outcome.
type ResponseFacts struct {
	ResponseSize int64
	LatencyMs    float64
	StatusCode   int
}

// Violation marks a governance rejection on the record.
type Violation struct {
	Kind    string
	Details string
}

// Record is one immutable audit entry. The JSON layout doubles as the
// message format published to the audit topic.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	UserID     string `json:"user_id"`
	Username   string `json:"username,omitempty"`
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`

	Action      string `json:"action"`
	Endpoint    string `json:"endpoint"`
	Method      string `json:"method"`
	RequestSize int64  `json:"request_size"`

	ResponseSize int64   `json:"response_size"`
	LatencyMs    float64 `json:"latency_ms"`
	StatusCode   int     `json:"status_code"`

	PIIDetected bool     `json:"pii_detected"`
	PIIKinds    []string `json:"pii_kinds,omitempty"`
	PIICount    int      `json:"pii_count"`

	// RateLimitRemaining is nil when no quota decision was taken for the
	// request and holds the sentinel -1 for unlimited subjects.
	RateLimitRemaining *int `json:"rate_limit_remaining,omitempty"`

	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	ViolationKind    string `json:"violation_kind,omitempty"`
	ViolationDetails string `json:"violation_details,omitempty"`
}

// DepartmentUsage is a derived aggregate over a closed time range. It is
// recomputed on demand, never stored.
type DepartmentUsage struct {
	Department       string  `json:"department"`
	TotalRequests    int64   `json:"total_requests"`
	UniqueUsers      int64   `json:"unique_users"`
	TotalPIIDetected int64   `json:"total_pii_detections"`
	TotalViolations  int64   `json:"total_violations"`
	AverageLatencyMs float64 `json:"avg_latency_ms"`
}
