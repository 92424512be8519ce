package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/mercmorandi/security-governance-gatekeeper/internal/ratelimit/models"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/redaction"
)

// Assembler builds records from the terminal facts of a request. Pure
// construction, no I/O; emission belongs to the caller.
type Assembler struct {
	now func() time.Time
}

type AssemblerOption func(*Assembler)

// WithClock overrides the timestamp source, for tests.
func WithClock(now func() time.Time) AssemblerOption {
	return func(a *Assembler) {
		a.now = now
	}
}

func NewAssembler(opts ...AssemblerOption) *Assembler {
	a := &Assembler{now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Build populates every record field from exactly one input. A nil redaction
// outcome means the response was not processed: detected=false, count=0,
// never an omitted record. A nil decision leaves the quota field unset.
func (a *Assembler) Build(
	subject Subject,
	req RequestFacts,
	decision *models.Decision,
	outcome *redaction.Outcome,
	resp ResponseFacts,
	violation *Violation,
) Record {
	record := Record{
		ID:        uuid.NewString(),
		Timestamp: a.now().UTC(),

		UserID:     subject.UserID,
		Username:   subject.Username,
		Role:       subject.Role,
		Department: subject.Department,

		Action:      req.Action,
		Endpoint:    req.Endpoint,
		Method:      req.Method,
		RequestSize: req.RequestSize,

		ResponseSize: resp.ResponseSize,
		LatencyMs:    resp.LatencyMs,
		StatusCode:   resp.StatusCode,

		ClientIP:  req.ClientIP,
		UserAgent: req.UserAgent,
	}

	if decision != nil {
		remaining := decision.Remaining
		record.RateLimitRemaining = &remaining
	}

	if outcome != nil {
		record.PIIDetected = outcome.Detected
		record.PIIKinds = outcome.KindStrings()
		record.PIICount = outcome.Count
	}

	if violation != nil {
		record.ViolationKind = violation.Kind
		record.ViolationDetails = violation.Details
	}

	return record
}
