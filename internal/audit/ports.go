package audit

import (
	"context"
	"time"
)

// Sink owns records after emission. Append returns the stored record's id.
type Sink interface {
	Append(ctx context.Context, record Record) (string, error)
	QueryByUser(ctx context.Context, userID string, limit int) ([]Record, error)
	AggregateByDepartment(ctx context.Context, start, end time.Time) ([]DepartmentUsage, error)
}

// Publisher fans records out to an external stream, best effort.
type Publisher interface {
	Publish(ctx context.Context, record Record)
}
