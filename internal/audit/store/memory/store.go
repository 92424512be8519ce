// Package memory holds audit records in process. Used by tests and by
// deployments that run without Postgres.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mercmorandi/security-governance-gatekeeper/internal/audit"
)

type Store struct {
	mu      sync.RWMutex
	records []audit.Record
}

func New() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, record audit.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return record.ID, nil
}

// QueryByUser returns the user's records, newest first.
func (s *Store) QueryByUser(_ context.Context, userID string, limit int) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Record
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if s.records[i].UserID == userID {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

// AggregateByDepartment computes usage over [start, end).
func (s *Store) AggregateByDepartment(_ context.Context, start, end time.Time) ([]audit.DepartmentUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type acc struct {
		usage        audit.DepartmentUsage
		users        map[string]struct{}
		totalLatency float64
	}
	byDept := make(map[string]*acc)

	for _, r := range s.records {
		if r.Timestamp.Before(start) || !r.Timestamp.Before(end) {
			continue
		}
		a, ok := byDept[r.Department]
		if !ok {
			a = &acc{users: make(map[string]struct{})}
			a.usage.Department = r.Department
			byDept[r.Department] = a
		}
		a.usage.TotalRequests++
		a.users[r.UserID] = struct{}{}
		a.usage.TotalPIIDetected += int64(r.PIICount)
		if r.ViolationKind != "" {
			a.usage.TotalViolations++
		}
		a.totalLatency += r.LatencyMs
	}

	out := make([]audit.DepartmentUsage, 0, len(byDept))
	for _, a := range byDept {
		a.usage.UniqueUsers = int64(len(a.users))
		if a.usage.TotalRequests > 0 {
			a.usage.AverageLatencyMs = a.totalLatency / float64(a.usage.TotalRequests)
		}
		out = append(out, a.usage)
	}
	return out, nil
}

// Len reports the number of stored records. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// All returns a copy of every stored record, oldest first. Test helper.
func (s *Store) All() []audit.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Record{}, s.records...)
}
