// Package postgres persists audit records for querying and aggregation.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mercmorandi/security-governance-gatekeeper/internal/audit"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_logs (
	id                   UUID PRIMARY KEY,
	ts                   TIMESTAMPTZ NOT NULL,
	user_id              TEXT NOT NULL,
	username             TEXT NOT NULL DEFAULT '',
	role                 TEXT NOT NULL,
	department           TEXT NOT NULL DEFAULT '',
	action               TEXT NOT NULL,
	endpoint             TEXT NOT NULL,
	method               TEXT NOT NULL,
	request_size         BIGINT NOT NULL DEFAULT 0,
	response_size        BIGINT NOT NULL DEFAULT 0,
	latency_ms           DOUBLE PRECISION NOT NULL DEFAULT 0,
	status_code          INT NOT NULL DEFAULT 0,
	pii_detected         BOOLEAN NOT NULL DEFAULT FALSE,
	pii_kinds            JSONB NOT NULL DEFAULT '[]',
	pii_count            INT NOT NULL DEFAULT 0,
	rate_limit_remaining INT,
	client_ip            TEXT NOT NULL DEFAULT '',
	user_agent           TEXT NOT NULL DEFAULT '',
	violation_kind       TEXT,
	violation_details    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_logs_user_ts ON audit_logs (user_id, ts DESC);
CREATE INDEX IF NOT EXISTS idx_audit_logs_dept_ts ON audit_logs (department, ts);
`

// EnsureSchema creates the audit table and indexes if missing. Called once
// at startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

// Append writes one record. Re-inserting the same id is a no-op so retries
// stay idempotent.
func (s *Store) Append(ctx context.Context, record audit.Record) (string, error) {
	kinds, err := json.Marshal(record.PIIKinds)
	if err != nil {
		return "", fmt.Errorf("marshal pii kinds: %w", err)
	}
	if record.PIIKinds == nil {
		kinds = []byte("[]")
	}

	var violation sql.NullString
	if record.ViolationKind != "" {
		violation = sql.NullString{String: record.ViolationKind, Valid: true}
	}

	query := `
		INSERT INTO audit_logs (
			id, ts, user_id, username, role, department,
			action, endpoint, method, request_size,
			response_size, latency_ms, status_code,
			pii_detected, pii_kinds, pii_count,
			rate_limit_remaining, client_ip, user_agent,
			violation_kind, violation_details
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		record.ID,
		record.Timestamp,
		record.UserID,
		record.Username,
		record.Role,
		record.Department,
		record.Action,
		record.Endpoint,
		record.Method,
		record.RequestSize,
		record.ResponseSize,
		record.LatencyMs,
		record.StatusCode,
		record.PIIDetected,
		kinds,
		record.PIICount,
		record.RateLimitRemaining,
		record.ClientIP,
		record.UserAgent,
		violation,
		record.ViolationDetails,
	)
	if err != nil {
		return "", fmt.Errorf("insert audit record: %w", err)
	}
	return record.ID, nil
}

// QueryByUser returns the user's records, newest first.
func (s *Store) QueryByUser(ctx context.Context, userID string, limit int) ([]audit.Record, error) {
	query := `
		SELECT id, ts, user_id, username, role, department,
		       action, endpoint, method, request_size,
		       response_size, latency_ms, status_code,
		       pii_detected, pii_kinds, pii_count,
		       rate_limit_remaining, client_ip, user_agent,
		       violation_kind, violation_details
		FROM audit_logs
		WHERE user_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// AggregateByDepartment computes usage per department over [start, end).
func (s *Store) AggregateByDepartment(ctx context.Context, start, end time.Time) ([]audit.DepartmentUsage, error) {
	query := `
		SELECT department,
		       COUNT(*),
		       COUNT(DISTINCT user_id),
		       COALESCE(SUM(pii_count), 0),
		       COUNT(*) FILTER (WHERE violation_kind IS NOT NULL),
		       COALESCE(AVG(latency_ms), 0)
		FROM audit_logs
		WHERE ts >= $1 AND ts < $2
		GROUP BY department
		ORDER BY COUNT(*) DESC
	`
	rows, err := s.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("aggregate audit records: %w", err)
	}
	defer rows.Close()

	var out []audit.DepartmentUsage
	for rows.Next() {
		var u audit.DepartmentUsage
		if err := rows.Scan(
			&u.Department,
			&u.TotalRequests,
			&u.UniqueUsers,
			&u.TotalPIIDetected,
			&u.TotalViolations,
			&u.AverageLatencyMs,
		); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage rows: %w", err)
	}
	return out, nil
}

func scanRecords(rows *sql.Rows) ([]audit.Record, error) {
	var records []audit.Record
	for rows.Next() {
		var (
			record    audit.Record
			kinds     []byte
			remaining sql.NullInt64
			violation sql.NullString
		)
		err := rows.Scan(
			&record.ID,
			&record.Timestamp,
			&record.UserID,
			&record.Username,
			&record.Role,
			&record.Department,
			&record.Action,
			&record.Endpoint,
			&record.Method,
			&record.RequestSize,
			&record.ResponseSize,
			&record.LatencyMs,
			&record.StatusCode,
			&record.PIIDetected,
			&kinds,
			&record.PIICount,
			&remaining,
			&record.ClientIP,
			&record.UserAgent,
			&violation,
			&record.ViolationDetails,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		if len(kinds) > 0 {
			if err := json.Unmarshal(kinds, &record.PIIKinds); err != nil {
				return nil, fmt.Errorf("unmarshal pii kinds: %w", err)
			}
		}
		if remaining.Valid {
			v := int(remaining.Int64)
			record.RateLimitRemaining = &v
		}
		if violation.Valid {
			record.ViolationKind = violation.String
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}
