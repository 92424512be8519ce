// Package ports defines shared interfaces for the ratelimit module.
package ports

import (
	"context"
	"time"

	"github.com/mercmorandi/security-governance-gatekeeper/internal/ratelimit/models"
)

// CounterStore manages per-subject sliding window counters. Implementations
// must make Take's discard+count+conditional-insert sequence atomic per key so
// concurrent callers cannot both admit into the last remaining slot.
type CounterStore interface {
	// Take discards entries older than the window, counts the survivors, and
	// inserts a new entry if the count is below limit. The returned decision
	// reflects the state after any insert.
	Take(ctx context.Context, key string, limit int, window time.Duration) (*models.Decision, error)

	// Peek discards expired entries and reports the current state without
	// recording anything.
	Peek(ctx context.Context, key string, limit int, window time.Duration) (*models.Decision, error)

	// Reset clears the counter for a key.
	Reset(ctx context.Context, key string) error
}
