// Package memory implements the counter store with in-process sliding
// windows. Suitable for tests and single-instance deployments; distributed
// deployments use the Redis store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mercmorandi/security-governance-gatekeeper/internal/ratelimit/models"
)

// Store implements ports.CounterStore using per-key timestamp slices guarded
// by a single mutex. The lock makes discard+count+insert atomic per call,
// matching the contract the Redis script provides server-side.
type Store struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	// now is swappable for tests.
	now func() time.Time
}

// New creates an in-memory counter store.
func New() *Store {
	return &Store{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// WithClock replaces the wall clock, for tests that advance time manually.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Take checks and records one request under the sliding window.
func (s *Store) Take(_ context.Context, key string, limit int, window time.Duration) (*models.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entries := discardExpired(s.windows[key], now, window)
	count := len(entries)

	if count < limit {
		entries = append(entries, now)
		s.windows[key] = entries
		return &models.Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - count - 1,
			ResetAt:   now.Add(window),
		}, nil
	}

	s.windows[key] = entries
	return denied(entries, now, limit, window), nil
}

// Peek reports the current state without recording.
func (s *Store) Peek(_ context.Context, key string, limit int, window time.Duration) (*models.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entries := discardExpired(s.windows[key], now, window)
	s.windows[key] = entries
	count := len(entries)

	if count < limit {
		return &models.Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - count,
			ResetAt:   now.Add(window),
		}, nil
	}
	return denied(entries, now, limit, window), nil
}

// Reset clears the counter for a key.
func (s *Store) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// discardExpired drops entries older than now-window, preserving order.
func discardExpired(entries []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(entries); i++ {
		if entries[i].After(cutoff) {
			break
		}
	}
	return entries[i:]
}

// denied builds the rejection decision. Retry delay comes from the single
// oldest surviving entry: the next moment the window admits a slot.
func denied(entries []time.Time, now time.Time, limit int, window time.Duration) *models.Decision {
	retry := window
	if len(entries) > 0 {
		retry = entries[0].Add(window).Sub(now)
	}
	retrySeconds := int(retry.Seconds()) + 1
	if retrySeconds < 1 {
		retrySeconds = 1
	}
	return &models.Decision{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    now.Add(time.Duration(retrySeconds) * time.Second),
		RetryAfter: retrySeconds,
	}
}
