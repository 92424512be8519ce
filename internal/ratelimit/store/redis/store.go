// Package redis implements the counter store on Redis sorted sets. Each
// subject key holds admitted-request timestamps as scores; a server-side Lua
// script makes the discard+count+conditional-insert sequence atomic so two
// concurrent callers can never both take the last remaining slot.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mercmorandi/security-governance-gatekeeper/internal/ratelimit/models"
	dErrors "github.com/mercmorandi/security-governance-gatekeeper/pkg/domain-errors"
)

const keyPrefix = "ratelimit:"

// graceTTL pads key expiry past the window to bound storage without affecting
// correctness; expired entries are always discarded on read.
const graceTTL = 60 * time.Second

// takeScript runs discard, count, and conditional insert atomically.
// Scores and the clock are in milliseconds.
// Returns {allowed, countBeforeInsert, oldestScoreMs}.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
local ttl = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, ttl)
	return {1, count, 0}
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = 0
if oldest[2] then
	oldestScore = tonumber(oldest[2])
end
return {0, count, oldestScore}
`)

// Store implements ports.CounterStore on a shared Redis instance.
type Store struct {
	client redis.Cmdable
	// now is swappable for tests.
	now func() time.Time
}

// New creates a Redis-backed counter store.
func New(client redis.Cmdable) *Store {
	return &Store{client: client, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func key(subject string) string { return keyPrefix + subject }

// Take checks and records one request under the sliding window.
func (s *Store) Take(ctx context.Context, subject string, limit int, window time.Duration) (*models.Decision, error) {
	now := s.now()
	nowMs := now.UnixMilli()
	windowMs := window.Milliseconds()
	ttlMs := windowMs + graceTTL.Milliseconds()
	member := fmt.Sprintf("%d:%s", nowMs, uuid.NewString())

	raw, err := takeScript.Run(ctx, s.client, []string{key(subject)},
		nowMs, windowMs, limit, member, ttlMs).Result()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "counter store take failed")
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 3 {
		return nil, dErrors.Newf(dErrors.CodeInternal, "unexpected counter script reply: %v", raw)
	}
	allowed := toInt64(reply[0]) == 1
	count := int(toInt64(reply[1]))
	oldestMs := toInt64(reply[2])

	if allowed {
		return &models.Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - count - 1,
			ResetAt:   now.Add(window),
		}, nil
	}
	return deniedDecision(now, oldestMs, limit, window), nil
}

// Peek reports the current window state without recording.
func (s *Store) Peek(ctx context.Context, subject string, limit int, window time.Duration) (*models.Decision, error) {
	now := s.now()
	nowMs := now.UnixMilli()
	k := key(subject)

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", fmt.Sprintf("%d", nowMs-window.Milliseconds()))
	cardCmd := pipe.ZCard(ctx, k)
	oldestCmd := pipe.ZRangeWithScores(ctx, k, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "counter store peek failed")
	}

	count := int(cardCmd.Val())
	if count < limit {
		return &models.Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - count,
			ResetAt:   now.Add(window),
		}, nil
	}

	var oldestMs int64
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		oldestMs = int64(oldest[0].Score)
	}
	return deniedDecision(now, oldestMs, limit, window), nil
}

// Reset clears the counter for a subject.
func (s *Store) Reset(ctx context.Context, subject string) error {
	if err := s.client.Del(ctx, key(subject)).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "counter store reset failed")
	}
	return nil
}

// deniedDecision derives the retry delay from the single oldest surviving
// entry: the next moment the window will admit a slot. Floored at one second.
func deniedDecision(now time.Time, oldestMs int64, limit int, window time.Duration) *models.Decision {
	retrySeconds := int(window.Seconds())
	if oldestMs > 0 {
		retrySeconds = int((oldestMs+window.Milliseconds()-now.UnixMilli())/1000) + 1
	}
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

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
