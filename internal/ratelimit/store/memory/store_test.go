package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mercmorandi/security-governance-gatekeeper/internal/ratelimit/models"
)

const (
	testLimit  = 10
	testWindow = time.Minute
)

type StoreSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
	clock time.Time
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.clock = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	s.store = New().WithClock(func() time.Time { return s.clock })
	s.ctx = context.Background()
}

func (s *StoreSuite) advance(d time.Duration) { s.clock = s.clock.Add(d) }

func (s *StoreSuite) TestTake() {
	s.Run("first request allowed", func() {
		d, err := s.store.Take(s.ctx, "subject:first", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(d.Allowed)
		s.Equal(testLimit, d.Limit)
		s.Equal(testLimit-1, d.Remaining)
	})

	s.Run("requests up to limit allowed", func() {
		var d *models.Decision
		var err error
		for i := 0; i < testLimit; i++ {
			d, err = s.store.Take(s.ctx, "subject:limit", testLimit, testWindow)
		}
		s.Require().NoError(err)
		s.True(d.Allowed)
		s.Equal(0, d.Remaining)
	})

	s.Run("request over limit denied with retry delay", func() {
		for i := 0; i < testLimit; i++ {
			_, err := s.store.Take(s.ctx, "subject:over", testLimit, testWindow)
			require.NoError(s.T(), err)
		}
		s.advance(10 * time.Second)
		d, err := s.store.Take(s.ctx, "subject:over", testLimit, testWindow)
		s.Require().NoError(err)
		s.False(d.Allowed)
		s.Equal(0, d.Remaining)
		// Oldest entry is 10s old, window is 60s: next slot in 50s, plus one.
		s.Equal(51, d.RetryAfter)
	})

	s.Run("retry delay floors at one second", func() {
		for i := 0; i < testLimit; i++ {
			_, err := s.store.Take(s.ctx, "subject:floor", testLimit, testWindow)
			require.NoError(s.T(), err)
		}
		s.advance(testWindow - time.Millisecond)
		d, err := s.store.Take(s.ctx, "subject:floor", testLimit, testWindow)
		s.Require().NoError(err)
		s.False(d.Allowed)
		s.GreaterOrEqual(d.RetryAfter, 1)
	})

	s.Run("window slides, exactly one slot reopens past oldest entry", func() {
		_, err := s.store.Take(s.ctx, "subject:slide", 2, testWindow)
		s.Require().NoError(err)
		s.advance(30 * time.Second)
		_, err = s.store.Take(s.ctx, "subject:slide", 2, testWindow)
		s.Require().NoError(err)

		d, err := s.store.Take(s.ctx, "subject:slide", 2, testWindow)
		s.Require().NoError(err)
		s.False(d.Allowed)

		// Move past the first entry's expiry: one slot opens, not two.
		s.advance(31 * time.Second)
		d, err = s.store.Take(s.ctx, "subject:slide", 2, testWindow)
		s.Require().NoError(err)
		s.True(d.Allowed)

		d, err = s.store.Take(s.ctx, "subject:slide", 2, testWindow)
		s.Require().NoError(err)
		s.False(d.Allowed)
	})
}

func (s *StoreSuite) TestPeek() {
	s.Run("does not record", func() {
		for i := 0; i < 5; i++ {
			d, err := s.store.Peek(s.ctx, "subject:peek", testLimit, testWindow)
			s.Require().NoError(err)
			s.True(d.Allowed)
			s.Equal(testLimit, d.Remaining)
		}
	})

	s.Run("reflects recorded entries", func() {
		for i := 0; i < 4; i++ {
			_, err := s.store.Take(s.ctx, "subject:peek2", testLimit, testWindow)
			s.Require().NoError(err)
		}
		d, err := s.store.Peek(s.ctx, "subject:peek2", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(d.Allowed)
		s.Equal(testLimit-4, d.Remaining)
	})
}

func (s *StoreSuite) TestReset() {
	for i := 0; i < testLimit; i++ {
		_, err := s.store.Take(s.ctx, "subject:reset", testLimit, testWindow)
		s.Require().NoError(err)
	}
	d, err := s.store.Take(s.ctx, "subject:reset", testLimit, testWindow)
	s.Require().NoError(err)
	s.Require().False(d.Allowed)

	s.Require().NoError(s.store.Reset(s.ctx, "subject:reset"))

	d, err = s.store.Take(s.ctx, "subject:reset", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(d.Allowed)
	s.Equal(testLimit-1, d.Remaining)
}

// Firing k concurrent Take calls with remaining = L must never admit more
// than L total.
func TestTakeConcurrent(t *testing.T) {
	store := New()
	ctx := context.Background()

	const limit = 25
	const callers = 100

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := store.Take(ctx, "subject:concurrent", limit, time.Minute)
			require.NoError(t, err)
			if d.Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, limit, admitted)
}
