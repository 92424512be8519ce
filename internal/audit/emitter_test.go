package audit_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mercmorandi/security-governance-gatekeeper/internal/audit"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/audit/store/memory"
)

func newRecord(userID string) audit.Record {
	return audit.Record{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		UserID:    userID,
		Role:      "junior_intern",
		Endpoint:  "/demo/english",
		Method:    "GET",
	}
}

func TestEmitterPersistsRecords(t *testing.T) {
	store := memory.New()
	emitter, err := audit.NewEmitter(store, 16,
		audit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- emitter.Run(ctx) }()

	for i := 0; i < 5; i++ {
		emitter.Emit(ctx, newRecord("alice"))
	}

	require.Eventually(t, func() bool { return store.Len() == 5 },
		2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestEmitterFlushesOnShutdown(t *testing.T) {
	store := memory.New()
	emitter, err := audit.NewEmitter(store, 64)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 10; i++ {
		emitter.Emit(ctx, newRecord("bob"))
	}

	// Cancel before the loop starts: Run must still drain the inbox.
	cancel()
	require.ErrorIs(t, emitter.Run(ctx), context.Canceled)
	require.Equal(t, 10, store.Len())
}

func TestEmitterNeverBlocksWhenFull(t *testing.T) {
	store := memory.New()
	emitter, err := audit.NewEmitter(store, 1,
		audit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	// No Run loop draining: every Emit beyond the buffer must return
	// immediately instead of waiting for space.
	ctx := context.Background()
	doneCh := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			emitter.Emit(ctx, newRecord("carol"))
		}
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full inbox")
	}
}

type flakySink struct {
	mu    sync.Mutex
	calls int
	inner *memory.Store
}

func (f *flakySink) Append(ctx context.Context, record audit.Record) (string, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls%2 == 1
	f.mu.Unlock()
	if fail {
		return "", errors.New("sink unavailable")
	}
	return f.inner.Append(ctx, record)
}

func (f *flakySink) QueryByUser(ctx context.Context, userID string, limit int) ([]audit.Record, error) {
	return f.inner.QueryByUser(ctx, userID, limit)
}

func (f *flakySink) AggregateByDepartment(ctx context.Context, start, end time.Time) ([]audit.DepartmentUsage, error) {
	return f.inner.AggregateByDepartment(ctx, start, end)
}

func TestEmitterSurvivesSinkFailures(t *testing.T) {
	sink := &flakySink{inner: memory.New()}
	emitter, err := audit.NewEmitter(sink, 16,
		audit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = emitter.Run(ctx) }()

	for i := 0; i < 6; i++ {
		emitter.Emit(ctx, newRecord("dave"))
	}

	// Every other append fails; the loop keeps going and lands the rest.
	require.Eventually(t, func() bool { return sink.inner.Len() == 3 },
		2*time.Second, 10*time.Millisecond)
}

func TestNewEmitterRequiresSink(t *testing.T) {
	_, err := audit.NewEmitter(nil, 8)
	require.Error(t, err)
}
