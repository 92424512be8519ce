package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Emitter decouples the request path from sink availability. Emit never
// blocks; a background loop drains the inbox into the sink and fans out to
// an optional publisher. When the inbox is full the record is dropped and
// logged, never queued against the caller.
type Emitter struct {
	sink      Sink
	publisher Publisher
	inbox     chan Record
	logger    *slog.Logger
	timeout   time.Duration
}

type EmitterOption func(*Emitter)

func WithLogger(logger *slog.Logger) EmitterOption {
	return func(e *Emitter) {
		e.logger = logger
	}
}

// WithPublisher adds a best-effort stream fan-out alongside the sink.
func WithPublisher(p Publisher) EmitterOption {
	return func(e *Emitter) {
		e.publisher = p
	}
}

// WithAppendTimeout bounds each sink append.
func WithAppendTimeout(d time.Duration) EmitterOption {
	return func(e *Emitter) {
		e.timeout = d
	}
}

func NewEmitter(sink Sink, buffer int, opts ...EmitterOption) (*Emitter, error) {
	if sink == nil {
		return nil, errors.New("audit sink is required")
	}
	if buffer <= 0 {
		buffer = 1024
	}

	e := &Emitter{
		sink:    sink,
		inbox:   make(chan Record, buffer),
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Emit queues a record for persistence. Non-blocking by contract: the
// response must never wait on the audit path.
func (e *Emitter) Emit(ctx context.Context, record Record) {
	select {
	case e.inbox <- record:
	default:
		if e.logger != nil {
			e.logger.ErrorContext(ctx, "audit inbox full, record dropped",
				"record_id", record.ID,
				"user_id", record.UserID,
			)
		}
	}
}

// Run drains the inbox until ctx is cancelled, then flushes whatever is
// still queued. Sink failures are logged and skipped; the loop never stops
// because persistence is degraded.
func (e *Emitter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.flush()
			return ctx.Err()
		case record := <-e.inbox:
			e.persist(ctx, record)
		}
	}
}

func (e *Emitter) persist(ctx context.Context, record Record) {
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	if _, err := e.sink.Append(appendCtx, record); err != nil && e.logger != nil {
		e.logger.ErrorContext(ctx, "audit append failed",
			"record_id", record.ID,
			"user_id", record.UserID,
			"error", err,
		)
	}
	if e.publisher != nil {
		e.publisher.Publish(appendCtx, record)
	}
}

func (e *Emitter) flush() {
	for {
		select {
		case record := <-e.inbox:
			e.persist(context.Background(), record)
		default:
			return
		}
	}
}
