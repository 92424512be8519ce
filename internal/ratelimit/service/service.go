// Package service decides admission per subject under the sliding window
// configured by the subject's role policy.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mercmorandi/security-governance-gatekeeper/internal/policy"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/ratelimit/metrics"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/ratelimit/models"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/ratelimit/ports"
	"github.com/mercmorandi/security-governance-gatekeeper/pkg/requestcontext"
)

// Type alias so callers can name the store interface without importing ports.
type CounterStore = ports.CounterStore

type Service struct {
	store   CounterStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(store CounterStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("counter store is required")
	}

	svc := &Service{store: store}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CheckAndRecord decides admission for one request and records it when
// admitted. A nil spec means the subject is unlimited: the sentinel decision
// is returned without touching the store.
func (s *Service) CheckAndRecord(ctx context.Context, subjectID string, spec *policy.RateLimitSpec) (*models.Decision, error) {
	if spec == nil {
		return models.Unlimited(requestcontext.Now(ctx)), nil
	}

	start := time.Now()
	decision, err := s.store.Take(ctx, subjectID, spec.RequestsPerWindow, spec.Window())
	s.observeStore(start, err)
	if err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "counter store take failed",
				"subject_id", subjectID,
				"error", err,
			)
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordDecision(decision.Allowed)
	}
	if !decision.Allowed && s.logger != nil {
		s.logger.InfoContext(ctx, "quota exceeded",
			"subject_id", subjectID,
			"limit", decision.Limit,
			"retry_after", decision.RetryAfter,
		)
	}
	return decision, nil
}

// Peek reports the subject's current window state without recording.
func (s *Service) Peek(ctx context.Context, subjectID string, spec *policy.RateLimitSpec) (*models.Decision, error) {
	if spec == nil {
		return models.Unlimited(requestcontext.Now(ctx)), nil
	}

	start := time.Now()
	decision, err := s.store.Peek(ctx, subjectID, spec.RequestsPerWindow, spec.Window())
	s.observeStore(start, err)
	if err != nil {
		return nil, err
	}
	return decision, nil
}

// Reset clears the subject's counter. Admin operation.
func (s *Service) Reset(ctx context.Context, subjectID string) error {
	return s.store.Reset(ctx, subjectID)
}

func (s *Service) observeStore(start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.StoreLatencyMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	if err != nil {
		s.metrics.StoreErrors.Inc()
	}
}
