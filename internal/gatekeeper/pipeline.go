// Package gatekeeper runs the governance pipeline around every protected
// request: resolve the caller's policy, decide admission, redact the
// response when required, and emit exactly one audit record per terminal
// outcome.
package gatekeeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mercmorandi/security-governance-gatekeeper/internal/audit"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/gatekeeper/metrics"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/policy"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/ratelimit/models"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/ratelimit/service"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/redaction"
	dErrors "github.com/mercmorandi/security-governance-gatekeeper/pkg/domain-errors"
	"github.com/mercmorandi/security-governance-gatekeeper/pkg/requestcontext"
)

// Emitter queues audit records without blocking the response path.
type Emitter interface {
	Emit(ctx context.Context, record audit.Record)
}

type Pipeline struct {
	registry     *policy.Registry
	normalizer   *policy.Normalizer
	limiter      *service.Service
	orchestrator *redaction.Orchestrator
	assembler    *audit.Assembler
	emitter      Emitter

	logger  *slog.Logger
	metrics *metrics.Metrics

	storeTimeout     time.Duration
	failOpen         bool
	excludedPaths    map[string]struct{}
	excludedPrefixes []string
}

type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithStoreTimeout bounds each counter store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.storeTimeout = d
	}
}

// WithFailOpen admits requests when the counter store is unreachable. The
// default is fail-closed: availability problems never widen quota.
func WithFailOpen(failOpen bool) Option {
	return func(p *Pipeline) {
		p.failOpen = failOpen
	}
}

// WithExcludedPaths replaces the exact-match exclusion set.
func WithExcludedPaths(paths ...string) Option {
	return func(p *Pipeline) {
		p.excludedPaths = make(map[string]struct{}, len(paths))
		for _, path := range paths {
			p.excludedPaths[path] = struct{}{}
		}
	}
}

// WithExcludedPrefixes replaces the prefix exclusion set.
func WithExcludedPrefixes(prefixes ...string) Option {
	return func(p *Pipeline) {
		p.excludedPrefixes = prefixes
	}
}

func New(
	registry *policy.Registry,
	normalizer *policy.Normalizer,
	limiter *service.Service,
	orchestrator *redaction.Orchestrator,
	assembler *audit.Assembler,
	emitter Emitter,
	opts ...Option,
) (*Pipeline, error) {
	if registry == nil {
		return nil, errors.New("policy registry is required")
	}
	if normalizer == nil {
		return nil, errors.New("role normalizer is required")
	}
	if limiter == nil {
		return nil, errors.New("rate limiter is required")
	}
	if orchestrator == nil {
		return nil, errors.New("redaction orchestrator is required")
	}
	if assembler == nil {
		return nil, errors.New("audit assembler is required")
	}
	if emitter == nil {
		return nil, errors.New("audit emitter is required")
	}

	p := &Pipeline{
		registry:     registry,
		normalizer:   normalizer,
		limiter:      limiter,
		orchestrator: orchestrator,
		assembler:    assembler,
		emitter:      emitter,
		storeTimeout: 2 * time.Second,
		excludedPaths: map[string]struct{}{
			"/health":  {},
			"/metrics": {},
		},
		excludedPrefixes: []string{"/admin/audit"},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Handler wires the pipeline around the downstream handler.
func (p *Pipeline) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		start := time.Now()

		pol := p.resolvePolicy(ctx)
		subject := audit.Subject{
			UserID:     requestcontext.UserID(ctx),
			Role:       string(pol.Role),
			Department: requestcontext.Department(ctx),
		}
		reqFacts := audit.RequestFacts{
			Action:      r.Method + " " + r.URL.Path,
			Endpoint:    r.URL.Path,
			Method:      r.Method,
			RequestSize: max(r.ContentLength, 0),
			ClientIP:    requestcontext.ClientIP(ctx),
			UserAgent:   requestcontext.UserAgent(ctx),
		}

		decision, err := p.checkQuota(ctx, subject.UserID, pol)
		if err != nil {
			p.rejectUnavailable(ctx, w, subject, reqFacts, start)
			return
		}
		if decision != nil && !decision.Allowed {
			p.rejectOverQuota(ctx, w, subject, reqFacts, pol, decision, start)
			return
		}

		rec := newRecorder(w)
		next.ServeHTTP(rec, r.WithContext(ctx))

		body, outcome := p.processResponse(ctx, pol, rec)

		latency := latencyMs(start)
		p.observe("forwarded", latency)
		record := p.assembler.Build(subject, reqFacts, decision, outcome, audit.ResponseFacts{
			ResponseSize: int64(len(body)),
			LatencyMs:    latency,
			StatusCode:   rec.status(),
		}, nil)
		p.emitter.Emit(ctx, record)

		writeBuffered(w, rec.status(), body)
	})
}

// resolvePolicy maps the raw caller role to a governed policy. Unknown roles
// land on the most restrictive known policy, never on a failure.
func (p *Pipeline) resolvePolicy(ctx context.Context) policy.Policy {
	role := p.normalizer.Normalize(requestcontext.Role(ctx), p.registry.Has)
	pol, err := p.registry.Get(role)
	if err == nil {
		return pol
	}

	pol = p.registry.MostRestrictive()
	if p.logger != nil {
		p.logger.WarnContext(ctx, "role resolved to most restrictive policy",
			"raw_role", requestcontext.Role(ctx),
			"effective_role", pol.Role,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return pol
}

// checkQuota returns the admission decision, or an error only when the store
// failed and the pipeline runs fail-closed.
func (p *Pipeline) checkQuota(ctx context.Context, subjectID string, pol policy.Policy) (*models.Decision, error) {
	if !pol.HasRateLimit() {
		return models.Unlimited(requestcontext.Now(ctx)), nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()

	decision, err := p.limiter.CheckAndRecord(storeCtx, subjectID, pol.RateLimit)
	if err == nil {
		return decision, nil
	}

	if p.metrics != nil {
		p.metrics.StoreFailures.Inc()
	}
	if p.failOpen {
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "counter store unavailable, admitting fail-open",
				"subject_id", subjectID,
				"error", err,
			)
		}
		return nil, nil
	}
	if p.logger != nil {
		p.logger.ErrorContext(ctx, "counter store unavailable, rejecting fail-closed",
			"subject_id", subjectID,
			"error", err,
		)
	}
	return nil, err
}

// processResponse applies redaction when the policy requires it and the body
// is structured. Malformed downstream output passes through untouched with
// an empty outcome; the request never fails because of it.
func (p *Pipeline) processResponse(ctx context.Context, pol policy.Policy, rec *recorder) ([]byte, *redaction.Outcome) {
	body := rec.body.Bytes()
	if !pol.RedactionEnabled || len(body) == 0 || !isStructured(rec.contentType()) {
		return body, nil
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		if p.logger != nil {
			p.logger.DebugContext(ctx, "response not parseable, redaction skipped",
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return body, nil
	}

	redacted, outcome, err := p.orchestrator.Process(ctx, payload, nil)
	if err != nil {
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "redaction failed, returning original response",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
		return body, nil
	}

	encoded, err := json.Marshal(redacted)
	if err != nil {
		return body, nil
	}

	if p.metrics != nil && outcome.Detected {
		p.metrics.Redactions.Inc()
		p.metrics.PIIEntities.Add(float64(outcome.Count))
	}
	return encoded, &outcome
}

func (p *Pipeline) rejectOverQuota(
	ctx context.Context,
	w http.ResponseWriter,
	subject audit.Subject,
	reqFacts audit.RequestFacts,
	pol policy.Policy,
	decision *models.Decision,
	start time.Time,
) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))

	body, _ := json.Marshal(map[string]any{
		"error":               string(dErrors.CodeRateLimited),
		"error_description":   "request quota exceeded for role " + subject.Role,
		"retry_after_seconds": decision.RetryAfter,
	})
	w.Header().Set("Content-Type", "application/json")
	writeBuffered(w, http.StatusTooManyRequests, body)

	latency := latencyMs(start)
	p.observe("rejected", latency)

	reqFacts.Action = "rate_limit_violation"
	record := p.assembler.Build(subject, reqFacts, decision, nil, audit.ResponseFacts{
		ResponseSize: int64(len(body)),
		LatencyMs:    latency,
		StatusCode:   http.StatusTooManyRequests,
	}, &audit.Violation{
		Kind:    audit.ViolationRateLimit,
		Details: fmt.Sprintf("limit %d per %ds", pol.RateLimit.RequestsPerWindow, pol.RateLimit.WindowSeconds),
	})
	p.emitter.Emit(ctx, record)
}

func (p *Pipeline) rejectUnavailable(
	ctx context.Context,
	w http.ResponseWriter,
	subject audit.Subject,
	reqFacts audit.RequestFacts,
	start time.Time,
) {
	body, _ := json.Marshal(map[string]any{
		"error":             string(dErrors.CodeUnavailable),
		"error_description": "quota check unavailable",
	})
	w.Header().Set("Content-Type", "application/json")
	writeBuffered(w, http.StatusServiceUnavailable, body)

	latency := latencyMs(start)
	p.observe("fail_closed", latency)

	record := p.assembler.Build(subject, reqFacts, nil, nil, audit.ResponseFacts{
		ResponseSize: int64(len(body)),
		LatencyMs:    latency,
		StatusCode:   http.StatusServiceUnavailable,
	}, &audit.Violation{
		Kind:    audit.ViolationQuotaUnavailable,
		Details: "counter store unreachable under fail-closed policy",
	})
	p.emitter.Emit(ctx, record)
}

func (p *Pipeline) excluded(path string) bool {
	if _, ok := p.excludedPaths[path]; ok {
		return true
	}
	for _, prefix := range p.excludedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (p *Pipeline) observe(outcome string, latency float64) {
	if p.metrics == nil {
		return
	}
	p.metrics.Requests.WithLabelValues(outcome).Inc()
	p.metrics.LatencyMs.Observe(latency)
}

func latencyMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

func writeBuffered(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func isStructured(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
