package gatekeeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mercmorandi/security-governance-gatekeeper/internal/audit"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/policy"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/ratelimit/models"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/ratelimit/service"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/ratelimit/store/memory"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/redaction"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/redaction/detector"
	"github.com/mercmorandi/security-governance-gatekeeper/pkg/requestcontext"
)

func requestContextFor(ctx context.Context, userID, role string) context.Context {
	ctx = requestcontext.WithUserID(ctx, userID)
	ctx = requestcontext.WithRole(ctx, role)
	return requestcontext.WithDepartment(ctx, "research")
}

const testPolicies = `
roles:
  admin:
    pii_redaction_enabled: false
  junior_intern:
    pii_redaction_enabled: true
    rate_limit:
      requests_per_hour: 3
      window_seconds: 60
`

// captureEmitter records emissions synchronously for assertions.
type captureEmitter struct {
	mu      sync.Mutex
	records []audit.Record
}

func (e *captureEmitter) Emit(_ context.Context, record audit.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, record)
}

func (e *captureEmitter) all() []audit.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]audit.Record{}, e.records...)
}

type PipelineSuite struct {
	suite.Suite
	registry *policy.Registry
	emitter  *captureEmitter
	pipeline *Pipeline
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupTest() {
	path := filepath.Join(s.T().TempDir(), "roles.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(testPolicies), 0o600))

	registry, err := policy.Load(path)
	s.Require().NoError(err)
	s.registry = registry

	limiter, err := service.New(memory.New())
	s.Require().NoError(err)

	orchestrator, err := redaction.New(detector.NewEngine())
	s.Require().NoError(err)

	s.emitter = &captureEmitter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.pipeline, err = New(
		registry,
		policy.NewNormalizer(map[string]string{"intern": "junior_intern"}, policy.RoleJuniorIntern),
		limiter,
		orchestrator,
		audit.NewAssembler(),
		s.emitter,
		WithLogger(logger),
	)
	s.Require().NoError(err)
}

func (s *PipelineSuite) serve(handler http.Handler, userID, role string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/demo/english", nil)
	ctx := req.Context()
	ctx = requestContextFor(ctx, userID, role)
	rec := httptest.NewRecorder()
	s.pipeline.Handler(handler).ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func jsonHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})
}

func (s *PipelineSuite) TestRedactedAndThenRejected() {
	handler := jsonHandler(`{"message": "contact me at a@b.com"}`)

	// Limit is 3 per 60s: three admitted and redacted, the fourth rejected.
	for i := 0; i < 3; i++ {
		rec := s.serve(handler, "u-1", "junior_intern")
		s.Require().Equal(http.StatusOK, rec.Code, "request %d", i+1)

		var payload map[string]string
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &payload))
		s.Equal("contact me at [REDACTED_EMAIL]", payload["message"])
		s.Equal(fmt.Sprint(rec.Body.Len()), rec.Header().Get("Content-Length"))
	}

	rec := s.serve(handler, "u-1", "junior_intern")
	s.Require().Equal(http.StatusTooManyRequests, rec.Code)

	var rejection struct {
		Error             string `json:"error"`
		RetryAfterSeconds int    `json:"retry_after_seconds"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &rejection))
	s.Equal("rate_limit_exceeded", rejection.Error)
	s.GreaterOrEqual(rejection.RetryAfterSeconds, 1)
	s.LessOrEqual(rejection.RetryAfterSeconds, 60)
	s.Equal(fmt.Sprint(rejection.RetryAfterSeconds), rec.Header().Get("Retry-After"))
	s.Equal("3", rec.Header().Get("X-RateLimit-Limit"))

	records := s.emitter.all()
	s.Require().Len(records, 4, "exactly one audit record per request")
	for _, r := range records[:3] {
		s.True(r.PIIDetected)
		s.Equal(1, r.PIICount)
		s.Equal([]string{string(redaction.KindEmail)}, r.PIIKinds)
		s.Equal(http.StatusOK, r.StatusCode)
		s.Empty(r.ViolationKind)
	}
	rejected := records[3]
	s.Equal(audit.ViolationRateLimit, rejected.ViolationKind)
	s.Equal("rate_limit_violation", rejected.Action)
	s.Equal(http.StatusTooManyRequests, rejected.StatusCode)
	s.False(rejected.PIIDetected)
	s.Require().NotNil(rejected.RateLimitRemaining)
	s.Equal(0, *rejected.RateLimitRemaining)
}

func (s *PipelineSuite) TestNonStructuredResponsePassesThrough() {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("contact me at a@b.com"))
	})

	rec := s.serve(handler, "u-2", "junior_intern")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal("contact me at a@b.com", rec.Body.String())

	records := s.emitter.all()
	s.Require().Len(records, 1)
	s.False(records[0].PIIDetected)
	s.Zero(records[0].PIICount)
}

func (s *PipelineSuite) TestMalformedJSONPassesThrough() {
	handler := jsonHandler(`{"broken": `)

	rec := s.serve(handler, "u-3", "junior_intern")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(`{"broken": `, rec.Body.String())

	records := s.emitter.all()
	s.Require().Len(records, 1)
	s.False(records[0].PIIDetected)
}

func (s *PipelineSuite) TestPrivilegedRoleSkipsRedaction() {
	handler := jsonHandler(`{"message": "contact me at a@b.com"}`)

	rec := s.serve(handler, "u-4", "admin")
	s.Require().Equal(http.StatusOK, rec.Code)

	var payload map[string]string
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &payload))
	s.Equal("contact me at a@b.com", payload["message"])

	records := s.emitter.all()
	s.Require().Len(records, 1)
	s.Equal("admin", records[0].Role)
	s.False(records[0].PIIDetected)
	s.Require().NotNil(records[0].RateLimitRemaining)
	s.Equal(models.UnlimitedSentinel, *records[0].RateLimitRemaining)
}

func (s *PipelineSuite) TestUnknownRoleGetsMostRestrictivePolicy() {
	handler := jsonHandler(`{"message": "contact me at a@b.com"}`)

	rec := s.serve(handler, "u-5", "chief_vibes_officer")
	s.Require().Equal(http.StatusOK, rec.Code)

	var payload map[string]string
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &payload))
	s.Equal("contact me at [REDACTED_EMAIL]", payload["message"])

	records := s.emitter.all()
	s.Require().Len(records, 1)
	s.Equal("junior_intern", records[0].Role)
}

func (s *PipelineSuite) TestRoleAliasNormalization() {
	handler := jsonHandler(`{"message": "hi"}`)

	rec := s.serve(handler, "u-6", "intern")
	s.Require().Equal(http.StatusOK, rec.Code)

	records := s.emitter.all()
	s.Require().Len(records, 1)
	s.Equal("junior_intern", records[0].Role)
}

func (s *PipelineSuite) TestExcludedPathsBypassGovernance() {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	for _, path := range []string{"/health", "/metrics", "/admin/audit/logs/u-1"} {
		called = false
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.pipeline.Handler(handler).ServeHTTP(rec, req)
		s.True(called, "handler must run for %s", path)
	}

	s.Empty(s.emitter.all(), "excluded paths are not audited")
}

func (s *PipelineSuite) TestAuditCarriesRequestFacts() {
	handler := jsonHandler(`{"ok": true}`)

	req := httptest.NewRequest(http.MethodPost, "/demo/custom", nil)
	ctx := requestContextFor(req.Context(), "u-7", "junior_intern")
	rec := httptest.NewRecorder()
	s.pipeline.Handler(handler).ServeHTTP(rec, req.WithContext(ctx))

	records := s.emitter.all()
	s.Require().Len(records, 1)
	r := records[0]
	s.Equal("POST /demo/custom", r.Action)
	s.Equal("/demo/custom", r.Endpoint)
	s.Equal("POST", r.Method)
	s.Equal(int64(rec.Body.Len()), r.ResponseSize)
	s.Equal("research", r.Department)
	s.NotEmpty(r.ID)
}

// failingStore simulates an unreachable counter store.
type failingStore struct{}

func (failingStore) Take(context.Context, string, int, time.Duration) (*models.Decision, error) {
	return nil, errors.New("store unreachable")
}

func (failingStore) Peek(context.Context, string, int, time.Duration) (*models.Decision, error) {
	return nil, errors.New("store unreachable")
}

func (failingStore) Reset(context.Context, string) error {
	return errors.New("store unreachable")
}

func TestStoreOutagePolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testPolicies), 0o600))
	registry, err := policy.Load(path)
	require.NoError(t, err)

	newPipeline := func(t *testing.T, failOpen bool) (*Pipeline, *captureEmitter) {
		limiter, err := service.New(failingStore{})
		require.NoError(t, err)
		orchestrator, err := redaction.New(detector.NewEngine())
		require.NoError(t, err)

		emitter := &captureEmitter{}
		p, err := New(
			registry,
			policy.NewNormalizer(nil, policy.RoleJuniorIntern),
			limiter,
			orchestrator,
			audit.NewAssembler(),
			emitter,
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			WithFailOpen(failOpen),
		)
		require.NoError(t, err)
		return p, emitter
	}

	handler := jsonHandler(`{"ok": true}`)

	t.Run("fail-closed rejects with 503 and audits", func(t *testing.T) {
		p, emitter := newPipeline(t, false)

		req := httptest.NewRequest(http.MethodGet, "/demo/english", nil)
		req = req.WithContext(requestContextFor(req.Context(), "u-8", "junior_intern"))
		rec := httptest.NewRecorder()
		p.Handler(handler).ServeHTTP(rec, req)

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		records := emitter.all()
		require.Len(t, records, 1)
		require.Equal(t, audit.ViolationQuotaUnavailable, records[0].ViolationKind)
	})

	t.Run("fail-open admits and audits without quota facts", func(t *testing.T) {
		p, emitter := newPipeline(t, true)

		req := httptest.NewRequest(http.MethodGet, "/demo/english", nil)
		req = req.WithContext(requestContextFor(req.Context(), "u-9", "junior_intern"))
		rec := httptest.NewRecorder()
		p.Handler(handler).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		records := emitter.all()
		require.Len(t, records, 1)
		require.Nil(t, records[0].RateLimitRemaining)
		require.Empty(t, records[0].ViolationKind)
	})
}

func TestNewValidatesDependencies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testPolicies), 0o600))
	registry, err := policy.Load(path)
	require.NoError(t, err)

	limiter, err := service.New(memory.New())
	require.NoError(t, err)
	orchestrator, err := redaction.New(detector.NewEngine())
	require.NoError(t, err)
	normalizer := policy.NewNormalizer(nil, policy.RoleJuniorIntern)
	assembler := audit.NewAssembler()
	emitter := &captureEmitter{}

	_, err = New(nil, normalizer, limiter, orchestrator, assembler, emitter)
	require.Error(t, err)
	_, err = New(registry, nil, limiter, orchestrator, assembler, emitter)
	require.Error(t, err)
	_, err = New(registry, normalizer, nil, orchestrator, assembler, emitter)
	require.Error(t, err)
	_, err = New(registry, normalizer, limiter, nil, assembler, emitter)
	require.Error(t, err)
	_, err = New(registry, normalizer, limiter, orchestrator, nil, emitter)
	require.Error(t, err)
	_, err = New(registry, normalizer, limiter, orchestrator, assembler, nil)
	require.Error(t, err)
}
