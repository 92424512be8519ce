// Package httptransport wires the HTTP surface: public probes, the governed
// demo routes, and the admin audit API.
package httptransport

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mercmorandi/security-governance-gatekeeper/internal/audit"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/gatekeeper"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/policy"
	"github.com/mercmorandi/security-governance-gatekeeper/pkg/platform/httputil"
	"github.com/mercmorandi/security-governance-gatekeeper/pkg/platform/middleware/identity"
	"github.com/mercmorandi/security-governance-gatekeeper/pkg/platform/middleware/metadata"
	"github.com/mercmorandi/security-governance-gatekeeper/pkg/platform/middleware/requesttime"
)

// RouterDeps carries everything the router needs. All fields are required.
type RouterDeps struct {
	Logger   *slog.Logger
	Pipeline *gatekeeper.Pipeline
	Identity *identity.Middleware
	Sink     audit.Sink
}

func NewRouter(deps RouterDeps) (http.Handler, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if deps.Identity == nil {
		return nil, errors.New("identity middleware is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("audit sink is required")
	}

	r := chi.NewRouter()
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)

	// Public surface: no identity, no governance.
	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Governed surface: identity, then the full pipeline.
	r.Group(func(g chi.Router) {
		g.Use(deps.Identity.Handler)
		g.Use(deps.Pipeline.Handler)
		NewDemoHandler(deps.Logger).Register(g)
	})

	// Admin surface: identity and an exact role check, outside the pipeline
	// so audit reads are never themselves redacted or rate limited.
	r.Group(func(g chi.Router) {
		g.Use(deps.Identity.Handler)
		g.Use(identity.RequireRole(string(policy.RoleAdmin), deps.Logger))
		NewAuditHandler(deps.Sink, deps.Logger).Register(g)
	})

	return r, nil
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
