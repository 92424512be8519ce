// Package identity establishes the calling subject for governance. Identity
// arrives either as gateway-injected headers or as a bearer token; the token
// takes precedence when both are present.
package identity

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	dErrors "github.com/mercmorandi/security-governance-gatekeeper/pkg/domain-errors"
	"github.com/mercmorandi/security-governance-gatekeeper/pkg/platform/httputil"
	"github.com/mercmorandi/security-governance-gatekeeper/pkg/requestcontext"
)

// Header names injected by the fronting gateway.
const (
	HeaderUserID     = "X-User-ID"
	HeaderRole       = "X-User-Role"
	HeaderDepartment = "X-Department"
)

// Claims carried in a bearer token.
type Claims struct {
	Role       string `json:"role"`
	Department string `json:"department"`
	jwt.RegisteredClaims
}

// Middleware resolves the subject from headers or a signed token. Requests
// without any identity are rejected; role normalization happens later in the
// governance pipeline, not here.
type Middleware struct {
	secret []byte
	logger *slog.Logger
}

type Option func(*Middleware)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) {
		m.logger = logger
	}
}

// WithTokenSecret enables bearer token validation with an HMAC key. Without
// it only header identity is accepted.
func WithTokenSecret(secret []byte) Option {
	return func(m *Middleware) {
		m.secret = secret
	}
}

func New(opts ...Option) *Middleware {
	m := &Middleware{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler is the middleware entry point.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if token, ok := bearerToken(r); ok && m.secret != nil {
			claims, err := m.parseToken(token)
			if err != nil {
				if m.logger != nil {
					m.logger.WarnContext(ctx, "invalid bearer token",
						"request_id", requestcontext.RequestID(ctx),
						"error", err,
					)
				}
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "invalid or expired token"))
				return
			}
			ctx = requestcontext.WithUserID(ctx, claims.Subject)
			ctx = requestcontext.WithRole(ctx, claims.Role)
			ctx = requestcontext.WithDepartment(ctx, claims.Department)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			if m.logger != nil {
				m.logger.WarnContext(ctx, "request without identity",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
			}
			httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "caller identity required"))
			return
		}

		ctx = requestcontext.WithUserID(ctx, userID)
		ctx = requestcontext.WithRole(ctx, strings.TrimSpace(r.Header.Get(HeaderRole)))
		ctx = requestcontext.WithDepartment(ctx, strings.TrimSpace(r.Header.Get(HeaderDepartment)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) parseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("token missing subject")
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, prefix); ok && after != "" {
		return after, true
	}
	return "", false
}

// RequireRole guards privileged routes. The raw role from the context is
// matched exactly; pipeline normalization does not apply to admin surfaces.
func RequireRole(role string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if requestcontext.Role(ctx) != role {
				if logger != nil {
					logger.WarnContext(ctx, "role check failed",
						"request_id", requestcontext.RequestID(ctx),
						"required", role,
					)
				}
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
