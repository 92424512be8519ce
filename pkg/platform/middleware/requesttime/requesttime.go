// Package requesttime pins a single "now" per HTTP request. Quota windows,
// audit timestamps, and rate limit resets within one request all read the
// same instant via requestcontext.Now.
package requesttime

import (
	"net/http"
	"time"

	"github.com/mercmorandi/security-governance-gatekeeper/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request and stores
// it in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
