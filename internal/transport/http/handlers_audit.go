package httptransport

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mercmorandi/security-governance-gatekeeper/internal/audit"
	dErrors "github.com/mercmorandi/security-governance-gatekeeper/pkg/domain-errors"
	"github.com/mercmorandi/security-governance-gatekeeper/pkg/platform/httputil"
	"github.com/mercmorandi/security-governance-gatekeeper/pkg/requestcontext"
)

// AuditHandler exposes the admin read surface over persisted audit records.
type AuditHandler struct {
	sink   audit.Sink
	logger *slog.Logger
	now    func() time.Time
}

func NewAuditHandler(sink audit.Sink, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{sink: sink, logger: logger, now: time.Now}
}

func (h *AuditHandler) Register(r chi.Router) {
	r.Get("/admin/audit/logs/{userID}", h.handleLogsByUser)
	r.Get("/admin/audit/usage-by-department", h.handleUsageByDepartment)
}

func (h *AuditHandler) handleLogsByUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	limit, err := boundedIntQuery(r, "limit", 50, 1, 100)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, err := h.sink.QueryByUser(ctx, userID, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "query audit logs failed",
			"user_id", userID,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "query audit logs"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"entries": records,
		"count":   len(records),
	})
}

func (h *AuditHandler) handleUsageByDepartment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	days, err := boundedIntQuery(r, "days", 7, 1, 30)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	end := h.now().UTC()
	start := end.AddDate(0, 0, -days)

	usage, err := h.sink.AggregateByDepartment(ctx, start, end)
	if err != nil {
		h.logger.ErrorContext(ctx, "aggregate usage failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "aggregate usage"))
		return
	}
	if usage == nil {
		usage = []audit.DepartmentUsage{}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"period": map[string]string{
			"start": start.Format(time.RFC3339),
			"end":   end.Format(time.RFC3339),
		},
		"departments": usage,
	})
}

func boundedIntQuery(r *http.Request, name string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		return 0, dErrors.Newf(dErrors.CodeBadRequest,
			"%s must be an integer between %d and %d", name, min, max)
	}
	return v, nil
}
