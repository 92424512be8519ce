package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	dErrors "github.com/mercmorandi/security-governance-gatekeeper/pkg/domain-errors"
	"github.com/mercmorandi/security-governance-gatekeeper/pkg/platform/httputil"
)

// DemoHandler serves sample AI responses seeded with sensitive data so the
// governance pipeline can be exercised end to end. The handlers themselves
// return raw text; redaction happens in the pipeline based on the caller's
// role.
type DemoHandler struct {
	logger *slog.Logger
}

func NewDemoHandler(logger *slog.Logger) *DemoHandler {
	return &DemoHandler{logger: logger}
}

func (h *DemoHandler) Register(r chi.Router) {
	r.Get("/demo/english", h.handleEnglish)
	r.Get("/demo/italian", h.handleItalian)
	r.Post("/demo/custom", h.handleCustom)
	r.Get("/demo/clean", h.handleClean)
	r.Get("/demo/languages", h.handleLanguages)
}

type demoResponse struct {
	Query      string  `json:"query"`
	Response   string  `json:"response"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model"`
}

func (h *DemoHandler) handleEnglish(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, demoResponse{
		Query: "What are the customer's contact details?",
		Response: "Based on our records, the customer John Smith can be contacted at " +
			"john.smith@example.com or by phone at +1 (555) 123-4567. " +
			"He lives at 123 Main Street, New York, NY 10001.",
		Language:   "en",
		Confidence: 0.95,
		Model:      "gpt-4",
	})
}

func (h *DemoHandler) handleItalian(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, demoResponse{
		Query: "Quali sono i dati di contatto del cliente?",
		Response: "In base ai nostri archivi, il cliente Marco Rossi può essere contattato " +
			"all'indirizzo marco.rossi@example.it oppure al telefono +39 02 1234567. " +
			"Il suo codice fiscale è RSSMRC85M01H501Z. " +
			"Risiede in Via Roma 42, 00100 Roma.",
		Language:   "it",
		Confidence: 0.95,
		Model:      "gpt-4",
	})
}

type customTextRequest struct {
	Text string `json:"text"`
}

func (h *DemoHandler) handleCustom(w http.ResponseWriter, r *http.Request) {
	var req customTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "text is required"))
		return
	}

	language := r.URL.Query().Get("language")
	if language == "" {
		language = "en"
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"original_text": req.Text,
		"language":      language,
	})
}

func (h *DemoHandler) handleClean(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, demoResponse{
		Query:      "Summarize the quarterly report.",
		Response:   "The quarterly report shows steady growth across all product lines.",
		Language:   "en",
		Confidence: 0.95,
		Model:      "gpt-4",
	})
}

func (h *DemoHandler) handleLanguages(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"supported_languages": []map[string]string{
			{"code": "en", "name": "English"},
			{"code": "it", "name": "Italian"},
		},
	})
}
