package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	dErrors "apiguard/pkg/domain-errors"
	"apiguard/pkg/platform/httputil"

	"apiguard/internal/guard"
)

// leadSchema validates lead creation bodies.
var leadSchema = guard.MustCompileSchema("lead-create", `{
	"type": "object",
	"required": ["name", "email"],
	"properties": {
		"name": {"type": "string", "minLength": 1, "maxLength": 200},
		"email": {"type": "string", "minLength": 3, "maxLength": 320},
		"company": {"type": "string", "maxLength": 200},
		"score": {"type": "integer", "minimum": 0, "maximum": 100}
	},
	"additionalProperties": false
}`)

// outreachSchema validates outreach generation requests.
var outreachSchema = guard.MustCompileSchema("outreach-generate", `{
	"type": "object",
	"required": ["leadId", "tone"],
	"properties": {
		"leadId": {"type": "string", "minLength": 1},
		"tone": {"type": "string", "enum": ["formal", "casual", "direct"]},
		"maxWords": {"type": "integer", "minimum": 10, "maximum": 500}
	},
	"additionalProperties": false
}`)

// handler shapes responses for the product routes. Business logic lives
// behind these stubs and is out of scope here; the interesting work already
// happened in the guard.
type handler struct {
	logger *slog.Logger
}

func newHandler(logger *slog.Logger) *handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &handler{logger: logger}
}

func (h *handler) handleListLeads(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	httputil.WriteData(w, r, http.StatusOK, map[string]any{
		"leads": []any{},
		"owner": gc.UserID,
	})
}

func (h *handler) handleCreateLead(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	httputil.WriteData(w, r, http.StatusCreated, map[string]any{
		"lead":      gc.ParsedBody,
		"createdBy": gc.UserID,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handler) handleGetLead(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	httputil.WriteData(w, r, http.StatusOK, map[string]any{
		"id":    chi.URLParam(r, "id"),
		"owner": gc.UserID,
	})
}

func (h *handler) handleUpdateLead(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	httputil.WriteData(w, r, http.StatusOK, map[string]any{
		"id":      chi.URLParam(r, "id"),
		"changes": gc.ParsedBody,
	})
}

func (h *handler) handleDeleteLead(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	httputil.WriteData(w, r, http.StatusOK, map[string]any{
		"id":      chi.URLParam(r, "id"),
		"deleted": true,
	})
}

func (h *handler) handleGenerateOutreach(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	httputil.WriteData(w, r, http.StatusAccepted, map[string]any{
		"status":  "queued",
		"request": gc.ParsedBody,
	})
}

func (h *handler) handleBillingWebhook(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	h.logger.Info("billing webhook accepted",
		slog.String("request_id", gc.RequestID),
		slog.Int("bytes", len(gc.Body)))
	httputil.WriteData(w, r, http.StatusOK, map[string]any{"received": true})
}

func (h *handler) handleDailyDigest(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	httputil.WriteData(w, r, http.StatusAccepted, map[string]any{
		"job":       "daily-digest",
		"scheduled": true,
	})
}

func (h *handler) handleDevSeed(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	httputil.WriteData(w, r, http.StatusOK, map[string]any{"seeded": true})
}

func (h *handler) handleNotFound(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	httputil.WriteError(w, r, dErrors.New(dErrors.CodeNotFound, "Not found."))
}
