// Package httptransport wires the product routes through the guard pipeline.
// Handlers here are thin: the guard has already enforced policy, so they only
// shape envelope responses.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	dErrors "apiguard/pkg/domain-errors"
	"apiguard/pkg/platform/httputil"
	"apiguard/pkg/platform/middleware/metadata"
	"apiguard/pkg/platform/middleware/requestid"

	"apiguard/internal/guard"
	"apiguard/internal/security/webhook"
)

// HealthChecker probes one dependency for the health endpoint.
type HealthChecker func(ctx context.Context) error

// Deps are the composed dependencies the router needs.
type Deps struct {
	Guard           *guard.Guard
	Logger          *slog.Logger
	WebhookVerifier webhook.Verifier

	// Health maps a dependency name to its probe. Nil entries are skipped.
	Health map[string]HealthChecker
}

// NewRouter builds the full route table. Every product route goes through
// the guard; only health and metrics bypass it.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.RequestID)
	r.Use(metadata.ClientMetadata)

	h := newHandler(d.Logger)
	g := d.Guard

	r.Get("/healthz", h.handleHealth(d.Health))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/api/leads", g.Handle(h.handleListLeads))
	r.Post("/api/leads", g.Handle(h.handleCreateLead, guard.WithSchema(leadSchema)))
	r.Get("/api/leads/{id}", g.Handle(h.handleGetLead))
	r.Patch("/api/leads/{id}", g.Handle(h.handleUpdateLead))
	r.Delete("/api/leads/{id}", g.Handle(h.handleDeleteLead))

	r.Post("/api/outreach/generate", g.Handle(h.handleGenerateOutreach, guard.WithSchema(outreachSchema)))

	r.Post("/webhooks/billing", g.Handle(h.handleBillingWebhook, guard.WithWebhookVerifier(d.WebhookVerifier)))
	r.Post("/cron/daily-digest", g.Handle(h.handleDailyDigest))
	r.Post("/dev/seed", g.Handle(h.handleDevSeed))

	// Unknown paths still pass through the guard so they hit the
	// fail-closed default policy before the 404.
	notFound := g.Handle(h.handleNotFound)
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	return r
}

// handleHealth probes each dependency with a short deadline. Any failure
// turns the whole endpoint unhealthy.
func (h *handler) handleHealth(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check(ctx); err != nil {
				h.logger.Warn("health check failed",
					slog.String("dependency", name),
					slog.String("error", err.Error()))
				httputil.WriteError(w, r, dErrors.Newf(dErrors.CodeUnavailable, "dependency %s is unhealthy", name))
				return
			}
		}
		httputil.WriteData(w, r, http.StatusOK, map[string]string{"status": "ok"})
	}
}
