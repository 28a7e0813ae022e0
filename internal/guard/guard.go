// Package guard implements the request enforcement pipeline. Every route is
// wrapped by Handle, which resolves the route's policy and runs the ordered
// checks before the business handler sees the request: dev gate, origin,
// authentication, webhook signature, rate limit, payload size, schema.
// The first failing check short-circuits with a coded error through the
// standard envelope.
package guard

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	dErrors "apiguard/pkg/domain-errors"
	"apiguard/pkg/platform/audit"
	"apiguard/pkg/platform/audit/publisher"
	"apiguard/pkg/platform/httputil"
	"apiguard/pkg/platform/secrets"
	"apiguard/pkg/requestcontext"

	"apiguard/internal/identity"
	"apiguard/internal/platform/metrics"
	"apiguard/internal/policy"
	rlmodels "apiguard/internal/ratelimit/models"
	"apiguard/internal/ratelimit/service"
	"apiguard/internal/security/cron"
	"apiguard/internal/security/origin"
	"apiguard/internal/security/webhook"
)

// DevKeyHeader carries the shared secret that unlocks dev-only routes
// outside production.
const DevKeyHeader = "X-Dev-Key"

// Guard composes the pipeline dependencies. Built once at startup;
// concurrent-safe because every field is read-only after New.
type Guard struct {
	registry *policy.Registry
	limiter  *service.Limiter

	resolver identity.Resolver
	origins  *origin.Validator
	cron     *cron.Authenticator

	devKey     string
	devKeyHash string // bcrypt hash; takes precedence over devKey

	production bool

	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   *publisher.Publisher
	tracer  trace.Tracer
}

// Option configures a Guard.
type Option func(*Guard)

// WithIdentityResolver sets the caller identity resolver.
func WithIdentityResolver(r identity.Resolver) Option {
	return func(g *Guard) { g.resolver = r }
}

// WithOriginValidator sets the origin allow-list.
func WithOriginValidator(v *origin.Validator) Option {
	return func(g *Guard) { g.origins = v }
}

// WithCronAuthenticator sets the scheduler authenticator.
func WithCronAuthenticator(a *cron.Authenticator) Option {
	return func(g *Guard) { g.cron = a }
}

// WithDevKey sets the plaintext dev-route key.
func WithDevKey(key string) Option {
	return func(g *Guard) { g.devKey = key }
}

// WithDevKeyHash sets a bcrypt hash of the dev-route key. Takes precedence
// over the plaintext key.
func WithDevKeyHash(hash string) Option {
	return func(g *Guard) { g.devKeyHash = hash }
}

// WithProduction enables production semantics: dev routes vanish, missing
// origins are fatal.
func WithProduction() Option {
	return func(g *Guard) { g.production = true }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics attaches pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// WithAuditPublisher attaches the audit publisher.
func WithAuditPublisher(p *publisher.Publisher) Option {
	return func(g *Guard) { g.audit = p }
}

// New creates a Guard over a policy registry and a rate limiter.
func New(registry *policy.Registry, limiter *service.Limiter, opts ...Option) *Guard {
	g := &Guard{
		registry: registry,
		limiter:  limiter,
		logger:   slog.Default(),
		tracer:   otel.Tracer("apiguard/guard"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// routeOptions hold the per-route extras supplied at registration.
type routeOptions struct {
	schema   *Schema
	verifier webhook.Verifier
}

// RouteOption customizes a single wrapped route.
type RouteOption func(*routeOptions)

// WithSchema attaches a body schema, validated after the payload guard.
func WithSchema(s *Schema) RouteOption {
	return func(o *routeOptions) { o.schema = s }
}

// WithWebhookVerifier attaches the signature strategy for a webhook route.
func WithWebhookVerifier(v webhook.Verifier) RouteOption {
	return func(o *routeOptions) { o.verifier = v }
}

// Handle wraps a business handler with the enforcement pipeline. The route's
// policy is resolved per request from the registry, so unregistered paths
// routed here still get the fail-closed default.
func (g *Guard) Handle(next Handler, opts ...RouteOption) http.HandlerFunc {
	var ro routeOptions
	for _, opt := range opts {
		opt(&ro)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		g.serve(w, r, &ro, next)
	}
}

func (g *Guard) serve(w http.ResponseWriter, r *http.Request, ro *routeOptions, next Handler) {
	start := time.Now()
	pol := g.registry.Resolve(r.Method, r.URL.Path)
	route := policy.RouteName(r.Method, r.URL.Path)

	ctx, span := g.tracer.Start(r.Context(), "guard.handle",
		trace.WithAttributes(
			attribute.String("guard.route", route),
			attribute.String("guard.tier", string(pol.Tier)),
		))
	defer span.End()
	r = r.WithContext(ctx)

	gc := &Context{
		RequestID: requestcontext.RequestID(ctx),
		Query:     r.URL.Query(),
	}

	reject := func(action audit.Action, identity, reason string, err error) {
		g.finish(span, start, "rejected", dErrors.CodeOf(err))
		g.emit(r, action, route, identity, reason)
		g.logger.Warn("request rejected",
			slog.String("route", route),
			slog.String("code", string(dErrors.CodeOf(err))),
			slog.String("reason", reason),
			slog.String("request_id", gc.RequestID))
		httputil.WriteError(w, r, err)
	}

	// Step 1: dev-only gate. In production the route does not exist.
	if pol.DevOnly {
		if g.production {
			reject(audit.ActionDevGateRejected, "", "dev_route_in_production",
				dErrors.New(dErrors.CodeNotFound, "Not found."))
			return
		}
		if !g.checkDevKey(r.Header.Get(DevKeyHeader)) {
			reject(audit.ActionDevGateRejected, "", "dev_key_mismatch",
				dErrors.New(dErrors.CodeUnauthorized, "Invalid development key."))
			return
		}
	}

	// Step 2: origin validation. Read-only methods and webhook routes skip
	// it; webhooks prove themselves with signatures instead.
	if pol.OriginRequired && !readOnlyMethod(r.Method) && pol.Tier != policy.TierWebhook {
		o := origin.FromRequest(r)
		switch {
		case o == "":
			if g.production {
				reject(audit.ActionOriginRejected, "", "origin_missing",
					dErrors.New(dErrors.CodeForbidden, "Origin not allowed."))
				return
			}
		case g.origins == nil || !g.origins.Allowed(o):
			reject(audit.ActionOriginRejected, "", "origin_not_allowed",
				dErrors.New(dErrors.CodeForbidden, "Origin not allowed."))
			return
		}
	}

	// Step 3: authentication. A proven scheduler bypasses user auth.
	if pol.CronAllowed && g.cron != nil && g.cron.Authorize(r) {
		gc.IsCron = true
		ctx = requestcontext.WithCronCaller(ctx, true)
		r = r.WithContext(ctx)
		g.emit(r, audit.ActionCronAuthenticated, route, "", "cron_authorized")
	} else if pol.AuthRequired {
		if g.resolver == nil {
			reject(audit.ActionAuthRejected, "", "no_resolver",
				dErrors.New(dErrors.CodeUnauthorized, "Authentication required."))
			return
		}
		userID, err := g.resolver.Resolve(ctx, r)
		if err != nil {
			reject(audit.ActionAuthRejected, "", "credentials_rejected",
				dErrors.New(dErrors.CodeUnauthorized, "Authentication required."))
			return
		}
		gc.UserID = userID
		ctx = requestcontext.WithUserID(ctx, userID)
		r = r.WithContext(ctx)
	} else if g.resolver != nil && r.Header.Get("Authorization") != "" {
		// Optional-auth route with credentials attached: resolve best-effort
		// so the rate limit key is per-user rather than per-IP.
		if userID, err := g.resolver.Resolve(ctx, r); err == nil {
			gc.UserID = userID
			ctx = requestcontext.WithUserID(ctx, userID)
			r = r.WithContext(ctx)
		}
	}
	if ctx.Err() != nil {
		return
	}

	// Step 4: webhook signature over the raw body, read exactly once.
	// The read is bounded at the policy cap, so an oversized payload is
	// rejected here rather than buffered for a signature it cannot pass.
	if pol.WebhookSignatureRequired {
		if ro.verifier == nil {
			reject(audit.ActionSignatureRejected, "", "verifier_unconfigured",
				dErrors.New(dErrors.CodeInternal, "webhook verifier not configured for route"))
			return
		}
		if err := checkDeclaredLength(r, pol.MaxBytes); err != nil {
			reject(audit.ActionPayloadRejected, "", "declared_length_exceeded", err)
			return
		}
		body, err := readBody(r, pol.MaxBytes)
		if err != nil {
			reject(audit.ActionPayloadRejected, "", "body_exceeded", err)
			return
		}
		if err := ro.verifier.Verify(body, r.Header.Get(ro.verifier.HeaderName())); err != nil {
			reject(audit.ActionSignatureRejected, "", "signature_invalid", err)
			return
		}
		gc.Body = body
	}

	// Step 5: rate limiting.
	rlIdentity, limit := g.selectIdentity(ctx, pol, gc)
	res, err := g.limiter.Check(ctx, rlIdentity, route, limit)
	stampRateLimitHeaders(w, res)
	if err != nil {
		code := dErrors.CodeOf(err)
		if code == dErrors.CodeRateLimited {
			reject(audit.ActionRateLimitExceeded, rlIdentity, "window_budget_exhausted", err)
		} else {
			reject(audit.ActionRateLimitExceeded, rlIdentity, "limiter_unavailable", err)
		}
		return
	}
	if ctx.Err() != nil {
		return
	}

	// Step 6: payload guard. Size strictly before parsing, so a too-large
	// body is never reported as malformed JSON.
	if hasBody(r.Method) && pol.MaxBytes > 0 {
		if gc.Body == nil {
			if err := checkDeclaredLength(r, pol.MaxBytes); err != nil {
				reject(audit.ActionPayloadRejected, rlIdentity, "declared_length_exceeded", err)
				return
			}
			body, err := readBody(r, pol.MaxBytes)
			if err != nil {
				reject(audit.ActionPayloadRejected, rlIdentity, "body_exceeded", err)
				return
			}
			gc.Body = body
		}
		if len(gc.Body) > 0 {
			parsed, err := parseJSON(gc.Body)
			if err != nil {
				reject(audit.ActionPayloadRejected, rlIdentity, "malformed_json", err)
				return
			}
			gc.ParsedBody = parsed
		}
	}

	// Step 7: schema validation of the parsed body.
	if ro.schema != nil {
		if gc.ParsedBody == nil {
			reject(audit.ActionSchemaRejected, rlIdentity, "body_required",
				dErrors.New(dErrors.CodeValidation, "Request body is required."))
			return
		}
		if err := ro.schema.Validate(gc.ParsedBody); err != nil {
			reject(audit.ActionSchemaRejected, rlIdentity, "schema_violation", err)
			return
		}
	}

	// Step 8: the business handler.
	g.finish(span, start, "allowed", "")
	if w.Header().Get("X-Request-ID") == "" && gc.RequestID != "" {
		w.Header().Set("X-Request-ID", gc.RequestID)
	}
	next(w, r, gc)
}

// checkDevKey verifies the dev-route key; the hash form wins when both are
// configured. No key configured means no dev access.
func (g *Guard) checkDevKey(provided string) bool {
	if provided == "" {
		return false
	}
	if g.devKeyHash != "" {
		return secrets.Verify(provided, g.devKeyHash) == nil
	}
	if g.devKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(g.devKey)) == 1
}

// selectIdentity picks the rate-limit subject and budget. Webhook routes are
// always keyed by IP: their callers never authenticate as tenant users.
func (g *Guard) selectIdentity(ctx context.Context, pol policy.RoutePolicy, gc *Context) (string, int) {
	ip := requestcontext.ClientIP(ctx)
	if ip == "" {
		ip = "unknown"
	}

	if pol.Tier == policy.TierWebhook {
		return rlmodels.IPIdentity(ip), pol.RateLimit.AnonPerMinute
	}
	if gc.UserID != "" {
		return rlmodels.UserIdentity(gc.UserID), pol.RateLimit.AuthPerMinute
	}
	return rlmodels.IPIdentity(ip), pol.RateLimit.AnonPerMinute
}

// readOnlyMethod reports whether the method cannot change state.
func readOnlyMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// stampRateLimitHeaders writes the window state onto the response. Called
// for every limited request, success or rejection.
func stampRateLimitHeaders(w http.ResponseWriter, res *rlmodels.Result) {
	if res == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	if !res.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	}
	if !res.Allowed && res.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter))
	}
}

// emit publishes an audit event; failures never change the response.
func (g *Guard) emit(r *http.Request, action audit.Action, route, identity, reason string) {
	if g.audit == nil {
		return
	}
	_ = g.audit.Emit(r.Context(), audit.Event{
		Category:  action.Category(),
		Action:    action,
		Route:     route,
		Identity:  identity,
		Reason:    reason,
		RequestID: requestcontext.RequestID(r.Context()),
	})
}

// finish records the pipeline outcome on span and metrics.
func (g *Guard) finish(span trace.Span, start time.Time, outcome string, code dErrors.Code) {
	span.SetAttributes(attribute.String("guard.outcome", outcome))
	if g.metrics == nil {
		return
	}
	g.metrics.RecordOutcome(outcome)
	if code != "" {
		g.metrics.RecordRejection(string(code))
	}
	g.metrics.GuardDuration.Observe(time.Since(start).Seconds())
}
