package guard

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apiguard/pkg/platform/audit"
	auditmemory "apiguard/pkg/platform/audit/store/memory"
	"apiguard/pkg/platform/audit/publisher"
	"apiguard/pkg/platform/middleware/metadata"
	"apiguard/pkg/platform/middleware/requestid"
	"apiguard/pkg/testutil"

	"apiguard/internal/identity"
	"apiguard/internal/platform/metrics"
	"apiguard/internal/policy"
	rlmodels "apiguard/internal/ratelimit/models"
	"apiguard/internal/ratelimit/service"
	"apiguard/internal/ratelimit/store/bucket"
	"apiguard/internal/security/cron"
	"apiguard/internal/security/origin"
	"apiguard/internal/security/webhook"
)

const (
	testSigningKey = "test-signing-key-please-rotate"
	testCronSecret = "cron-shared-secret"
	testDevKey     = "local-dev-key"
)

// harness wires a guard from real components: real registry, real in-memory
// counter store, real JWT resolver, real audit store.
type harness struct {
	guard      *Guard
	registry   *policy.Registry
	store      *bucket.InMemoryCounterStore
	auditStore *auditmemory.Store
	resolver   *identity.JWTResolver
	verifier   *webhook.HMACVerifier
	cronAuth   *cron.Authenticator
}

func newHarness(t *testing.T, production bool) *harness {
	t.Helper()

	store := bucket.NewInMemoryCounterStore()
	limiter, err := service.New(store)
	require.NoError(t, err)

	resolver := identity.NewJWTResolver(testSigningKey, "apiguard", "apiguard")
	auditStore := auditmemory.NewInMemoryStore()
	registry := policy.NewRegistry()
	verifier := webhook.NewHMACVerifier("whsec_test", "X-Provider-Signature")
	cronAuth := cron.New(testCronSecret, "cron-signing-secret")

	opts := []Option{
		WithIdentityResolver(resolver),
		WithOriginValidator(origin.NewValidator([]string{"https://app.example.com", "*.example.com"})),
		WithCronAuthenticator(cronAuth),
		WithDevKey(testDevKey),
		WithMetrics(metrics.NewWith(prometheus.NewRegistry())),
		WithAuditPublisher(publisher.NewPublisher(auditStore)),
	}
	if production {
		opts = append(opts, WithProduction())
	}

	return &harness{
		guard:      New(registry, limiter, opts...),
		registry:   registry,
		store:      store,
		auditStore: auditStore,
		resolver:   resolver,
		verifier:   verifier,
		cronAuth:   cronAuth,
	}
}

// wrap builds the full middleware chain around a guarded handler, the way
// the router does it.
func (h *harness) wrap(next Handler, opts ...RouteOption) http.Handler {
	return requestid.RequestID(metadata.ClientMetadata(h.guard.Handle(next, opts...)))
}

func okHandler(w http.ResponseWriter, r *http.Request, gc *Context) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true,"data":{}}`))
}

func (h *harness) bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := h.resolver.GenerateAccessToken(userID, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func standardPolicy() policy.RoutePolicy {
	return policy.RoutePolicy{
		Tier:         policy.TierStandard,
		MaxBytes:     policy.DefaultMaxBytes,
		RateLimit:    policy.RateLimit{AuthPerMinute: 100, AnonPerMinute: 20},
		AuthRequired: true,
	}
}

func TestAuthenticatedBudgetExhaustion(t *testing.T) {
	h := newHarness(t, false)
	pol := standardPolicy()
	pol.RateLimit.AuthPerMinute = 10
	h.registry.Register("GET", "/api/leads", pol)
	handler := h.wrap(okHandler)
	auth := h.bearer(t, "user-1")

	for i := 1; i <= 10; i++ {
		req := testutil.NewRequest(t, "GET", "/api/leads")
		req.Header.Set("Authorization", auth)
		rr := testutil.DoRequest(handler, req)
		require.Equal(t, http.StatusOK, rr.Code, "request %d within budget", i)
		assert.Equal(t, fmt.Sprint(10-i), rr.Header().Get("X-RateLimit-Remaining"))
	}

	req := testutil.NewRequest(t, "GET", "/api/leads")
	req.Header.Set("Authorization", auth)
	rr := testutil.DoRequest(handler, req)
	testutil.AssertStatusAndError(t, rr, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED")
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Reset"))

	events := h.auditStore.ByAction(audit.ActionRateLimitExceeded)
	require.Len(t, events, 1)
	assert.Equal(t, "GET /api/leads", events[0].Route)
	assert.Equal(t, "user:user-1", events[0].Identity)
}

func TestDevRouteHiddenInProduction(t *testing.T) {
	h := newHarness(t, true)
	h.registry.Register("POST", "/dev/seed", policy.RoutePolicy{
		Tier:      policy.TierDev,
		MaxBytes:  policy.DefaultMaxBytes,
		RateLimit: policy.RateLimit{AuthPerMinute: 10, AnonPerMinute: 10},
		DevOnly:   true,
	})
	handler := h.wrap(okHandler)

	// Even the correct dev key must not reveal the route in production.
	req := testutil.NewJSONRequest(t, "POST", "/dev/seed", map[string]any{})
	req.Header.Set(DevKeyHeader, testDevKey)
	rr := testutil.DoRequest(handler, req)
	testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "NOT_FOUND")

	require.Len(t, h.auditStore.ByAction(audit.ActionDevGateRejected), 1)
}

func TestDevRouteKeyEnforcedOutsideProduction(t *testing.T) {
	h := newHarness(t, false)
	h.registry.Register("POST", "/dev/seed", policy.RoutePolicy{
		Tier:      policy.TierDev,
		MaxBytes:  policy.DefaultMaxBytes,
		RateLimit: policy.RateLimit{AuthPerMinute: 10, AnonPerMinute: 10},
		DevOnly:   true,
	})
	handler := h.wrap(okHandler)

	req := testutil.NewJSONRequest(t, "POST", "/dev/seed", map[string]any{})
	req.Header.Set(DevKeyHeader, "wrong")
	rr := testutil.DoRequest(handler, req)
	testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")

	req = testutil.NewJSONRequest(t, "POST", "/dev/seed", map[string]any{})
	req.Header.Set(DevKeyHeader, testDevKey)
	rr = testutil.DoRequest(handler, req)
	testutil.AssertStatusOK(t, rr)
}

func TestTamperedWebhookSignatureNeverReachesLimiter(t *testing.T) {
	h := newHarness(t, false)
	h.registry.Register("POST", "/webhooks/billing", policy.RoutePolicy{
		Tier:                     policy.TierWebhook,
		MaxBytes:                 policy.DefaultMaxBytes,
		RateLimit:                policy.RateLimit{AuthPerMinute: 60, AnonPerMinute: 60},
		WebhookSignatureRequired: true,
	})
	handler := h.wrap(okHandler, WithWebhookVerifier(h.verifier))

	body := `{"event":"invoice.paid"}`
	valid := h.verifier.Sign([]byte(body), time.Now())

	req := testutil.NewRequestWithBody(t, "POST", "/webhooks/billing", body)
	req.Header.Set("X-Provider-Signature", valid)
	req.RemoteAddr = "203.0.113.7:4444"
	rr := testutil.DoRequest(handler, req)
	testutil.AssertStatusOK(t, rr)

	req = testutil.NewRequestWithBody(t, "POST", "/webhooks/billing", body+" ")
	req.Header.Set("X-Provider-Signature", valid)
	req.RemoteAddr = "203.0.113.8:4444"
	rr = testutil.DoRequest(handler, req)
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "VALIDATION_ERROR")

	// A rejected signature must not consume rate limit budget.
	key := rlmodels.BuildKey(rlmodels.IPIdentity("203.0.113.8"), "POST /webhooks/billing")
	n, err := h.store.CurrentCount(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.Len(t, h.auditStore.ByAction(audit.ActionSignatureRejected), 1)
}

func TestOriginWildcardMatching(t *testing.T) {
	h := newHarness(t, true)
	pol := standardPolicy()
	pol.OriginRequired = true
	h.registry.Register("POST", "/api/leads", pol)
	handler := h.wrap(okHandler)
	auth := h.bearer(t, "user-1")

	cases := []struct {
		origin string
		want   int
	}{
		{"https://app.example.com", http.StatusOK},
		{"https://sub.example.com", http.StatusOK},
		{"https://notexample.com", http.StatusForbidden},
		{"https://evilexample.com", http.StatusForbidden},
		{"https://evil-example.com", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.origin, func(t *testing.T) {
			req := testutil.NewJSONRequest(t, "POST", "/api/leads", map[string]any{"name": "x"})
			req.Header.Set("Origin", tc.origin)
			req.Header.Set("Authorization", auth)
			rr := testutil.DoRequest(handler, req)
			assert.Equal(t, tc.want, rr.Code)
			if tc.want == http.StatusForbidden {
				testutil.AssertErrorCode(t, rr, "FORBIDDEN")
			}
		})
	}
}

func TestMissingOriginFatalOnlyInProduction(t *testing.T) {
	register := func(h *harness) http.Handler {
		pol := standardPolicy()
		pol.OriginRequired = true
		h.registry.Register("POST", "/api/leads", pol)
		return h.wrap(okHandler)
	}

	prod := newHarness(t, true)
	handler := register(prod)
	req := testutil.NewJSONRequest(t, "POST", "/api/leads", map[string]any{})
	req.Header.Set("Authorization", prod.bearer(t, "user-1"))
	rr := testutil.DoRequest(handler, req)
	testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "FORBIDDEN")

	dev := newHarness(t, false)
	handler = register(dev)
	req = testutil.NewJSONRequest(t, "POST", "/api/leads", map[string]any{})
	req.Header.Set("Authorization", dev.bearer(t, "user-1"))
	rr = testutil.DoRequest(handler, req)
	testutil.AssertStatusOK(t, rr)
}

func TestOriginDerivedFromReferer(t *testing.T) {
	h := newHarness(t, true)
	pol := standardPolicy()
	pol.OriginRequired = true
	h.registry.Register("POST", "/api/leads", pol)
	handler := h.wrap(okHandler)

	req := testutil.NewJSONRequest(t, "POST", "/api/leads", map[string]any{})
	req.Header.Set("Referer", "https://app.example.com/leads/new")
	req.Header.Set("Authorization", h.bearer(t, "user-1"))
	rr := testutil.DoRequest(handler, req)
	testutil.AssertStatusOK(t, rr)
}

func TestReadOnlyMethodsSkipOrigin(t *testing.T) {
	h := newHarness(t, true)
	pol := standardPolicy()
	pol.OriginRequired = true
	h.registry.Register("GET", "/api/leads", pol)
	handler := h.wrap(okHandler)

	req := testutil.NewRequest(t, "GET", "/api/leads")
	req.Header.Set("Authorization", h.bearer(t, "user-1"))
	rr := testutil.DoRequest(handler, req)
	testutil.AssertStatusOK(t, rr)
}

func TestMissingCredentialsRejected(t *testing.T) {
	h := newHarness(t, false)
	h.registry.Register("GET", "/api/leads", standardPolicy())
	handler := h.wrap(okHandler)

	rr := testutil.DoRequest(handler, testutil.NewRequest(t, "GET", "/api/leads"))
	testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")
	require.Len(t, h.auditStore.ByAction(audit.ActionAuthRejected), 1)
}

func TestCronCallerBypassesAuth(t *testing.T) {
	h := newHarness(t, false)
	h.registry.Register("POST", "/cron/daily-digest", policy.RoutePolicy{
		Tier:         policy.TierCron,
		MaxBytes:     policy.DefaultMaxBytes,
		RateLimit:    policy.RateLimit{AuthPerMinute: 10, AnonPerMinute: 10},
		AuthRequired: true,
		CronAllowed:  true,
	})

	var sawCron bool
	handler := h.wrap(func(w http.ResponseWriter, r *http.Request, gc *Context) {
		sawCron = gc.IsCron
		w.WriteHeader(http.StatusOK)
	})

	t.Run("shared-secret header", func(t *testing.T) {
		sawCron = false
		req := testutil.NewRequest(t, "POST", "/cron/daily-digest")
		req.Header.Set(cron.DefaultHeader, testCronSecret)
		rr := testutil.DoRequest(handler, req)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.True(t, sawCron)
	})

	t.Run("precomputed token", func(t *testing.T) {
		sawCron = false
		token := cron.ComputeToken([]byte("cron-signing-secret"), "POST", "/cron/daily-digest")
		req := testutil.NewRequest(t, "POST", "/cron/daily-digest?cron_token="+token)
		rr := testutil.DoRequest(handler, req)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.True(t, sawCron)
	})

	t.Run("neither mechanism", func(t *testing.T) {
		req := testutil.NewRequest(t, "POST", "/cron/daily-digest")
		rr := testutil.DoRequest(handler, req)
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")
	})
}

func TestPayloadSizeAndJSONOrdering(t *testing.T) {
	h := newHarness(t, false)
	pol := standardPolicy()
	pol.MaxBytes = 32
	h.registry.Register("POST", "/api/leads", pol)
	handler := h.wrap(okHandler)
	auth := h.bearer(t, "user-1")

	t.Run("oversized body rejected as 413", func(t *testing.T) {
		big := `{"padding":"` + string(make([]byte, 64)) + `"}`
		req := testutil.NewRequestWithBody(t, "POST", "/api/leads", big)
		req.Header.Set("Authorization", auth)
		rr := testutil.DoRequest(handler, req)
		testutil.AssertStatusAndError(t, rr, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE")
	})

	t.Run("malformed JSON rejected as 400", func(t *testing.T) {
		req := testutil.NewRequestWithBody(t, "POST", "/api/leads", `{"name":`)
		req.Header.Set("Authorization", auth)
		rr := testutil.DoRequest(handler, req)
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "VALIDATION_ERROR")
	})
}

func TestSchemaValidationFieldErrors(t *testing.T) {
	h := newHarness(t, false)
	pol := standardPolicy()
	h.registry.Register("POST", "/api/outreach/generate", pol)
	schema := MustCompileSchema("outreach", `{
		"type": "object",
		"required": ["leadId", "tone"],
		"properties": {
			"leadId": {"type": "string", "minLength": 1},
			"tone": {"type": "string", "enum": ["formal", "casual"]}
		}
	}`)
	handler := h.wrap(okHandler, WithSchema(schema))
	auth := h.bearer(t, "user-1")

	req := testutil.NewJSONRequest(t, "POST", "/api/outreach/generate",
		map[string]any{"leadId": "l-1", "tone": "formal"})
	req.Header.Set("Authorization", auth)
	rr := testutil.DoRequest(handler, req)
	testutil.AssertStatusOK(t, rr)

	req = testutil.NewJSONRequest(t, "POST", "/api/outreach/generate",
		map[string]any{"tone": "shouty"})
	req.Header.Set("Authorization", auth)
	rr = testutil.DoRequest(handler, req)
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "VALIDATION_ERROR")

	env := testutil.UnmarshalEnvelope(t, rr)
	require.NotNil(t, env.Error)
	assert.NotEmpty(t, env.Error.Details, "schema failures carry a field error list")

	req = testutil.NewRequest(t, "POST", "/api/outreach/generate")
	req.Header.Set("Authorization", auth)
	rr = testutil.DoRequest(handler, req)
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestUnregisteredRouteFailsClosed(t *testing.T) {
	h := newHarness(t, false)
	handler := h.wrap(okHandler)

	rr := testutil.DoRequest(handler, testutil.NewRequest(t, "GET", "/api/unknown"))
	testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestResponsesCarryRequestID(t *testing.T) {
	h := newHarness(t, false)
	h.registry.Register("GET", "/api/leads", standardPolicy())
	handler := h.wrap(okHandler)

	req := testutil.NewRequest(t, "GET", "/api/leads")
	req.Header.Set("Authorization", h.bearer(t, "user-1"))
	rr := testutil.DoRequest(handler, req)
	testutil.AssertStatusOK(t, rr)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	// Inbound correlation ids survive the hop and echo in error envelopes.
	req = testutil.NewRequest(t, "GET", "/api/leads")
	req.Header.Set("X-Request-ID", "corr-123")
	rr = testutil.DoRequest(handler, req)
	assert.Equal(t, "corr-123", rr.Header().Get("X-Request-ID"))
	env := testutil.UnmarshalEnvelope(t, rr)
	require.NotNil(t, env.Error)
	assert.Equal(t, "corr-123", env.Error.RequestID)
}

func TestAnonymousAndAuthenticatedBudgetsAreSeparate(t *testing.T) {
	h := newHarness(t, false)
	h.registry.Register("GET", "/api/leads", policy.RoutePolicy{
		Tier:      policy.TierPublic,
		MaxBytes:  policy.DefaultMaxBytes,
		RateLimit: policy.RateLimit{AuthPerMinute: 5, AnonPerMinute: 1},
	})
	handler := h.wrap(okHandler)

	// Anonymous budget is 1 per IP.
	req := testutil.NewRequest(t, "GET", "/api/leads")
	req.RemoteAddr = "198.51.100.1:1000"
	rr := testutil.DoRequest(handler, req)
	testutil.AssertStatusOK(t, rr)

	req = testutil.NewRequest(t, "GET", "/api/leads")
	req.RemoteAddr = "198.51.100.1:1001"
	rr = testutil.DoRequest(handler, req)
	testutil.AssertStatusAndError(t, rr, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED")

	// The same caller with credentials gets the authenticated budget.
	req = testutil.NewRequest(t, "GET", "/api/leads")
	req.RemoteAddr = "198.51.100.1:1002"
	req.Header.Set("Authorization", h.bearer(t, "user-9"))
	rr = testutil.DoRequest(handler, req)
	testutil.AssertStatusOK(t, rr)
	assert.Equal(t, "4", rr.Header().Get("X-RateLimit-Remaining"))
}
