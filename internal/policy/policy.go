// Package policy defines per-route security policies and their registry.
// Every (method, path) resolves to some policy: unregistered routes get the
// maximally restrictive default, never "no policy".
package policy

import (
	"regexp"
	"strings"
)

// Tier categorizes routes for differentiated enforcement.
type Tier string

const (
	// TierPublic: unauthenticated read surface (health, docs).
	TierPublic Tier = "public"
	// TierStandard: authenticated product API (100 req/min auth).
	TierStandard Tier = "standard"
	// TierSensitive: mutations with tighter limits (30 req/min auth).
	TierSensitive Tier = "sensitive"
	// TierWebhook: signed callbacks from external providers; identity is
	// always IP-based because webhook callers never authenticate as users.
	TierWebhook Tier = "webhook"
	// TierCron: scheduler-only routes.
	TierCron Tier = "cron"
	// TierDev: development/test tooling, hidden in production.
	TierDev Tier = "dev"
)

// IsValid checks if the tier is one of the supported enum values.
func (t Tier) IsValid() bool {
	switch t {
	case TierPublic, TierStandard, TierSensitive, TierWebhook, TierCron, TierDev:
		return true
	}
	return false
}

// RateLimit holds the per-minute request budgets for a route.
type RateLimit struct {
	AuthPerMinute int
	AnonPerMinute int
}

// RoutePolicy is the immutable per-route configuration. Values, not
// pointers: resolving the same route twice yields equal copies.
type RoutePolicy struct {
	Tier                     Tier
	MaxBytes                 int64
	RateLimit                RateLimit
	OriginRequired           bool
	AuthRequired             bool
	CronAllowed              bool
	DevOnly                  bool
	WebhookSignatureRequired bool
}

// DefaultMaxBytes caps request bodies at 1 MiB unless a route says otherwise.
const DefaultMaxBytes int64 = 1 << 20

// DefaultPolicy is the fail-closed policy for unregistered routes: auth and
// origin required, 1 MiB cap, tight limits.
func DefaultPolicy() RoutePolicy {
	return RoutePolicy{
		Tier:           TierSensitive,
		MaxBytes:       DefaultMaxBytes,
		RateLimit:      RateLimit{AuthPerMinute: 10, AnonPerMinute: 5},
		OriginRequired: true,
		AuthRequired:   true,
	}
}

// Registry maps normalized (method, path) pairs to policies. Built once at
// startup, read-only afterwards.
type Registry struct {
	policies map[string]RoutePolicy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{policies: make(map[string]RoutePolicy)}
}

// Register binds a policy to a route pattern. Patterns use the normalized
// placeholder for identifier segments, e.g. "/api/leads/{id}". Call only
// during startup wiring; the registry is not synchronized for writes.
func (r *Registry) Register(method, pattern string, p RoutePolicy) {
	r.policies[routeKey(method, NormalizePath(pattern))] = p
}

// Resolve returns the policy for a concrete request path. It is pure and
// idempotent; unregistered routes resolve to DefaultPolicy.
func (r *Registry) Resolve(method, path string) RoutePolicy {
	if p, ok := r.policies[routeKey(method, NormalizePath(path))]; ok {
		return p
	}
	return DefaultPolicy()
}

// Registered reports whether the route was explicitly registered.
func (r *Registry) Registered(method, path string) bool {
	_, ok := r.policies[routeKey(method, NormalizePath(path))]
	return ok
}

// RouteName returns the canonical "METHOD /normalized/path" form used for
// rate-limit keys, audit events, and logs.
func RouteName(method, path string) string {
	return routeKey(method, NormalizePath(path))
}

func routeKey(method, normalized string) string {
	return strings.ToUpper(method) + " " + normalized
}

// Placeholder replaces identifier-shaped path segments during normalization.
const Placeholder = "{id}"

// uuidSegment matches the canonical 8-4-4-4-12 hex identifier shape,
// case-insensitive.
var uuidSegment = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// NormalizePath rewrites a concrete request path into its canonical form:
// trailing slash stripped, identifier-shaped segments replaced with the
// placeholder. Pure and total: always returns a string, never fails.
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	if !strings.ContainsRune(path, '-') {
		// No hyphen means no UUID-shaped segment; skip the scan.
		return path
	}

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if uuidSegment.MatchString(seg) {
			segments[i] = Placeholder
		}
	}
	return strings.Join(segments, "/")
}
