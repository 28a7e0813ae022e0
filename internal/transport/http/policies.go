package httptransport

import "apiguard/internal/policy"

// RegisterPolicies binds the route table's policies. Call once during
// startup, before the first request; the registry is read-only afterwards.
//
// Budgets are per identity per minute. Mutating routes require an allowed
// origin; webhook routes prove themselves with signatures instead.
func RegisterPolicies(reg *policy.Registry) {
	standardRead := policy.RoutePolicy{
		Tier:         policy.TierStandard,
		MaxBytes:     policy.DefaultMaxBytes,
		RateLimit:    policy.RateLimit{AuthPerMinute: 100, AnonPerMinute: 20},
		AuthRequired: true,
	}
	sensitiveWrite := policy.RoutePolicy{
		Tier:           policy.TierSensitive,
		MaxBytes:       policy.DefaultMaxBytes,
		RateLimit:      policy.RateLimit{AuthPerMinute: 30, AnonPerMinute: 10},
		OriginRequired: true,
		AuthRequired:   true,
	}

	reg.Register("GET", "/api/leads", standardRead)
	reg.Register("GET", "/api/leads/{id}", standardRead)
	reg.Register("POST", "/api/leads", sensitiveWrite)
	reg.Register("PATCH", "/api/leads/{id}", sensitiveWrite)
	reg.Register("DELETE", "/api/leads/{id}", sensitiveWrite)

	// Outreach generation fans out to an LLM downstream; keep the budget
	// tighter than ordinary writes.
	outreach := sensitiveWrite
	outreach.RateLimit = policy.RateLimit{AuthPerMinute: 10, AnonPerMinute: 3}
	reg.Register("POST", "/api/outreach/generate", outreach)

	reg.Register("POST", "/webhooks/billing", policy.RoutePolicy{
		Tier:                     policy.TierWebhook,
		MaxBytes:                 policy.DefaultMaxBytes,
		RateLimit:                policy.RateLimit{AuthPerMinute: 120, AnonPerMinute: 120},
		WebhookSignatureRequired: true,
	})

	reg.Register("POST", "/cron/daily-digest", policy.RoutePolicy{
		Tier:         policy.TierCron,
		MaxBytes:     policy.DefaultMaxBytes,
		RateLimit:    policy.RateLimit{AuthPerMinute: 10, AnonPerMinute: 10},
		AuthRequired: true,
		CronAllowed:  true,
	})

	reg.Register("POST", "/dev/seed", policy.RoutePolicy{
		Tier:      policy.TierDev,
		MaxBytes:  policy.DefaultMaxBytes,
		RateLimit: policy.RateLimit{AuthPerMinute: 30, AnonPerMinute: 30},
		DevOnly:   true,
	})
}
