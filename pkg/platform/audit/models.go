package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose. This
// enables different retention policies and routing downstream.
type EventCategory string

const (
	// CategorySecurity covers events relevant to security monitoring and
	// forensics: origin rejections, signature failures, rate-limit
	// exceedances, dev-gate probes. These feed SIEM pipelines.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for debugging and operational
	// visibility. These can be sampled with shorter retention.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from the guard pipeline to capture security-relevant
// decisions. Keep it transport-agnostic so stores and sinks can fan out.
// Never put payload bodies, tokens, or signature values in here.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	Action    Action
	Route     string // normalized method+path, e.g. "POST /api/leads/{id}"
	Identity  string // rate-limit identity ("user:<id>" or "ip:<addr>"), may be empty
	Reason    string // short machine-readable reason, never a secret
	RequestID string // correlation id from the request context
}

// Action names what happened.
type Action string

const (
	ActionDevGateRejected   Action = "guard_dev_gate_rejected"
	ActionOriginRejected    Action = "guard_origin_rejected"
	ActionAuthRejected      Action = "guard_auth_rejected"
	ActionSignatureRejected Action = "guard_signature_rejected"
	ActionRateLimitExceeded Action = "guard_rate_limit_exceeded"
	ActionPayloadRejected   Action = "guard_payload_rejected"
	ActionSchemaRejected    Action = "guard_schema_rejected"
	ActionCronAuthenticated Action = "guard_cron_authenticated"
)

// Category derives the event category from the action. Cron authentication
// is operational; every rejection is a security signal.
func (a Action) Category() EventCategory {
	if a == ActionCronAuthenticated {
		return CategoryOperations
	}
	return CategorySecurity
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}
