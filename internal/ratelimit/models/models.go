package models

import "time"

// Window is the accounting window shared by every backend. Both the
// distributed and the deterministic store implement a fixed window of this
// length so offline behavior matches production exactly (see DESIGN.md for
// the boundary semantics of this choice).
const Window = time.Minute

// Result represents the outcome of a rate limit check.
type Result struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}
