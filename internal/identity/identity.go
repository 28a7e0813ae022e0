// Package identity resolves the current caller from a request. The guard
// consumes it as a single-call interface, exactly once per request.
package identity

import (
	"context"
	"net/http"
)

// Resolver resolves the authenticated caller id from a request.
// Implementations return a domain-errors Unauthorized error when the
// request carries no usable credentials.
type Resolver interface {
	Resolve(ctx context.Context, r *http.Request) (userID string, err error)
}
