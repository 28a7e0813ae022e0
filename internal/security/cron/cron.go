// Package cron authenticates scheduler callers. A route accepts a cron
// caller via either of two independent mechanisms:
//
//   - a shared-secret header, compared in constant time (optionally stored
//     bcrypt-hashed in configuration);
//   - an HMAC token bound to the method and path, supplied as the
//     cron_token query parameter. Tokens are precomputable offline with
//     ComputeToken, which suits schedulers that cannot set custom headers.
package cron

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"apiguard/pkg/platform/secrets"
)

// DefaultHeader is the shared-secret header name.
const DefaultHeader = "X-Cron-Secret"

// TokenParam is the query parameter carrying a precomputed HMAC token.
const TokenParam = "cron_token"

// tokenVersion prefixes the signed message so the scheme can evolve.
const tokenVersion = "v1"

// Authenticator checks whether a request comes from an authorized scheduler.
type Authenticator struct {
	secret        string
	secretHash    string // bcrypt hash; takes precedence over secret
	signingSecret []byte
	header        string
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithHeader overrides the shared-secret header name.
func WithHeader(name string) Option {
	return func(a *Authenticator) { a.header = name }
}

// WithSecretHash supplies a bcrypt hash of the shared secret instead of the
// plaintext.
func WithSecretHash(hash string) Option {
	return func(a *Authenticator) { a.secretHash = hash }
}

// New creates an Authenticator. Empty secret and signingSecret disable the
// respective mechanism.
func New(secret, signingSecret string, opts ...Option) *Authenticator {
	a := &Authenticator{
		secret: secret,
		header: DefaultHeader,
	}
	if signingSecret != "" {
		a.signingSecret = []byte(signingSecret)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authorize reports whether the request proves scheduler identity through
// either mechanism. Both checks are constant-time.
func (a *Authenticator) Authorize(r *http.Request) bool {
	if hdr := r.Header.Get(a.header); hdr != "" && a.checkSecret(hdr) {
		return true
	}
	if tok := r.URL.Query().Get(TokenParam); tok != "" {
		return a.VerifyToken(tok, r.Method, r.URL.Path)
	}
	return false
}

func (a *Authenticator) checkSecret(provided string) bool {
	if a.secretHash != "" {
		return secrets.Verify(provided, a.secretHash) == nil
	}
	if a.secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(a.secret)) == 1
}

// ComputeToken derives the stateless cron token for a route:
// hex(HMAC-SHA256(signingSecret, "v1:{METHOD}:{PATH}")). Schedulers compute
// this offline; no network round-trip or stored state is involved.
func ComputeToken(signingSecret []byte, method, path string) string {
	mac := hmac.New(sha256.New, signingSecret)
	mac.Write([]byte(tokenVersion + ":" + strings.ToUpper(method) + ":" + path))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyToken checks a supplied token against the expected value for the
// method and path, in constant time.
func (a *Authenticator) VerifyToken(token, method, path string) bool {
	if len(a.signingSecret) == 0 || token == "" {
		return false
	}
	expected := ComputeToken(a.signingSecret, method, path)
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}
