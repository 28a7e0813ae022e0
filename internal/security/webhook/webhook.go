// Package webhook verifies provider signatures over raw request bodies.
// Verification strategies are pluggable per route; the default is an HMAC
// scheme with a timestamp tolerance window.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	dErrors "apiguard/pkg/domain-errors"
)

// Verifier checks a signature header against the raw body bytes. The body
// must be read exactly once by the caller; verifiers never touch the request.
//
// All failure modes return the same generic validation error: a missing
// header, a malformed header, an expired timestamp, and a wrong signature
// are indistinguishable to the caller so the endpoint cannot be used as a
// signing oracle.
type Verifier interface {
	// HeaderName returns the request header carrying the signature.
	HeaderName() string
	// Verify returns nil when the signature proves the payload authentic.
	Verify(rawBody []byte, signatureHeader string) error
}

// errInvalidSignature is the one error every failure path returns.
// The expected signature value is never echoed.
func errInvalidSignature() *dErrors.Error {
	return dErrors.New(dErrors.CodeValidation, "invalid webhook signature")
}

// HMACVerifier implements the common provider scheme: the header carries
// "t=<unix>,v1=<hex>" where v1 = HMAC-SHA256(secret, "<unix>.<body>").
// Tolerance bounds how stale the timestamp may be; zero disables the check.
type HMACVerifier struct {
	secret    []byte
	header    string
	tolerance time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// Option configures an HMACVerifier.
type Option func(*HMACVerifier)

// WithTolerance sets the timestamp tolerance window.
func WithTolerance(d time.Duration) Option {
	return func(v *HMACVerifier) { v.tolerance = d }
}

// WithClock overrides the clock. For tests.
func WithClock(now func() time.Time) Option {
	return func(v *HMACVerifier) { v.now = now }
}

// NewHMACVerifier creates the default HMAC strategy for the given provider
// header name.
func NewHMACVerifier(secret, headerName string, opts ...Option) *HMACVerifier {
	v := &HMACVerifier{
		secret:    []byte(secret),
		header:    headerName,
		tolerance: 5 * time.Minute,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// HeaderName returns the configured signature header.
func (v *HMACVerifier) HeaderName() string { return v.header }

// Verify checks the "t=...,v1=..." header against the raw body.
func (v *HMACVerifier) Verify(rawBody []byte, signatureHeader string) error {
	ts, sig, ok := parseSignatureHeader(signatureHeader)
	if !ok {
		return errInvalidSignature()
	}

	if v.tolerance > 0 {
		drift := v.now().Sub(time.Unix(ts, 0))
		if drift < 0 {
			drift = -drift
		}
		if drift > v.tolerance {
			return errInvalidSignature()
		}
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(expected, provided) {
		return errInvalidSignature()
	}
	return nil
}

// parseSignatureHeader extracts the timestamp and v1 signature from a
// "t=<unix>,v1=<hex>" header.
func parseSignatureHeader(header string) (ts int64, sig string, ok bool) {
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, "", false
			}
			ts = parsed
		case "v1":
			sig = value
		}
	}
	if ts == 0 || sig == "" {
		return 0, "", false
	}
	return ts, sig, true
}

// Sign produces a valid signature header for the given body and timestamp.
// Exported for tests and for local tooling that replays webhooks.
func (v *HMACVerifier) Sign(rawBody []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
