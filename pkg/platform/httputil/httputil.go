// Package httputil centralizes response writing. Every route, success or
// failure, goes out through this envelope so no handler can leak an
// exception's internal representation or invent its own error shape.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "apiguard/pkg/domain-errors"
	"apiguard/pkg/requestcontext"
)

// Envelope is the uniform wire format: {ok:true,data} or {ok:false,error}.
type Envelope struct {
	OK    bool           `json:"ok"`
	Data  any            `json:"data,omitempty"`
	Error *ErrorEnvelope `json:"error,omitempty"`
}

// ErrorEnvelope is the error half of the discriminated union.
type ErrorEnvelope struct {
	Code      dErrors.Code `json:"code"`
	Message   string       `json:"message"`
	Details   any          `json:"details,omitempty"`
	RequestID string       `json:"requestId,omitempty"`
}

// internalMessage replaces internal error messages on the wire. The real
// message stays in logs only.
const internalMessage = "An internal error occurred."

// WriteJSON writes an arbitrary payload with a status code. Prefer WriteData
// and WriteError; this exists for raw responses like health checks.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteData writes a success envelope.
func WriteData(w http.ResponseWriter, r *http.Request, status int, data any) {
	WriteJSON(w, status, Envelope{OK: true, Data: data})
}

// WriteError translates any error into the failure envelope. Domain errors
// keep their code, message, and details; everything else is rendered as a
// generic internal error so internals never reach the caller.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)

	ee := &ErrorEnvelope{Code: code, Message: internalMessage}
	if r != nil {
		ee.RequestID = requestcontext.RequestID(r.Context())
	}

	if code != dErrors.CodeInternal {
		var de *dErrors.Error
		if errors.As(err, &de) {
			ee.Message = de.Message
			ee.Details = de.Details
		}
	}

	WriteJSON(w, status, Envelope{OK: false, Error: ee})
}
