package guard

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	dErrors "apiguard/pkg/domain-errors"
)

// payloadTooLarge builds the size rejection. Both the declared-length
// pre-check and the post-read recount produce this exact error, so clients
// cannot tell which phase caught them.
func payloadTooLarge(actual, max int64) *dErrors.Error {
	return dErrors.New(dErrors.CodePayloadTooLarge, "Request body exceeds the allowed size.").
		WithDetails(map[string]int64{
			"actualBytes": actual,
			"maxBytes":    max,
		})
}

// checkDeclaredLength rejects on the Content-Length header alone, before any
// body bytes are buffered. Clients may lie or omit the header; readBody
// recounts after the fact.
func checkDeclaredLength(r *http.Request, maxBytes int64) error {
	if r.ContentLength > maxBytes {
		return payloadTooLarge(r.ContentLength, maxBytes)
	}
	return nil
}

// readBody reads the request body once, bounded at maxBytes+1 so an
// understated Content-Length cannot make the server buffer an unbounded
// payload. The body is rewound afterwards for handlers that stream it.
func readBody(r *http.Request, maxBytes int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "Request body could not be read.")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if int64(len(body)) > maxBytes {
		return nil, payloadTooLarge(int64(len(body)), maxBytes)
	}
	return body, nil
}

// parseJSON decodes a body into a generic value for schema validation.
// Size has already been enforced; a parse failure here is a malformed body,
// never a size problem.
func parseJSON(body []byte) (any, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "Request body is not valid JSON.")
	}
	return v, nil
}

// hasBody reports whether the method conventionally carries a request body.
func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}
