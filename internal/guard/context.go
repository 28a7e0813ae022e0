package guard

import (
	"net/http"
	"net/url"
)

// Context carries the per-request state the pipeline accumulates for the
// business handler. One per request, discarded with the response, never
// shared across requests.
type Context struct {
	// RequestID is the correlation id stamped on the response.
	RequestID string

	// UserID is the resolved caller, empty for anonymous requests.
	UserID string

	// IsCron reports that the caller proved scheduler identity and bypassed
	// user authentication.
	IsCron bool

	// Body holds the raw body bytes when the pipeline read them. The
	// request body is also rewound so handlers that stream can still read.
	Body []byte

	// ParsedBody is the decoded JSON body, nil when the request had none.
	ParsedBody any

	// Query is the parsed query string.
	Query url.Values
}

// Handler is a business handler invoked after every pipeline step passed.
type Handler func(w http.ResponseWriter, r *http.Request, gc *Context)
