package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"apiguard/pkg/requestcontext"
)

// Header is the correlation id header, inbound and outbound.
const Header = "X-Request-ID"

// RequestID assigns each request a correlation id. An inbound X-Request-ID is
// honored so ids survive proxy hops; otherwise a fresh UUID is minted. The id
// is stamped on the response before the handler runs so even short-circuited
// rejections carry it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(Header, id)
		ctx := requestcontext.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
