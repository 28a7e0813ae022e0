// Package origin validates the Origin of state-changing requests against an
// allow-list of exact origins and suffix-wildcard rules.
package origin

import (
	"net/http"
	"net/url"
	"strings"
)

// Validator matches request origins against an allow-list. Rules are either
// exact origins ("https://app.example.com") or suffix wildcards
// ("*.example.com"), which match the apex domain and any subdomain but never
// a hostname that merely contains the suffix as a substring.
type Validator struct {
	exact    map[string]struct{}
	suffixes []string // stored without the "*." prefix, lowercase
}

// NewValidator builds a validator from allow-list entries.
func NewValidator(allowed []string) *Validator {
	v := &Validator{exact: make(map[string]struct{})}
	for _, entry := range allowed {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if domain, ok := strings.CutPrefix(entry, "*."); ok {
			v.suffixes = append(v.suffixes, domain)
			continue
		}
		v.exact[strings.TrimSuffix(entry, "/")] = struct{}{}
	}
	return v
}

// Allowed reports whether the given origin value matches the allow-list.
// Malformed origins never match.
func (v *Validator) Allowed(origin string) bool {
	origin = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(origin), "/"))
	if origin == "" {
		return false
	}

	if _, ok := v.exact[origin]; ok {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())

	for _, domain := range v.suffixes {
		// "*.example.com" matches "example.com" and "sub.example.com",
		// but never "evil-example.com" or "notexample.com".
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// FromRequest extracts the caller's origin: the Origin header when present,
// otherwise scheme+host derived from Referer. Returns "" when neither is
// usable; the guard decides whether that is fatal for the environment.
func FromRequest(r *http.Request) string {
	if o := r.Header.Get("Origin"); o != "" {
		return o
	}
	ref := r.Header.Get("Referer")
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || u.Host == "" {
		// A malformed Referer counts as absent.
		return ""
	}
	return u.Scheme + "://" + u.Host
}
