package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowedHeaders = "Authorization, Content-Type, X-Request-ID"
	corsAllowedMethods = "GET, POST, PUT, PATCH, OPTIONS"
	// The booking widget reads the request id for support tickets and Retry-After
	// to back off when the limiter answers 429.
	corsExposedHeaders = "X-Request-ID, Retry-After"
	corsMaxAge         = "600"
)

// corsPolicy is the set of clinic sites allowed to embed the booking widget.
// Entries are exact origins, "*", or a subdomain tree such as "https://*.glowmedspa.com".
type corsPolicy struct {
	anyOrigin  bool
	exact      map[string]struct{}
	subdomains []subdomainOrigin
}

type subdomainOrigin struct {
	scheme string // "https://"
	suffix string // ".glowmedspa.com"
}

func newCORSPolicy(origins []string) corsPolicy {
	p := corsPolicy{exact: map[string]struct{}{}}
	for _, origin := range origins {
		origin = strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
		switch {
		case origin == "":
		case origin == "*":
			p.anyOrigin = true
		case strings.Contains(origin, "://*."):
			scheme, host, _ := strings.Cut(origin, "*")
			p.subdomains = append(p.subdomains, subdomainOrigin{scheme: scheme, suffix: host})
		default:
			p.exact[origin] = struct{}{}
		}
	}
	return p
}

func (p corsPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.anyOrigin {
		return true
	}
	origin = strings.ToLower(origin)
	if _, ok := p.exact[origin]; ok {
		return true
	}
	for _, sub := range p.subdomains {
		host, ok := strings.CutPrefix(origin, sub.scheme)
		if ok && len(host) > len(sub.suffix) && strings.HasSuffix(host, sub.suffix) {
			return true
		}
	}
	return false
}

// CORS lets the listed clinic sites call the API from the browser. Preflights are
// answered here: 204 for an allowed origin, 403 otherwise.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := newCORSPolicy(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			allowed := policy.allows(origin)
			if origin != "" {
				w.Header().Add("Vary", "Origin")
			}
			if allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
				h.Set("Access-Control-Allow-Methods", corsAllowedMethods)
				h.Set("Access-Control-Expose-Headers", corsExposedHeaders)
				h.Set("Access-Control-Max-Age", corsMaxAge)
			}

			if r.Method == http.MethodOptions && origin != "" && r.Header.Get("Access-Control-Request-Method") != "" {
				if !allowed {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
