package server

import (
	"net/http"
	"net/url"
	"strings"
)

// normalizeOrigin turns a browser Origin header into scheme://host[:port] with
// default ports removed. ok is false for anything that is not an http(s) origin.
func normalizeOrigin(header string) (origin, host string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(header))
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}
	host = normalizeHost(u.Host, scheme)
	if host == "" {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

func normalizeHost(host, scheme string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	return host
}

// originAllowed applies the origin policy. Requests without an Origin header
// (the CLI, curl) are always allowed. With no allow list configured only the
// server's own host may connect; the scheme is ignored because TLS is usually
// terminated by a proxy in front of the relay.
func originAllowed(r *http.Request, allowed []string) (string, bool) {
	header := r.Header.Get("Origin")
	if header == "" {
		return "", true
	}
	origin, host, ok := normalizeOrigin(header)
	if !ok {
		return "", false
	}
	if len(allowed) > 0 {
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(strings.TrimSuffix(a, "/"), origin) {
				return origin, true
			}
		}
		return "", false
	}
	scheme := "http"
	if strings.HasPrefix(origin, "https://") {
		scheme = "https"
	}
	return origin, host == normalizeHost(r.Host, scheme)
}

// withOriginPolicy rejects disallowed origins and adds CORS headers for
// allowed cross-origin callers, answering preflight requests itself.
func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin, ok := originAllowed(r, s.cfg.AllowedOrigins)
		if !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			if h := r.Header.Get("Access-Control-Request-Headers"); h != "" {
				w.Header().Set("Access-Control-Allow-Headers", h)
			}
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}
