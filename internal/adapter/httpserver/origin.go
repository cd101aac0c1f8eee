package httpserver

import (
	"log/slog"
	"net/http"
	"net/url"
)

// newCheckOrigin allows requests without an Origin header, requests from the
// host serving the page, and allowedOrigin when set. In development localhost
// origins are allowed as well.
func newCheckOrigin(allowedOrigin string, isDevelopment bool) func(r *http.Request) bool {
	allowed := extractOrigin(allowedOrigin)

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		u, err := url.Parse(origin)
		if err == nil && u.Host == r.Host {
			return true
		}

		if allowed != "" && origin == allowed {
			return true
		}

		if isDevelopment && err == nil && isLocalhost(u.Hostname()) {
			return true
		}

		slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		return false
	}
}

func extractOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func isLocalhost(host string) bool {
	return host == "localhost" || host == "127.0.0.1"
}
