// Package utils holds small helpers shared by the HTTP layer and the domain
// services: client IP extraction, JSON responses, pagination, retries and
// calendar-day arithmetic.
package utils

import (
	"net"
	"net/http"
	"strings"
)

// ExtractClientIP returns the originating client address of r. Proxy headers
// are consulted first (X-Forwarded-For, then X-Real-IP); RemoteAddr is used
// without its port otherwise.
func ExtractClientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		// "client, proxy1, proxy2"
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
