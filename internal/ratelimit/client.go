package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// ClientKey derives the rate limiting identity of a request from its source address.
// When trustForwarded is set, the first X-Forwarded-For hop or X-Real-IP is used instead;
// only enable it behind a proxy that overwrites those headers.
func ClientKey(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
		if xRealIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); xRealIP != "" {
			return xRealIP
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
