package util

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the caller address. X-Forwarded-For is honoured only when
// trustForwarded is set, since the webhook normally sits behind one proxy.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		for _, part := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
			if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
				return ip.String()
			}
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
