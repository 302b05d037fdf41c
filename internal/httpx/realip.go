package httpx

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the originating client address of a request. With
// trustProxy set, X-Forwarded-For and X-Real-IP are consulted first; the
// leftmost X-Forwarded-For entry names the original client.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if rip := r.Header.Get("X-Real-IP"); rip != "" {
			return strings.TrimSpace(rip)
		}
	}
	return RemoteIP(r.RemoteAddr)
}

// RemoteIP strips the port from a host:port remote address.
func RemoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
