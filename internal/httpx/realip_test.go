package httpx

import (
	"net/http/httptest"
	"testing"
)

func TestClientIPDirect(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "203.0.113.9:52114"

	if got := ClientIP(r, false); got != "203.0.113.9" {
		t.Fatalf("ClientIP = %q, want 203.0.113.9", got)
	}
}

func TestClientIPIgnoresHeadersWithoutTrust(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "203.0.113.9:52114"
	r.Header.Set("X-Forwarded-For", "198.51.100.1")

	if got := ClientIP(r, false); got != "203.0.113.9" {
		t.Fatalf("ClientIP = %q, want remote addr", got)
	}
}

func TestClientIPForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "10.0.0.2:40000"
	r.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.2")

	if got := ClientIP(r, true); got != "198.51.100.1" {
		t.Fatalf("ClientIP = %q, want leftmost forwarded entry", got)
	}
}

func TestClientIPRealIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "10.0.0.2:40000"
	r.Header.Set("X-Real-IP", "198.51.100.7")

	if got := ClientIP(r, true); got != "198.51.100.7" {
		t.Fatalf("ClientIP = %q, want X-Real-IP value", got)
	}
}

func TestRemoteIPWithoutPort(t *testing.T) {
	if got := RemoteIP("198.51.100.1"); got != "198.51.100.1" {
		t.Fatalf("RemoteIP = %q", got)
	}
	if got := RemoteIP("[2001:db8::1]:443"); got != "2001:db8::1" {
		t.Fatalf("RemoteIP = %q", got)
	}
}
