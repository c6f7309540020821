package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// UnknownIdentity is the shared bucket for requests that carry no address.
const UnknownIdentity = "unknown"

// Response headers.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// ClientIdentity derives the rate limit key for a request: the first
// X-Forwarded-For entry, then X-Real-IP, then the connection address.
func ClientIdentity(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}
	return UnknownIdentity
}

// SetHeaders writes the quota headers for d.
func SetHeaders(h http.Header, d Decision) {
	h.Set(HeaderLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderReset, d.ResetAt.UTC().Format(time.RFC3339))
}

// SetRetryAfter writes Retry-After in whole seconds, rounded up.
func SetRetryAfter(h http.Header, d Decision, now time.Time) {
	wait := d.RetryAfter(now)
	secs := int((wait + time.Second - 1) / time.Second)
	h.Set("Retry-After", strconv.Itoa(secs))
}
