// Package ratelimit implements the per-client fixed-window request governor.
// It decides whether an operation may run before any upstream call is made,
// and reports the remaining quota for the X-RateLimit-* response headers.
package ratelimit

import (
	"time"
)

// Redis key prefix for window counters.
// Full key: album:rate_limit:{operation}:{identity}
const RedisKeyPrefix = "album:rate_limit"

// Operation names an independently limited kind of request.
type Operation string

const (
	// OperationInfo is the album metadata lookup.
	OperationInfo Operation = "info"

	// OperationDownload is the full retrieval. It fans out into many
	// upstream page requests, so its policy is stricter.
	OperationDownload Operation = "download"
)

// Policy is a fixed-window limit.
type Policy struct {
	// Limit is the number of admissions allowed per window.
	Limit int

	// Window is the length of a window, starting at the first admission.
	Window time.Duration
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	duration := d.ResetAt.Sub(now)
	if duration < 0 {
		return 0
	}
	return duration
}

// window is the per-identity counter.
type window struct {
	count   int
	resetAt time.Time
}

// expired reports whether now is past the window's reset time.
func (w *window) expired(now time.Time) bool {
	return now.After(w.resetAt)
}

func (w *window) decision(p Policy, allowed bool) Decision {
	remaining := p.Limit - w.count
	if !allowed || remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   allowed,
		Limit:     p.Limit,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}
}

func freshDecision(p Policy, now time.Time) Decision {
	return Decision{
		Allowed:   true,
		Limit:     p.Limit,
		Remaining: p.Limit,
		ResetAt:   now.Add(p.Window),
	}
}
