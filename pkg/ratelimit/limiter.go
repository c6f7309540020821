package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limiting.
var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "album_rate_limit_decisions_total",
		Help: "Total admission decisions by operation and result",
	}, []string{"operation", "result"})

	storeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "album_rate_limit_store_errors_total",
		Help: "Total rate limit store failures by operation (requests were admitted)",
	}, []string{"operation"})

	activeIdentities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "album_rate_limit_active_identities",
		Help: "Number of client windows tracked by the in-memory store",
	})
)

// Store holds the per-key windows.
type Store interface {
	Admit(ctx context.Context, key string, p Policy) (Decision, error)
	Peek(ctx context.Context, key string, p Policy) (Decision, error)
	Close() error
}

// Limiter applies per-operation policies to client identities.
type Limiter struct {
	store    Store
	policies map[Operation]Policy
	logger   zerolog.Logger
	now      func() time.Time
}

// NewLimiter creates a limiter over store with the given policies.
func NewLimiter(store Store, policies map[Operation]Policy, logger zerolog.Logger) *Limiter {
	copied := make(map[Operation]Policy, len(policies))
	for op, p := range policies {
		copied[op] = p
	}
	return &Limiter{
		store:    store,
		policies: copied,
		logger:   logger,
		now:      time.Now,
	}
}

// Policy returns the policy for op. Unknown operations get a zero policy,
// which rejects everything after the first request of a window.
func (l *Limiter) Policy(op Operation) Policy {
	return l.policies[op]
}

// Admit counts one request from identity against op's policy.
// Store failures admit the request and are logged; Admit never fails.
func (l *Limiter) Admit(ctx context.Context, op Operation, identity string) Decision {
	p := l.policies[op]

	d, err := l.store.Admit(ctx, key(op, identity), p)
	if err != nil {
		storeErrorsTotal.WithLabelValues(string(op)).Inc()
		l.logger.Warn().
			Err(err).
			Str("operation", string(op)).
			Msg("Rate limit store unavailable, admitting request")
		d = freshDecision(p, l.now())
		d.Remaining = max(p.Limit-1, 0)
	}

	if d.Allowed {
		decisionsTotal.WithLabelValues(string(op), "allowed").Inc()
	} else {
		decisionsTotal.WithLabelValues(string(op), "rejected").Inc()
		l.logger.Warn().
			Str("operation", string(op)).
			Str("client", identity).
			Time("reset_at", d.ResetAt).
			Msg("Request rejected by rate limiter")
	}
	return d
}

// Peek reports identity's quota for op without counting a request.
func (l *Limiter) Peek(ctx context.Context, op Operation, identity string) Decision {
	p := l.policies[op]

	d, err := l.store.Peek(ctx, key(op, identity), p)
	if err != nil {
		storeErrorsTotal.WithLabelValues(string(op)).Inc()
		l.logger.Debug().Err(err).Str("operation", string(op)).Msg("Rate limit peek failed")
		return freshDecision(p, l.now())
	}
	return d
}

// Destroy releases the store (stops the in-memory sweeper).
func (l *Limiter) Destroy() error {
	return l.store.Close()
}

func key(op Operation, identity string) string {
	return string(op) + ":" + identity
}
