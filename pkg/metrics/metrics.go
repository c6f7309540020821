// Package metrics exposes the Prometheus registry and handler used by the
// album export service. Metrics are declared with promauto next to the code
// that updates them (upstream, pagination, assembler, ratelimit, delivery).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the registerer all promauto metrics land in. Handler also
	// registers its own scrape counters here.
	Registry = prometheus.DefaultRegisterer

	// Gatherer is what Handler exposes. It must read what Registry collects.
	Gatherer = prometheus.DefaultGatherer
)

// Handler serves Gatherer in the Prometheus text format, instrumented with
// promhttp's scrape counters.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(Registry,
		promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
}

// Metrics Documentation
//
// Upstream (pkg/upstream):
//   - album_upstream_requests_total{endpoint, status} (Counter)
//   - album_upstream_request_duration_seconds{endpoint} (Histogram)
//   - album_upstream_errors_total{class} (Counter): client, server, network, rejected
//
// Pagination (pkg/pagination):
//   - album_pages_fetched_total{outcome} (Counter): ok, empty, error
//
// Assembler (pkg/assembler):
//   - album_metadata_fallbacks_total (Counter): filenames built from fallback names
//
// Rate limiting (pkg/ratelimit):
//   - album_rate_limit_decisions_total{operation, result} (Counter)
//   - album_rate_limit_store_errors_total{operation} (Counter)
//   - album_rate_limit_active_identities (Gauge): in-memory store only
//
// Delivery (pkg/delivery):
//   - album_retrievals_total{mode, outcome} (Counter): complete, empty,
//     upstream_error, error (stalled cursor, page limit), cancelled
//   - album_posts_delivered_total{mode} (Counter)
//   - album_pages_per_retrieval (Histogram)
//
// Example Prometheus Queries:
//
//   # Share of retrievals that ended with an upstream error
//   sum(rate(album_retrievals_total{outcome="upstream_error"}[5m])) /
//   sum(rate(album_retrievals_total[5m]))
//
//   # Rate limit rejections per operation
//   sum by (operation) (rate(album_rate_limit_decisions_total{result="rejected"}[5m]))
//
//   # P95 upstream latency
//   histogram_quantile(0.95, rate(album_upstream_request_duration_seconds_bucket[5m]))
