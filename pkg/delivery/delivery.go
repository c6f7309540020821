// Package delivery consumes a pagination.Pager in one of two modes.
//
// Buffer folds every page into a single in-memory document; failures become
// an inline "Error: ..." line so the caller always gets a complete artifact.
// StreamProgress maps pages to progress events and never carries content.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/album-export/pkg/pagination"
	"github.com/Sternrassler/album-export/pkg/upstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Mode names a delivery mode.
type Mode string

const (
	ModeBuffered Mode = "buffered"
	ModeProgress Mode = "progress"
)

// Outcome labels for finished retrievals.
const (
	OutcomeComplete  = "complete"
	OutcomeEmpty     = "empty"
	OutcomeUpstream  = "upstream_error"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

var (
	retrievalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "album_retrievals_total",
		Help: "Total album retrievals by delivery mode and outcome",
	}, []string{"mode", "outcome"})

	postsDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "album_posts_delivered_total",
		Help: "Total posts consumed by delivery mode",
	}, []string{"mode"})

	pagesPerRetrieval = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "album_pages_per_retrieval",
		Help:    "Upstream pages fetched per retrieval",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

// Iterator is the page sequence consumed by both modes.
// *pagination.Pager implements it.
type Iterator interface {
	Next(ctx context.Context) bool
	Page() *pagination.Page
	Err() error
	Stats() (pages, posts int)
}

// Outcome classifies the error that ended a retrieval.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeComplete
	case errors.Is(err, pagination.ErrCollectionEmpty):
		return OutcomeEmpty
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	case upstream.IsUpstreamFailure(err):
		return OutcomeUpstream
	default:
		return OutcomeError
	}
}

// Describe renders err as the caller-facing message used in inline markers
// and error events. Internal detail (endpoints, wrapped causes) is omitted.
func Describe(err error) string {
	var httpErr *upstream.HTTPError
	var apiErr *upstream.APIError
	var netErr *upstream.NetworkError

	switch {
	case err == nil:
		return ""
	case errors.As(err, &httpErr):
		return fmt.Sprintf("Failed to fetch data (HTTP %d)", httpErr.StatusCode)
	case errors.As(err, &apiErr):
		return apiErr.Error()
	case errors.As(err, &netErr):
		return "Failed to fetch data (network error)"
	case errors.Is(err, upstream.ErrInvalidResponse):
		return "Failed to fetch data (invalid response)"
	case errors.Is(err, pagination.ErrCollectionEmpty):
		return "No posts found in this album"
	case errors.Is(err, pagination.ErrCursorStalled):
		return "Pagination stopped: upstream returned a page without a usable rank"
	case errors.Is(err, pagination.ErrPageLimit):
		return "Pagination stopped: page limit reached"
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"
	case errors.Is(err, context.Canceled):
		return "Request cancelled"
	default:
		return "Unknown error"
	}
}

func record(mode Mode, it Iterator, err error) {
	pages, posts := it.Stats()
	retrievalsTotal.WithLabelValues(string(mode), Outcome(err)).Inc()
	postsDeliveredTotal.WithLabelValues(string(mode)).Add(float64(posts))
	pagesPerRetrieval.Observe(float64(pages))
}
