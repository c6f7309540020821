package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/Sternrassler/album-export/pkg/pagination"
	"github.com/Sternrassler/album-export/pkg/upstream"
)

// scriptedFetcher returns pages (or errors) in call order.
type scriptedFetcher struct {
	pages []*upstream.PostPage
	errs  map[int]error
	calls int
}

func (f *scriptedFetcher) FetchPage(ctx context.Context, albumID, token, lastRank string) (*upstream.PostPage, error) {
	i := f.calls
	f.calls++
	if err := f.errs[i]; err != nil {
		return nil, err
	}
	if i >= len(f.pages) {
		return &upstream.PostPage{}, nil
	}
	return f.pages[i], nil
}

func ranked(hasMore bool, ranks ...int) *upstream.PostPage {
	page := &upstream.PostPage{HasMore: upstream.Flag(hasMore)}
	for _, r := range ranks {
		n := json.Number(fmt.Sprint(r))
		page.Posts = append(page.Posts, upstream.Post{
			Title:   fmt.Sprintf("T%d", r),
			Content: fmt.Sprintf("C%d", r),
			Rank:    &n,
		})
	}
	return page
}

func newPager(f pagination.PageFetcher) *pagination.Pager {
	return pagination.NewPager(f, "album", "token", pagination.Config{MaxPages: 100})
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{err: nil, expected: OutcomeComplete},
		{err: pagination.ErrCollectionEmpty, expected: OutcomeEmpty},
		{err: context.Canceled, expected: OutcomeCancelled},
		{err: fmt.Errorf("wrapped: %w", context.DeadlineExceeded), expected: OutcomeCancelled},
		{err: &upstream.HTTPError{StatusCode: 500}, expected: OutcomeUpstream},
		{err: &upstream.APIError{Code: 401, Message: "login required"}, expected: OutcomeUpstream},
		{err: &upstream.NetworkError{Endpoint: "get-album-post", Err: errors.New("connection refused")}, expected: OutcomeUpstream},
		{err: fmt.Errorf("%w: decode", upstream.ErrInvalidResponse), expected: OutcomeUpstream},
		{err: fmt.Errorf("%w at lastRank=3", pagination.ErrCursorStalled), expected: OutcomeError},
		{err: pagination.ErrPageLimit, expected: OutcomeError},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", i, tt.expected), func(t *testing.T) {
			if got := Outcome(tt.err); got != tt.expected {
				t.Errorf("Outcome(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "http", err: &upstream.HTTPError{StatusCode: 502}, expected: "Failed to fetch data (HTTP 502)"},
		{name: "api", err: &upstream.APIError{Code: 401, Message: "expired"}, expected: "API Error 401 - expired"},
		{name: "network", err: &upstream.NetworkError{Err: errors.New("reset")}, expected: "Failed to fetch data (network error)"},
		{name: "invalid", err: fmt.Errorf("%w: x", upstream.ErrInvalidResponse), expected: "Failed to fetch data (invalid response)"},
		{name: "empty", err: pagination.ErrCollectionEmpty, expected: "No posts found in this album"},
		{name: "stalled", err: pagination.ErrCursorStalled, expected: "Pagination stopped: upstream returned a page without a usable rank"},
		{name: "limit", err: pagination.ErrPageLimit, expected: "Pagination stopped: page limit reached"},
		{name: "timeout", err: context.DeadlineExceeded, expected: "Request timed out"},
		{name: "cancelled", err: context.Canceled, expected: "Request cancelled"},
		{name: "other", err: errors.New("internal detail"), expected: "Unknown error"},
		{name: "nil", err: nil, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Describe(tt.err); got != tt.expected {
				t.Errorf("Describe() = %q, want %q", got, tt.expected)
			}
		})
	}
}
