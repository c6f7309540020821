package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Sternrassler/album-export/pkg/upstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var (
	// ErrCollectionEmpty is returned when the very first page has no posts.
	ErrCollectionEmpty = errors.New("no posts found in this album")

	// ErrCursorStalled is returned when a page reports more data but its last
	// post carries no rank beyond the current cursor.
	ErrCursorStalled = errors.New("pagination cursor did not advance")

	// ErrPageLimit is returned when MaxPages pages were fetched and the
	// upstream still reports more.
	ErrPageLimit = errors.New("pagination page limit reached")
)

// InitialCursor is the lastRank sent for the first page.
const InitialCursor = "0"

var pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "album_pages_fetched_total",
	Help: "Total album pages fetched by outcome",
}, []string{"outcome"})

// Config holds pager configuration.
type Config struct {
	// PageDelay is the pause between successive fetches while more pages remain.
	PageDelay time.Duration

	// MaxPages caps the number of upstream fetches for one retrieval.
	MaxPages int
}

// DefaultConfig returns the production pager configuration.
func DefaultConfig() Config {
	return Config{
		PageDelay: 200 * time.Millisecond,
		MaxPages:  5000,
	}
}

// PageFetcher fetches a single page of posts after lastRank.
// *upstream.Client implements it.
type PageFetcher interface {
	FetchPage(ctx context.Context, albumID, token, lastRank string) (*upstream.PostPage, error)
}

// Page is one consumed upstream page.
type Page struct {
	// Number is the 1-based position of the page in this retrieval.
	Number int

	// Cursor is the lastRank that produced this page.
	Cursor string

	Posts   []upstream.Post
	HasMore bool
}

// Pager iterates the pages of one album. It is not safe for concurrent use
// and cannot be restarted.
type Pager struct {
	fetcher PageFetcher
	albumID string
	token   string
	config  Config

	cursor  string
	page    *Page
	fetched int
	posts   int
	stalled bool
	done    bool
	err     error
}

// NewPager creates a pager positioned before the first page.
func NewPager(fetcher PageFetcher, albumID, token string, cfg Config) *Pager {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultConfig().MaxPages
	}
	if cfg.PageDelay < 0 {
		cfg.PageDelay = 0
	}
	return &Pager{
		fetcher: fetcher,
		albumID: albumID,
		token:   token,
		config:  cfg,
		cursor:  InitialCursor,
	}
}

// Next advances to the next page. It returns false when the sequence is
// exhausted or failed; Err distinguishes the two.
func (p *Pager) Next(ctx context.Context) bool {
	if p.done {
		return false
	}

	if p.page != nil {
		if !p.page.HasMore {
			return p.finish(nil)
		}
		if p.stalled {
			return p.finish(fmt.Errorf("%w at lastRank=%s", ErrCursorStalled, p.cursor))
		}
		if p.fetched >= p.config.MaxPages {
			return p.finish(fmt.Errorf("%w (%d pages)", ErrPageLimit, p.fetched))
		}
		if err := p.wait(ctx); err != nil {
			return p.finish(err)
		}
	}

	if err := ctx.Err(); err != nil {
		return p.finish(err)
	}

	cursor := p.cursor
	resp, err := p.fetcher.FetchPage(ctx, p.albumID, p.token, cursor)
	if err != nil {
		pagesFetchedTotal.WithLabelValues("error").Inc()
		return p.finish(err)
	}
	p.fetched++

	if len(resp.Posts) == 0 {
		pagesFetchedTotal.WithLabelValues("empty").Inc()
		if p.fetched == 1 {
			return p.finish(ErrCollectionEmpty)
		}
		return p.finish(nil)
	}
	pagesFetchedTotal.WithLabelValues("ok").Inc()

	p.page = &Page{
		Number:  p.fetched,
		Cursor:  cursor,
		Posts:   resp.Posts,
		HasMore: bool(resp.HasMore),
	}
	p.posts += len(resp.Posts)

	last := resp.Posts[len(resp.Posts)-1]
	if next, ok := advance(cursor, last.Rank); ok {
		p.cursor = next
	} else {
		p.stalled = true
		log.Warn().
			Str("cursor", cursor).
			Str("last_rank", last.RankString()).
			Int("page", p.fetched).
			Msg("Album page did not advance the cursor")
	}

	return true
}

// Page returns the page produced by the last successful Next.
func (p *Pager) Page() *Page {
	return p.page
}

// Err returns the error that ended iteration, or nil on normal exhaustion.
func (p *Pager) Err() error {
	return p.err
}

// Stats returns the number of pages fetched and posts delivered so far.
func (p *Pager) Stats() (pages, posts int) {
	return p.fetched, p.posts
}

func (p *Pager) finish(err error) bool {
	p.done = true
	p.err = err
	p.page = nil
	return false
}

// wait sleeps PageDelay unless the context ends first.
func (p *Pager) wait(ctx context.Context) error {
	if p.config.PageDelay == 0 {
		return nil
	}
	timer := time.NewTimer(p.config.PageDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// advance returns the next cursor when rank is defined, numeric, and
// strictly greater than cursor.
func advance(cursor string, rank *json.Number) (string, bool) {
	if rank == nil {
		return cursor, false
	}
	next, err := strconv.ParseFloat(rank.String(), 64)
	if err != nil {
		return cursor, false
	}
	cur, err := strconv.ParseFloat(cursor, 64)
	if err != nil || next <= cur {
		return cursor, false
	}
	return rank.String(), true
}
