// Package testutil provides testing utilities for the album export service.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Upstream paths served by the mock.
const (
	PathAlbumPosts = "/api/user/get-album-post"
	PathAlbumInfo  = "/api/user/get-album-info"
)

// MockPost is one post served by the mock upstream.
type MockPost struct {
	Title   string
	Content string

	// Rank is emitted as-is; nil omits the field.
	Rank any

	AlbumTitle string
	UserName   string
}

// MockPage is one page of the mock album.
type MockPage struct {
	Posts   []MockPost
	HasMore bool

	// Status overrides the HTTP status (default 200).
	Status int

	// Code overrides the envelope code (default 200).
	Code    int
	Message string

	Delay time.Duration
}

// MockAlbumInfo is the payload of the album info endpoint. A nil album
// (via SetAlbumInfo(nil)) yields an envelope without an album.
type MockAlbumInfo struct {
	Title        string
	PostCount    int
	UserName     string
	HasUnlockAll bool
}

// MockUpstream is a configurable mock of the album content API.
type MockUpstream struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	pages    []MockPage
	info     *MockAlbumInfo

	// Tracking
	RequestCount      int
	Cursors           []string
	LastRequestHeader http.Header
}

// NewMockUpstream creates and starts a mock upstream server.
func NewMockUpstream() *MockUpstream {
	mock := &MockUpstream{
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		if r.URL.Path == PathAlbumPosts {
			mock.Cursors = append(mock.Cursors, r.URL.Query().Get("lastRank"))
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		switch r.URL.Path {
		case PathAlbumPosts:
			mock.servePosts(w, r)
		case PathAlbumInfo:
			mock.serveInfo(w, r)
		default:
			http.NotFound(w, r)
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Client returns an HTTP client for the mock server.
func (m *MockUpstream) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockUpstream) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.Cursors = nil
	m.LastRequestHeader = nil
}

// SetHandler overrides the handler for a path.
func (m *MockUpstream) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetAlbumPages configures the album. Page i+1 is served for the lastRank
// equal to the last rank of page i; page 0 for lastRank=0. When several
// pages share a cursor, the first match wins.
func (m *MockUpstream) SetAlbumPages(pages ...MockPage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages = pages
}

// SetAlbumInfo configures the album info endpoint.
func (m *MockUpstream) SetAlbumInfo(info *MockAlbumInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info = info
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockUpstream) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetCursors returns the lastRank values requested, in order.
func (m *MockUpstream) GetCursors() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.Cursors...)
}

// GetLastCookie returns the Cookie header of the most recent request.
func (m *MockUpstream) GetLastCookie() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.LastRequestHeader == nil {
		return ""
	}
	return m.LastRequestHeader.Get("Cookie")
}

func (m *MockUpstream) servePosts(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("lastRank")

	m.mu.RLock()
	page, ok := m.pageFor(cursor)
	m.mu.RUnlock()

	if !ok {
		WriteEnvelope(w, http.StatusOK, 200, "", map[string]any{"list": []any{}, "has_more": 0})
		return
	}

	if page.Delay > 0 {
		select {
		case <-time.After(page.Delay):
		case <-r.Context().Done():
			return
		}
	}

	status := page.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status < 200 || status > 299 {
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error":"%s"}`, http.StatusText(status))
		return
	}

	code := page.Code
	if code == 0 {
		code = 200
	}
	list := make([]any, 0, len(page.Posts))
	for _, p := range page.Posts {
		list = append(list, p.toJSON())
	}
	hasMore := 0
	if page.HasMore {
		hasMore = 1
	}
	WriteEnvelope(w, status, code, page.Message, map[string]any{"list": list, "has_more": hasMore})
}

// pageFor must be called with m.mu held.
func (m *MockUpstream) pageFor(cursor string) (MockPage, bool) {
	prev := "0"
	for _, page := range m.pages {
		if cursor == prev {
			return page, true
		}
		if n := len(page.Posts); n > 0 && page.Posts[n-1].Rank != nil {
			prev = fmt.Sprint(page.Posts[n-1].Rank)
		}
	}
	return MockPage{}, false
}

func (m *MockUpstream) serveInfo(w http.ResponseWriter, _ *http.Request) {
	m.mu.RLock()
	info := m.info
	m.mu.RUnlock()

	if info == nil {
		WriteEnvelope(w, http.StatusOK, 200, "", map[string]any{})
		return
	}
	unlock := 0
	if info.HasUnlockAll {
		unlock = 1
	}
	WriteEnvelope(w, http.StatusOK, 200, "", map[string]any{
		"album": map[string]any{
			"title":        info.Title,
			"post_count":   info.PostCount,
			"user":         map[string]any{"name": info.UserName},
			"hasUnlockAll": unlock,
		},
	})
}

func (p MockPost) toJSON() map[string]any {
	out := map[string]any{
		"title":   p.Title,
		"content": p.Content,
	}
	if p.Rank != nil {
		out["rank"] = p.Rank
	}
	if p.AlbumTitle != "" {
		out["albums"] = []any{map[string]any{"title": p.AlbumTitle}}
	}
	if p.UserName != "" {
		out["user"] = map[string]any{"name": p.UserName}
	}
	return out
}

// WriteEnvelope writes an {ec, em, data} response.
func WriteEnvelope(w http.ResponseWriter, status, code int, message string, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"ec": code, "em": message, "data": data})
}

// Posts builds n sequential posts with ranks start..start+n-1, all
// tagged with album and author.
func Posts(start, n int, album, author string) []MockPost {
	posts := make([]MockPost, 0, n)
	for i := 0; i < n; i++ {
		rank := start + i
		posts = append(posts, MockPost{
			Title:      fmt.Sprintf("Chapter %d", rank),
			Content:    strings.Repeat(fmt.Sprintf("body %d ", rank), 2),
			Rank:       rank,
			AlbumTitle: album,
			UserName:   author,
		})
	}
	return posts
}
