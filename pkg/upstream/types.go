package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// StatusSuccess is the envelope code the upstream uses for a successful call.
const StatusSuccess = 200

// envelope is the JSON wrapper around every upstream response.
type envelope[T any] struct {
	// Code is the upstream status ("ec"). Anything other than StatusSuccess
	// is a rejection, even when the HTTP status was 2xx.
	Code int `json:"ec"`

	// Message is the optional human-readable reason ("em").
	Message string `json:"em"`

	Data T `json:"data"`
}

// Flag decodes the upstream's loosely typed booleans, which arrive as
// 0/1 numbers, JSON booleans, null, or either of those quoted.
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 2 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("upstream: cannot decode %s as flag", b)
		}
		if inner := strings.TrimSpace(s); inner != "" && inner[0] != '"' {
			if err := f.UnmarshalJSON([]byte(inner)); err == nil {
				return nil
			}
		}
		return fmt.Errorf("upstream: cannot decode %s as flag", b)
	}

	switch string(b) {
	case "null", "false", "0", `""`:
		*f = false
		return nil
	case "true", "1":
		*f = true
		return nil
	}

	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = n != 0
		return nil
	}
	return fmt.Errorf("upstream: cannot decode %s as flag", b)
}

// User is the author embedded in posts and album info.
type User struct {
	Name string `json:"name"`
}

// AlbumRef is the collection reference embedded in a post.
type AlbumRef struct {
	Title string `json:"title"`
}

// Post is a single album post.
type Post struct {
	Title   string `json:"title"`
	Content string `json:"content"`

	// Rank is the ordering key and the pagination cursor. It is kept in the
	// upstream's textual number form; nil means the field was absent, null,
	// or not a number.
	Rank *json.Number `json:"rank"`

	Albums []AlbumRef `json:"albums"`
	User   *User      `json:"user"`
}

// UnmarshalJSON implements json.Unmarshaler. A malformed rank leaves Rank
// nil instead of failing the whole page.
func (p *Post) UnmarshalJSON(b []byte) error {
	type plain Post
	aux := struct {
		*plain
		Rank json.RawMessage `json:"rank"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	p.Rank = parseRank(aux.Rank)
	return nil
}

// parseRank accepts a JSON number or a string holding one.
func parseRank(raw json.RawMessage) *json.Number {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	text := string(raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		text = strings.TrimSpace(s)
	}

	var f float64
	if text == "" || text == "null" || text[0] == '"' || json.Unmarshal([]byte(text), &f) != nil {
		return nil
	}
	n := json.Number(text)
	return &n
}

// RankString returns the rank as sent by the upstream, or "" when undefined.
func (p Post) RankString() string {
	if p.Rank == nil {
		return ""
	}
	return p.Rank.String()
}

// PostPage is the payload of one get-album-post call.
type PostPage struct {
	Posts   []Post `json:"list"`
	HasMore Flag   `json:"has_more"`
}

// AlbumInfo is the payload of a get-album-info call.
type AlbumInfo struct {
	Title        string `json:"title"`
	PostCount    int    `json:"post_count"`
	User         *User  `json:"user"`
	HasUnlockAll Flag   `json:"hasUnlockAll"`
}

type albumInfoData struct {
	Album *AlbumInfo `json:"album"`
}
