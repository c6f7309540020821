// Package assembler turns album posts into the text of the exported document
// and names the file it is delivered as.
package assembler

import (
	"fmt"
	"io"
	"strings"

	"github.com/Sternrassler/album-export/pkg/upstream"
)

// Layout selects how each post's heading is rendered.
type Layout string

const (
	// LayoutMarkdown renders "## {title}".
	LayoutMarkdown Layout = "markdown"

	// LayoutChapterNumber renders "{rank}. {title}".
	LayoutChapterNumber Layout = "chapter_number"
)

// ParseLayout maps a caller-supplied layout name to a Layout.
// Unknown or empty names fall back to LayoutMarkdown.
func ParseLayout(s string) Layout {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chapter_number", "chapternumber":
		return LayoutChapterNumber
	default:
		return LayoutMarkdown
	}
}

// Format renders one post as a document fragment.
func Format(post upstream.Post, layout Layout) string {
	var b strings.Builder
	writeFragment(&b, post, layout)
	return b.String()
}

// WriteFragments writes every post of a page to w, in order, and returns the
// number of bytes written.
func WriteFragments(w io.Writer, posts []upstream.Post, layout Layout) (int64, error) {
	var total int64
	var b strings.Builder
	for _, post := range posts {
		b.Reset()
		writeFragment(&b, post, layout)
		n, err := io.WriteString(w, b.String())
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("write fragment: %w", err)
		}
	}
	return total, nil
}

func writeFragment(b *strings.Builder, post upstream.Post, layout Layout) {
	if layout == LayoutChapterNumber {
		b.WriteString(post.RankString())
		b.WriteString(". ")
	} else {
		b.WriteString("## ")
	}
	b.WriteString(post.Title)
	b.WriteString("\n\n")
	b.WriteString(post.Content)
	b.WriteString("\n\n\n")
}
