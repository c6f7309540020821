package delivery

import (
	"bytes"
	"context"

	"github.com/Sternrassler/album-export/pkg/assembler"
	"github.com/rs/zerolog/log"
)

// Document is a fully assembled export.
type Document struct {
	// Content is the UTF-8 document, including any inline error line.
	Content []byte

	// Posts is the number of posts rendered into Content.
	Posts int

	// Pages is the number of upstream pages fetched.
	Pages int

	// Err is the error that ended pagination early, if any. It is already
	// reflected in Content.
	Err error
}

// Len returns the exact byte length of the document.
func (d *Document) Len() int {
	return len(d.Content)
}

// Buffer drains it and renders every post with layout. It never fails: a
// pagination error is appended to the document as "Error: <message>\n".
func Buffer(ctx context.Context, it Iterator, layout assembler.Layout) *Document {
	var buf bytes.Buffer

	for it.Next(ctx) {
		page := it.Page()
		// bytes.Buffer writes cannot fail.
		_, _ = assembler.WriteFragments(&buf, page.Posts, layout)
	}

	err := it.Err()
	if err != nil {
		buf.WriteString("Error: ")
		buf.WriteString(Describe(err))
		buf.WriteString("\n")

		log.Warn().
			Err(err).
			Str("outcome", Outcome(err)).
			Msg("Buffered retrieval ended early")
	}

	record(ModeBuffered, it, err)

	pages, posts := it.Stats()
	return &Document{
		Content: buf.Bytes(),
		Posts:   posts,
		Pages:   pages,
		Err:     err,
	}
}
