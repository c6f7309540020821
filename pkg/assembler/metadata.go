package assembler

import (
	"context"
	"strings"

	"github.com/Sternrassler/album-export/pkg/upstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Fallback names used when the album metadata cannot be resolved.
const (
	FallbackAlbumTitle = "Unknown Album"
	FallbackAuthorName = "Unknown User"
)

// invalidFilenameChars are replaced by '_' in generated filenames.
const invalidFilenameChars = `<>:"/\|?*`

var metadataFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "album_metadata_fallbacks_total",
	Help: "Total metadata resolutions that fell back to default names",
})

// FirstPageFetcher fetches a page of posts; only the first page is used here.
type FirstPageFetcher interface {
	FetchPage(ctx context.Context, albumID, token, lastRank string) (*upstream.PostPage, error)
}

// Metadata names the exported document.
type Metadata struct {
	AlbumTitle string
	AuthorName string
}

// Filename returns the sanitized "{title}-{author}.txt" name.
func (m Metadata) Filename() string {
	return SanitizeFilename(m.AlbumTitle + "-" + m.AuthorName + ".txt")
}

// FallbackMetadata returns the metadata used when resolution fails.
func FallbackMetadata() Metadata {
	return Metadata{AlbumTitle: FallbackAlbumTitle, AuthorName: FallbackAuthorName}
}

// ResolveMetadata reads the album title and author from the first post of
// the first page. It never fails: any error or missing field is replaced by
// the fallback names.
func ResolveMetadata(ctx context.Context, fetcher FirstPageFetcher, albumID, token string) Metadata {
	meta := FallbackMetadata()

	page, err := fetcher.FetchPage(ctx, albumID, token, "0")
	if err != nil {
		metadataFallbacksTotal.Inc()
		log.Warn().Err(err).Msg("Album metadata lookup failed, using fallback filename")
		return meta
	}
	if len(page.Posts) == 0 {
		metadataFallbacksTotal.Inc()
		log.Debug().Msg("Album has no posts, using fallback filename")
		return meta
	}

	first := page.Posts[0]
	if len(first.Albums) > 0 && first.Albums[0].Title != "" {
		meta.AlbumTitle = first.Albums[0].Title
	}
	if first.User != nil && first.User.Name != "" {
		meta.AuthorName = first.User.Name
	}
	return meta
}

// SanitizeFilename replaces every character in `<>:"/\|?*` with '_'.
func SanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalidFilenameChars, r) {
			return '_'
		}
		return r
	}, name)
}
