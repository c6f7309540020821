// Package pagination walks a rank-cursor paginated album, one page at a time.
//
// Each page's cursor depends on the last post of the previous page, so pages
// are fetched strictly in sequence. The Pager is a forward-only iterator in
// the style of bufio.Scanner:
//
//	pager := pagination.NewPager(client, albumID, token, pagination.DefaultConfig())
//	for pager.Next(ctx) {
//		page := pager.Page()
//		// consume page.Posts
//	}
//	if err := pager.Err(); err != nil {
//		// ErrCollectionEmpty, ErrCursorStalled, ErrPageLimit, upstream errors,
//		// or the context error
//	}
//
// The pager:
//   - Checks the context before every upstream call
//   - Waits PageDelay between pages while the upstream reports more data
//   - Stops on has_more=false or an empty page
//   - Reports an empty first page as ErrCollectionEmpty
//   - Stops with ErrCursorStalled when the cursor cannot advance
//   - Stops with ErrPageLimit after MaxPages fetches
//   - Never retries a failed page
package pagination
