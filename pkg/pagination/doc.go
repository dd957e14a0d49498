// Package pagination walks the paginated TCGdex card listing.
//
// TCGdex serves the catalog as fixed-size listing pages with no total count,
// so the walk is a simple cursor: pages are requested in order starting at 1
// until one comes back empty. Each listed stub is then resolved to its detail
// record, one request at a time.
//
// Example usage:
//
//	walker := pagination.NewWalker(fetcher, pacer, pagination.Config{
//		BaseURL:  catalog.DefaultBaseURL,
//		PageSize: 250,
//	})
//	stats, err := walker.Walk(ctx, func(d catalog.Detail) error {
//		return handle(d)
//	})
//
// The walker:
//   - Treats a failed listing page as fatal for the whole walk
//   - Skips stubs without an id, without fetching them
//   - Isolates detail failures: the item is logged, counted and skipped
//   - Pauses after every attempted item and every non-empty page
//   - Aborts when the callback returns an error
package pagination
