// Package cache provides an optional Redis cache for card detail bodies.
//
// Card details change at most once a day upstream, so a rerun of the
// snapshot (after a crash, or a second scheduled run the same day) can reuse
// bodies fetched by the previous run instead of walking the whole catalog
// over the network again. Only detail bodies are cached: listing pages are
// always fetched live, so pagination still ends on the real empty page, and
// the exchange rate never passes through this package.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient, 6*time.Hour)
//	fetcher := cache.NewFetcher(httpClient, manager)
//
//	body, err := fetcher.Fetch(ctx, catalog.DetailURL(base, "swsh3-136"))
//
// Cache failures never fail a fetch: a Redis error is logged, counted and
// the request falls through to the upstream fetcher.
//
// # Metrics
//
//   - snapshot_cache_hits_total - Cache hits
//   - snapshot_cache_misses_total - Cache misses
//   - snapshot_cache_stored_bytes_total - Bytes written to Redis
//   - snapshot_cache_errors_total{operation} - Cache operation errors
package cache
