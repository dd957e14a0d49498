package cache

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Upstream is the fetcher being cached.
type Upstream interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	GetJSON(ctx context.Context, url string, v any) error
}

// Fetcher is a read-through cache in front of an Upstream. Fetch is cached;
// GetJSON, used for listing pages, always goes upstream.
type Fetcher struct {
	upstream Upstream
	manager  *Manager
	logger   zerolog.Logger
}

// NewFetcher wraps upstream with manager.
func NewFetcher(upstream Upstream, manager *Manager) *Fetcher {
	return &Fetcher{
		upstream: upstream,
		manager:  manager,
		logger:   log.With().Str("component", "detail-cache").Logger(),
	}
}

// Fetch returns a cached body for url, or fetches and stores it.
// Only successful upstream responses are stored.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	key := Key{URL: url}

	entry, err := f.manager.Get(ctx, key)
	if err == nil {
		f.logger.Debug().Str("url", url).Msg("Cache hit")
		return entry.Data, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		f.logger.Warn().Err(err).Str("url", url).Msg("Cache lookup failed, fetching upstream")
	}

	body, err := f.upstream.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	if err := f.manager.Store(ctx, key, body); err != nil {
		f.logger.Warn().Err(err).Str("url", url).Msg("Cache store failed")
	}
	return body, nil
}

// GetJSON delegates to the upstream fetcher without caching.
func (f *Fetcher) GetJSON(ctx context.Context, url string, v any) error {
	return f.upstream.GetJSON(ctx, url, v)
}
