package job

import (
	"fmt"

	"github.com/Sternrassler/tcgdex-snapshot/pkg/cache"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/client"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/config"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/exchange"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/ledger"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/pagination"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
)

// FromConfig wires a job from cfg. rdb may be nil; when set, runs are
// recorded in the ledger and, if a detail TTL is configured, detail bodies
// are cached.
func FromConfig(cfg *config.Config, rdb *redis.Client) (*Job, error) {
	httpClient, err := client.New(cfg.ClientConfig())
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	pacer, err := ratelimit.NewPacer(cfg.Pacing, nil)
	if err != nil {
		return nil, fmt.Errorf("create pacer: %w", err)
	}

	deps := Deps{
		Rates: exchange.NewResolver(httpClient, cfg.RateURL),
	}

	var fetcher pagination.Fetcher = httpClient
	if rdb != nil {
		if cfg.CacheDetailTTL > 0 {
			fetcher = cache.NewFetcher(httpClient, cache.NewManager(rdb, cfg.CacheDetailTTL))
		}
		deps.Ledger = ledger.New(rdb)
	}

	deps.Walker = pagination.NewWalker(fetcher, pacer, pagination.Config{
		BaseURL:  cfg.BaseURL,
		PageSize: cfg.PageSize,
	})

	return New(deps, Options{
		OutputPath: cfg.OutputPath,
		MinUSD:     cfg.MinUSD,
	})
}
