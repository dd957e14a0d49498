package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/tcgdex-snapshot/pkg/catalog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultPageSize is the listing page size requested from TCGdex.
const DefaultPageSize = 250

// ErrItemUnavailable marks a catalog item whose detail could not be obtained.
// It never aborts a walk.
var ErrItemUnavailable = errors.New("catalog item unavailable")

// Prometheus metrics for the catalog walk.
var (
	pagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snapshot_listing_pages_total",
		Help: "Total number of non-empty listing pages walked",
	})

	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshot_catalog_items_total",
		Help: "Total number of catalog items by outcome",
	}, []string{"outcome"}) // outcome: fetched, skipped, missing_id
)

// Fetcher is the subset of the HTTP client the walker needs.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	GetJSON(ctx context.Context, url string, v any) error
}

// Pacer inserts the polite delays between requests.
type Pacer interface {
	AfterItem(ctx context.Context) error
	AfterPage(ctx context.Context) error
}

// Config holds walker configuration.
type Config struct {
	BaseURL  string
	PageSize int
}

// Stats summarises a walk.
type Stats struct {
	// Pages is the number of non-empty listing pages
	Pages int

	// Listed counts every stub seen, including those without an id
	Listed int

	Fetched   int
	Skipped   int
	MissingID int
}

// Walker performs the list-then-detail traversal.
type Walker struct {
	fetcher Fetcher
	pacer   Pacer
	config  Config
	logger  zerolog.Logger
}

// NewWalker creates a walker. Zero config values fall back to the defaults.
func NewWalker(fetcher Fetcher, pacer Pacer, config Config) *Walker {
	if config.BaseURL == "" {
		config.BaseURL = catalog.DefaultBaseURL
	}
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}

	return &Walker{
		fetcher: fetcher,
		pacer:   pacer,
		config:  config,
		logger:  log.With().Str("component", "catalog-walker").Logger(),
	}
}

// Walk visits every available card detail in listing order and hands it to fn.
// It returns an error only for a failed listing page, a cancelled context, a
// pacing failure or an error from fn. Stats are valid in every case.
func (w *Walker) Walk(ctx context.Context, fn func(catalog.Detail) error) (Stats, error) {
	var stats Stats
	start := time.Now()

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		var body json.RawMessage
		listURL := catalog.ListURL(w.config.BaseURL, page, w.config.PageSize)
		if err := w.fetcher.GetJSON(ctx, listURL, &body); err != nil {
			return stats, fmt.Errorf("listing page %d: %w", page, err)
		}
		stubs, err := catalog.ParseListing(body)
		if err != nil {
			return stats, fmt.Errorf("listing page %d: %w", page, err)
		}

		if len(stubs) == 0 {
			w.logger.Info().
				Int("pages", stats.Pages).
				Int("fetched", stats.Fetched).
				Int("skipped", stats.Skipped).
				Int("missing_id", stats.MissingID).
				Dur("duration", time.Since(start)).
				Msg("Catalog walk complete")
			return stats, nil
		}

		stats.Pages++
		pagesTotal.Inc()
		w.logger.Debug().Int("page", page).Int("items", len(stubs)).Msg("Listing page received")

		for _, stub := range stubs {
			stats.Listed++
			if stub.ID == "" {
				stats.MissingID++
				itemsTotal.WithLabelValues("missing_id").Inc()
				continue
			}

			detail, err := w.detail(ctx, stub.ID)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return stats, ctxErr
				}
				stats.Skipped++
				itemsTotal.WithLabelValues("skipped").Inc()
				w.logger.Warn().
					Err(err).
					Int("page", page).
					Str("card_id", stub.ID).
					Msg("Skipping card")
			} else {
				stats.Fetched++
				itemsTotal.WithLabelValues("fetched").Inc()
				if err := fn(detail); err != nil {
					return stats, err
				}
			}

			if err := w.pacer.AfterItem(ctx); err != nil {
				return stats, err
			}
		}

		if err := w.pacer.AfterPage(ctx); err != nil {
			return stats, err
		}
	}
}

// detail fetches and parses a single card. The listing id is authoritative
// for the returned record.
func (w *Walker) detail(ctx context.Context, id string) (catalog.Detail, error) {
	body, err := w.fetcher.Fetch(ctx, catalog.DetailURL(w.config.BaseURL, id))
	if err != nil {
		return catalog.Detail{}, fmt.Errorf("%w: %s: %w", ErrItemUnavailable, id, err)
	}

	detail, err := catalog.ParseDetail(body)
	if err != nil {
		return catalog.Detail{}, fmt.Errorf("%w: %s: %w", ErrItemUnavailable, id, err)
	}

	detail.ID = id
	return detail, nil
}
