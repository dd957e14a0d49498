// Package ratelimit keeps the snapshot job a polite client of the upstream
// catalog: fixed pauses after each item and each page, plus an optional
// request-rate limiter shared by every outgoing request.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// Prometheus metrics for pacing.
var (
	pacingSecondsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshot_pacing_seconds_total",
		Help: "Total time spent in polite pacing delays by scope",
	}, []string{"scope"})
)

// Config holds pacing configuration.
type Config struct {
	// ItemDelay is the pause after each catalog item. Must be > 0.
	ItemDelay time.Duration

	// PageDelay is the pause after each listing page. Must be > 0.
	PageDelay time.Duration

	// RequestsPerSecond caps outgoing requests; 0 disables the limiter.
	// Must be finite.
	RequestsPerSecond float64
}

// DefaultConfig returns the default pacing configuration.
func DefaultConfig() Config {
	return Config{
		ItemDelay: 10 * time.Millisecond,
		PageDelay: 50 * time.Millisecond,
	}
}

// Validate ensures pacing delays stay strictly positive.
func (c Config) Validate() error {
	if c.ItemDelay <= 0 {
		return fmt.Errorf("item delay must be positive (got %s)", c.ItemDelay)
	}
	if c.PageDelay <= 0 {
		return fmt.Errorf("page delay must be positive (got %s)", c.PageDelay)
	}
	if math.IsNaN(c.RequestsPerSecond) || math.IsInf(c.RequestsPerSecond, 0) || c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second must be a finite non-negative number (got %v)", c.RequestsPerSecond)
	}
	return nil
}

// NewLimiter returns a request limiter for cfg, or nil when disabled.
func (c Config) NewLimiter() *rate.Limiter {
	if !(c.RequestsPerSecond > 0) || math.IsInf(c.RequestsPerSecond, 1) {
		return nil
	}
	return rate.NewLimiter(rate.Limit(c.RequestsPerSecond), 1)
}

// Pacer applies the item and page delays.
type Pacer struct {
	itemDelay time.Duration
	pageDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewPacer creates a pacer. A nil sleep uses SleepContext.
func NewPacer(cfg Config, sleep func(ctx context.Context, d time.Duration) error) (*Pacer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sleep == nil {
		sleep = SleepContext
	}
	return &Pacer{
		itemDelay: cfg.ItemDelay,
		pageDelay: cfg.PageDelay,
		sleep:     sleep,
	}, nil
}

// AfterItem pauses after one catalog item.
func (p *Pacer) AfterItem(ctx context.Context) error {
	pacingSecondsTotal.WithLabelValues("item").Add(p.itemDelay.Seconds())
	return p.sleep(ctx, p.itemDelay)
}

// AfterPage pauses after one listing page.
func (p *Pacer) AfterPage(ctx context.Context) error {
	pacingSecondsTotal.WithLabelValues("page").Add(p.pageDelay.Seconds())
	return p.sleep(ctx, p.pageDelay)
}

// SleepContext blocks for d, returning early with ctx.Err() if ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
