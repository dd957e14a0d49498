// Package config loads the snapshot job configuration from the environment,
// with an optional .env file for local runs.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/tcgdex-snapshot/pkg/catalog"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/client"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/exchange"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/logging"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/pagination"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/pricing"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/ratelimit"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/snapshot"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// DefaultEnvFile is read by Load when present.
const DefaultEnvFile = ".env"

// MaxCacheDetailTTL bounds CACHE_DETAIL_TTL. A detail cached for a full day
// would carry the previous snapshot's prices into the next one.
const MaxCacheDetailTTL = 24 * time.Hour

// LookupFunc reads one variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Config holds all job configuration.
type Config struct {
	// Upstreams
	BaseURL string
	RateURL string

	// Output
	OutputPath string
	MinUSD     decimal.Decimal
	PageSize   int

	// HTTP
	Timeout   time.Duration
	UserAgent string
	Retry     client.RetryPolicy

	// Pacing
	Pacing ratelimit.Config

	// Logging
	LogLevel  logging.LogLevel
	LogPretty bool

	// Redis (optional)
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	CacheDetailTTL time.Duration // below MaxCacheDetailTTL; 0 disables the cache

	// Metrics textfile export (optional)
	MetricsTextfile string

	// Schedule is a cron expression; empty runs once
	Schedule string
}

// Default returns the configuration used when no variable is set.
func Default() *Config {
	return &Config{
		BaseURL:    catalog.DefaultBaseURL,
		RateURL:    exchange.DefaultURL,
		OutputPath: snapshot.DefaultPath,
		MinUSD:     pricing.DefaultMinUSD,
		PageSize:   pagination.DefaultPageSize,
		Timeout:    client.DefaultConfig().Timeout,
		UserAgent:  client.DefaultConfig().UserAgent,
		Retry:      client.DefaultRetryPolicy(),
		Pacing:     ratelimit.DefaultConfig(),
		LogLevel:   logging.LevelInfo,
	}
}

// Load reads envFile (ignored when missing) into the process environment
// without overriding variables already set, then builds the config from it.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds and validates a config from lookup.
func FromEnv(lookup LookupFunc) (*Config, error) {
	cfg := Default()
	p := &parser{lookup: lookup}

	cfg.BaseURL = p.asString("TCGDEX_BASE_URL", cfg.BaseURL)
	cfg.RateURL = p.asString("ECB_RATE_URL", cfg.RateURL)
	cfg.OutputPath = p.asString("SNAPSHOT_OUTPUT", cfg.OutputPath)
	cfg.MinUSD = p.asDecimal("SNAPSHOT_MIN_USD", cfg.MinUSD)
	cfg.PageSize = p.asInt("SNAPSHOT_PAGE_SIZE", cfg.PageSize)

	cfg.Timeout = p.asDuration("HTTP_TIMEOUT", cfg.Timeout)
	cfg.UserAgent = p.asString("HTTP_USER_AGENT", cfg.UserAgent)
	cfg.Retry.MaxAttempts = p.asInt("RETRY_MAX_ATTEMPTS", cfg.Retry.MaxAttempts)
	cfg.Retry.BaseDelay = p.asDuration("RETRY_BASE_DELAY", cfg.Retry.BaseDelay)
	cfg.Retry.MaxBackoff = p.asDuration("RETRY_MAX_BACKOFF", cfg.Retry.MaxBackoff)

	cfg.Pacing.ItemDelay = p.asDuration("PACE_ITEM_DELAY", cfg.Pacing.ItemDelay)
	cfg.Pacing.PageDelay = p.asDuration("PACE_PAGE_DELAY", cfg.Pacing.PageDelay)
	cfg.Pacing.RequestsPerSecond = p.asFloat("PACE_REQUESTS_PER_SECOND", cfg.Pacing.RequestsPerSecond)

	if v, ok := p.get("LOG_LEVEL"); ok {
		level, err := logging.ParseLevel(v)
		if err != nil {
			p.fail("LOG_LEVEL", err)
		}
		cfg.LogLevel = level
	}
	cfg.LogPretty = p.asBool("LOG_PRETTY", cfg.LogPretty)

	cfg.RedisAddr = p.asString("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = p.asString("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = p.asInt("REDIS_DB", cfg.RedisDB)
	cfg.CacheDetailTTL = p.asDuration("CACHE_DETAIL_TTL", cfg.CacheDetailTTL)

	cfg.MetricsTextfile = p.asString("METRICS_TEXTFILE", cfg.MetricsTextfile)
	cfg.Schedule = p.asString("SNAPSHOT_SCHEDULE", cfg.Schedule)

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config for values the job cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if err := validateURL(c.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("TCGDEX_BASE_URL: %w", err))
	}
	if err := validateURL(c.RateURL); err != nil {
		errs = append(errs, fmt.Errorf("ECB_RATE_URL: %w", err))
	}
	if strings.TrimSpace(c.OutputPath) == "" {
		errs = append(errs, errors.New("SNAPSHOT_OUTPUT: path is required"))
	}
	if c.MinUSD.IsNegative() {
		errs = append(errs, fmt.Errorf("SNAPSHOT_MIN_USD: must not be negative (got %s)", c.MinUSD))
	}
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("SNAPSHOT_PAGE_SIZE: must be positive (got %d)", c.PageSize))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("HTTP_TIMEOUT: must be positive (got %s)", c.Timeout))
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		errs = append(errs, errors.New("HTTP_USER_AGENT: must not be empty"))
	}
	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	if err := c.Pacing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pacing: %w", err))
	}
	if c.CacheDetailTTL < 0 {
		errs = append(errs, fmt.Errorf("CACHE_DETAIL_TTL: must not be negative (got %s)", c.CacheDetailTTL))
	}
	if c.CacheDetailTTL >= MaxCacheDetailTTL {
		errs = append(errs, fmt.Errorf("CACHE_DETAIL_TTL: must be below %s (got %s)", MaxCacheDetailTTL, c.CacheDetailTTL))
	}
	if c.CacheDetailTTL > 0 && c.RedisAddr == "" {
		errs = append(errs, errors.New("CACHE_DETAIL_TTL: requires REDIS_ADDR"))
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("SNAPSHOT_SCHEDULE: %w", err))
		}
	}

	return errors.Join(errs...)
}

// RedisEnabled reports whether a Redis address was configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// CacheEnabled reports whether detail bodies should be cached.
func (c *Config) CacheEnabled() bool {
	return c.RedisEnabled() && c.CacheDetailTTL > 0
}

// ClientConfig returns the HTTP client settings. The limiter is nil unless
// a request rate was configured.
func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig()
	cfg.UserAgent = c.UserAgent
	cfg.Timeout = c.Timeout
	cfg.Retry = c.Retry
	if limiter := c.Pacing.NewLimiter(); limiter != nil {
		cfg.Limiter = limiter
	}
	return cfg
}

// LoggingConfig returns the logger settings.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.LogLevel
	cfg.Pretty = c.LogPretty
	return cfg
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme in %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

// parser collects every malformed variable instead of stopping at the first.
type parser struct {
	lookup LookupFunc
	errs   []error
}

func (p *parser) get(key string) (string, bool) {
	v, ok := p.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p *parser) fail(key string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
}

func (p *parser) asString(key, def string) string {
	if v, ok := p.get(key); ok {
		return v
	}
	return def
}

func (p *parser) asInt(key string, def int) int {
	v, ok := p.get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

func (p *parser) asFloat(key string, def float64) float64 {
	v, ok := p.get(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return f
}

func (p *parser) asBool(key string, def bool) bool {
	v, ok := p.get(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return b
}

func (p *parser) asDuration(key string, def time.Duration) time.Duration {
	v, ok := p.get(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return d
}

func (p *parser) asDecimal(key string, def decimal.Decimal) decimal.Decimal {
	v, ok := p.get(key)
	if !ok {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return d
}
