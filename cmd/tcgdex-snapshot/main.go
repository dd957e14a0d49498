// Command tcgdex-snapshot writes the daily TCGdex Cardmarket price snapshot.
//
// By default it runs once and prints a one-line summary on stdout. With
// SNAPSHOT_SCHEDULE set it stays up and runs on that cron schedule (UTC)
// until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/tcgdex-snapshot/pkg/config"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/job"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/logging"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run is main without the process plumbing; it returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tcgdex-snapshot", flag.ContinueOnError)
	fs.SetOutput(stderr)
	envFile := fs.String("env", config.DefaultEnvFile, "optional .env file to load")
	once := fs.Bool("once", false, "run once even if SNAPSHOT_SCHEDULE is set")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return 1
	}

	logCfg := cfg.LoggingConfig()
	logCfg.Output = stderr
	logger := logging.Setup(logCfg)

	rdb, err := connectRedis(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "redis: %v\n", err)
		return 1
	}
	if rdb != nil {
		defer rdb.Close()
		logger.Info().Str("addr", cfg.RedisAddr).Bool("detail_cache", cfg.CacheEnabled()).Msg("Connected to Redis")
	}

	j, err := job.FromConfig(cfg, rdb)
	if err != nil {
		fmt.Fprintf(stderr, "setup: %v\n", err)
		return 1
	}

	if cfg.Schedule == "" || *once {
		if err := runOnce(ctx, j, cfg, stdout); err != nil {
			fmt.Fprintf(stderr, "snapshot failed: %v\n", err)
			return 1
		}
		return 0
	}

	if err := runScheduled(ctx, j, cfg, stdout, logger); err != nil {
		fmt.Fprintf(stderr, "scheduler: %v\n", err)
		return 1
	}
	return 0
}

// runOnce performs a single run and prints its summary.
func runOnce(ctx context.Context, j *job.Job, cfg *config.Config, stdout io.Writer) error {
	sum, err := j.Run(ctx)
	exportMetrics(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, sum.String())
	return nil
}

// runScheduled runs the job on cfg.Schedule until ctx is done. Overlapping
// runs are skipped.
func runScheduled(ctx context.Context, j *job.Job, cfg *config.Config, stdout io.Writer, logger zerolog.Logger) error {
	cronLog := cronLogger{logger: logging.NewLogger("scheduler")}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	_, err := c.AddFunc(cfg.Schedule, func() {
		// failures are logged by the job; the next tick runs regardless
		_ = runOnce(ctx, j, cfg, stdout)
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", cfg.Schedule, err)
	}

	c.Start()
	if entries := c.Entries(); len(entries) > 0 {
		logger.Info().Str("schedule", cfg.Schedule).Time("next", entries[0].Next).Msg("Scheduler started")
	}

	<-ctx.Done()
	logger.Info().Msg("Shutting down scheduler")
	<-c.Stop().Done()
	return nil
}

// connectRedis returns nil when Redis is not configured.
func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if !cfg.RedisEnabled() {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.RedisAddr, err)
	}
	return rdb, nil
}

func exportMetrics(cfg *config.Config) {
	if cfg.MetricsTextfile == "" {
		return
	}
	if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
		logger := logging.NewLogger("metrics")
		logger.Warn().Err(err).Str("path", cfg.MetricsTextfile).Msg("Metrics export failed")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	if errors.Is(err, context.Canceled) {
		return
	}
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
