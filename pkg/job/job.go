// Package job runs one daily pricing snapshot end to end.
//
// A run resolves the EUR->USD rate first. Without it nothing else happens:
// no artifact is created or truncated. Once the rate is known the run
// context is fixed, the artifact is opened and the catalog is streamed
// through the transformer into it.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/tcgdex-snapshot/pkg/catalog"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/exchange"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/ledger"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/logging"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/pagination"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/pricing"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/snapshot"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Prometheus metrics for runs.
var (
	rowsExcluded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshot_rows_excluded_total",
		Help: "Total number of detail records excluded from the snapshot by reason",
	}, []string{"reason"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshot_runs_total",
		Help: "Total number of snapshot runs by result",
	}, []string{"result"})

	runDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "snapshot_run_duration_seconds",
		Help: "Duration of the most recent snapshot run",
	})

	lastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "snapshot_last_success_timestamp_seconds",
		Help: "Unix time of the most recent successful snapshot run",
	})
)

// RateResolver yields the run's exchange rate.
type RateResolver interface {
	Resolve(ctx context.Context) (exchange.Rate, error)
}

// Walker visits catalog details in listing order.
type Walker interface {
	Walk(ctx context.Context, fn func(catalog.Detail) error) (pagination.Stats, error)
}

// Recorder persists run outcomes.
type Recorder interface {
	Record(ctx context.Context, rec ledger.Record) error
}

// Deps are the collaborators of a run. Ledger is optional.
type Deps struct {
	Rates  RateResolver
	Walker Walker
	Ledger Recorder
}

// Options configure a run.
type Options struct {
	OutputPath string
	MinUSD     decimal.Decimal
}

// Job performs snapshot runs. A Job may be run repeatedly but not concurrently.
type Job struct {
	deps        Deps
	output      string
	transformer *pricing.Transformer
	logger      zerolog.Logger

	now   func() time.Time
	newID func() string
}

// New creates a job.
func New(deps Deps, opts Options) (*Job, error) {
	if deps.Rates == nil {
		return nil, errors.New("rate resolver is required")
	}
	if deps.Walker == nil {
		return nil, errors.New("catalog walker is required")
	}
	if opts.OutputPath == "" {
		opts.OutputPath = snapshot.DefaultPath
	}
	if opts.MinUSD.IsNegative() {
		return nil, fmt.Errorf("minimum USD price cannot be negative (got %s)", opts.MinUSD)
	}

	return &Job{
		deps:        deps,
		output:      opts.OutputPath,
		transformer: pricing.NewTransformer(opts.MinUSD),
		logger:      logging.NewLogger("snapshot-job"),
		now:         time.Now,
		newID:       uuid.NewString,
	}, nil
}

// Run performs one snapshot. On failure after the artifact was opened, the
// partial summary is returned alongside the error and the partial artifact
// stays on disk.
func (j *Job) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{
		RunID:     j.newID(),
		Output:    j.output,
		MinUSD:    j.transformer.MinUSD(),
		StartedAt: j.now(),
		Excluded:  make(map[pricing.Reason]int),
	}
	logger := logging.WithRun(j.logger, sum.RunID)
	logger.Info().Str("output", j.output).Msg("Snapshot run started")

	rate, err := j.deps.Rates.Resolve(ctx)
	if err != nil {
		err = fmt.Errorf("resolve rate: %w", err)
		j.finish(ctx, logger, sum, err)
		return nil, err
	}

	rc := pricing.RunContext{Rate: rate, Timestamp: j.now().UTC()}
	sum.Rate = rate
	sum.RunTimestamp = rc.FormattedTimestamp()

	w, err := snapshot.Create(j.output)
	if err != nil {
		j.finish(ctx, logger, sum, err)
		return nil, err
	}

	stats, walkErr := j.deps.Walker.Walk(ctx, func(d catalog.Detail) error {
		res := j.transformer.Transform(d, rc)
		if !res.Included() {
			sum.Excluded[res.Reason]++
			rowsExcluded.WithLabelValues(string(res.Reason)).Inc()
			return nil
		}
		return w.Write(res.Row)
	})
	sum.Walk = stats
	sum.Kept = w.Count()

	closeErr := w.Close()
	if err := errors.Join(walkErr, closeErr); err != nil {
		err = fmt.Errorf("write snapshot: %w", err)
		j.finish(ctx, logger, sum, err)
		return sum, err
	}

	j.finish(ctx, logger, sum, nil)
	return sum, nil
}

// finish stamps the duration, updates metrics and writes the ledger record.
func (j *Job) finish(ctx context.Context, logger zerolog.Logger, sum *Summary, runErr error) {
	sum.Duration = j.now().Sub(sum.StartedAt)
	runDuration.Set(sum.Duration.Seconds())

	if runErr != nil {
		runsTotal.WithLabelValues("failure").Inc()
		logger.Error().Err(runErr).Dur("duration", sum.Duration).Msg("Snapshot run failed")
	} else {
		runsTotal.WithLabelValues("success").Inc()
		lastSuccess.Set(float64(sum.StartedAt.Add(sum.Duration).Unix()))
		logger.Info().
			Int("kept", sum.Kept).
			Int("skipped", sum.Walk.Skipped).
			Int("pages", sum.Walk.Pages).
			Dur("duration", sum.Duration).
			Msg("Snapshot run complete")
	}

	if j.deps.Ledger == nil {
		return
	}
	// the ledger still records runs cut short by cancellation
	if err := j.deps.Ledger.Record(context.WithoutCancel(ctx), sum.record(runErr)); err != nil {
		logger.Warn().Err(err).Msg("Failed to record run in ledger")
	}
}
