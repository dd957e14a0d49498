// Package exchange resolves the EUR→USD reference rate from the ECB data
// API. The rate gates the whole snapshot run: without it nothing is priced.
package exchange

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultURL requests the latest daily USD-per-EUR observation as CSV.
const DefaultURL = "https://data-api.ecb.europa.eu/service/data/EXR/D.USD.EUR.SP00.A?lastNObservations=1&format=csvdata"

// ErrRateUnavailable is returned when no usable observation could be obtained.
var ErrRateUnavailable = errors.New("EUR->USD rate unavailable")

// valueColumns are the accepted observation-value headers, after normalisation.
var valueColumns = []string{"obs_value", "value", "observation_value"}

var rateGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "snapshot_eurusd_rate",
	Help: "Most recently resolved EUR->USD reference rate",
})

// Rate is a resolved USD-per-EUR observation.
type Rate struct {
	Value float64

	// Raw is the observation exactly as served
	Raw string

	// Period is the TIME_PERIOD of the observation, when the service sent one
	Period string
}

// String renders the rate in shortest round-trip form.
func (r Rate) String() string {
	return strconv.FormatFloat(r.Value, 'f', -1, 64)
}

// TextFetcher fetches a URL as text.
type TextFetcher interface {
	GetText(ctx context.Context, url string) (string, error)
}

// Resolver obtains the EUR→USD rate.
type Resolver struct {
	fetcher TextFetcher
	url     string
	logger  zerolog.Logger
}

// NewResolver creates a resolver. An empty url uses DefaultURL.
func NewResolver(fetcher TextFetcher, url string) *Resolver {
	if url == "" {
		url = DefaultURL
	}
	return &Resolver{
		fetcher: fetcher,
		url:     url,
		logger:  log.With().Str("component", "rate-resolver").Logger(),
	}
}

// Resolve fetches and parses the latest observation. Every failure matches
// ErrRateUnavailable.
func (r *Resolver) Resolve(ctx context.Context) (Rate, error) {
	text, err := r.fetcher.GetText(ctx, r.url)
	if err != nil {
		return Rate{}, fmt.Errorf("%w: %w", ErrRateUnavailable, err)
	}

	rate, err := ParseCSV(text)
	if err != nil {
		return Rate{}, err
	}

	rateGauge.Set(rate.Value)
	r.logger.Info().
		Float64("rate", rate.Value).
		Str("period", rate.Period).
		Msg("Resolved EUR->USD rate")

	return rate, nil
}

// ParseCSV scans a header-first CSV document and returns the first record
// carrying a positive, finite value under an accepted column name.
func ParseCSV(text string) (Rate, error) {
	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return Rate{}, fmt.Errorf("%w: read header: %v", ErrRateUnavailable, err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		key := normalizeHeader(name)
		if _, seen := index[key]; !seen {
			index[key] = i
		}
	}

	var candidates []int
	for _, name := range valueColumns {
		if i, ok := index[name]; ok {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return Rate{}, fmt.Errorf("%w: no value column in header %v", ErrRateUnavailable, header)
	}
	periodIdx, hasPeriod := index["time_period"]

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Rate{}, fmt.Errorf("%w: read record: %v", ErrRateUnavailable, err)
		}

		for _, i := range candidates {
			if i >= len(record) {
				continue
			}
			raw := strings.TrimSpace(record[i])
			if raw == "" {
				continue
			}
			value, err := strconv.ParseFloat(raw, 64)
			if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
				continue
			}

			rate := Rate{Value: value, Raw: raw}
			if hasPeriod && periodIdx < len(record) {
				rate.Period = strings.TrimSpace(record[periodIdx])
			}
			return rate, nil
		}
	}

	return Rate{}, fmt.Errorf("%w: no parseable observation", ErrRateUnavailable)
}

// normalizeHeader folds case, spacing and hyphens: " Obs-Value " -> "obs_value".
func normalizeHeader(name string) string {
	name = strings.TrimPrefix(name, "\ufeff")
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)
	return name
}
