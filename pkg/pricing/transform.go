// Package pricing turns a card detail record into a priced snapshot row.
//
// Transform is pure: given the same detail and run context it always
// returns the same Result. The USD threshold is the only exclusion
// criterion besides a missing or unparseable price.
package pricing

import (
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/tcgdex-snapshot/pkg/catalog"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/exchange"
	"github.com/shopspring/decimal"
)

// Header is the fixed first line of every snapshot.
const Header = "tcgdex_id,name,number,avg1_eur,avg1_usd,updated,run_timestamp,eurusd_rate"

// TimestampLayout renders the run timestamp as ISO-8601 UTC with microseconds.
const TimestampLayout = "2006-01-02T15:04:05.000000-07:00"

// DefaultMinUSD is the inclusion threshold.
var DefaultMinUSD = decimal.NewFromInt(1)

// Reason explains why a record produced no row.
type Reason string

const (
	// ReasonNoPrice means pricing.cardmarket.avg1 was absent or null.
	ReasonNoPrice Reason = "no_price"

	// ReasonMalformedPrice means avg1 was present but not a number.
	ReasonMalformedPrice Reason = "malformed_price"

	// ReasonBelowThreshold means the USD price fell under the minimum.
	ReasonBelowThreshold Reason = "below_threshold"
)

// RunContext is fixed for a whole run once the rate has resolved.
type RunContext struct {
	Rate      exchange.Rate
	Timestamp time.Time
}

// FormattedTimestamp renders the run timestamp in UTC.
func (rc RunContext) FormattedTimestamp() string {
	return rc.Timestamp.UTC().Format(TimestampLayout)
}

// Row is one qualifying snapshot record.
type Row struct {
	ID           string
	Name         string
	Number       string
	Avg1EUR      string
	Avg1USD      decimal.Decimal
	Updated      string
	RunTimestamp string
	Rate         string
}

// Line renders the row in header column order, without a trailing newline.
// The name is always quoted with embedded quotes doubled.
func (r Row) Line() string {
	return strings.Join([]string{
		r.ID,
		`"` + r.Name + `"`,
		r.Number,
		r.Avg1EUR,
		r.Avg1USD.StringFixed(2),
		r.Updated,
		r.RunTimestamp,
		r.Rate,
	}, ",")
}

// Result is either Included(row) or Excluded(reason).
type Result struct {
	Row    Row
	Reason Reason
}

// Included reports whether the result carries a row.
func (r Result) Included() bool {
	return r.Reason == ""
}

// Included wraps a row.
func Included(row Row) Result {
	return Result{Row: row}
}

// Excluded records why no row was produced.
func Excluded(reason Reason) Result {
	return Result{Reason: reason}
}

// Transformer prices detail records against a run context.
type Transformer struct {
	minUSD decimal.Decimal
}

// NewTransformer creates a transformer with the given USD threshold.
func NewTransformer(minUSD decimal.Decimal) *Transformer {
	return &Transformer{minUSD: minUSD}
}

// MinUSD returns the inclusion threshold.
func (t *Transformer) MinUSD() decimal.Decimal {
	return t.minUSD
}

// Transform converts d into a row, or reports why it was excluded.
func (t *Transformer) Transform(d catalog.Detail, rc RunContext) Result {
	if !d.HasPrice() {
		return Excluded(ReasonNoPrice)
	}

	eur, err := decimal.NewFromString(strings.TrimSpace(d.Avg1))
	if err != nil {
		return Excluded(ReasonMalformedPrice)
	}

	usd := eur.Mul(decimal.NewFromFloat(rc.Rate.Value))
	if usd.LessThan(t.minUSD) {
		return Excluded(ReasonBelowThreshold)
	}

	return Included(Row{
		ID:           d.ID,
		Name:         EscapeName(d.Name),
		Number:       FormatNumber(strings.TrimSpace(d.LocalID), Denominator(d.Official, d.Total)),
		Avg1EUR:      strings.TrimSpace(d.Avg1),
		Avg1USD:      usd.Round(2),
		Updated:      d.Updated,
		RunTimestamp: rc.FormattedTimestamp(),
		Rate:         rc.Rate.String(),
	})
}

// Denominator prefers the official set size and falls back to the total.
// Empty or zero counts are treated as absent.
func Denominator(official, total string) string {
	for _, v := range []string{official, total} {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if n, err := strconv.ParseFloat(v, 64); err == nil && n == 0 {
			continue
		}
		return v
	}
	return ""
}

// FormatNumber renders "local/denominator", "local", or "".
func FormatNumber(local, denominator string) string {
	if local != "" && denominator != "" {
		return local + "/" + denominator
	}
	return local
}

// EscapeName doubles embedded quotes and trims surrounding space.
func EscapeName(name string) string {
	return strings.TrimSpace(strings.ReplaceAll(name, `"`, `""`))
}
