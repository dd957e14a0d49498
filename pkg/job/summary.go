package job

import (
	"fmt"
	"time"

	"github.com/Sternrassler/tcgdex-snapshot/pkg/exchange"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/ledger"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/pagination"
	"github.com/Sternrassler/tcgdex-snapshot/pkg/pricing"
	"github.com/shopspring/decimal"
)

// Summary describes a run.
type Summary struct {
	RunID        string
	Output       string
	Kept         int
	Excluded     map[pricing.Reason]int
	Walk         pagination.Stats
	Rate         exchange.Rate
	MinUSD       decimal.Decimal
	RunTimestamp string
	StartedAt    time.Time
	Duration     time.Duration
}

// String renders the one-line completion message.
func (s *Summary) String() string {
	return fmt.Sprintf("Wrote %s with %d cards (avg1_usd >= $%s). EURUSD=%s | run=%s",
		s.Output, s.Kept, s.MinUSD.StringFixed(2), s.Rate, s.RunTimestamp)
}

// TotalExcluded sums exclusions over all reasons.
func (s *Summary) TotalExcluded() int {
	n := 0
	for _, c := range s.Excluded {
		n += c
	}
	return n
}

func (s *Summary) record(runErr error) ledger.Record {
	rec := ledger.Record{
		RunID:      s.RunID,
		Status:     ledger.StatusSuccess,
		StartedAt:  s.StartedAt,
		FinishedAt: s.StartedAt.Add(s.Duration),
		Kept:       s.Kept,
		Skipped:    s.Walk.Skipped,
	}
	if s.RunTimestamp != "" {
		rec.Output = s.Output
		rec.Rate = s.Rate.String()
	}
	if len(s.Excluded) > 0 {
		rec.Excluded = make(map[string]int, len(s.Excluded))
		for reason, n := range s.Excluded {
			rec.Excluded[string(reason)] = n
		}
	}
	if runErr != nil {
		rec.Status = ledger.StatusFailure
		rec.Error = runErr.Error()
	}
	return rec
}
