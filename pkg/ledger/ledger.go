// Package ledger records the outcome of each snapshot run in Redis.
//
// The ledger answers "did today's snapshot run, and what did it produce"
// without opening the artifact. It holds the last run, one record per UTC
// day, and a short history list. It is optional: the job runs without it.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultPrefix namespaces ledger keys.
	DefaultPrefix = "tcgdex:snapshot"

	// DefaultRetention bounds how long per-day records are kept.
	DefaultRetention = 30 * 24 * time.Hour

	// HistoryLength is the number of runs kept in the history list.
	HistoryLength = 50

	dayLayout = "2006-01-02"
)

// ErrNotFound indicates no record exists for the lookup.
var ErrNotFound = errors.New("ledger record not found")

// Status is the outcome of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Record describes one run.
type Record struct {
	RunID      string         `json:"run_id"`
	Status     Status         `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Output     string         `json:"output,omitempty"`
	Rate       string         `json:"eurusd_rate,omitempty"`
	Kept       int            `json:"kept"`
	Excluded   map[string]int `json:"excluded,omitempty"`
	Skipped    int            `json:"skipped"`
	Error      string         `json:"error,omitempty"`
}

// Day is the UTC date the run started on.
func (r Record) Day() string {
	return r.StartedAt.UTC().Format(dayLayout)
}

// Ledger stores run records in Redis.
type Ledger struct {
	redis     *redis.Client
	prefix    string
	retention time.Duration
}

// New creates a ledger with the default prefix and retention.
func New(redisClient *redis.Client) *Ledger {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Ledger{
		redis:     redisClient,
		prefix:    DefaultPrefix,
		retention: DefaultRetention,
	}
}

// WithPrefix returns a copy of the ledger writing under prefix.
func (l *Ledger) WithPrefix(prefix string) *Ledger {
	c := *l
	c.prefix = prefix
	return &c
}

func (l *Ledger) lastKey() string { return l.prefix + ":last" }
func (l *Ledger) historyKey() string { return l.prefix + ":history" }
func (l *Ledger) dayKey(day string) string { return l.prefix + ":day:" + day }

// Record stores rec as the last run, as the run of its day and at the head
// of the history, in one transaction.
func (l *Ledger) Record(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal ledger record: %w", err)
	}

	_, err = l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, l.lastKey(), data, 0)
		pipe.Set(ctx, l.dayKey(rec.Day()), data, l.retention)
		pipe.LPush(ctx, l.historyKey(), data)
		pipe.LTrim(ctx, l.historyKey(), 0, HistoryLength-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis ledger write: %w", err)
	}
	return nil
}

// Last returns the most recent run.
func (l *Ledger) Last(ctx context.Context) (*Record, error) {
	return l.get(ctx, l.lastKey())
}

// ForDay returns the latest run that started on the given UTC day.
func (l *Ledger) ForDay(ctx context.Context, day time.Time) (*Record, error) {
	return l.get(ctx, l.dayKey(day.UTC().Format(dayLayout)))
}

// History returns up to n runs, newest first.
func (l *Ledger) History(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	items, err := l.redis.LRange(ctx, l.historyKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ledger history: %w", err)
	}

	records := make([]Record, 0, len(items))
	for _, item := range items {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("decode ledger record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (l *Ledger) get(ctx context.Context, key string) (*Record, error) {
	data, err := l.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis ledger get: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode ledger record: %w", err)
	}
	return &rec, nil
}
