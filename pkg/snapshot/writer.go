// Package snapshot writes the daily pricing artifact.
//
// The artifact is a header line followed by one line per qualifying card.
// Rows are streamed and flushed as they are produced, so a run that fails
// mid-walk leaves a well-formed partial file behind.
package snapshot

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Sternrassler/tcgdex-snapshot/pkg/pricing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultPath is the artifact name used when none is configured.
const DefaultPath = "tcgdex_en_avg1_daily.csv"

var rowsWritten = promauto.NewCounter(prometheus.CounterOpts{
	Name: "snapshot_rows_written_total",
	Help: "Total number of rows written to snapshot artifacts",
})

// Writer streams rows under the fixed header.
type Writer struct {
	buf    *bufio.Writer
	closer io.Closer
	path   string
	count  int
	logger zerolog.Logger
}

// Create truncates or creates the artifact at path, creating parent
// directories as needed, and writes the header.
func Create(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create snapshot directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}

	w, err := newWriter(f, f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// NewWriter writes the header to dst and returns a writer for its rows.
// Close does not close dst.
func NewWriter(dst io.Writer) (*Writer, error) {
	return newWriter(dst, nil, "")
}

func newWriter(dst io.Writer, closer io.Closer, path string) (*Writer, error) {
	w := &Writer{
		buf:    bufio.NewWriter(dst),
		closer: closer,
		path:   path,
		logger: log.With().Str("component", "snapshot-writer").Logger(),
	}
	if err := w.writeLine(pricing.Header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	w.logger.Debug().Str("path", path).Msg("Snapshot opened")
	return w, nil
}

// Write appends one row and flushes it.
func (w *Writer) Write(row pricing.Row) error {
	if err := w.writeLine(row.Line()); err != nil {
		return fmt.Errorf("write row %s: %w", row.ID, err)
	}
	w.count++
	rowsWritten.Inc()
	return nil
}

// WriteAll writes rows in order and returns how many were written.
func (w *Writer) WriteAll(rows []pricing.Row) (int, error) {
	for i, row := range rows {
		if err := w.Write(row); err != nil {
			return i, err
		}
	}
	return len(rows), nil
}

// Count returns the number of rows written, excluding the header.
func (w *Writer) Count() int {
	return w.count
}

// Path returns the artifact path, or "" for a writer built with NewWriter.
func (w *Writer) Path() string {
	return w.path
}

// Close flushes any buffered output and closes the underlying file.
func (w *Writer) Close() error {
	flushErr := w.buf.Flush()
	if w.closer == nil {
		return flushErr
	}
	closeErr := w.closer.Close()
	w.closer = nil
	if flushErr != nil {
		return fmt.Errorf("flush snapshot: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close snapshot: %w", closeErr)
	}

	w.logger.Info().Str("path", w.path).Int("rows", w.count).Msg("Snapshot closed")
	return nil
}

func (w *Writer) writeLine(line string) error {
	if _, err := w.buf.WriteString(line); err != nil {
		return err
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return err
	}
	return w.buf.Flush()
}
