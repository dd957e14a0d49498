// Package metrics provides the Prometheus registry shared by the snapshot job.
// All metrics are defined in their respective packages (client, pagination,
// job, ...) to maintain modularity and avoid circular dependencies.
//
// The job is a short-lived process, so there is no scrape endpoint. Instead
// the registry is written to a node_exporter textfile collector file at the
// end of each run.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the snapshot job.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads back everything registered on Registry.
var Gatherer = prometheus.DefaultGatherer

// WriteTextfile writes the current state of Gatherer to path in the text
// exposition format. The file is replaced atomically. Names should end in
// .prom for node_exporter to pick them up.
func WriteTextfile(path string) error {
	return writeTextfile(path, Gatherer)
}

func writeTextfile(path string, g prometheus.Gatherer) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create metrics directory: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - snapshot_http_requests_total{host, status} (Counter): Requests by host and HTTP status
//   - snapshot_http_request_duration_seconds{host} (Histogram): Request duration by host
//
// Retry Metrics (pkg/client):
//   - snapshot_http_retries_total{error_class} (Counter): Retry attempts by error class
//   - snapshot_http_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - snapshot_http_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Pacing Metrics (pkg/ratelimit):
//   - snapshot_pacing_seconds_total{scope} (Counter): Time spent in item/page delays
//
// Exchange Metrics (pkg/exchange):
//   - snapshot_eurusd_rate (Gauge): Last resolved EUR->USD rate
//
// Walk Metrics (pkg/pagination):
//   - snapshot_listing_pages_total (Counter): Non-empty listing pages walked
//   - snapshot_catalog_items_total{outcome} (Counter): Items by outcome (fetched, skipped, missing_id)
//
// Output Metrics (pkg/snapshot, pkg/job):
//   - snapshot_rows_written_total (Counter): Rows written to artifacts
//   - snapshot_rows_excluded_total{reason} (Counter): Records excluded by reason
//   - snapshot_runs_total{result} (Counter): Runs by result (success, failure)
//   - snapshot_run_duration_seconds (Gauge): Duration of the last run
//   - snapshot_last_success_timestamp_seconds (Gauge): Unix time of the last successful run
//
// Cache Metrics (pkg/cache):
//   - snapshot_cache_hits_total (Counter): Detail cache hits
//   - snapshot_cache_misses_total (Counter): Detail cache misses
//   - snapshot_cache_stored_bytes_total (Counter): Bytes written to the cache
//   - snapshot_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Snapshot is stale (no success in 26h)
//   time() - snapshot_last_success_timestamp_seconds > 26 * 3600
//
//   # Share of skipped items in the last run
//   snapshot_catalog_items_total{outcome="skipped"} / ignoring(outcome) sum(snapshot_catalog_items_total)
//
//   # Retry pressure by class
//   rate(snapshot_http_retries_total[1h])
