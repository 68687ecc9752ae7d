// Package cmd hosts the extractor's command line.
//
// Architecture overview:
//   - HTTP API (serve): internal/api.Server accepts batches as JSON or CSV, reports batch state, streams progress as
//     server-sent events and serves stored results, stats and a CSV export. Only one batch runs at a time; a second
//     submission gets 409.
//   - Batch runner: internal/batch.Runner owns one browser session per batch. For each roll number it re-navigates,
//     fills the six form segments, clicks search and waits for either the appeals grid or the "no records" notice.
//     A failed roll number is recorded and the batch moves on; a browser failure fails the batch.
//   - Extraction: internal/extract turns the page HTML into a Result through the site.Reader for the configured site
//     version, so markup changes stay inside internal/site.
//   - Persistence & fanout: results land in memory, SQLite or Postgres. Each result is also written as JSON to the
//     configured BlobStore (memory/local/GCS) and announced on Pub/Sub when a topic is set. Progress events go
//     through the progress Hub to the log, Prometheus, the batch_runs store and live SSE subscribers.
//   - Configuration & plumbing: Viper populates config from file and ARB_* env vars; zap provides structured logging;
//     Prometheus metrics are exported at /metrics.
//
// Operational notes:
//   - Searches are paced by site.searches_per_minute. Cancelling a batch stops it after the current roll number;
//     unfinished roll numbers stay queued.
//   - SIGTERM cancels the running batch and waits up to server.shutdown_timeout_seconds before closing the browser.
//
// Quick checklist:
//   - Set ARB_SITE_URL (required), ARB_BROWSER_ENGINE (chromedp or rod), storage (ARB_STORAGE_*), database
//     (ARB_DATABASE_DRIVER, ARB_DATABASE_DSN) and pubsub as needed.
//   - Run locally: go run . serve --config config.yaml, or go run . extract -f rolls.csv.
package cmd
