// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes; readyz probes the appeals site.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/batches and /v1/batches/upload to start a batch, plus status,
//     cancel and a server-sent event stream under /v1/batches/{batch_id}.
//   - GET /v1/results, /v1/results/export and /v1/stats over persisted results.
//   - GET /api/batch-runs for batch history via the BatchRunRepository.
package api
