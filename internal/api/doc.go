// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - POST /v1/scrape and /v1/search for synchronous submissions.
//   - POST /v1/crawl to start a crawl root (202, poll for progress).
//   - GET /v1/jobs/{job_id} and /v1/jobs/{job_id}/results for inspection.
//   - DELETE /v1/jobs/{job_id} to cancel.
//   - GET /v1/account/credits for the ledger balance.
//   - GET /healthz and /readyz for probes, /metrics for Prometheus scraping.
package api
