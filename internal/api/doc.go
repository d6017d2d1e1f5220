// Package api serves the ingestion side's HTTP surface:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /posts for the distribution side's candidate reads.
//   - POST /v1/sources and DELETE /v1/sources/{username} for operators.
package api
