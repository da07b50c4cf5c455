// Package api hosts the operator HTTP surface. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/topics for registering, inspecting, stopping and re-arming topics.
//   - GET /v1/runs and /v1/runs/{run_id}/topics for per-run crawl statistics
//     served from the RunRepository.
package api
