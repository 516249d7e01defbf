// Package api hosts the status HTTP server. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/rip for the live progress of the running rip.
//   - GET /v1/rips, /v1/rips/{rip_id} and /v1/rips/{rip_id}/sites for
//     recorded runs via the ProgressRepository interface.
package api
