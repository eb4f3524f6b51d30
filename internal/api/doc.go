// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/catalog and /v1/stories/... for reading stored catalog, story,
//     and chapter image data.
//   - POST /v1/jobs and GET /v1/jobs/{jobID} for background job submission
//     and polling.
package api
