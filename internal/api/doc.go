// Package api hosts the HTTP server and middleware of the gateway. Notable
// routes:
//   - GET /healthz and /readyz for health checks; readyz turns green once every
//     service has finished starting.
//   - GET /metrics for Prometheus scraping.
//   - Everything provided by the route registry, mounted under the
//     configured path prefix.
package api
