// Package main hosts the gateway entrypoint.
//
// Architecture overview:
//   - Bootstrap: internal/gateway registers one service per kind with the
//     locator (job registry, template store, route configuration). Factories
//     run eagerly; Bootstrap then starts every service in parallel and fails
//     the process if any of them cannot start.
//   - HTTP API: internal/api.Server carries request ids, zap access logs,
//     panic recovery, CORS and Prometheus metrics. The route installers from
//     internal/routes are mounted under server.path.
//   - Jobs: a run request builds a job, registers it before the first byte is
//     streamed and removes it exactly once when the stream ends for any
//     reason. Runs are recorded in the history backend (memory or Postgres)
//     and announced on Pub/Sub when events are enabled.
//   - Templates: stored in memory and written as a full snapshot after every
//     change (file, GCS or Redis).
//
// Quick checklist:
//   - Run locally: go run ./cmd/helios-gateway serve --config helios.yaml
//   - Environment overrides use the HELIOS_ prefix, e.g. HELIOS_SERVER_PORT.
//   - SIGINT/SIGTERM drain HTTP, then stop services in reverse order.
package main
