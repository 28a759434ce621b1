// Package observability provides an OpenTelemetry metrics extension for
// job stores. MetricsExtension implements the ext hooks to count store
// opens and closes, reservations, reclamations, completions and failures.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
