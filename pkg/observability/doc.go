// Package observability bundles the gateway's operational concerns:
// structured JSON logging (slog), Prometheus metrics, optional
// OpenTelemetry tracing/metrics export over OTLP gRPC, dependency health
// probes, and graceful shutdown coordination.
package observability
