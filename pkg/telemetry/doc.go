// Package telemetry provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for the fabricsync engine.
package telemetry
