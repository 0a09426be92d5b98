// Package telemetry provides structured logging (zerolog), Prometheus
// metrics and OpenTelemetry tracing for the extension orchestrator.
//
// Each service receives a component child logger and the shared metrics
// collector; tracing is optional and defaults to a no-op provider when
// disabled.
package telemetry
