// Package otel provides OpenTelemetry metric exporter bindings for gateward counters and
// histograms.
//
// [NewOTelExporter] registers Int64ObservableCounter instruments for each gateward metric
// and Int64ObservableGauge per histogram bucket. A single callback reads
// [gateward.Engine.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider - callers supply the Meter.
//   - Mutate engine state.
package otel
