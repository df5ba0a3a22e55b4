// Package prometheus provides Prometheus collectors for gateward metrics.
//
// [NewPrometheusExporter] accepts a [gateward.Engine] and exposes an [http.Handler]
// that renders all gateward counters and histograms in Prometheus text exposition format.
// Counter names are prefixed gateward_*_total; the single histogram is
// gateward_submit_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry - callers mount the Handler.
//   - Mutate engine state.
package prometheus
