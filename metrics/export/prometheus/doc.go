// Package prometheus exposes engine metrics as a client_golang Collector.
//
// [NewPrometheusExporter] returns a collector that converts
// [accountguard.Engine.MetricsSnapshot] into const metrics on each scrape.
// Counters are named accountguard_*_total; the RequestReset latency histogram
// is accountguard_reset_request_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry. Callers register the collector
//     or mount Handler.
//   - Mutate engine state.
package prometheus
