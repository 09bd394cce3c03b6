// Package prometheus bridges civicauth metrics into Prometheus.
//
// [NewCollector] wraps an [civicauth.Engine] as a prometheus.Collector
// that reads a counter snapshot at scrape time. Counter names are
// prefixed civicauth_*_total; the single histogram is
// civicauth_validate_latency_seconds, and civicauth_audit_dropped_total
// tracks audit events shed under backpressure.
//
// # What this package must NOT do
//
//   - Register in the global default registry. Callers own the
//     registry and mount the handler.
//   - Mutate engine state.
package prometheus
