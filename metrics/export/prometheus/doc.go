// Package prometheus exposes credlife engine metrics as a Prometheus
// collector.
//
// [NewPrometheusExporter] wraps an [credlife.Engine]; its Handler serves a
// private registry, so nothing is added to the global default registry.
// Counter names are credlife_*_total and the latency histograms are
// credlife_login_latency_seconds and credlife_refresh_latency_seconds.
package prometheus
