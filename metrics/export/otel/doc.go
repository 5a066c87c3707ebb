// Package otel publishes credlife engine metrics through an OpenTelemetry
// Meter.
//
// Every counter becomes an Int64ObservableCounter. Each latency histogram
// becomes one cumulative gauge per bucket plus _count and _sum gauges. A
// single callback reads [credlife.Engine.MetricsSnapshot] per collection.
// Callers own the MeterProvider.
package otel
