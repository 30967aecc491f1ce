// Package otel exposes tierauth engine metrics through an OpenTelemetry
// meter.
//
// Each counter becomes an Int64ObservableCounter. Each latency histogram
// becomes one Int64ObservableGauge per cumulative bucket plus a count
// gauge. A single callback reads the engine snapshot per collection.
// Callers own the MeterProvider.
package otel
