// Package prometheus renders tierauth engine metrics in the Prometheus text
// exposition format.
//
// Counters are named tierauth_*_total. The login and algorithm latency
// histograms are exported as tierauth_login_latency_seconds and
// tierauth_algorithm_latency_seconds. Nothing is registered globally; mount
// [Exporter.Handler] on whatever mux serves /metrics.
package prometheus
