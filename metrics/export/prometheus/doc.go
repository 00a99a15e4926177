// Package prometheus renders goOTP engine metrics in the Prometheus text
// exposition format.
//
// Counters are named otp_*_total; the delivery latency histogram is
// otp_delivery_latency_seconds. Nothing is registered globally: callers mount
// [PrometheusExporter.Handler] where they want it.
package prometheus
