// Package otel publishes goOTP engine metrics through an OpenTelemetry Meter.
//
// One observable counter is created per engine counter and one observable
// gauge per histogram bucket. A single callback reads the engine snapshot on
// each collection. Callers own the MeterProvider.
package otel
