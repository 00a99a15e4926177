package internaldefs

import (
	goOTP "github.com/MrEthical07/goOTP"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goOTP.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   goOTP.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: goOTP.MetricIssueSuccess, Name: "otp_issue_success_total", Help: "Challenges stored and delivered."},
	{ID: goOTP.MetricIssueAlreadyRegistered, Name: "otp_issue_already_registered_total", Help: "Registration challenges refused for an existing identity."},
	{ID: goOTP.MetricIssueDeliveryFailed, Name: "otp_issue_delivery_failed_total", Help: "Challenges whose delivery failed."},
	{ID: goOTP.MetricIssueUnknownSubject, Name: "otp_issue_unknown_subject_total", Help: "Reset requests silently absorbed for unknown subjects."},
	{ID: goOTP.MetricIssueRolledBack, Name: "otp_issue_rolled_back_total", Help: "Challenges removed after a failed delivery."},
	{ID: goOTP.MetricVerifySuccess, Name: "otp_verify_success_total", Help: "Challenges consumed by a correct code."},
	{ID: goOTP.MetricVerifyNoActive, Name: "otp_verify_no_active_total", Help: "Verifications without a live challenge."},
	{ID: goOTP.MetricVerifyMismatch, Name: "otp_verify_mismatch_total", Help: "Wrong codes that left attempts."},
	{ID: goOTP.MetricVerifyExhausted, Name: "otp_verify_exhausted_total", Help: "Wrong codes that spent the last attempt."},
	{ID: goOTP.MetricFinalizeSuccess, Name: "otp_finalize_success_total", Help: "Identity writes completed after a verification."},
	{ID: goOTP.MetricFinalizeFailure, Name: "otp_finalize_failure_total", Help: "Identity writes that failed after a verification."},
	{ID: goOTP.MetricSweepReclaimed, Name: "otp_sweep_reclaimed_total", Help: "Expired challenges removed by the sweeper."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goOTP.MetricDeliveryLatency, Name: "otp_delivery_latency_seconds", Help: "Notifier hand-off latency."},
}

// HistogramBounds are the upper bounds of the engine's eight buckets.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in a form usable inside a metric name.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
