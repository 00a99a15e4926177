package goOTP

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter or histogram.
type MetricID uint16

const (
	// MetricIssueSuccess counts challenges stored and delivered.
	MetricIssueSuccess MetricID = iota
	// MetricIssueAlreadyRegistered counts registration issues refused for an existing identity.
	MetricIssueAlreadyRegistered
	// MetricIssueDeliveryFailed counts issues whose notifier hand-off failed.
	MetricIssueDeliveryFailed
	// MetricIssueUnknownSubject counts reset issues silently absorbed for unknown subjects.
	MetricIssueUnknownSubject
	// MetricIssueRolledBack counts challenges removed after a failed delivery.
	MetricIssueRolledBack
	// MetricVerifySuccess counts consumed challenges.
	MetricVerifySuccess
	// MetricVerifyNoActive counts verifications with nothing to compare against.
	MetricVerifyNoActive
	// MetricVerifyMismatch counts wrong codes that left attempts.
	MetricVerifyMismatch
	// MetricVerifyExhausted counts wrong codes that spent the last attempt.
	MetricVerifyExhausted
	// MetricFinalizeSuccess counts identity writes after a verification.
	MetricFinalizeSuccess
	// MetricFinalizeFailure counts identity writes that failed after a verification.
	MetricFinalizeFailure
	// MetricSweepReclaimed counts expired entries removed by the sweeper.
	MetricSweepReclaimed
	// MetricDeliveryLatency is the notifier hand-off latency histogram.
	MetricDeliveryLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// deliveryBounds are the inclusive upper bounds of every bucket but the
// last, which takes the overflow.
var deliveryBounds = [histBucketCount - 1]time.Duration{
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
}

type metricHistogram struct {
	buckets [histBucketCount]atomic.Uint64
}

type paddedCounter struct {
	atomic.Uint64
	_ [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters. A nil or disabled Metrics
// accepts every call and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters and histograms.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add adds n to id.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount || n == 0 {
		return
	}
	m.counters[id].Add(n)
}

// Observe records d in the histogram for id. Only latency metrics carry histograms.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricDeliveryLatency {
		return
	}

	m.histograms[id].buckets[bucketIndex(d)].Add(1)
}

// Value returns the current value of id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot copies every counter, and the latency histogram when enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = m.counters[id].Load()
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = m.histograms[MetricDeliveryLatency].buckets[i].Load()
		}
		s.Histograms[MetricDeliveryLatency] = buckets
	}

	return s
}

// bucketIndex maps d onto the delivery buckets.
func bucketIndex(d time.Duration) int {
	for i, bound := range deliveryBounds {
		if d <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
