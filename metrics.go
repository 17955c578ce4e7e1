package shmuring

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the round-trip latency histogram buckets in
// nanoseconds. Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for a Region and
// the Client/Server pair built on top of it.
type Metrics struct {
	// Submit/completion counters.
	SubmitOps    atomic.Uint64 // Total Client.Submit calls
	CompletedOps atomic.Uint64 // Total completions observed
	FailedOps    atomic.Uint64 // Submits that returned an error

	// Byte counters.
	SubmittedBytes  atomic.Uint64 // Total request bytes staged into the arena
	CompletedBytes  atomic.Uint64 // Total response bytes observed

	// Backpressure and contention counters: these name the slow paths
	// spec.md calls out as the ones worth watching in production.
	RingFullEvents       atomic.Uint64 // Push rejected because the ring was at capacity
	OpCacheExhaustedOps  atomic.Uint64 // Submit rejected because the op-cache had no free cell
	AllocatorSlowPathOps atomic.Uint64 // Alloc fell through to the freelist instead of the bump path
	AllocatorDiscardedOps atomic.Uint64 // Dealloc leaked a sub-MinSegmentSize span

	// Queue depth (in-flight submitted-but-not-completed ops).
	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	// Round-trip latency tracking.
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Region lifecycle.
	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSubmit records a completed round-trip: the request left Submit
// and a response arrived latencyNs later.
func (m *Metrics) RecordSubmit(reqBytes, respBytes uint64, latencyNs uint64, success bool) {
	m.SubmitOps.Add(1)
	if success {
		m.CompletedOps.Add(1)
		m.SubmittedBytes.Add(reqBytes)
		m.CompletedBytes.Add(respBytes)
		m.recordLatency(latencyNs)
	} else {
		m.FailedOps.Add(1)
	}
}

// RecordRingFull records a Push that found its ring at capacity.
func (m *Metrics) RecordRingFull() { m.RingFullEvents.Add(1) }

// RecordOpCacheExhausted records a Submit that found no free op-cache cell.
func (m *Metrics) RecordOpCacheExhausted() { m.OpCacheExhaustedOps.Add(1) }

// RecordAllocatorSlowPath records an Alloc that fell through to the freelist.
func (m *Metrics) RecordAllocatorSlowPath() { m.AllocatorSlowPathOps.Add(1) }

// RecordAllocatorDiscard records a Dealloc that leaked a tiny span.
func (m *Metrics) RecordAllocatorDiscard() { m.AllocatorDiscardedOps.Add(1) }

// RecordQueueDepth records the current number of in-flight ops.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)

	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the region as stopped, fixing the uptime computation used
// by Snapshot.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	SubmitOps    uint64
	CompletedOps uint64
	FailedOps    uint64

	SubmittedBytes uint64
	CompletedBytes uint64

	RingFullEvents        uint64
	OpCacheExhaustedOps   uint64
	AllocatorSlowPathOps  uint64
	AllocatorDiscardedOps uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	SubmitOpsPerSec float64
	ErrorRate       float64 // Percentage of failed submits
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		SubmitOps:             m.SubmitOps.Load(),
		CompletedOps:          m.CompletedOps.Load(),
		FailedOps:             m.FailedOps.Load(),
		SubmittedBytes:        m.SubmittedBytes.Load(),
		CompletedBytes:        m.CompletedBytes.Load(),
		RingFullEvents:        m.RingFullEvents.Load(),
		OpCacheExhaustedOps:   m.OpCacheExhaustedOps.Load(),
		AllocatorSlowPathOps:  m.AllocatorSlowPathOps.Load(),
		AllocatorDiscardedOps: m.AllocatorDiscardedOps.Load(),
		MaxQueueDepth:         m.MaxQueueDepth.Load(),
	}

	queueDepthTotal := m.QueueDepthTotal.Load()
	queueDepthCount := m.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.SubmitOpsPerSec = float64(snap.SubmitOps) / uptimeSeconds
	}

	if snap.SubmitOps > 0 {
		snap.ErrorRate = float64(snap.FailedOps) / float64(snap.SubmitOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters and restarts StartTime. Useful for testing.
func (m *Metrics) Reset() {
	m.SubmitOps.Store(0)
	m.CompletedOps.Store(0)
	m.FailedOps.Store(0)
	m.SubmittedBytes.Store(0)
	m.CompletedBytes.Store(0)
	m.RingFullEvents.Store(0)
	m.OpCacheExhaustedOps.Store(0)
	m.AllocatorSlowPathOps.Store(0)
	m.AllocatorDiscardedOps.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer receives metrics events from a Client/Server pair without
// coupling them to the concrete Metrics type, in the same style as the
// AllocatorObserver/RingObserver interfaces in internal/interfaces.
type Observer interface {
	ObserveSubmit(reqBytes, respBytes uint64, latencyNs uint64, success bool)
	ObserveQueueDepth(depth uint32)
}

// NoOpObserver discards every event; it is the default when no Observer
// is configured.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSubmit(uint64, uint64, uint64, bool) {}
func (NoOpObserver) ObserveQueueDepth(uint32)                  {}

// MetricsObserver adapts a *Metrics to the Observer interface.
type MetricsObserver struct {
	M *Metrics
}

func (o MetricsObserver) ObserveSubmit(reqBytes, respBytes uint64, latencyNs uint64, success bool) {
	o.M.RecordSubmit(reqBytes, respBytes, latencyNs, success)
}

func (o MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.M.RecordQueueDepth(depth)
}
