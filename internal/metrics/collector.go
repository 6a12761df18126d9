package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/oklog/ulid/v2"
)

// Options configure a Collector.
type Options struct {
	BufferSize int              // samples kept for the rolling average (0 means DefaultBufferSize)
	MaxRoutes  int              // distinct routes tallied (0 means DefaultMaxRoutes)
	Clock      func() time.Time // optional injection for tests
}

// Collector owns the counters, sample window and latency histogram of one
// instrumented process. Create one per host and pass it to whatever records into it.
type Collector struct {
	counters *Counters
	buffer   *SampleBuffer
	now      func() time.Time

	mu      sync.Mutex
	hist    *hdrhistogram.Histogram
	start   time.Time
	session string
}

// NewCollector returns a Collector with its own counters, sample buffer and
// histogram. Zero options fall back to the package defaults.
func NewCollector(opts Options) *Collector {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	// Track latencies from 1µs up to 60s with 3 significant figures.
	h := hdrhistogram.New(1, 60_000_000, 3)
	return &Collector{
		counters: NewCounters(opts.MaxRoutes),
		buffer:   NewSampleBuffer(opts.BufferSize),
		now:      clock,
		hist:     h,
		start:    clock(),
		session:  ulid.Make().String(),
	}
}

// Start resets the uptime origin to now.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = c.now()
}

// StartTime returns the uptime origin.
func (c *Collector) StartTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start
}

// SessionID identifies this collector instance in persisted records.
func (c *Collector) SessionID() string {
	return c.session
}

// Now returns the collector clock's current time.
func (c *Collector) Now() time.Time {
	return c.now()
}

// Counters exposes the underlying tallies.
func (c *Collector) Counters() *Counters {
	return c.counters
}

// Buffer exposes the rolling sample window.
func (c *Collector) Buffer() *SampleBuffer {
	return c.buffer
}

// Enter marks a unit of work as in flight.
func (c *Collector) Enter() {
	c.counters.Enter()
}

// Exit releases a unit of work.
func (c *Collector) Exit() {
	c.counters.Exit()
}

// RecordRequest records a completed request: one sample and one outcome.
func (c *Collector) RecordRequest(route string, latency time.Duration, err error) {
	c.recordLatency(latency)
	c.counters.RecordOutcome(route, err == nil)
}

// RecordEvent records a named event. A nil latency records no sample.
func (c *Collector) RecordEvent(name string, latency *time.Duration) {
	if latency != nil {
		c.recordLatency(*latency)
	}
	c.counters.RecordEvent(name)
}

func (c *Collector) recordLatency(latency time.Duration) {
	if latency < 0 {
		latency = 0
	}
	c.buffer.Push(float64(latency) / float64(time.Millisecond))

	us := latency.Microseconds()
	c.mu.Lock()
	defer c.mu.Unlock()
	if us < c.hist.LowestTrackableValue() {
		us = c.hist.LowestTrackableValue()
	}
	if us > c.hist.HighestTrackableValue() {
		us = c.hist.HighestTrackableValue()
	}
	_ = c.hist.RecordValue(us)
}

// Snapshot computes a snapshot at the collector clock's current time.
func (c *Collector) Snapshot() Snapshot {
	return c.SnapshotAt(c.now())
}

// SnapshotAt computes a snapshot as of now.
func (c *Collector) SnapshotAt(now time.Time) Snapshot {
	snap := ComputeSnapshot(c.counters, c.buffer, c.StartTime(), now)
	snap.SessionID = c.session

	c.mu.Lock()
	if c.hist.TotalCount() > 0 {
		snap.P50LatencyMs = float64(c.hist.ValueAtQuantile(50)) / 1000
		snap.P90LatencyMs = float64(c.hist.ValueAtQuantile(90)) / 1000
		snap.P99LatencyMs = float64(c.hist.ValueAtQuantile(99)) / 1000
	}
	c.mu.Unlock()

	return snap
}
