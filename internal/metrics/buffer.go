package metrics

import "sync"

// DefaultBufferSize is the number of samples kept when no capacity is configured.
const DefaultBufferSize = 1000

// SampleBuffer is a fixed-capacity FIFO window of latency samples in milliseconds.
// Once full, each push evicts the oldest sample.
type SampleBuffer struct {
	mu    sync.Mutex
	ring  []float64
	head  int // index of the oldest sample
	size  int
	total uint64
}

// NewSampleBuffer creates a buffer holding at most capacity samples.
// A capacity below 1 falls back to DefaultBufferSize.
func NewSampleBuffer(capacity int) *SampleBuffer {
	if capacity < 1 {
		capacity = DefaultBufferSize
	}
	return &SampleBuffer{ring: make([]float64, capacity)}
}

// Push appends a sample. Negative values are clamped to zero.
func (b *SampleBuffer) Push(ms float64) {
	if ms < 0 {
		ms = 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.ring)
	if b.size < capacity {
		b.ring[(b.head+b.size)%capacity] = ms
		b.size++
	} else {
		b.ring[b.head] = ms
		b.head = (b.head + 1) % capacity
	}
	b.total++
}

// Len returns the number of samples currently held.
func (b *SampleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the configured capacity.
func (b *SampleBuffer) Cap() int {
	return len(b.ring)
}

// Pushed returns how many samples were ever pushed, including evicted ones.
func (b *SampleBuffer) Pushed() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Values returns a copy of the samples, oldest first.
func (b *SampleBuffer) Values() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]float64, b.size)
	capacity := len(b.ring)
	for i := 0; i < b.size; i++ {
		out[i] = b.ring[(b.head+i)%capacity]
	}
	return out
}

// Mean returns the arithmetic mean of the held samples, or 0 when empty.
func (b *SampleBuffer) Mean() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == 0 {
		return 0
	}
	capacity := len(b.ring)
	var sum float64
	for i := 0; i < b.size; i++ {
		sum += b.ring[(b.head+i)%capacity]
	}
	return sum / float64(b.size)
}
