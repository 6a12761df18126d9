package metrics

import (
	"sync"
	"testing"
)

func TestSampleBuffer_DefaultCapacity(t *testing.T) {
	for _, capacity := range []int{0, -5} {
		b := NewSampleBuffer(capacity)
		if b.Cap() != DefaultBufferSize {
			t.Errorf("NewSampleBuffer(%d).Cap() = %d, want %d", capacity, b.Cap(), DefaultBufferSize)
		}
	}
}

func TestSampleBuffer_EvictsOldestWhenFull(t *testing.T) {
	const capacity = 5
	const extra = 3
	b := NewSampleBuffer(capacity)

	for i := 1; i <= capacity+extra; i++ {
		b.Push(float64(i))
	}

	if b.Len() != capacity {
		t.Fatalf("expected len %d, got %d", capacity, b.Len())
	}
	got := b.Values()
	want := []float64{4, 5, 6, 7, 8}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("values = %v, want %v", got, want)
		}
	}
	if b.Pushed() != capacity+extra {
		t.Errorf("expected %d pushes, got %d", capacity+extra, b.Pushed())
	}
}

func TestSampleBuffer_PartialFillKeepsOrder(t *testing.T) {
	b := NewSampleBuffer(10)
	b.Push(3)
	b.Push(1)
	b.Push(2)

	got := b.Values()
	if len(got) != 3 || got[0] != 3 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("values = %v, want [3 1 2]", got)
	}
}

func TestSampleBuffer_Mean(t *testing.T) {
	b := NewSampleBuffer(3)
	if b.Mean() != 0 {
		t.Fatalf("expected mean 0 for empty buffer, got %v", b.Mean())
	}
	b.Push(10)
	b.Push(20)
	b.Push(30)
	b.Push(40) // evicts 10

	if b.Mean() != 30 {
		t.Errorf("expected mean 30, got %v", b.Mean())
	}
}

func TestSampleBuffer_ClampsNegative(t *testing.T) {
	b := NewSampleBuffer(2)
	b.Push(-4)
	if got := b.Values()[0]; got != 0 {
		t.Errorf("expected negative sample clamped to 0, got %v", got)
	}
}

func TestSampleBuffer_ConcurrentPushes(t *testing.T) {
	const capacity = 100
	b := NewSampleBuffer(capacity)

	var wg sync.WaitGroup
	workers := 20
	perWorker := 500
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				b.Push(1)
				if n := b.Len(); n > capacity {
					t.Errorf("buffer grew past capacity: %d", n)
				}
			}
		}()
	}
	wg.Wait()

	if b.Len() != capacity {
		t.Errorf("expected len %d, got %d", capacity, b.Len())
	}
	if b.Pushed() != uint64(workers*perWorker) {
		t.Errorf("expected %d pushes, got %d", workers*perWorker, b.Pushed())
	}
}
