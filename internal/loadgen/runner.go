package loadgen

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Result summarises one Run.
type Result struct {
	Sent     int64 // requests handed to the Requester
	Failed   int64 // requests that returned an error while the run was live
	Aborted  int64 // requests cut short because the run ended
	Duration time.Duration
}

// Achieved returns the observed request rate per second.
func (r Result) Achieved() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Sent) / r.Duration.Seconds()
}

// Runner drives a Requester from a fixed pool of workers at a paced rate.
type Runner struct {
	opt   Options
	pacer pacer
}

// New returns a Runner for opt. Zero fields fall back to defaults.
func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{opt: opt, pacer: newPacer(opt)}
}

// Run sends requests until ctx is done, Duration elapses or TotalRequests
// have been sent, then waits for in-flight requests.
func (r *Runner) Run(ctx context.Context) Result {
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if r.opt.Duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, r.opt.Duration)
		defer stop()
	}

	var t tally
	tickets := r.dispatch(ctx)

	var wg sync.WaitGroup
	for i := 0; i < r.opt.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.work(ctx, tickets, &t)
		}()
	}
	wg.Wait()

	return Result{
		Sent:     t.sent.Load(),
		Failed:   t.failed.Load(),
		Aborted:  t.aborted.Load(),
		Duration: time.Since(start),
	}
}

type tally struct {
	sent    atomic.Int64
	failed  atomic.Int64
	aborted atomic.Int64
}

// dispatch paces arrivals on a single goroutine. The channel is unbuffered,
// so a ticket is only issued to a worker that is ready to send.
func (r *Runner) dispatch(ctx context.Context) <-chan struct{} {
	tickets := make(chan struct{})
	go func() {
		defer close(tickets)
		for n := 0; r.opt.TotalRequests == 0 || n < r.opt.TotalRequests; n++ {
			if err := r.pacer.Wait(ctx); err != nil {
				return
			}
			select {
			case tickets <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return tickets
}

func (r *Runner) work(ctx context.Context, tickets <-chan struct{}, t *tally) {
	for range tickets {
		if ctx.Err() != nil {
			continue
		}
		t.sent.Add(1)
		err := r.opt.Requester.Do(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			t.aborted.Add(1)
		default:
			t.failed.Add(1)
		}
	}
}
