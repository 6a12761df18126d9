package loadgen

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/pulse/internal/config"
)

// Requester abstracts executing a single request operation.
// Implementations should return an error for failed requests.
type Requester interface {
	Do(ctx context.Context) error
}

// RequesterFunc adapts a function to Requester.
type RequesterFunc func(ctx context.Context) error

// Do implements Requester.
func (f RequesterFunc) Do(ctx context.Context) error {
	return f(ctx)
}

// Options configure the Runner.
type Options struct {
	Concurrency    int                         // number of worker goroutines
	TotalRequests  int                         // total requests to execute (0 means unlimited until duration/end)
	Duration       time.Duration               // overall time limit (0 means no duration cap)
	Rate           int                         // requests per second pacing (0 means unlimited)
	Arrival        config.ArrivalModel         // uniform (default) or poisson
	RandomSeed     int64                       // seed for the poisson sampler
	PoissonSampler func() float64              // optional injection for tests
	Requester      Requester                   // request executor (nil sends nothing)
	LimiterFactory func(rps int) *rate.Limiter // optional injection for tests
}

// FromConfig maps the demo traffic settings onto Options.
func FromConfig(d config.DemoConfig, req Requester) Options {
	return Options{
		Concurrency: d.Concurrency,
		Duration:    d.Duration,
		Rate:        d.Rate,
		Arrival:     d.Arrival,
		RandomSeed:  time.Now().UnixNano(),
		Requester:   req,
	}
}

func (o *Options) normalize() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.TotalRequests < 0 {
		o.TotalRequests = 0
	}
	if o.Rate < 0 {
		o.Rate = 0
	}
	if o.Arrival == "" {
		o.Arrival = config.ArrivalModelUniform
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = newLimiter
	}
	if o.Requester == nil {
		o.Requester = RequesterFunc(func(context.Context) error { return nil })
	}
}
