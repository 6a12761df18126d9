package loadgen

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/pulse/internal/config"
)

// pacer blocks until the next request is due. *rate.Limiter satisfies it.
type pacer interface {
	Wait(ctx context.Context) error
}

// maxGapFactor caps a single poisson gap at this many mean gaps so demo
// traffic never stalls on an outlier sample.
const maxGapFactor = 10

func newPacer(opt Options) pacer {
	if opt.Arrival == config.ArrivalModelPoisson && opt.Rate > 0 {
		exp := opt.PoissonSampler
		if exp == nil {
			exp = rand.New(rand.NewSource(opt.RandomSeed)).ExpFloat64
		}
		return newPoissonPacer(opt.Rate, exp)
	}
	return opt.LimiterFactory(opt.Rate)
}

func newLimiter(rps int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	// A burst of one second's worth keeps workers busy without overshooting
	// the average rate.
	return rate.NewLimiter(rate.Limit(rps), rps)
}

// poissonPacer spaces requests by exponentially distributed gaps with a
// mean of one second divided by the rate.
type poissonPacer struct {
	mu   sync.Mutex
	mean time.Duration
	exp  func() float64
}

func newPoissonPacer(rps int, exp func() float64) *poissonPacer {
	return &poissonPacer{mean: time.Second / time.Duration(rps), exp: exp}
}

func (p *poissonPacer) gap() time.Duration {
	p.mu.Lock()
	sample := p.exp()
	p.mu.Unlock()

	if sample <= 0 || math.IsNaN(sample) {
		return 0
	}
	return time.Duration(math.Min(sample, maxGapFactor) * float64(p.mean))
}

func (p *poissonPacer) Wait(ctx context.Context) error {
	d := p.gap()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
