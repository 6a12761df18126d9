// Package scheduler drives the periodic probe, snapshot, persist and present
// cycle of a metrics.Collector.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/pulse/internal/logging"
	"github.com/torosent/pulse/internal/metrics"
	"github.com/torosent/pulse/internal/persist"
	"github.com/torosent/pulse/internal/probe"
	"github.com/torosent/pulse/internal/threshold"
)

// DefaultInterval is used when Options.Interval is not positive.
const DefaultInterval = 5 * time.Second

// DefaultDrainTimeout bounds the final cycle run by Run.
const DefaultDrainTimeout = 10 * time.Second

// ErrStopped is returned by Start once the scheduler has been stopped.
var ErrStopped = errors.New("scheduler: stopped")

// State is the lifecycle state of a Scheduler.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Presenter displays a Record after it has been persisted.
type Presenter interface {
	Present(rec persist.Record)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(rec persist.Record)

// Present implements Presenter.
func (f PresenterFunc) Present(rec persist.Record) {
	f(rec)
}

// Options configures a Scheduler.
type Options struct {
	Collector    *metrics.Collector
	Probe        probe.ResourceProbe  // defaults to probe.RuntimeProbe
	Inspector    probe.BuildInspector // nil reports no build
	Persisters   []persist.Persister
	Presenters   []Presenter
	Thresholds   *threshold.Evaluator
	Interval     time.Duration
	DrainTimeout time.Duration
	Meta         persist.Meta
	SimulateCPU  bool
	Logger       *zap.Logger
}

func (o *Options) normalize() {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	if o.Probe == nil {
		o.Probe = probe.NewRuntimeProbe()
	}
	o.Logger = logging.OrNop(o.Logger)
}

// Scheduler runs aggregation cycles every Interval while Running, and one
// final cycle when stopped.
type Scheduler struct {
	opt    Options
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	loopDone chan struct{}

	// stopSem serializes Stop; stopped is guarded by it.
	stopSem chan struct{}
	stopped bool

	cycleMu sync.Mutex

	resMu     sync.Mutex
	prevUsage probe.ResourceUsage
	prevAt    time.Time
	havePrev  bool
	resources persist.Resources
	artifact  probe.BuildArtifact
	rng       *rand.Rand

	cycles   atomic.Int64
	breaches atomic.Int64
	latest   atomic.Pointer[persist.Record]
}

// New returns an idle Scheduler. It panics if opt.Collector is nil.
func New(opt Options) *Scheduler {
	if opt.Collector == nil {
		panic("scheduler: nil collector")
	}
	opt.normalize()
	return &Scheduler{
		opt:     opt,
		logger:  opt.Logger.With(zap.String("component", "scheduler")),
		stopSem: make(chan struct{}, 1),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cycles returns how many cycles have completed.
func (s *Scheduler) Cycles() int64 {
	return s.cycles.Load()
}

// Breaches returns how many threshold breaches have been observed.
func (s *Scheduler) Breaches() int64 {
	return s.breaches.Load()
}

// Latest returns the most recent Record produced by a cycle.
func (s *Scheduler) Latest() (persist.Record, bool) {
	rec := s.latest.Load()
	if rec == nil {
		return persist.Record{}, false
	}
	return *rec, true
}

// Start enters Running and arms the ticker. Calling Start while Running is a
// no-op. Cancelling ctx disarms the ticker but does not stop the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateStopped:
		return ErrStopped
	case StateRunning:
		return nil
	}

	s.primeResources(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.state = StateRunning

	go s.loop(loopCtx, s.loopDone)

	s.logger.Debug("scheduler started", zap.Duration("interval", s.opt.Interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opt.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			// Stop drains an in-flight cycle instead of aborting it.
			s.RunCycle(context.WithoutCancel(ctx), true)
		}
	}
}

// Stop disarms the ticker, waits for an in-flight cycle, runs one final cycle
// and enters Stopped. It is safe to call more than once; concurrent calls wait
// for each other and calls after a completed Stop return nil. If ctx expires
// while draining, Stop returns an error wrapping ctx.Err() without running the
// final cycle; the in-flight cycle still completes, and a later Stop waits for
// it and then runs the final cycle.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case s.stopSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.stopSem }()
	if s.stopped {
		return nil
	}

	s.mu.Lock()
	cancel, loopDone := s.cancel, s.loopDone
	s.state = StateStopped
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if loopDone != nil {
		select {
		case <-loopDone:
		case <-ctx.Done():
			return fmt.Errorf("drain in-flight cycle: %w", ctx.Err())
		}
	}

	rec := s.RunCycle(ctx, false)
	s.stopped = true
	s.logger.Info("scheduler stopped",
		zap.Int64("cycles", s.Cycles()),
		zap.Int64("requests", rec.RequestCount),
		zap.Int64("errors", rec.ErrorCount),
	)
	return nil
}

// Run starts the scheduler, blocks until ctx is done, then stops it with
// DrainTimeout for the final cycle.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opt.DrainTimeout)
	defer cancel()
	return s.Stop(drainCtx)
}

// RunCycle runs one probe, snapshot, persist and present cycle and returns
// the Record it produced. Cycles never run concurrently. Persistence and
// probe failures are logged, never returned.
func (s *Scheduler) RunCycle(ctx context.Context, active bool) persist.Record {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	now := s.opt.Collector.Now()
	res, artifact := s.sample(ctx, now)

	meta := s.opt.Meta
	meta.Active = active
	snap := s.opt.Collector.SnapshotAt(now)
	rec := persist.NewRecord(snap, res, persist.NewBuildInfo(artifact, meta.Production, now), meta)

	for _, p := range s.opt.Persisters {
		if err := p.Persist(ctx, rec); err != nil {
			s.logger.Error("persist failed", zap.Error(err))
		}
	}
	s.latest.Store(&rec)

	for _, p := range s.opt.Presenters {
		p.Present(rec)
	}

	for _, r := range threshold.Breaches(s.opt.Thresholds.Evaluate(rec)) {
		s.breaches.Add(1)
		s.logger.Warn("threshold breached",
			zap.String("threshold", r.Threshold.Raw),
			zap.Float64("actual", r.Actual),
			zap.String("message", r.Message),
		)
	}

	n := s.cycles.Add(1)
	s.logger.Debug("cycle complete",
		zap.Int64("cycle", n),
		zap.Bool("active", active),
		zap.Int64("requests", rec.RequestCount),
		zap.Float64("responseTime", rec.ResponseTime),
	)
	return rec
}

// Current builds a Record from a fresh snapshot and the last resource
// reading without persisting or presenting it.
func (s *Scheduler) Current(ctx context.Context) persist.Record {
	now := s.opt.Collector.Now()

	s.resMu.Lock()
	res, artifact := s.resources, s.artifact
	s.resMu.Unlock()

	if s.opt.Inspector != nil {
		if a, err := s.opt.Inspector.Inspect(ctx); err == nil {
			artifact = a
		}
	}

	meta := s.opt.Meta
	meta.Active = s.State() == StateRunning
	snap := s.opt.Collector.SnapshotAt(now)
	return persist.NewRecord(snap, res, persist.NewBuildInfo(artifact, meta.Production, now), meta)
}

func (s *Scheduler) primeResources(ctx context.Context) {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	if s.havePrev {
		return
	}
	usage, err := s.opt.Probe.Probe(ctx)
	if err != nil {
		return
	}
	s.prevUsage, s.prevAt, s.havePrev = usage, s.opt.Collector.Now(), true
}

// sample probes resources and inspects the build. On failure the previous
// values are kept.
func (s *Scheduler) sample(ctx context.Context, now time.Time) (persist.Resources, probe.BuildArtifact) {
	s.resMu.Lock()
	defer s.resMu.Unlock()

	usage, err := s.opt.Probe.Probe(ctx)
	switch {
	case err == nil:
		if s.havePrev {
			s.resources.CPUPercent = probe.CPUPercent(s.prevUsage, usage, now.Sub(s.prevAt))
		}
		s.resources.MemoryMB = usage.MemoryMB()
		s.prevUsage, s.prevAt, s.havePrev = usage, now, true
	case errors.Is(err, probe.ErrCPUUnsupported):
		s.resources.MemoryMB = usage.MemoryMB()
	default:
		s.logger.Warn("resource probe failed", zap.Error(err))
	}

	res := s.resources
	if s.opt.SimulateCPU && res.CPUPercent == 0 {
		res.CPUPercent = 5 + s.rng.Float64()*20
	}

	if s.opt.Inspector != nil {
		artifact, err := s.opt.Inspector.Inspect(ctx)
		if err != nil {
			s.logger.Warn("build inspection failed", zap.Error(err))
		} else {
			s.artifact = artifact
		}
	}
	return res, s.artifact
}
