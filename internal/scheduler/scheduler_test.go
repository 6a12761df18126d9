package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/torosent/pulse/internal/metrics"
	"github.com/torosent/pulse/internal/persist"
	"github.com/torosent/pulse/internal/probe"
	"github.com/torosent/pulse/internal/threshold"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type reading struct {
	usage probe.ResourceUsage
	err   error
}

type fakeProbe struct {
	mu       sync.Mutex
	readings []reading
	calls    int
}

func (p *fakeProbe) Probe(context.Context) (probe.ResourceUsage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.readings) == 0 {
		return probe.ResourceUsage{}, nil
	}
	i := p.calls
	if i >= len(p.readings) {
		i = len(p.readings) - 1
	}
	p.calls++
	return p.readings[i].usage, p.readings[i].err
}

type recordingPersister struct {
	mu      sync.Mutex
	records []persist.Record
}

func (p *recordingPersister) Persist(_ context.Context, rec persist.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
	return nil
}

func (p *recordingPersister) Records() []persist.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]persist.Record(nil), p.records...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestLifecycle(t *testing.T) {
	c := metrics.NewCollector(metrics.Options{})
	store := &recordingPersister{}
	s := New(Options{
		Collector:  c,
		Probe:      &fakeProbe{},
		Persisters: []persist.Persister{store},
		Interval:   10 * time.Millisecond,
		Meta:       persist.Meta{ProjectName: "shop", Version: "1.2.3"},
	})

	if s.State() != StateIdle {
		t.Fatalf("initial state = %s", s.State())
	}
	if _, ok := s.Latest(); ok {
		t.Fatal("no record expected before the first cycle")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if s.State() != StateRunning {
		t.Fatalf("state after Start = %s", s.State())
	}

	waitFor(t, time.Second, func() bool { return len(store.Records()) >= 2 })

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.State() != StateStopped {
		t.Fatalf("state after Stop = %s", s.State())
	}

	records := store.Records()
	for _, rec := range records[:len(records)-1] {
		if !rec.Integration.Active {
			t.Error("cycle records while running should be active")
		}
	}
	final := records[len(records)-1]
	if final.Integration.Active {
		t.Error("final record should not be active")
	}
	if !final.Integration.Ready || final.Integration.Version != "1.2.3" || final.ProjectName != "shop" {
		t.Errorf("unexpected metadata: %+v / %q", final.Integration, final.ProjectName)
	}
	if got := s.Cycles(); got != int64(len(records)) {
		t.Errorf("Cycles() = %d, want %d", got, len(records))
	}
	latest, ok := s.Latest()
	if !ok || latest.Timestamp != final.Timestamp {
		t.Error("Latest() should return the final record")
	}

	if err := s.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start after Stop error = %v, want ErrStopped", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if got := len(store.Records()); got != len(records) {
		t.Errorf("records written after Stop returned: %d -> %d", len(records), got)
	}
}

func TestStopWithoutStartFlushesOnce(t *testing.T) {
	c := metrics.NewCollector(metrics.Options{})
	c.RecordRequest("/", time.Millisecond, nil)
	store := &recordingPersister{}
	s := New(Options{Collector: c, Probe: &fakeProbe{}, Persisters: []persist.Persister{store}})

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	records := store.Records()
	if len(records) != 1 {
		t.Fatalf("expected one final record, got %d", len(records))
	}
	if records[0].RequestCount != 1 || records[0].Pages.Home != 1 {
		t.Errorf("unexpected final record: %+v", records[0])
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start after Stop error = %v", err)
	}
}

// blockingPersister holds the first Persist call until release is closed.
type blockingPersister struct {
	recordingPersister
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *blockingPersister) Persist(ctx context.Context, rec persist.Record) error {
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.entered)
		<-p.release
	}
	return p.recordingPersister.Persist(ctx, rec)
}

func TestStopDrainsInFlightCycle(t *testing.T) {
	c := metrics.NewCollector(metrics.Options{})
	store := &blockingPersister{entered: make(chan struct{}), release: make(chan struct{})}
	s := New(Options{
		Collector:  c,
		Probe:      &fakeProbe{},
		Persisters: []persist.Persister{store},
		Interval:   5 * time.Millisecond,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	<-store.entered
	// Completed while the first cycle is blocked in persistence.
	for i := 0; i < 5; i++ {
		c.RecordRequest("/api/orders", time.Millisecond, nil)
	}
	c.RecordRequest("/api/orders", time.Millisecond, errors.New("boom"))

	var stopped atomic.Bool
	stopErr := make(chan error, 1)
	go func() {
		stopErr <- s.Stop(context.Background())
		stopped.Store(true)
	}()

	time.Sleep(20 * time.Millisecond)
	if stopped.Load() {
		t.Fatal("Stop returned while a cycle was in flight")
	}
	close(store.release)

	if err := <-stopErr; err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	records := store.Records()
	if len(records) != 2 {
		t.Fatalf("expected the in-flight record plus one final record, got %d", len(records))
	}
	final := records[1]
	if final.Integration.Active {
		t.Error("final record should not be active")
	}
	if final.RequestCount != 6 || final.ErrorCount != 1 || final.Pages.API != 6 {
		t.Errorf("final record misses completed observations: %+v", final)
	}

	time.Sleep(20 * time.Millisecond)
	if got := len(store.Records()); got != 2 {
		t.Errorf("records written after Stop returned: got %d", got)
	}
}

func TestStopRetriesAfterDrainTimeout(t *testing.T) {
	c := metrics.NewCollector(metrics.Options{})
	store := &blockingPersister{entered: make(chan struct{}), release: make(chan struct{})}
	s := New(Options{Collector: c, Probe: &fakeProbe{}, Persisters: []persist.Persister{store}, Interval: 5 * time.Millisecond})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-store.entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop() error = %v, want deadline exceeded", err)
	}
	if s.State() != StateStopped {
		t.Errorf("state = %s", s.State())
	}
	if n := len(store.Records()); n != 0 {
		t.Fatalf("records before release = %d, want 0", n)
	}

	close(store.release)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("retried Stop() error = %v", err)
	}
	records := store.Records()
	if len(records) != 2 {
		t.Fatalf("records = %d, want in-flight cycle plus final cycle", len(records))
	}
	if !records[0].Integration.Active || records[1].Integration.Active {
		t.Errorf("active flags = %v/%v, want true/false", records[0].Integration.Active, records[1].Integration.Active)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop after completed Stop error = %v", err)
	}
	if got := len(store.Records()); got != 2 {
		t.Errorf("records after repeated Stop = %d, want 2", got)
	}
}

func TestRunStopsWhenContextDone(t *testing.T) {
	c := metrics.NewCollector(metrics.Options{})
	store := &recordingPersister{}
	s := New(Options{Collector: c, Probe: &fakeProbe{}, Persisters: []persist.Persister{store}, Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, time.Second, func() bool { return s.Cycles() >= 1 })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if s.State() != StateStopped {
		t.Errorf("state = %s", s.State())
	}
	records := store.Records()
	if records[len(records)-1].Integration.Active {
		t.Error("final record should not be active")
	}
}

func TestResourceSampling(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := metrics.NewCollector(metrics.Options{Clock: clock.Now})
	const mb = 1024 * 1024
	p := &fakeProbe{readings: []reading{
		{usage: probe.ResourceUsage{MemoryBytes: 32 * mb, CPUTimeUser: time.Second}},
		{usage: probe.ResourceUsage{MemoryBytes: 64 * mb, CPUTimeUser: 1500 * time.Millisecond, CPUTimeSystem: 500 * time.Millisecond}},
		{err: errors.New("probe unavailable")},
	}}
	core, logs := observer.New(zapcore.WarnLevel)
	s := New(Options{Collector: c, Probe: p, Logger: zap.New(core)})

	first := s.RunCycle(context.Background(), true)
	if first.CPUUsage != 0 || first.MemoryUsage != 32 {
		t.Errorf("first cycle cpu=%v mem=%v, want 0 and 32", first.CPUUsage, first.MemoryUsage)
	}

	clock.Advance(2 * time.Second)
	second := s.RunCycle(context.Background(), true)
	if second.CPUUsage != 50 || second.MemoryUsage != 64 {
		t.Errorf("second cycle cpu=%v mem=%v, want 50 and 64", second.CPUUsage, second.MemoryUsage)
	}

	clock.Advance(2 * time.Second)
	third := s.RunCycle(context.Background(), true)
	if third.CPUUsage != 50 || third.MemoryUsage != 64 {
		t.Errorf("failed probe should keep previous values, got cpu=%v mem=%v", third.CPUUsage, third.MemoryUsage)
	}
	if logs.FilterMessage("resource probe failed").Len() != 1 {
		t.Error("expected a probe failure warning")
	}
	if third.Uptime != 4000 {
		t.Errorf("uptime = %v, want 4000", third.Uptime)
	}
}

func TestUnsupportedCPUKeepsMemory(t *testing.T) {
	c := metrics.NewCollector(metrics.Options{})
	p := &fakeProbe{readings: []reading{
		{usage: probe.ResourceUsage{MemoryBytes: 10 * 1024 * 1024}, err: probe.ErrCPUUnsupported},
	}}
	core, logs := observer.New(zapcore.WarnLevel)
	s := New(Options{Collector: c, Probe: p, Logger: zap.New(core)})

	rec := s.RunCycle(context.Background(), true)
	if rec.MemoryUsage != 10 || rec.CPUUsage != 0 {
		t.Errorf("cpu=%v mem=%v", rec.CPUUsage, rec.MemoryUsage)
	}
	if logs.Len() != 0 {
		t.Errorf("unsupported cpu should not warn, got %d entries", logs.Len())
	}

	sim := New(Options{Collector: c, Probe: p, SimulateCPU: true})
	for i := 0; i < 5; i++ {
		got := sim.RunCycle(context.Background(), true).CPUUsage
		if got < 5 || got > 25 {
			t.Fatalf("simulated cpu %v outside [5, 25]", got)
		}
	}
}

type fakeInspector struct {
	mu       sync.Mutex
	artifact probe.BuildArtifact
	err      error
}

func (f *fakeInspector) Inspect(context.Context) (probe.BuildArtifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.artifact, f.err
}

func TestBuildInspection(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := metrics.NewCollector(metrics.Options{Clock: clock.Now})
	built := clock.Now().Add(-90 * time.Second)
	insp := &fakeInspector{artifact: probe.BuildArtifact{Exists: true, LastModified: built}}
	core, logs := observer.New(zapcore.WarnLevel)
	s := New(Options{
		Collector: c,
		Probe:     &fakeProbe{},
		Inspector: insp,
		Meta:      persist.Meta{Production: true},
		Logger:    zap.New(core),
	})

	rec := s.RunCycle(context.Background(), true)
	if rec.BuildInfo.LastBuild != "2026-03-01T11:58:30Z" || rec.BuildInfo.BuildTime != 90000 || !rec.BuildInfo.IsProduction {
		t.Errorf("unexpected build info: %+v", rec.BuildInfo)
	}

	insp.mu.Lock()
	insp.err = errors.New("permission denied")
	insp.mu.Unlock()
	clock.Advance(10 * time.Second)

	rec = s.RunCycle(context.Background(), true)
	if rec.BuildInfo.LastBuild != "2026-03-01T11:58:30Z" || rec.BuildInfo.BuildTime != 100000 {
		t.Errorf("failed inspection should keep the previous artifact: %+v", rec.BuildInfo)
	}
	if logs.FilterMessage("build inspection failed").Len() != 1 {
		t.Error("expected an inspection warning")
	}
}

func TestPersistFailureIsLoggedAndPresentersRun(t *testing.T) {
	c := metrics.NewCollector(metrics.Options{})
	good := &recordingPersister{}
	failing := persist.PersisterFunc(func(context.Context, persist.Record) error {
		return errors.New("disk full")
	})
	var presented []persist.Record
	core, logs := observer.New(zapcore.ErrorLevel)
	s := New(Options{
		Collector:  c,
		Probe:      &fakeProbe{},
		Persisters: []persist.Persister{failing, good},
		Presenters: []Presenter{PresenterFunc(func(rec persist.Record) { presented = append(presented, rec) })},
		Logger:     zap.New(core),
	})

	s.RunCycle(context.Background(), true)
	s.RunCycle(context.Background(), true)

	if len(good.Records()) != 2 {
		t.Errorf("later persisters should still run, got %d", len(good.Records()))
	}
	if len(presented) != 2 {
		t.Errorf("presenters should run every cycle, got %d", len(presented))
	}
	entries := logs.FilterMessage("persist failed").All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 persist failures logged, got %d", len(entries))
	}
	if entries[0].ContextMap()["error"] != "disk full" {
		t.Errorf("unexpected error field: %v", entries[0].ContextMap())
	}
}

func TestThresholdBreachesAreLogged(t *testing.T) {
	c := metrics.NewCollector(metrics.Options{})
	for i := 0; i < 3; i++ {
		c.RecordRequest("/api/users", time.Millisecond, nil)
	}
	c.RecordRequest("/api/users", time.Millisecond, errors.New("boom"))

	rules, err := threshold.ParseMultiple([]string{"errors:rate < 10", "requests:count == 4"})
	if err != nil {
		t.Fatal(err)
	}
	core, logs := observer.New(zapcore.WarnLevel)
	s := New(Options{
		Collector:  c,
		Probe:      &fakeProbe{},
		Thresholds: threshold.NewEvaluator(rules),
		Logger:     zap.New(core),
	})

	rec := s.RunCycle(context.Background(), true)
	if rec.ErrorRate != 25 {
		t.Fatalf("errorRate = %v, want 25", rec.ErrorRate)
	}
	if s.Breaches() != 1 {
		t.Errorf("Breaches() = %d, want 1", s.Breaches())
	}
	breaches := logs.FilterMessage("threshold breached").All()
	if len(breaches) != 1 || breaches[0].ContextMap()["threshold"] != "errors:rate < 10" {
		t.Errorf("unexpected breach logs: %+v", breaches)
	}
}

func TestCurrentDoesNotPersist(t *testing.T) {
	c := metrics.NewCollector(metrics.Options{})
	c.RecordRequest("/", time.Millisecond, nil)
	store := &recordingPersister{}
	s := New(Options{Collector: c, Probe: &fakeProbe{}, Persisters: []persist.Persister{store}})

	rec := s.Current(context.Background())
	if rec.RequestCount != 1 {
		t.Errorf("RequestCount = %d", rec.RequestCount)
	}
	if rec.Integration.Active {
		t.Error("idle scheduler should report inactive")
	}
	if len(store.Records()) != 0 || s.Cycles() != 0 {
		t.Error("Current must not run a cycle")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateIdle:    "idle",
		StateRunning: "running",
		StateStopped: "stopped",
		State(9):     "state(9)",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int32(state), got, want)
		}
	}
}

func TestNewPanicsWithoutCollector(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New(Options{})
}
