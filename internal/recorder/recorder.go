// Package recorder instruments units of work and feeds their timing and
// outcome into a metrics.Collector.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/torosent/pulse/internal/logging"
	"github.com/torosent/pulse/internal/metrics"
	"github.com/torosent/pulse/internal/tracing"
)

// Kind annotates what an observed unit of work is. It does not affect page
// classification, which is derived from the route.
type Kind string

const (
	KindAPI    Kind = "api"
	KindPage   Kind = "page"
	KindCustom Kind = "custom"
)

// PanicError is the failure recorded when an observed function panics.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Recorder wraps units of work and reports them to a Collector.
type Recorder struct {
	collector *metrics.Collector
	tracer    trace.Tracer
	logger    *zap.Logger
	propagate bool
	routeOf   func(*http.Request) string
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithTracer sets the tracer used for observation spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Recorder) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithLogger sets the logger used for failure diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(r *Recorder) {
		r.logger = logging.OrNop(l)
	}
}

// WithPropagation makes the HTTP and gRPC adapters continue W3C trace
// context sent by callers.
func WithPropagation(enabled bool) Option {
	return func(r *Recorder) {
		r.propagate = enabled
	}
}

// New returns a Recorder that reports into c.
func New(c *metrics.Collector, opts ...Option) *Recorder {
	if c == nil {
		panic("recorder: nil collector")
	}
	r := &Recorder{
		collector: c,
		tracer:    noop.NewTracerProvider().Tracer(tracing.InstrumentationName),
		logger:    zap.NewNop(),
		routeOf:   requestPath,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Collector returns the collector this recorder reports into.
func (r *Recorder) Collector() *metrics.Collector {
	return r.collector
}

// ErrAborted is recorded for a unit of work that exits without returning,
// such as one that calls runtime.Goexit.
var ErrAborted = errors.New("recorder: unit of work aborted")

// Observe runs fn as one unit of work on route. The error returned by fn is
// recorded and returned unchanged. If fn panics, the panic is recorded as a
// failure and then resumed. If fn never returns, ErrAborted is recorded.
func (r *Recorder) Observe(ctx context.Context, route string, kind Kind, fn func(context.Context) error) error {
	obs := r.Begin(ctx, route, kind)
	defer obs.release()
	return obs.End(fn(obs.Context()))
}

// Observation is an in-flight unit of work started by Begin.
type Observation struct {
	r     *Recorder
	ctx   context.Context
	span  trace.Span
	route string
	kind  Kind
	start time.Time
	done  atomic.Bool
}

// Begin marks a unit of work as in flight and returns its handle. The caller
// must call End exactly once, typically from the goroutine that completes
// the work.
func (r *Recorder) Begin(ctx context.Context, route string, kind Kind) *Observation {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartObservationSpan(ctx, r.tracer, route, string(kind))
	r.collector.Enter()
	return &Observation{
		r:     r,
		ctx:   ctx,
		span:  span,
		route: route,
		kind:  kind,
		start: time.Now(),
	}
}

// Context returns the observation's context, which carries its span.
func (o *Observation) Context() context.Context {
	return o.ctx
}

// Route returns the observed route.
func (o *Observation) Route() string {
	return o.route
}

// release ends the observation on exit paths that skip End. It must be
// deferred directly so recover sees the panic.
func (o *Observation) release() {
	if p := recover(); p != nil {
		o.End(&PanicError{Value: p})
		panic(p)
	}
	o.End(ErrAborted)
}

// End records the outcome of the observation and returns err unchanged.
// Only the first call records anything.
func (o *Observation) End(err error) error {
	if !o.done.CompareAndSwap(false, true) {
		return err
	}
	elapsed := time.Since(o.start)
	o.r.collector.RecordRequest(o.route, elapsed, err)
	o.r.collector.Exit()

	tracing.EndSpan(o.span, err,
		tracing.AttrPage.String(string(metrics.Classify(o.route))),
		attribute.Float64("pulse.duration_ms", float64(elapsed)/float64(time.Millisecond)),
	)
	if err != nil {
		logging.FromContext(o.ctx, o.r.logger).Debug("observation failed",
			zap.String("route", o.route),
			zap.String("kind", string(o.kind)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
	}
	return err
}

// ObserveEvent records a named occurrence. A nil duration records no timing
// sample. Events never count as requests.
func (r *Recorder) ObserveEvent(name string, duration *time.Duration, metadata map[string]any) {
	r.collector.RecordEvent(name, duration)

	fields := []zap.Field{zap.String("event", name)}
	if duration != nil {
		fields = append(fields, zap.Duration("duration", *duration))
	}
	if len(metadata) > 0 {
		fields = append(fields, zap.Any("metadata", metadata))
	}
	r.logger.Debug("event observed", fields...)
}
