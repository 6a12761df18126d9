// Package tracing wires OpenTelemetry span export for observations and
// continues W3C trace context arriving on instrumented requests.
package tracing

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/torosent/pulse/internal/config"
	"github.com/torosent/pulse/internal/version"
)

// InstrumentationName names the tracer that emits observation spans.
const InstrumentationName = "github.com/torosent/pulse"

const defaultServiceName = "pulse"

// ResProject is the resource attribute carrying the instrumented project.
const ResProject = attribute.Key("pulse.project")

// Identity describes the instrumented process on every exported span.
type Identity struct {
	Project    string
	Session    string // collector session id, exported as service.instance.id
	Version    string // defaults to version.Version
	Production bool
}

// Provider owns the SDK tracer provider behind observation spans. The zero
// value is a disabled provider.
type Provider struct {
	tp        *sdktrace.TracerProvider
	tracer    trace.Tracer
	propagate bool
	target    exportTarget
	sampler   string
}

// Init builds a Provider exporting over OTLP. Without an endpoint in cfg or
// OTEL_EXPORTER_OTLP_ENDPOINT it returns a disabled Provider.
func Init(ctx context.Context, cfg config.TracingConfig, id Identity) (*Provider, error) {
	if !cfg.Enabled() {
		return &Provider{}, nil
	}

	sampler, err := newSampler(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	target, err := parseTarget(cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing endpoint: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(identityAttributes(cfg, id)...))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	exporter, err := newExporter(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("tracing exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		tp:        tp,
		tracer:    tp.Tracer(InstrumentationName, trace.WithInstrumentationVersion(version.Version)),
		propagate: cfg.ShouldPropagate(),
		target:    target,
		sampler:   sampler.Description(),
	}, nil
}

// Tracer returns the configured tracer. Returns a no-op tracer if tracing is disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return noop.NewTracerProvider().Tracer(InstrumentationName)
	}
	return p.tracer
}

// ShouldPropagate reports whether incoming W3C trace headers are continued.
func (p *Provider) ShouldPropagate() bool {
	if p == nil {
		return false
	}
	return p.propagate
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool {
	return p != nil && p.tp != nil
}

// String describes the exporter and sampler for startup logs.
func (p *Provider) String() string {
	if !p.Enabled() {
		return "disabled"
	}
	return fmt.Sprintf("otlp %s %s sampler=%s", p.target.protocol, p.target, p.sampler)
}

// Shutdown flushes pending spans and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// newSampler maps a sample rate to a parent-based sampler so a continued
// trace keeps the caller's decision.
func newSampler(rate float64) (sdktrace.Sampler, error) {
	var root sdktrace.Sampler
	switch {
	case rate < 0 || rate > 1:
		return nil, fmt.Errorf("tracing sample_rate must be between 0.0 and 1.0, got %g", rate)
	case rate == 0:
		root = sdktrace.NeverSample()
	case rate == 1:
		root = sdktrace.AlwaysSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root), nil
}

func identityAttributes(cfg config.TracingConfig, id Identity) []attribute.KeyValue {
	name := firstNonEmpty(cfg.ServiceName, os.Getenv("OTEL_SERVICE_NAME"), id.Project, defaultServiceName)
	env := "development"
	if id.Production {
		env = "production"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceVersion(firstNonEmpty(id.Version, version.Version)),
		semconv.DeploymentEnvironment(env),
	}
	if id.Project != "" {
		attrs = append(attrs, ResProject.String(id.Project))
	}
	if id.Session != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(id.Session))
	}
	return attrs
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// exportTarget is where spans go. Endpoints may be given as host:port or as
// a URL; an http:// URL implies an insecure connection.
type exportTarget struct {
	protocol string
	host     string
	path     string
	insecure bool
}

func (t exportTarget) String() string {
	scheme := "https"
	if t.insecure {
		scheme = "http"
	}
	return scheme + "://" + t.host + t.path
}

func parseTarget(cfg config.TracingConfig) (exportTarget, error) {
	t := exportTarget{
		protocol: strings.ToLower(strings.TrimSpace(cfg.Protocol)),
		insecure: cfg.Insecure,
	}
	if t.protocol == "" {
		t.protocol = "grpc"
	}
	if t.protocol != "grpc" && t.protocol != "http" {
		return t, fmt.Errorf("unsupported OTLP protocol %q: use \"grpc\" or \"http\"", t.protocol)
	}

	raw := firstNonEmpty(cfg.Endpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		t.host = raw
		return t, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return t, err
	}
	switch u.Scheme {
	case "http":
		t.insecure = true
	case "https":
	default:
		return t, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return t, fmt.Errorf("endpoint %q has no host", raw)
	}
	t.host = u.Host
	if path := strings.TrimRight(u.Path, "/"); path != "" {
		if t.protocol == "grpc" {
			return t, fmt.Errorf("endpoint %q: a URL path requires the http protocol", raw)
		}
		t.path = path
	}
	return t, nil
}

func newExporter(ctx context.Context, t exportTarget) (sdktrace.SpanExporter, error) {
	if t.protocol == "http" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(t.host)}
		if t.path != "" {
			opts = append(opts, otlptracehttp.WithURLPath(t.path))
		}
		if t.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(t.host)}
	if t.insecure {
		opts = append(opts,
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			otlptracegrpc.WithInsecure(),
		)
	}
	return otlptracegrpc.New(ctx, opts...)
}
