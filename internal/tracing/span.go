package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"
)

// Span attribute keys set on every observation.
const (
	AttrRoute   = attribute.Key("pulse.route")
	AttrKind    = attribute.Key("pulse.kind")
	AttrPage    = attribute.Key("pulse.page")
	AttrOutcome = attribute.Key("pulse.outcome")
)

// StartObservationSpan starts a server span named after the observed route.
func StartObservationSpan(ctx context.Context, tracer trace.Tracer, route, kind string) (context.Context, trace.Span) {
	name := route
	if name == "" {
		name = kind + " observation"
	}
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			AttrRoute.String(route),
			AttrKind.String(kind),
		),
	)
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(AttrOutcome.String("failure"))
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(AttrOutcome.String("success"))
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}

// ExtractHTTPHeaders returns ctx carrying any W3C trace context found in headers.
func ExtractHTTPHeaders(ctx context.Context, headers http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(headers))
}

// grpcMetadataCarrier adapts grpc metadata.MD to the OTel TextMapCarrier interface.
type grpcMetadataCarrier metadata.MD

func (c grpcMetadataCarrier) Get(key string) string {
	vals := metadata.MD(c).Get(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func (c grpcMetadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

func (c grpcMetadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// InjectGRPCMetadata injects W3C trace context into gRPC metadata.
func InjectGRPCMetadata(ctx context.Context, md metadata.MD) {
	otel.GetTextMapPropagator().Inject(ctx, grpcMetadataCarrier(md))
}

// ExtractGRPCMetadata returns ctx carrying any W3C trace context found in
// the incoming metadata of ctx.
func ExtractGRPCMetadata(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, grpcMetadataCarrier(md))
}
