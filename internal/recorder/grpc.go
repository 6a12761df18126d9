package recorder

import (
	"context"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"google.golang.org/grpc"

	"github.com/torosent/pulse/internal/tracing"
)

// UnaryServerInterceptor observes unary RPCs. The route is the full method
// name and a non-nil handler error counts as failure.
func (r *Recorder) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx = r.rpcContext(ctx)
		var resp interface{}
		err := r.Observe(ctx, info.FullMethod, KindAPI, func(ctx context.Context) error {
			var herr error
			resp, herr = handler(ctx, req)
			return herr
		})
		return resp, err
	}
}

// StreamServerInterceptor observes streaming RPCs for the lifetime of the stream.
func (r *Recorder) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := r.rpcContext(stream.Context())
		return r.Observe(ctx, info.FullMethod, KindAPI, func(ctx context.Context) error {
			wrapped := grpc_middleware.WrapServerStream(stream)
			wrapped.WrappedContext = ctx
			return handler(srv, wrapped)
		})
	}
}

func (r *Recorder) rpcContext(ctx context.Context) context.Context {
	if r.propagate {
		ctx = tracing.ExtractGRPCMetadata(ctx)
	}
	return WithRecorder(ctx, r)
}
