package recorder

import (
	"fmt"
	"net/http"

	"github.com/torosent/pulse/internal/metrics"
	"github.com/torosent/pulse/internal/tracing"
)

// StatusError is the failure recorded for HTTP responses with a 5xx status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.Code)
}

// WithRouteFunc sets how the HTTP middleware derives a route from a request.
// The default is the URL path.
func WithRouteFunc(fn func(*http.Request) string) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.routeOf = fn
		}
	}
}

func requestPath(req *http.Request) string {
	if req.URL == nil || req.URL.Path == "" {
		return "/"
	}
	return req.URL.Path
}

// Middleware observes every request served by next. Responses with status
// 500 or above, handler panics and handlers that exit via runtime.Goexit
// count as failures.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		if r.propagate {
			ctx = tracing.ExtractHTTPHeaders(ctx, req.Header)
		}
		ctx = WithRecorder(ctx, r)

		route := r.routeOf(req)
		kind := KindPage
		if metrics.Classify(route) == metrics.PageAPI {
			kind = KindAPI
		}

		obs := r.Begin(ctx, route, kind)
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		defer obs.release()

		next.ServeHTTP(sw, req.WithContext(obs.Context()))

		var err error
		if sw.status >= http.StatusInternalServerError {
			err = &StatusError{Code: sw.status}
		}
		obs.End(err)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
