// Package server exposes collector state over HTTP: the current record as
// JSON, Prometheus metrics, and a websocket stream of cycle records.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/torosent/pulse/internal/logging"
)

// Options configures a Server.
type Options struct {
	Addr     string
	Source   RecordSource
	Hub      *Hub                 // nil disables /ws
	Registry *prometheus.Registry // nil creates one with the pulse and Go runtime collectors
	Logger   *zap.Logger
}

// Server serves the pulse HTTP endpoints.
type Server struct {
	opt      Options
	logger   *zap.Logger
	handler  http.Handler
	srv      *http.Server
	listener net.Listener
	done     chan error
}

// New builds a Server. It panics if opt.Source is nil.
func New(opt Options) (*Server, error) {
	if opt.Source == nil {
		panic("server: nil record source")
	}
	logger := logging.OrNop(opt.Logger).With(zap.String("component", "server"))

	if opt.Registry == nil {
		opt.Registry = prometheus.NewRegistry()
		if err := opt.Registry.Register(collectors.NewGoCollector()); err != nil {
			return nil, fmt.Errorf("register go collector: %w", err)
		}
	}
	if err := opt.Registry.Register(NewMetricsCollector(opt.Source)); err != nil {
		return nil, fmt.Errorf("register pulse collector: %w", err)
	}

	s := &Server{opt: opt, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(opt.Registry, promhttp.HandlerOpts{}))
	if opt.Hub != nil {
		mux.Handle("GET /ws", opt.Hub)
	}
	s.handler = mux
	return s, nil
}

// Handler returns the endpoint mux.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on Options.Addr and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opt.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opt.Addr, err)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.done = make(chan error, 1)
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	s.logger.Info("metrics server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.opt.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown disconnects websocket clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.opt.Hub != nil {
		s.opt.Hub.Close()
	}
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return <-s.done
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	rec := s.opt.Source.Current(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		s.logger.Debug("write metrics response", zap.Error(err))
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}
