package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/torosent/pulse/internal/config"
	"github.com/torosent/pulse/internal/loadgen"
	"github.com/torosent/pulse/internal/logging"
	"github.com/torosent/pulse/internal/metrics"
	"github.com/torosent/pulse/internal/output"
	"github.com/torosent/pulse/internal/persist"
	"github.com/torosent/pulse/internal/probe"
	"github.com/torosent/pulse/internal/recorder"
	"github.com/torosent/pulse/internal/scheduler"
	"github.com/torosent/pulse/internal/server"
	"github.com/torosent/pulse/internal/threshold"
	"github.com/torosent/pulse/internal/tracing"
	"github.com/torosent/pulse/internal/version"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [flags]",
		Short: "Run the collector with the demo host until interrupted",
		Long: "Run the collector: aggregate every update interval, write the metrics file, " +
			"optionally expose it over HTTP and drive synthetic traffic against a demo host. " +
			"Run 'pulse serve --help' for the full flag list.",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), args, out)
		},
	}
	return cmd
}

func runServe(ctx context.Context, args []string, out io.Writer) error {
	cfg, err := config.NewLoader().Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, logging.Format(cfg.Log.Format))
	if err != nil {
		return err
	}
	defer logging.Flush(logger)

	rules, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(metrics.Options{
		BufferSize: cfg.BufferSize,
		MaxRoutes:  cfg.MaxRoutes,
	})

	tp, err := tracing.Init(ctx, cfg.Tracing, tracing.Identity{
		Project:    cfg.ProjectName,
		Session:    collector.SessionID(),
		Version:    version.Version,
		Production: cfg.Production,
	})
	if err != nil {
		return err
	}
	logger.Debug("tracing configured", zap.Stringer("exporter", tp))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	rec := recorder.New(collector,
		recorder.WithTracer(tp.Tracer()),
		recorder.WithLogger(logger),
		recorder.WithPropagation(tp.ShouldPropagate()),
	)

	persisters := []persist.Persister{persist.NewFileWriter(cfg.MetricsFile)}
	if cfg.HistoryDB != "" {
		store, err := persist.OpenSQLite(ctx, cfg.HistoryDB, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		persisters = append(persisters, store)
	}

	var presenters []scheduler.Presenter
	if cfg.ConsoleOutput {
		presenters = append(presenters, output.NewConsolePresenter(out))
	}
	var hub *server.Hub
	if cfg.Listen != "" {
		hub = server.NewHub(logger)
		presenters = append(presenters, hub)
	}

	evaluator := threshold.NewEvaluator(rules)
	sched := scheduler.New(scheduler.Options{
		Collector:   collector,
		Probe:       probe.NewRuntimeProbe(),
		Inspector:   probe.DirInspector{Dir: cfg.BuildDir},
		Persisters:  persisters,
		Presenters:  presenters,
		Thresholds:  evaluator,
		Interval:    cfg.UpdateInterval,
		Meta:        persist.Meta{ProjectName: cfg.ProjectName, Production: cfg.Production, Version: version.Version},
		SimulateCPU: cfg.SimulateCPU,
		Logger:      logger,
	})

	if cfg.Listen != "" {
		srv, err := server.New(server.Options{Addr: cfg.Listen, Source: sched, Hub: hub, Logger: logger})
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown", zap.Error(err))
			}
		}()
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	logger.Info("pulse started",
		zap.String("project", cfg.ProjectName),
		zap.String("metricsFile", cfg.MetricsFile),
		zap.Duration("interval", cfg.UpdateInterval),
		zap.String("version", version.Version),
	)

	stopDemo := func() {}
	if cfg.Demo.Rate > 0 {
		stopDemo, err = startDemo(ctx, cfg.Demo, rec, logger)
		if err != nil {
			_ = sched.Stop(context.WithoutCancel(ctx))
			return err
		}
	}

	<-ctx.Done()
	// In-flight demo requests finish before the final cycle so it sees them.
	stopDemo()

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := sched.Stop(drainCtx); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}

	final, _ := sched.Latest()
	output.PrintReport(out, final)
	output.PrintThresholdResults(out, evaluator.Evaluate(final))
	return nil
}

// startDemo serves the demo host on a loopback port and drives synthetic
// traffic against it until ctx is done or the configured duration elapses.
// The returned func waits for the traffic and shuts the host down.
func startDemo(ctx context.Context, demo config.DemoConfig, rec *recorder.Recorder, logger *zap.Logger) (func(), error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen demo host: %w", err)
	}
	host := &http.Server{
		Handler:           loadgen.NewDemoHost(rec),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := host.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("demo host stopped", zap.Error(err))
		}
	}()

	baseURL := "http://" + ln.Addr().String()
	runner := loadgen.New(loadgen.FromConfig(demo, loadgen.NewHTTPRequester(baseURL, demo.FailRatio, nil)))
	logger.Info("demo traffic started",
		zap.String("host", baseURL),
		zap.Int("rate", demo.Rate),
		zap.String("arrival", string(demo.Arrival)),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		res := runner.Run(ctx)
		logger.Info("demo traffic finished",
			zap.Int64("requests", res.Sent),
			zap.Int64("failed", res.Failed),
			zap.Int64("aborted", res.Aborted),
			zap.Float64("achievedRate", res.Achieved()),
			zap.Duration("duration", res.Duration),
		)
	}()

	return func() {
		wg.Wait()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = host.Shutdown(shutdownCtx)
	}, nil
}
