package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand(use string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           use,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Collector flags
	flags.String("metrics-file", DefaultMetricsFile, "Path of the JSON metrics file rewritten every cycle")
	flags.Duration("update-interval", DefaultUpdateInterval, "Interval between aggregation cycles (e.g. 5s, 500ms)")
	flags.Bool("console", true, "Print a one-line summary every cycle")
	flags.String("project-name", "", "Project name written to the metrics file (defaults to the working directory name)")
	flags.Int("buffer-size", DefaultBufferSize, "Number of timing samples kept for the rolling average")
	flags.Int("max-routes", DefaultMaxRoutes, "Maximum distinct routes tallied before the least recent is evicted")
	flags.String("build-dir", DefaultBuildDir, "Directory whose modification time is reported as the last build")
	flags.Bool("production", false, "Mark the process as a production build")
	flags.Bool("simulate-cpu", false, "Show a simulated CPU figure when the probe reports none")

	// Storage and exposition flags
	flags.String("history-db", "", "SQLite database that keeps every persisted snapshot")
	flags.String("listen", "", "Address for the metrics HTTP server (e.g. :9090)")
	flags.StringSlice("threshold", nil, "Alert rules checked every cycle (repeatable, e.g. 'errors:rate < 5')")

	// Source flags
	flags.String("config", "", "Path to configuration file (JSON or YAML)")
	flags.String("env-file", "", "Path to a dotenv file loaded before reading PULSE_* variables")

	// Logging flags
	flags.String("log-level", DefaultLogLevel, "Log level: debug, info, warn or error")
	flags.String("log-format", DefaultLogFormat, "Log format: json or console")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (host:port); tracing is off when empty")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.String("tracing-service-name", "", "Service name reported on spans (defaults to the project name)")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of observations traced (0.0-1.0)")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")

	// Demo traffic flags
	flags.Int("demo-rate", 0, "Synthetic requests per second against the demo host (0 disables)")
	flags.Int("demo-concurrency", 4, "Number of synthetic traffic workers")
	flags.Duration("demo-duration", 0, "How long synthetic traffic runs (0 means until shutdown)")
	flags.String("demo-arrival", string(ArrivalModelUniform), "Arrival model for synthetic traffic (uniform or poisson)")
	flags.Float64("demo-fail-ratio", 0.1, "Share of synthetic requests sent to the failing endpoint")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file and environment.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("metrics-file") {
		val, err := fs.GetString("metrics-file")
		if err != nil {
			return err
		}
		cfg.MetricsFile = val
	}
	if fs.Changed("update-interval") {
		val, err := fs.GetDuration("update-interval")
		if err != nil {
			return err
		}
		cfg.UpdateInterval = val
	}
	if fs.Changed("console") {
		val, err := fs.GetBool("console")
		if err != nil {
			return err
		}
		cfg.ConsoleOutput = val
	}
	if fs.Changed("project-name") {
		val, err := fs.GetString("project-name")
		if err != nil {
			return err
		}
		cfg.ProjectName = val
	}
	if fs.Changed("buffer-size") {
		val, err := fs.GetInt("buffer-size")
		if err != nil {
			return err
		}
		cfg.BufferSize = val
	}
	if fs.Changed("max-routes") {
		val, err := fs.GetInt("max-routes")
		if err != nil {
			return err
		}
		cfg.MaxRoutes = val
	}
	if fs.Changed("build-dir") {
		val, err := fs.GetString("build-dir")
		if err != nil {
			return err
		}
		cfg.BuildDir = strings.TrimSpace(val)
	}
	if fs.Changed("production") {
		val, err := fs.GetBool("production")
		if err != nil {
			return err
		}
		cfg.Production = val
	}
	if fs.Changed("simulate-cpu") {
		val, err := fs.GetBool("simulate-cpu")
		if err != nil {
			return err
		}
		cfg.SimulateCPU = val
	}
	if fs.Changed("history-db") {
		val, err := fs.GetString("history-db")
		if err != nil {
			return err
		}
		cfg.HistoryDB = strings.TrimSpace(val)
	}
	if fs.Changed("listen") {
		val, err := fs.GetString("listen")
		if err != nil {
			return err
		}
		cfg.Listen = strings.TrimSpace(val)
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = append([]string(nil), val...)
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.Log.Level = val
	}
	if fs.Changed("log-format") {
		val, err := fs.GetString("log-format")
		if err != nil {
			return err
		}
		cfg.Log.Format = val
	}
	if err := applyTracingFlags(&cfg.Tracing, fs); err != nil {
		return err
	}
	return applyDemoFlags(&cfg.Demo, fs)
}

func applyTracingFlags(t *TracingConfig, fs *pflag.FlagSet) error {
	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		t.Protocol = val
	}
	if fs.Changed("tracing-service-name") {
		val, err := fs.GetString("tracing-service-name")
		if err != nil {
			return err
		}
		t.ServiceName = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		t.SampleRate = val
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		t.Insecure = val
	}
	return nil
}

func applyDemoFlags(d *DemoConfig, fs *pflag.FlagSet) error {
	if fs.Changed("demo-rate") {
		val, err := fs.GetInt("demo-rate")
		if err != nil {
			return err
		}
		d.Rate = val
	}
	if fs.Changed("demo-concurrency") {
		val, err := fs.GetInt("demo-concurrency")
		if err != nil {
			return err
		}
		d.Concurrency = val
	}
	if fs.Changed("demo-duration") {
		val, err := fs.GetDuration("demo-duration")
		if err != nil {
			return err
		}
		d.Duration = val
	}
	if fs.Changed("demo-arrival") {
		val, err := fs.GetString("demo-arrival")
		if err != nil {
			return err
		}
		d.Arrival = ArrivalModel(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("demo-fail-ratio") {
		val, err := fs.GetFloat64("demo-fail-ratio")
		if err != nil {
			return err
		}
		d.FailRatio = val
	}
	return nil
}
