package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultMetricsFile    = "metrics.json"
	DefaultUpdateInterval = 5000 * time.Millisecond
	DefaultBufferSize     = 1000
	DefaultMaxRoutes      = 500
	DefaultBuildDir       = "build"
	DefaultProjectName    = "app"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"

	minUpdateInterval = 100 * time.Millisecond
)

type Config struct {
	MetricsFile    string        `mapstructure:"metrics_file"`
	UpdateInterval time.Duration `mapstructure:"update_interval"`
	ConsoleOutput  bool          `mapstructure:"enable_console_output"`
	ProjectName    string        `mapstructure:"project_name"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxRoutes      int           `mapstructure:"max_routes"`
	BuildDir       string        `mapstructure:"build_dir"`
	Production     bool          `mapstructure:"production"`
	SimulateCPU    bool          `mapstructure:"simulate_cpu"`
	HistoryDB      string        `mapstructure:"history_db"`
	Listen         string        `mapstructure:"listen"`
	Thresholds     []string      `mapstructure:"thresholds"`
	ConfigFile     string        `mapstructure:"-"`
	EnvFile        string        `mapstructure:"-"`
	Log            LogConfig     `mapstructure:"log"`
	Tracing        TracingConfig `mapstructure:"tracing"`
	Demo           DemoConfig    `mapstructure:"demo"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug|info|warn|error
	Format string `mapstructure:"format"` // json|console
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`     // OTLP collector host:port
	Protocol    string  `mapstructure:"protocol"`     // "grpc" (default) or "http"
	ServiceName string  `mapstructure:"service_name"` // defaults to OTEL_SERVICE_NAME, then the project name
	SampleRate  float64 `mapstructure:"sample_rate"`  // 0.0-1.0
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   bool    `mapstructure:"propagate"` // honour incoming W3C trace context
}

// Enabled reports whether spans should be exported.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether incoming trace headers are continued.
func (t TracingConfig) ShouldPropagate() bool {
	return t.Enabled() && t.Propagate
}

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

// DemoConfig drives synthetic traffic against the bundled demo host.
type DemoConfig struct {
	Rate        int           `mapstructure:"rate"`        // requests per second (0 disables traffic)
	Concurrency int           `mapstructure:"concurrency"` // worker goroutines
	Duration    time.Duration `mapstructure:"duration"`    // 0 means until shutdown
	Arrival     ArrivalModel  `mapstructure:"arrival"`
	FailRatio   float64       `mapstructure:"fail_ratio"` // share of demo calls routed to the failing endpoint
}

// Defaults returns a Config populated with every default value.
func Defaults() Config {
	return Config{
		MetricsFile:    DefaultMetricsFile,
		UpdateInterval: DefaultUpdateInterval,
		ConsoleOutput:  true,
		ProjectName:    defaultProjectName(),
		BufferSize:     DefaultBufferSize,
		MaxRoutes:      DefaultMaxRoutes,
		BuildDir:       DefaultBuildDir,
		Production:     strings.EqualFold(os.Getenv("PULSE_ENV"), "production"),
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Tracing: TracingConfig{
			Protocol:   "grpc",
			SampleRate: 1.0,
			Propagate:  true,
		},
		Demo: DemoConfig{
			Concurrency: 4,
			Arrival:     ArrivalModelUniform,
			FailRatio:   0.1,
		},
	}
}

func defaultProjectName() string {
	wd, err := os.Getwd()
	if err != nil {
		return DefaultProjectName
	}
	name := filepath.Base(wd)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return DefaultProjectName
	}
	return name
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.MetricsFile) == "" {
		issues = append(issues, "metricsFile is required")
	}
	if c.UpdateInterval < minUpdateInterval {
		issues = append(issues, fmt.Sprintf("updateInterval must be at least %s", minUpdateInterval))
	}
	if strings.TrimSpace(c.ProjectName) == "" {
		issues = append(issues, "projectName must not be empty")
	}
	if c.BufferSize < 0 {
		issues = append(issues, "bufferSize must be non-negative")
	}
	if c.MaxRoutes < 0 {
		issues = append(issues, "maxRoutes must be non-negative")
	}

	issues = append(issues, validateLogConfig(c.Log)...)
	issues = append(issues, validateTracingConfig(c.Tracing)...)
	issues = append(issues, validateDemoConfig(c.Demo)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateLogConfig(l LogConfig) []string {
	var issues []string
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log level %q is not supported (use debug, info, warn or error)", l.Level))
	}
	switch strings.ToLower(strings.TrimSpace(l.Format)) {
	case "json", "console":
	default:
		issues = append(issues, fmt.Sprintf("log format %q is not supported (use json or console)", l.Format))
	}
	return issues
}

func validateTracingConfig(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing protocol %q is not supported (use grpc or http)", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, "tracing sample_rate must be between 0.0 and 1.0")
	}
	return issues
}

func validateDemoConfig(d DemoConfig) []string {
	var issues []string
	if d.Rate < 0 {
		issues = append(issues, "demo rate must be non-negative")
	}
	if d.Concurrency < 0 {
		issues = append(issues, "demo concurrency must be non-negative")
	}
	if d.Duration < 0 {
		issues = append(issues, "demo duration must be non-negative")
	}
	if d.FailRatio < 0 || d.FailRatio > 1 {
		issues = append(issues, "demo fail_ratio must be between 0.0 and 1.0")
	}
	switch d.Arrival {
	case "", ArrivalModelUniform, ArrivalModelPoisson:
	default:
		issues = append(issues, fmt.Sprintf("demo arrival model %q is not supported (use uniform or poisson)", d.Arrival))
	}
	return issues
}
