package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/pulse/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "")
	loader := config.NewLoader()

	cfg, err := loader.Load([]string{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MetricsFile != config.DefaultMetricsFile {
		t.Errorf("MetricsFile = %q, want %q", cfg.MetricsFile, config.DefaultMetricsFile)
	}
	if cfg.UpdateInterval != 5*time.Second {
		t.Errorf("UpdateInterval = %s, want 5s", cfg.UpdateInterval)
	}
	if !cfg.ConsoleOutput {
		t.Error("ConsoleOutput = false, want true")
	}
	if cfg.BufferSize != 1000 || cfg.MaxRoutes != 500 {
		t.Errorf("BufferSize/MaxRoutes = %d/%d, want 1000/500", cfg.BufferSize, cfg.MaxRoutes)
	}
	wd, _ := os.Getwd()
	if cfg.ProjectName != filepath.Base(wd) {
		t.Errorf("ProjectName = %q, want %q", cfg.ProjectName, filepath.Base(wd))
	}
	if cfg.Tracing.ServiceName != cfg.ProjectName {
		t.Errorf("Tracing.ServiceName = %q, want project name", cfg.Tracing.ServiceName)
	}
	if cfg.HistoryDB != "" || cfg.Listen != "" {
		t.Errorf("optional outputs should be disabled by default: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadHelp(t *testing.T) {
	_, err := config.NewLoader().Load([]string{"--help"})
	if !errors.Is(err, config.ErrHelpRequested) {
		t.Fatalf("Load(--help) error = %v, want ErrHelpRequested", err)
	}
}

func TestLoadConfigFileJSON(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "pulse.json")
	if err := os.WriteFile(path, []byte(`{
		"metricsFile": "out/metrics.json",
		"updateInterval": 2500,
		"enableConsoleOutput": false,
		"projectName": "shop",
		"bufferSize": 200,
		"maxRoutes": 50,
		"historyDb": "history.db",
		"thresholds": ["errors:rate < 5", "response_time:p99 < 300"],
		"log": {"level": "debug", "format": "console"}
	}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.NewLoader().Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MetricsFile != "out/metrics.json" {
		t.Errorf("MetricsFile = %q", cfg.MetricsFile)
	}
	if cfg.UpdateInterval != 2500*time.Millisecond {
		t.Errorf("UpdateInterval = %s, want 2.5s", cfg.UpdateInterval)
	}
	if cfg.ConsoleOutput {
		t.Error("ConsoleOutput = true, want false")
	}
	if cfg.ProjectName != "shop" || cfg.Tracing.ServiceName != "shop" {
		t.Errorf("ProjectName/ServiceName = %q/%q", cfg.ProjectName, cfg.Tracing.ServiceName)
	}
	if cfg.BufferSize != 200 || cfg.MaxRoutes != 50 {
		t.Errorf("BufferSize/MaxRoutes = %d/%d", cfg.BufferSize, cfg.MaxRoutes)
	}
	if cfg.HistoryDB != "history.db" {
		t.Errorf("HistoryDB = %q", cfg.HistoryDB)
	}
	if len(cfg.Thresholds) != 2 || cfg.Thresholds[1] != "response_time:p99 < 300" {
		t.Errorf("Thresholds = %q", cfg.Thresholds)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q, want %q", cfg.ConfigFile, path)
	}
}

func TestLoadConfigFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pulse.yaml")
	if err := os.WriteFile(path, []byte(`
metrics_file: yaml-metrics.json
update_interval: 1s
tracing:
  endpoint: localhost:4317
  protocol: HTTP
  insecure: true
demo:
  rate: 25
  arrival: poisson
  duration: 30s
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.NewLoader().Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MetricsFile != "yaml-metrics.json" {
		t.Errorf("MetricsFile = %q", cfg.MetricsFile)
	}
	if cfg.UpdateInterval != time.Second {
		t.Errorf("UpdateInterval = %s, want 1s", cfg.UpdateInterval)
	}
	if cfg.Tracing.Endpoint != "localhost:4317" || cfg.Tracing.Protocol != "http" || !cfg.Tracing.Insecure {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
	if cfg.Demo.Rate != 25 || cfg.Demo.Arrival != config.ArrivalModelPoisson || cfg.Demo.Duration != 30*time.Second {
		t.Errorf("Demo = %+v", cfg.Demo)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pulse.json")
	if err := os.WriteFile(path, []byte(`{"metricsFile": "file.json", "bufferSize": 10, "maxRoutes": 20, "listen": ":7000"}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PULSE_BUFFER_SIZE", "30")
	t.Setenv("PULSE_MAX_ROUTES", "40")
	t.Setenv("PULSE_LOG_LEVEL", "warn")

	cfg, err := config.NewLoader().Load([]string{"--config", path, "--max-routes", "60"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MetricsFile != "file.json" {
		t.Errorf("file value lost: MetricsFile = %q", cfg.MetricsFile)
	}
	if cfg.BufferSize != 30 {
		t.Errorf("env should beat file: BufferSize = %d, want 30", cfg.BufferSize)
	}
	if cfg.MaxRoutes != 60 {
		t.Errorf("flag should beat env: MaxRoutes = %d, want 60", cfg.MaxRoutes)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("nested env binding ignored: Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Listen != ":7000" {
		t.Errorf("Listen = %q, want :7000", cfg.Listen)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "pulse.env")
	if err := os.WriteFile(envPath, []byte("PULSE_PROJECT_NAME=from-dotenv\nPULSE_UPDATE_INTERVAL=750\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	// godotenv.Load sets variables on the process; clear them after the test.
	t.Setenv("PULSE_PROJECT_NAME", "")
	os.Unsetenv("PULSE_PROJECT_NAME")
	t.Setenv("PULSE_UPDATE_INTERVAL", "")
	os.Unsetenv("PULSE_UPDATE_INTERVAL")

	cfg, err := config.NewLoader().Load([]string{"--env-file", envPath})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ProjectName != "from-dotenv" {
		t.Errorf("ProjectName = %q, want from-dotenv", cfg.ProjectName)
	}
	if cfg.UpdateInterval != 750*time.Millisecond {
		t.Errorf("UpdateInterval = %s, want 750ms", cfg.UpdateInterval)
	}
	if cfg.EnvFile != envPath {
		t.Errorf("EnvFile = %q", cfg.EnvFile)
	}
}

func TestLoadMissingFiles(t *testing.T) {
	if _, err := config.NewLoader().Load([]string{"--config", filepath.Join(t.TempDir(), "nope.json")}); err == nil {
		t.Error("expected error for missing config file")
	}
	if _, err := config.NewLoader().Load([]string{"--env-file", filepath.Join(t.TempDir(), "nope.env")}); err == nil {
		t.Error("expected error for missing env file")
	}
}

func TestLoadFlags(t *testing.T) {
	args := []string{
		"--metrics-file", "m.json",
		"--update-interval", "250ms",
		"--console=false",
		"--project-name", "api",
		"--threshold", "errors:rate < 1",
		"--threshold", "requests:count > 0",
		"--tracing-endpoint", "otel:4318",
		"--tracing-sample-rate", "0.25",
		"--demo-rate", "50",
		"--demo-fail-ratio", "0",
	}
	cfg, err := config.NewLoader().Load(args)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MetricsFile != "m.json" || cfg.UpdateInterval != 250*time.Millisecond || cfg.ConsoleOutput {
		t.Errorf("core flags not applied: %+v", cfg)
	}
	if cfg.ProjectName != "api" {
		t.Errorf("ProjectName = %q", cfg.ProjectName)
	}
	if len(cfg.Thresholds) != 2 {
		t.Errorf("Thresholds = %q", cfg.Thresholds)
	}
	if !cfg.Tracing.Enabled() || cfg.Tracing.SampleRate != 0.25 {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
	if cfg.Demo.Rate != 50 || cfg.Demo.FailRatio != 0 {
		t.Errorf("Demo = %+v", cfg.Demo)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"valid defaults", func(*config.Config) {}, ""},
		{"empty metrics file", func(c *config.Config) { c.MetricsFile = " " }, "metricsFile is required"},
		{"interval too short", func(c *config.Config) { c.UpdateInterval = 10 * time.Millisecond }, "updateInterval"},
		{"empty project", func(c *config.Config) { c.ProjectName = "" }, "projectName"},
		{"negative buffer", func(c *config.Config) { c.BufferSize = -1 }, "bufferSize"},
		{"negative routes", func(c *config.Config) { c.MaxRoutes = -1 }, "maxRoutes"},
		{"bad log level", func(c *config.Config) { c.Log.Level = "trace" }, "log level"},
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }, "log format"},
		{"bad tracing protocol", func(c *config.Config) { c.Tracing.Protocol = "thrift" }, "tracing protocol"},
		{"bad sample rate", func(c *config.Config) { c.Tracing.SampleRate = 1.5 }, "sample_rate"},
		{"bad arrival", func(c *config.Config) { c.Demo.Arrival = "burst" }, "arrival model"},
		{"bad fail ratio", func(c *config.Config) { c.Demo.FailRatio = -0.1 }, "fail_ratio"},
		{"negative demo rate", func(c *config.Config) { c.Demo.Rate = -3 }, "demo rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.ProjectName = "app"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
			var verr config.ValidationError
			if !errors.As(err, &verr) || len(verr.Issues()) == 0 {
				t.Errorf("expected ValidationError with issues, got %T", err)
			}
		})
	}
}

func TestValidateCollectsAllIssues(t *testing.T) {
	cfg := config.Defaults()
	cfg.MetricsFile = ""
	cfg.BufferSize = -1
	cfg.Log.Level = "loud"

	var verr config.ValidationError
	if err := cfg.Validate(); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if got := len(verr.Issues()); got != 3 {
		t.Errorf("expected 3 issues, got %d: %v", got, verr.Issues())
	}
}
