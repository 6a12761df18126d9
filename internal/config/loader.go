package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files, the environment and
// command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

const defaultEnvFile = ".env"

// envBindings maps viper keys to the environment variables that override them.
var envBindings = map[string]string{
	"metricsfile":         "PULSE_METRICS_FILE",
	"updateinterval":      "PULSE_UPDATE_INTERVAL",
	"enableconsoleoutput": "PULSE_CONSOLE",
	"projectname":         "PULSE_PROJECT_NAME",
	"buffersize":          "PULSE_BUFFER_SIZE",
	"maxroutes":           "PULSE_MAX_ROUTES",
	"builddir":            "PULSE_BUILD_DIR",
	"production":          "PULSE_PRODUCTION",
	"simulatecpu":         "PULSE_SIMULATE_CPU",
	"historydb":           "PULSE_HISTORY_DB",
	"listen":              "PULSE_LISTEN",
	"thresholds":          "PULSE_THRESHOLDS",
	"log.level":           "PULSE_LOG_LEVEL",
	"log.format":          "PULSE_LOG_FORMAT",
	"tracing.endpoint":    "PULSE_TRACING_ENDPOINT",
	"tracing.protocol":    "PULSE_TRACING_PROTOCOL",
	"tracing.servicename": "PULSE_TRACING_SERVICE_NAME",
	"tracing.samplerate":  "PULSE_TRACING_SAMPLE_RATE",
	"tracing.insecure":    "PULSE_TRACING_INSECURE",
	"tracing.propagate":   "PULSE_TRACING_PROPAGATE",
	"demo.rate":           "PULSE_DEMO_RATE",
	"demo.concurrency":    "PULSE_DEMO_CONCURRENCY",
	"demo.duration":       "PULSE_DEMO_DURATION",
	"demo.arrival":        "PULSE_DEMO_ARRIVAL",
	"demo.failratio":      "PULSE_DEMO_FAIL_RATIO",
}

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments, the optional env file, the optional
// config file and PULSE_* variables to produce a Config. Flags win over the
// environment, which wins over the file, which wins over defaults.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand("pulse")
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	envFile, _ := flagSet.GetString("env-file")
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	configPath, _ := flagSet.GetString("config")
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}
	for key, env := range envBindings {
		if err := cfgViper.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	cfg := Defaults()
	cfg.ConfigFile = configPath
	cfg.EnvFile = envFile

	if err := applyConfigSettings(&cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(&cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.MetricsFile = strings.TrimSpace(cfg.MetricsFile)
	cfg.ProjectName = strings.TrimSpace(cfg.ProjectName)
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(cfg.Tracing.Protocol))
	if cfg.Tracing.ServiceName == "" && os.Getenv("OTEL_SERVICE_NAME") == "" {
		cfg.Tracing.ServiceName = cfg.ProjectName
	}

	return &cfg, nil
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set. An empty path loads .env when present.
func loadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(defaultEnvFile); err != nil {
			return nil
		}
		path = defaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// applyConfigSettings applies settings from a config file and bound
// environment variables to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "metricsfile", "metrics_file", "metrics-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("metricsFile: %w", err)
		}
		if val != "" {
			cfg.MetricsFile = val
		}
	}

	if raw, ok := lookupSetting(settings, "updateinterval", "update_interval", "update-interval"); ok {
		dur, err := asMillis(raw)
		if err != nil {
			return fmt.Errorf("updateInterval: %w", err)
		}
		if dur != 0 {
			cfg.UpdateInterval = dur
		}
	}

	if raw, ok := lookupSetting(settings, "enableconsoleoutput", "enable_console_output", "console"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("enableConsoleOutput: %w", err)
		}
		cfg.ConsoleOutput = val
	}

	if raw, ok := lookupSetting(settings, "projectname", "project_name", "project-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("projectName: %w", err)
		}
		if val = strings.TrimSpace(val); val != "" {
			cfg.ProjectName = val
		}
	}

	if raw, ok := lookupSetting(settings, "buffersize", "buffer_size", "buffer-size"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("bufferSize: %w", err)
		}
		cfg.BufferSize = val
	}

	if raw, ok := lookupSetting(settings, "maxroutes", "max_routes", "max-routes"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("maxRoutes: %w", err)
		}
		cfg.MaxRoutes = val
	}

	if raw, ok := lookupSetting(settings, "builddir", "build_dir", "build-dir"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("buildDir: %w", err)
		}
		cfg.BuildDir = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "production"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("production: %w", err)
		}
		cfg.Production = val
	}

	if raw, ok := lookupSetting(settings, "simulatecpu", "simulate_cpu", "simulate-cpu"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("simulateCpu: %w", err)
		}
		cfg.SimulateCPU = val
	}

	if raw, ok := lookupSetting(settings, "historydb", "history_db", "history-db"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("historyDb: %w", err)
		}
		cfg.HistoryDB = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "listen"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		cfg.Listen = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}

	if raw, ok := lookupSetting(settings, "log", "logging"); ok {
		if err := applyLogSettings(&cfg.Log, raw); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := applyTracingSettings(&cfg.Tracing, raw); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "demo"); ok {
		if err := applyDemoSettings(&cfg.Demo, raw); err != nil {
			return fmt.Errorf("demo: %w", err)
		}
	}

	return nil
}

func applyLogSettings(l *LogConfig, value interface{}) error {
	if value == nil {
		return nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("level: %w", err)
		}
		if val != "" {
			l.Level = val
		}
	}
	if raw, ok := lookupSetting(settings, "format"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("format: %w", err)
		}
		if val != "" {
			l.Format = val
		}
	}
	return nil
}

func applyTracingSettings(t *TracingConfig, value interface{}) error {
	if value == nil {
		return nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		if val != "" {
			t.Protocol = val
		}
	}
	if raw, ok := lookupSetting(settings, "servicename", "service_name", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		t.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "samplerate", "sample_rate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		t.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		t.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		t.Propagate = val
	}
	return nil
}

func applyDemoSettings(d *DemoConfig, value interface{}) error {
	if value == nil {
		return nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "rate"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("rate: %w", err)
		}
		d.Rate = val
	}
	if raw, ok := lookupSetting(settings, "concurrency"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("concurrency: %w", err)
		}
		d.Concurrency = val
	}
	if raw, ok := lookupSetting(settings, "duration"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		d.Duration = dur
	}
	if raw, ok := lookupSetting(settings, "arrival"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("arrival: %w", err)
		}
		if model := strings.ToLower(strings.TrimSpace(val)); model != "" {
			d.Arrival = ArrivalModel(model)
		}
	}
	if raw, ok := lookupSetting(settings, "failratio", "fail_ratio", "fail-ratio"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("fail_ratio: %w", err)
		}
		d.FailRatio = val
	}
	return nil
}
