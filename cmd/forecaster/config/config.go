// Package config provides configuration parsing and management for the forecaster.
//
// It handles command-line flags, environment variables and an optional YAML
// file, with flags taking precedence over environment variables. The Config
// struct contains all runtime configuration for the forecaster including:
//   - HTTP server settings (listen address, TLS, basic auth, rate limit)
//   - Pipeline settings (default line and horizon, feature lags and windows, directories)
//   - History source (CSV directory or Postgres)
//   - Storage backend (memory or redis)
//   - Logging and tracing configuration
//
// The YAML file carries a "pipeline" and an "auth" section. Values present in
// the file override the flag and environment values of those two sections,
// and the file is watched for changes; see Watch.
//
// Supported configuration sources (in order of precedence):
//  1. YAML file (pipeline and auth sections only)
//  2. Command-line flags
//  3. Environment variables
//  4. Default values
//
// Example usage:
//
//	cfg, err := config.ParseFlags()
//	live := config.NewLive(cfg.Pipeline, cfg.Auth)
//	go config.Watch(ctx, cfg.ConfigFile, logger, func(f *config.File) { live.Update(cfg.Merge(f)) })
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HatiCode/linecast/pkg/features"
	"github.com/HatiCode/linecast/pkg/forecast"
	"github.com/HatiCode/linecast/pkg/storage"
	"github.com/HatiCode/linecast/pkg/tls"
)

// Config holds all forecaster configuration.
type Config struct {
	Listen     string
	LogFormat  string
	LogLevel   string
	ConfigFile string

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ResultTTL     time.Duration
	TLS           tls.Config

	History        string
	PostgresDSN    string
	PostgresTable  string
	ArtifactCache  int
	RemoteTimeout  time.Duration
	RemoteTLS      tls.Config
	RunTimeout     time.Duration
	RateLimit      float64
	RateBurst      int
	OTLPEndpoint   string
	OTLPInsecure   bool
	TraceSampling  float64
	ServiceVersion string

	Pipeline Pipeline
	Auth     Auth
}

// Pipeline holds the forecasting settings. They can be changed at runtime
// through the YAML file; a change applies to runs started afterwards.
type Pipeline struct {
	Line      string        `yaml:"line"`
	Hours     int           `yaml:"horizon_hours"`
	MaxHours  int           `yaml:"max_hours"`
	Target    string        `yaml:"target"`
	Step      time.Duration `yaml:"step"`
	Lags      []int         `yaml:"lags"`
	Windows   []int         `yaml:"windows"`
	ModelsDir string        `yaml:"models_dir"`
	DataDir   string        `yaml:"data_dir"`
	OutputDir string        `yaml:"output_dir"`
	MaxRows   int           `yaml:"-"`
	Schedule  []string      `yaml:"schedule"`
	Timezone  string        `yaml:"timezone"`
}

// Auth holds the HTTP basic auth credentials. An empty user disables auth.
type Auth struct {
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

// Forecast returns the run configuration for line and hours.
func (p Pipeline) Forecast(line string, hours int) forecast.Config {
	return forecast.Config{
		Line:    line,
		Hours:   hours,
		Lags:    slices.Clone(p.Lags),
		Windows: slices.Clone(p.Windows),
		Step:    p.Step,
		Target:  p.Target,
	}
}

// Location returns the configured time zone, UTC when unset.
func (p Pipeline) Location() (*time.Location, error) {
	if p.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(p.Timezone)
}

// Clocks parses the schedule.
func (p Pipeline) Clocks() ([]Clock, error) {
	clocks := make([]Clock, 0, len(p.Schedule))
	for _, s := range p.Schedule {
		c, err := ParseClock(s)
		if err != nil {
			return nil, err
		}
		clocks = append(clocks, c)
	}
	return clocks, nil
}

// Validate checks the pipeline settings.
func (p Pipeline) Validate() error {
	if err := storage.ValidateLine(p.Line); err != nil {
		return fmt.Errorf("pipeline.line: %w", err)
	}
	if p.Hours <= 0 {
		return fmt.Errorf("pipeline.horizon_hours must be > 0, got %d", p.Hours)
	}
	if p.MaxHours < p.Hours {
		return fmt.Errorf("pipeline.max_hours (%d) < horizon_hours (%d)", p.MaxHours, p.Hours)
	}
	if err := p.Forecast(p.Line, p.Hours).Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if p.ModelsDir == "" {
		return errors.New("pipeline.models_dir cannot be empty")
	}
	if p.OutputDir == "" {
		return errors.New("pipeline.output_dir cannot be empty")
	}
	if p.MaxRows < 0 {
		return fmt.Errorf("pipeline.max_rows cannot be negative, got %d", p.MaxRows)
	}
	if _, err := p.Clocks(); err != nil {
		return fmt.Errorf("pipeline.schedule: %w", err)
	}
	if _, err := p.Location(); err != nil {
		return fmt.Errorf("pipeline.timezone: %w", err)
	}
	return nil
}

func (p Pipeline) clone() Pipeline {
	p.Lags = slices.Clone(p.Lags)
	p.Windows = slices.Clone(p.Windows)
	p.Schedule = slices.Clone(p.Schedule)
	return p
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Clock{}, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return Clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock{Hour: hour, Minute: minute}, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// ParseFlags parses command-line flags and environment variables into a Config,
// merges the YAML file when one is configured and validates the result.
// Environment variables are used as fallbacks when flags are not provided.
func ParseFlags() (*Config, error) {
	cfg := &Config{}
	fc := features.DefaultConfig()

	var lags, windows, schedule string

	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8080"), "HTTP listen address")
	flag.StringVar(&cfg.ConfigFile, "config-file", getEnv("CONFIG_FILE", ""), "YAML file with pipeline and auth sections, reloaded on change")

	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Serving store: memory or redis")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	flag.DurationVar(&cfg.ResultTTL, "result-ttl", getEnvDuration("RESULT_TTL", 24*time.Hour), "How long the serving store keeps a result")

	flag.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable mutual TLS for the HTTP server")
	flag.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	flag.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	flag.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file for client verification")

	flag.StringVar(&cfg.History, "history", getEnv("HISTORY", "csv"), "History source: csv or postgres")
	flag.StringVar(&cfg.PostgresDSN, "postgres-dsn", getEnv("POSTGRES_DSN", ""), "Postgres connection string (required when history=postgres)")
	flag.StringVar(&cfg.PostgresTable, "postgres-table", getEnv("POSTGRES_TABLE", "line_history"), "Postgres history table")

	flag.IntVar(&cfg.ArtifactCache, "artifact-cache", getEnvInt("ARTIFACT_CACHE", 16), "Number of artifact sets kept in memory")
	flag.DurationVar(&cfg.RemoteTimeout, "remote-timeout", getEnvDuration("REMOTE_TIMEOUT", 5*time.Second), "Timeout of one remote model call")
	flag.BoolVar(&cfg.RemoteTLS.Enabled, "remote-tls-enabled", getEnvBool("REMOTE_TLS_ENABLED", false), "Use TLS for remote model endpoints")
	flag.StringVar(&cfg.RemoteTLS.CertFile, "remote-tls-cert-file", getEnv("REMOTE_TLS_CERT_FILE", ""), "Client certificate for remote model endpoints")
	flag.StringVar(&cfg.RemoteTLS.KeyFile, "remote-tls-key-file", getEnv("REMOTE_TLS_KEY_FILE", ""), "Client key for remote model endpoints")
	flag.StringVar(&cfg.RemoteTLS.CAFile, "remote-tls-ca-file", getEnv("REMOTE_TLS_CA_FILE", ""), "CA certificate for remote model endpoints")

	flag.DurationVar(&cfg.RunTimeout, "run-timeout", getEnvDuration("RUN_TIMEOUT", 2*time.Minute), "Maximum duration of one forecast run")
	flag.Float64Var(&cfg.RateLimit, "rate-limit", getEnvFloat("RATE_LIMIT", 1), "Forecast runs per second accepted over HTTP (0 disables)")
	flag.IntVar(&cfg.RateBurst, "rate-burst", getEnvInt("RATE_BURST", 3), "Burst size of the HTTP rate limit")

	flag.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""), "OTLP gRPC collector endpoint (empty disables tracing)")
	flag.BoolVar(&cfg.OTLPInsecure, "otlp-insecure", getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true), "Connect to the collector without TLS")
	flag.Float64Var(&cfg.TraceSampling, "trace-sampling", getEnvFloat("TRACE_SAMPLING", 1.0), "Trace sampling ratio")
	flag.StringVar(&cfg.ServiceVersion, "service-version", getEnv("SERVICE_VERSION", "dev"), "Service version reported in traces")

	flag.StringVar(&cfg.Pipeline.Line, "line", getEnv("LINE", ""), "Default production line (required)")
	flag.IntVar(&cfg.Pipeline.Hours, "hours", getEnvInt("HORIZON_HOURS", 12), "Default forecast horizon in hours")
	flag.IntVar(&cfg.Pipeline.MaxHours, "max-hours", getEnvInt("MAX_HOURS", 48), "Largest horizon accepted over HTTP")
	flag.StringVar(&cfg.Pipeline.Target, "target", getEnv("TARGET", fc.Target), "Target column")
	flag.DurationVar(&cfg.Pipeline.Step, "step", getEnvDuration("STEP", fc.Step), "Forecast step")
	flag.StringVar(&lags, "lags", getEnv("LAGS", joinInts(fc.Lags)), "Comma-separated lag offsets in steps")
	flag.StringVar(&windows, "windows", getEnv("WINDOWS", joinInts(fc.Windows)), "Comma-separated rolling-mean windows in steps")
	flag.StringVar(&cfg.Pipeline.ModelsDir, "models-dir", getEnv("MODELS_DIR", "models"), "Directory holding trained artifacts")
	flag.StringVar(&cfg.Pipeline.DataDir, "data-dir", getEnv("DATA_DIR", "data/processed/final"), "Directory holding prepared history tables")
	flag.StringVar(&cfg.Pipeline.OutputDir, "output-dir", getEnv("OUTPUT_DIR", "data/predictions"), "Directory receiving forecast CSV files")
	flag.IntVar(&cfg.Pipeline.MaxRows, "max-rows", getEnvInt("MAX_ROWS", 5000), "History rows loaded per run (0 loads all)")
	flag.StringVar(&schedule, "schedule", getEnv("SCHEDULE", "07:30,19:30"), "Comma-separated daily run times (HH:MM), empty disables")
	flag.StringVar(&cfg.Pipeline.Timezone, "timezone", getEnv("TIMEZONE", ""), "Time zone of the schedule (default UTC)")

	flag.StringVar(&cfg.Auth.User, "auth-user", getEnv("AUTH_USER", ""), "Basic auth user (empty disables auth)")
	flag.StringVar(&cfg.Auth.Pass, "auth-pass", getEnv("AUTH_PASS", ""), "Basic auth password")

	flag.Parse()

	var err error
	if cfg.Pipeline.Lags, err = parseInts(lags); err != nil {
		return nil, fmt.Errorf("lags: %w", err)
	}
	if cfg.Pipeline.Windows, err = parseInts(windows); err != nil {
		return nil, fmt.Errorf("windows: %w", err)
	}
	cfg.Pipeline.Schedule = splitList(schedule)

	if cfg.ConfigFile != "" {
		file, err := Load(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg.Pipeline, cfg.Auth = cfg.Merge(file)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if c.Storage != "memory" && c.Storage != "redis" {
		return fmt.Errorf("invalid storage %q (must be memory or redis)", c.Storage)
	}
	if c.History != "csv" && c.History != "postgres" {
		return fmt.Errorf("invalid history %q (must be csv or postgres)", c.History)
	}
	if c.History == "csv" && c.Pipeline.DataDir == "" {
		return errors.New("data-dir is required when history=csv")
	}
	if c.History == "postgres" && c.PostgresDSN == "" {
		return errors.New("postgres-dsn is required when history=postgres")
	}
	if c.RunTimeout <= 0 {
		return fmt.Errorf("run-timeout must be > 0, got %v", c.RunTimeout)
	}
	if c.ArtifactCache <= 0 {
		return fmt.Errorf("artifact-cache must be > 0, got %d", c.ArtifactCache)
	}
	if c.Auth.User != "" && c.Auth.Pass == "" {
		return errors.New("auth password is required when a user is set")
	}
	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := c.RemoteTLS.Validate(); err != nil {
		return fmt.Errorf("remote tls: %w", err)
	}
	return c.Pipeline.Validate()
}

// Merge overlays the values present in f onto the pipeline and auth settings
// parsed from flags and returns the result. c is not modified. Zero values in
// the file mean "not set", except max_rows where an explicit 0 loads all rows.
func (c *Config) Merge(f *File) (Pipeline, Auth) {
	p := c.Pipeline.clone()
	a := c.Auth
	if f == nil {
		return p, a
	}

	fp := f.Pipeline
	if fp.Line != "" {
		p.Line = fp.Line
	}
	if fp.Hours != 0 {
		p.Hours = fp.Hours
	}
	if fp.MaxHours != 0 {
		p.MaxHours = fp.MaxHours
	}
	if fp.Target != "" {
		p.Target = fp.Target
	}
	if fp.Step != 0 {
		p.Step = fp.Step
	}
	if fp.Lags != nil {
		p.Lags = slices.Clone(fp.Lags)
	}
	if fp.Windows != nil {
		p.Windows = slices.Clone(fp.Windows)
	}
	if fp.ModelsDir != "" {
		p.ModelsDir = fp.ModelsDir
	}
	if fp.DataDir != "" {
		p.DataDir = fp.DataDir
	}
	if fp.OutputDir != "" {
		p.OutputDir = fp.OutputDir
	}
	if fp.MaxRows != nil {
		p.MaxRows = *fp.MaxRows
	}
	if fp.Schedule != nil {
		p.Schedule = slices.Clone(fp.Schedule)
	}
	if fp.Timezone != "" {
		p.Timezone = fp.Timezone
	}

	if f.Auth.User != "" {
		a = f.Auth
	}
	return p, a
}

// Live holds the settings that may change while the service runs. Readers
// get copies, so a run keeps the snapshot it started with.
type Live struct {
	mu       sync.RWMutex
	pipeline Pipeline
	auth     Auth
}

// NewLive creates a Live holding p and a.
func NewLive(p Pipeline, a Auth) *Live {
	return &Live{pipeline: p.clone(), auth: a}
}

// Pipeline returns a copy of the current pipeline settings.
func (l *Live) Pipeline() Pipeline {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pipeline.clone()
}

// Auth returns the current credentials.
func (l *Live) Auth() Auth {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.auth
}

// Update replaces the settings after validating p.
func (l *Live) Update(p Pipeline, a Auth) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if a.User != "" && a.Pass == "" {
		return errors.New("auth password is required when a user is set")
	}
	l.mu.Lock()
	l.pipeline = p.clone()
	l.auth = a
	l.mu.Unlock()
	return nil
}

func parseInts(s string) ([]int, error) {
	parts := splitList(s)
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
