// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"go.uber.org/multierr"

	"querypulse/internal/domain"
)

// SourceConfig selects and prepares the telemetry source.
type SourceConfig struct {
	DSN         string // DuckDB database path; empty is in-memory
	Query       string // overrides the default history query
	FilePath    string // exported history files (path, glob or s3:// URL)
	FileFormat  string // parquet (default), csv or json
	MaxMemoryGB int

	// S3 fields are optional; nil when not configured.
	S3KeyID    *string
	S3Secret   *string
	S3Endpoint *string
	S3Region   *string
	S3URLStyle string
}

// HasS3Config returns true if the S3 credentials are set.
func (s *SourceConfig) HasS3Config() bool {
	return s.S3KeyID != nil && s.S3Secret != nil
}

// ScheduleConfig holds cron expressions for the serve mode. An empty
// expression disables that pass.
type ScheduleConfig struct {
	RecordPass string
	Baseline   string
	Retention  string
}

// NotifyConfig configures the webhook notifier.
type NotifyConfig struct {
	WebhookURL  string
	WebhookType string // slack, teams or http
	MinSeverity domain.Severity
	PerMinute   int
	Burst       int
}

// Enabled reports whether a webhook is configured.
func (n *NotifyConfig) Enabled() bool {
	return n.WebhookURL != ""
}

// Config holds process configuration. Detection and scoring settings live in
// Engine and may also come from the YAML file named by ConfigFile.
type Config struct {
	MetaDBPath string // path to the SQLite store
	ListenAddr string // read API listen address (default ":8080")
	LogLevel   string // debug, info, warn, error (default "info")
	LogFormat  string // text or json (default "text")
	LogFile    string // optional rotated log file; stderr when empty
	Env        string // "development" (default) or "production"
	ConfigFile string // optional YAML file with an engine: block

	CORSAllowedOrigins []string
	RateLimitRPS       float64 // per-client read API rate; 0 disables limiting
	RateLimitBurst     int

	Source    SourceConfig
	Schedules ScheduleConfig
	Notify    NotifyConfig
	Engine    EngineConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables, then the YAML
// engine block if CONFIG_FILE is set, and validates the result.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		MetaDBPath: os.Getenv("META_DB_PATH"),
		ListenAddr: os.Getenv("LISTEN_ADDR"),
		LogLevel:   os.Getenv("LOG_LEVEL"),
		LogFormat:  os.Getenv("LOG_FORMAT"),
		LogFile:    os.Getenv("LOG_FILE"),
		Env:        os.Getenv("ENV"),
		ConfigFile: os.Getenv("CONFIG_FILE"),
		Source: SourceConfig{
			DSN:        os.Getenv("SOURCE_DSN"),
			Query:      os.Getenv("SOURCE_QUERY"),
			FilePath:   os.Getenv("SOURCE_FILE_PATH"),
			FileFormat: os.Getenv("SOURCE_FILE_FORMAT"),
			S3URLStyle: os.Getenv("SOURCE_S3_URL_STYLE"),
		},
		Schedules: ScheduleConfig{
			RecordPass: envDefault("RECORD_PASS_SCHEDULE", "5 * * * *"),
			Baseline:   envDefault("BASELINE_SCHEDULE", "30 0 * * *"),
			Retention:  envDefault("RETENTION_SCHEDULE", "0 3 * * *"),
		},
		Notify: NotifyConfig{
			WebhookURL:  os.Getenv("NOTIFY_WEBHOOK_URL"),
			WebhookType: os.Getenv("NOTIFY_WEBHOOK_TYPE"),
		},
		Engine: DefaultEngine(),
	}

	var errs error

	// S3 fields are optional; only set if present.
	if v := os.Getenv("SOURCE_S3_KEY_ID"); v != "" {
		cfg.Source.S3KeyID = &v
	}
	if v := os.Getenv("SOURCE_S3_SECRET"); v != "" {
		cfg.Source.S3Secret = &v
	}
	if v := os.Getenv("SOURCE_S3_ENDPOINT"); v != "" {
		cfg.Source.S3Endpoint = &v
	}
	if v := os.Getenv("SOURCE_S3_REGION"); v != "" {
		cfg.Source.S3Region = &v
	}
	if v := os.Getenv("SOURCE_MAX_MEMORY_GB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("SOURCE_MAX_MEMORY_GB: %w", err))
		}
		cfg.Source.MaxMemoryGB = n
	}
	if v := os.Getenv("NOTIFY_MIN_SEVERITY"); v != "" {
		sev, err := domain.ParseSeverity(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("NOTIFY_MIN_SEVERITY: %w", err))
		}
		cfg.Notify.MinSeverity = sev
	}
	if v := os.Getenv("NOTIFY_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("NOTIFY_PER_MINUTE: %w", err))
		}
		cfg.Notify.PerMinute = n
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}
	if v, ok := os.LookupEnv("RATE_LIMIT_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("RATE_LIMIT_RPS: %w", err))
		}
		cfg.RateLimitRPS = f
	} else {
		cfg.RateLimitRPS = 50
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("RATE_LIMIT_BURST: %w", err))
		}
		cfg.RateLimitBurst = n
	}
	if v := os.Getenv("PARTITIONS"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.Engine.Partitions = compactNonEmpty(parts)
	}

	// Defaults
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = "querypulse.sqlite"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.Notify.WebhookType == "" {
		cfg.Notify.WebhookType = "http"
	}
	if cfg.Notify.MinSeverity == "" {
		cfg.Notify.MinSeverity = domain.SeverityHigh
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 100
	}

	if cfg.ConfigFile != "" {
		engine, err := LoadEngineFile(cfg.ConfigFile, cfg.Engine)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else {
			cfg.Engine = engine
		}
	}

	if errs != nil {
		return nil, errs
	}

	if cfg.Source.DSN == "" && cfg.Source.FilePath == "" && cfg.Source.Query == "" {
		cfg.Warnings = append(cfg.Warnings, "no telemetry source configured; set SOURCE_DSN, SOURCE_FILE_PATH or SOURCE_QUERY")
	}
	if !cfg.Notify.Enabled() {
		cfg.Warnings = append(cfg.Warnings, "NOTIFY_WEBHOOK_URL not set; alerts and run failures are only logged")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the whole configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs error
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = multierr.Append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	switch c.Notify.WebhookType {
	case "slack", "teams", "http":
	default:
		errs = multierr.Append(errs, fmt.Errorf("NOTIFY_WEBHOOK_TYPE must be slack, teams or http, got %q", c.Notify.WebhookType))
	}
	if c.Source.MaxMemoryGB < 0 {
		errs = multierr.Append(errs, fmt.Errorf("SOURCE_MAX_MEMORY_GB must not be negative"))
	}
	if (c.Source.S3KeyID == nil) != (c.Source.S3Secret == nil) {
		errs = multierr.Append(errs, fmt.Errorf("SOURCE_S3_KEY_ID and SOURCE_S3_SECRET must be set together"))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = multierr.Append(errs, fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative"))
	}
	if c.IsProduction() && len(c.CORSAllowedOrigins) == 1 && c.CORSAllowedOrigins[0] == "*" {
		errs = multierr.Append(errs, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)"))
	}
	return multierr.Append(errs, c.Engine.Validate())
}

func envDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Env vars take precedence.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes matching surrounding double or single quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
