// Package config loads the collector configuration from defaults, an
// optional JSON file, and environment variable overrides, in that priority
// order.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// AppConfig is the complete process configuration.
type AppConfig struct {
	AppName string `json:"app_name" env:"APP_NAME"`

	Storage StorageConfig `json:"storage"`
	Ingest  IngestConfig  `json:"ingest"`
	Stats   StatsConfig   `json:"stats"`
	Logging LoggingConfig `json:"logging"`
	Metrics MetricsConfig `json:"metrics"`
}

// StorageConfig selects and locates the storage backend.
type StorageConfig struct {
	Type string `json:"type" env:"STORAGE_TYPE"` // "duckdb" or "memory"
	Path string `json:"path" env:"STORAGE_PATH"` // database file, ":memory:" allowed
}

// IngestConfig tunes the ingestion loops.
type IngestConfig struct {
	EnableTopCoinLoop  bool     `json:"enable_top_coin_loop" env:"ENABLE_TOP_COIN_LOOP"`
	EnableCoarseLoops  bool     `json:"enable_coarse_loops" env:"ENABLE_COARSE_LOOPS"`
	CoarseExchanges    []string `json:"coarse_exchanges" env:"COARSE_EXCHANGES"`   // empty = all venues with adapters
	CoarseTimeframes   []string `json:"coarse_timeframes" env:"COARSE_TIMEFRAMES"` // e.g. "15m,1h,1d,1M"
	FetchDelay         string   `json:"fetch_delay" env:"FETCH_DELAY"`             // backoff window after short pages
	InterRequestDelay  string   `json:"inter_request_delay" env:"INTER_REQUEST_DELAY"`
	ShortPageThreshold int      `json:"short_page_threshold" env:"SHORT_PAGE_THRESHOLD"`
	TopCoinInterval    string   `json:"top_coin_interval" env:"TOP_COIN_INTERVAL"`
	MinTurnover        float64  `json:"min_turnover" env:"MIN_TURNOVER"` // turnover floor for the top-coin ranking
}

// StatsConfig tunes the statistics aggregator.
type StatsConfig struct {
	Enabled     bool   `json:"enabled" env:"STATS_ENABLED"`
	Interval    string `json:"interval" env:"STATS_INTERVAL"`
	Concurrency int    `json:"concurrency" env:"STATS_CONCURRENCY"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`   // debug, info, warn, error
	Format     string `json:"format" env:"LOG_FORMAT"` // json, text
	Output     string `json:"output" env:"LOG_OUTPUT"` // stdout, stderr, file
	FilePath   string `json:"file_path" env:"LOG_FILE_PATH"`
	MaxSizeMB  int    `json:"max_size_mb" env:"LOG_MAX_SIZE"`
	MaxBackups int    `json:"max_backups" env:"LOG_MAX_BACKUPS"`
	MaxAgeDays int    `json:"max_age_days" env:"LOG_MAX_AGE"`
	Compress   bool   `json:"compress" env:"LOG_COMPRESS"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" env:"METRICS_ENABLED"`
	Port    int    `json:"port" env:"METRICS_PORT"`
	Path    string `json:"path" env:"METRICS_PATH"`
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	return &AppConfig{
		AppName: "candle-collector",
		Storage: StorageConfig{
			Type: "duckdb",
			Path: "./data/candles.db",
		},
		Ingest: IngestConfig{
			EnableTopCoinLoop:  true,
			EnableCoarseLoops:  true,
			CoarseTimeframes:   []string{"15m", "1h", "1d", "1M"},
			FetchDelay:         "2h",
			InterRequestDelay:  "100ms",
			ShortPageThreshold: 3,
			TopCoinInterval:    "1m",
			MinTurnover:        500000,
		},
		Stats: StatsConfig{
			Enabled:     true,
			Interval:    "1h",
			Concurrency: 5,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Load builds the configuration: defaults, then the JSON file at path (when
// it exists), then environment overrides, then validation.
func Load(path string, logger *slog.Logger) (*AppConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := Default()

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	loadEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("configuration loaded",
		"config_path", path,
		"storage_type", cfg.Storage.Type,
		"log_level", cfg.Logging.Level)
	return cfg, nil
}

func loadFile(cfg *AppConfig, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *AppConfig) {
	setString(&cfg.AppName, "APP_NAME")

	setString(&cfg.Storage.Type, "STORAGE_TYPE")
	setString(&cfg.Storage.Path, "STORAGE_PATH")

	setBool(&cfg.Ingest.EnableTopCoinLoop, "ENABLE_TOP_COIN_LOOP")
	setBool(&cfg.Ingest.EnableCoarseLoops, "ENABLE_COARSE_LOOPS")
	setList(&cfg.Ingest.CoarseExchanges, "COARSE_EXCHANGES")
	setList(&cfg.Ingest.CoarseTimeframes, "COARSE_TIMEFRAMES")
	setString(&cfg.Ingest.FetchDelay, "FETCH_DELAY")
	setString(&cfg.Ingest.InterRequestDelay, "INTER_REQUEST_DELAY")
	setInt(&cfg.Ingest.ShortPageThreshold, "SHORT_PAGE_THRESHOLD")
	setString(&cfg.Ingest.TopCoinInterval, "TOP_COIN_INTERVAL")
	setFloat(&cfg.Ingest.MinTurnover, "MIN_TURNOVER")

	setBool(&cfg.Stats.Enabled, "STATS_ENABLED")
	setString(&cfg.Stats.Interval, "STATS_INTERVAL")
	setInt(&cfg.Stats.Concurrency, "STATS_CONCURRENCY")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
	setString(&cfg.Logging.Output, "LOG_OUTPUT")
	setString(&cfg.Logging.FilePath, "LOG_FILE_PATH")
	setInt(&cfg.Logging.MaxSizeMB, "LOG_MAX_SIZE")
	setInt(&cfg.Logging.MaxBackups, "LOG_MAX_BACKUPS")
	setInt(&cfg.Logging.MaxAgeDays, "LOG_MAX_AGE")
	setBool(&cfg.Logging.Compress, "LOG_COMPRESS")

	setBool(&cfg.Metrics.Enabled, "METRICS_ENABLED")
	setInt(&cfg.Metrics.Port, "METRICS_PORT")
	setString(&cfg.Metrics.Path, "METRICS_PATH")
}

// Validate checks the configuration for consistency.
func (c *AppConfig) Validate() error {
	var problems []string

	if c.Storage.Type != "duckdb" && c.Storage.Type != "memory" {
		problems = append(problems, "storage.type must be duckdb or memory")
	}
	if c.Storage.Type == "duckdb" && c.Storage.Path == "" {
		problems = append(problems, "storage.path is required for duckdb storage")
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"ingest.fetch_delay", c.Ingest.FetchDelay},
		{"ingest.inter_request_delay", c.Ingest.InterRequestDelay},
		{"ingest.top_coin_interval", c.Ingest.TopCoinInterval},
		{"stats.interval", c.Stats.Interval},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			problems = append(problems, fmt.Sprintf("%s is not a valid duration: %q", field.name, field.value))
		}
	}

	if c.Ingest.ShortPageThreshold <= 0 {
		problems = append(problems, "ingest.short_page_threshold must be greater than 0")
	}
	if c.Stats.Concurrency <= 0 {
		problems = append(problems, "stats.concurrency must be greater than 0")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, "logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		problems = append(problems, "logging.format must be json or text")
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		problems = append(problems, "metrics.port must be between 1 and 65535")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration invalid:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// Duration accessors. Validate has already checked the strings, so parse
// failures fall back to zero rather than erroring again.

func (c IngestConfig) FetchDelayDuration() time.Duration {
	d, _ := time.ParseDuration(c.FetchDelay)
	return d
}

func (c IngestConfig) InterRequestDelayDuration() time.Duration {
	d, _ := time.ParseDuration(c.InterRequestDelay)
	return d
}

func (c IngestConfig) TopCoinIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.TopCoinInterval)
	return d
}

func (c StatsConfig) IntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.Interval)
	return d
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}
