package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "candle-collector", cfg.AppName)
	assert.Equal(t, "duckdb", cfg.Storage.Type)
	assert.Equal(t, "./data/candles.db", cfg.Storage.Path)
	assert.True(t, cfg.Ingest.EnableTopCoinLoop)
	assert.Equal(t, []string{"15m", "1h", "1d", "1M"}, cfg.Ingest.CoarseTimeframes)
	assert.Equal(t, 3, cfg.Ingest.ShortPageThreshold)
	assert.Equal(t, 2*time.Hour, cfg.Ingest.FetchDelayDuration())
	assert.Equal(t, 100*time.Millisecond, cfg.Ingest.InterRequestDelayDuration())
	assert.Equal(t, time.Hour, cfg.Stats.IntervalDuration())
	assert.Equal(t, 5, cfg.Stats.Concurrency)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)

	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"storage": {"type": "memory", "path": ""},
		"ingest": {
			"enable_top_coin_loop": false,
			"enable_coarse_loops": true,
			"coarse_exchanges": ["binance", "okx"],
			"coarse_timeframes": ["1d"],
			"fetch_delay": "1h",
			"inter_request_delay": "50ms",
			"short_page_threshold": 2,
			"top_coin_interval": "30s",
			"min_turnover": 100000
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.False(t, cfg.Ingest.EnableTopCoinLoop)
	assert.Equal(t, []string{"binance", "okx"}, cfg.Ingest.CoarseExchanges)
	assert.Equal(t, time.Hour, cfg.Ingest.FetchDelayDuration())
	assert.Equal(t, 2, cfg.Ingest.ShortPageThreshold)

	// Untouched sections keep defaults.
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "memory")
	t.Setenv("COARSE_EXCHANGES", "binance, htx")
	t.Setenv("FETCH_DELAY", "30m")
	t.Setenv("SHORT_PAGE_THRESHOLD", "5")
	t.Setenv("STATS_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, []string{"binance", "htx"}, cfg.Ingest.CoarseExchanges)
	assert.Equal(t, 30*time.Minute, cfg.Ingest.FetchDelayDuration())
	assert.Equal(t, 5, cfg.Ingest.ShortPageThreshold)
	assert.False(t, cfg.Stats.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		want   string
	}{
		{"unknown storage", func(c *AppConfig) { c.Storage.Type = "postgres" }, "storage.type"},
		{"missing duckdb path", func(c *AppConfig) { c.Storage.Path = "" }, "storage.path"},
		{"bad duration", func(c *AppConfig) { c.Ingest.FetchDelay = "soon" }, "fetch_delay"},
		{"zero threshold", func(c *AppConfig) { c.Ingest.ShortPageThreshold = 0 }, "short_page_threshold"},
		{"bad log level", func(c *AppConfig) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad metrics port", func(c *AppConfig) { c.Metrics.Port = 0 }, "metrics.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"), nil)
	require.NoError(t, err)
	assert.Equal(t, "duckdb", cfg.Storage.Type)
}
