package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	DataSource struct {
		BaseURL        string  `yaml:"base_url"`
		APIKey         string  `yaml:"api_key"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		MaxRPS         float64 `yaml:"max_requests_per_second"`
		Burst          int     `yaml:"burst"`
		RetryMax       int     `yaml:"retry_max"`
		BackoffBaseMS  int     `yaml:"backoff_base_ms"`
		BackoffMaxMS   int     `yaml:"backoff_max_ms"`
		AcquireTimeout int     `yaml:"acquire_timeout_seconds"`
	} `yaml:"data_source"`
	Cache struct {
		Backend    string            `yaml:"backend"` // "parquet" or "sqlite"
		Dir        string            `yaml:"dir"`
		KeepBars   map[string]int    `yaml:"keep_bars"`
	} `yaml:"cache"`
	Scan struct {
		UniverseFile    string   `yaml:"universe_file"`
		Symbols         []string `yaml:"symbols"`
		Timeframe       string   `yaml:"timeframe"`
		IntervalSeconds int      `yaml:"interval_seconds"`
		LookbackDays    int      `yaml:"lookback_days"`
		Concurrency     int      `yaml:"concurrency"`
		CooldownMinutes int      `yaml:"cooldown_minutes"`
		MinBars         map[string]int `yaml:"min_bars"`
		MaxGapIntervals int      `yaml:"max_gap_intervals"`
		AllowPartial    bool     `yaml:"allow_partial_candles"`
		MarketHoursOnly bool     `yaml:"market_hours_only"`
		ExtendedHours   bool     `yaml:"extended_hours"`
		PruneCron       string   `yaml:"prune_cron"`
	} `yaml:"scan"`
	State struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"state"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Email struct {
		SMTPHost string   `yaml:"smtp_host"`
		SMTPPort int      `yaml:"smtp_port"`
		Username string   `yaml:"username"`
		Password string   `yaml:"password"`
		From     string   `yaml:"from"`
		To       []string `yaml:"to"`
	} `yaml:"email"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("POLYGON_API_KEY"); v != "" {
		cfg.DataSource.APIKey = v
	}
	if v := os.Getenv("REST_BASE_URL"); v != "" {
		cfg.DataSource.BaseURL = v
	}
	if v := os.Getenv("MAX_REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DataSource.MaxRPS = f
		}
	}
	if v := os.Getenv("RETRY_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DataSource.RetryMax = n
		}
	}
	if v := os.Getenv("CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("UNIVERSE_FILE"); v != "" {
		cfg.Scan.UniverseFile = v
	}
	if v := os.Getenv("SCAN_TIMEFRAME"); v != "" {
		cfg.Scan.Timeframe = v
	}
	if v := os.Getenv("SCAN_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scan.IntervalSeconds = n
		}
	}
	if v := os.Getenv("MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scan.Concurrency = n
		}
	}
	if v := os.Getenv("COOLDOWN_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scan.CooldownMinutes = n
		}
	}
	if v := os.Getenv("STATE_SQLITE_PATH"); v != "" {
		cfg.State.SQLitePath = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.DataSource.BaseURL == "" {
		cfg.DataSource.BaseURL = "https://api.polygon.io"
	}
	if cfg.DataSource.TimeoutSeconds == 0 {
		cfg.DataSource.TimeoutSeconds = 30
	}
	if cfg.DataSource.MaxRPS == 0 {
		cfg.DataSource.MaxRPS = 10
	}
	if cfg.DataSource.Burst == 0 {
		cfg.DataSource.Burst = int(cfg.DataSource.MaxRPS * 2)
	}
	if cfg.DataSource.RetryMax == 0 {
		cfg.DataSource.RetryMax = 5
	}
	if cfg.DataSource.BackoffBaseMS == 0 {
		cfg.DataSource.BackoffBaseMS = 500
	}
	if cfg.DataSource.BackoffMaxMS == 0 {
		cfg.DataSource.BackoffMaxMS = 30000
	}
	if cfg.DataSource.AcquireTimeout == 0 {
		cfg.DataSource.AcquireTimeout = 30
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "parquet"
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = "cache"
	}
	if cfg.Cache.KeepBars == nil {
		cfg.Cache.KeepBars = map[string]int{
			"1m": 1000, "5m": 800, "15m": 600, "30m": 500,
			"1h": 500, "4h": 400, "1d": 365,
		}
	}
	if cfg.Scan.Timeframe == "" {
		cfg.Scan.Timeframe = "1h"
	}
	if cfg.Scan.IntervalSeconds == 0 {
		cfg.Scan.IntervalSeconds = 300
	}
	if cfg.Scan.LookbackDays == 0 {
		cfg.Scan.LookbackDays = 60
	}
	if cfg.Scan.Concurrency == 0 {
		cfg.Scan.Concurrency = 16
	}
	if cfg.Scan.CooldownMinutes == 0 {
		cfg.Scan.CooldownMinutes = 60
	}
	if cfg.Scan.MinBars == nil {
		cfg.Scan.MinBars = map[string]int{
			"1m": 300, "5m": 250, "15m": 220, "30m": 220,
			"1h": 350, "4h": 250, "1d": 200,
		}
	}
	if cfg.Scan.MaxGapIntervals == 0 {
		cfg.Scan.MaxGapIntervals = 4
	}
	if cfg.Scan.PruneCron == "" {
		cfg.Scan.PruneCron = "0 0 2 * * *"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/state.db"
	}
}

// MinBarsFor returns the minimum bar requirement for a timeframe.
func (c *Config) MinBarsFor(tf string) int {
	if n, ok := c.Scan.MinBars[tf]; ok {
		return n
	}
	return 220
}

// KeepBarsFor returns the retention budget for a timeframe.
func (c *Config) KeepBarsFor(tf string) int {
	if n, ok := c.Cache.KeepBars[tf]; ok {
		return n
	}
	return 500
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.DataSource.APIKey == "" {
		return fmt.Errorf("data_source.api_key is required")
	}
	if c.Scan.UniverseFile == "" && len(c.Scan.Symbols) == 0 {
		return fmt.Errorf("scan.universe_file or scan.symbols is required")
	}
	if c.DataSource.MaxRPS <= 0 {
		return fmt.Errorf("data_source.max_requests_per_second must be positive")
	}
	if c.Scan.Concurrency < 1 {
		return fmt.Errorf("scan.concurrency must be at least 1")
	}
	switch c.Cache.Backend {
	case "parquet", "sqlite":
	default:
		return fmt.Errorf("cache.backend must be \"parquet\" or \"sqlite\", got %q", c.Cache.Backend)
	}
	return nil
}
