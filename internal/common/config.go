// Package common provides shared utilities for stockcache
package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for stockcache
type Config struct {
	Environment string          `toml:"environment"`
	Exchange    ExchangeConfig  `toml:"exchange"`
	Storage     StorageConfig   `toml:"storage"`
	Clients     ClientsConfig   `toml:"clients"`
	Policy      PolicyConfig    `toml:"policy"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ExchangeConfig describes the trading calendar of the exchange the symbols trade on.
type ExchangeConfig struct {
	Name         string   `toml:"name"`
	Timezone     string   `toml:"timezone"`
	Open         string   `toml:"open"`  // session open, "15:04" in exchange time
	Close        string   `toml:"close"` // session close, "15:04" in exchange time
	Holidays     []string `toml:"holidays"`
	HolidaysFile string   `toml:"holidays_file"` // optional YAML file with additional holidays
}

// StorageConfig holds paths for the local snapshot tier and the run ledger.
type StorageConfig struct {
	Path   string       `toml:"path"`
	RunLog RunLogConfig `toml:"runlog"`
}

// RunLogConfig configures the SQLite acquisition ledger.
type RunLogConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	EODHD     EODHDConfig     `toml:"eodhd"`
	Yahoo     YahooConfig     `toml:"yahoo"`
	Artifacts ArtifactsConfig `toml:"artifacts"`
	Ticks     TicksConfig     `toml:"ticks"`
	GitHub    GitHubConfig    `toml:"github"`
}

// EODHDConfig holds EODHD API configuration
type EODHDConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	Exchange  string `toml:"exchange"` // EODHD exchange suffix, e.g. "NSE"
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *EODHDConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

// YahooConfig holds Yahoo chart API configuration
type YahooConfig struct {
	BaseURL   string `toml:"base_url"`
	Suffix    string `toml:"suffix"` // appended to symbols, e.g. ".NS"
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *YahooConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

// ArtifactsConfig holds the location of the remote prebuilt snapshots
type ArtifactsConfig struct {
	BaseURL   string `toml:"base_url"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *ArtifactsConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 5*time.Minute)
}

// TicksConfig holds the live-tick overlay endpoint
type TicksConfig struct {
	URL     string `toml:"url"`
	Timeout string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *TicksConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 10*time.Second)
}

// GitHubConfig holds the CI workflow used for remote backfill
type GitHubConfig struct {
	APIURL   string            `toml:"api_url"`
	Token    string            `toml:"token"`
	Owner    string            `toml:"owner"`
	Repo     string            `toml:"repo"`
	Workflow string            `toml:"workflow"`
	Ref      string            `toml:"ref"`
	Inputs   map[string]string `toml:"inputs"` // extra workflow inputs sent with every dispatch
	Timeout  string            `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *GitHubConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 15*time.Second)
}

// PolicyConfig holds the staleness and acquisition policy
type PolicyConfig struct {
	MaxStaleTradingDays   int     `toml:"max_stale_trading_days"`
	MaxStaleIntradayDays  int     `toml:"max_stale_intraday_days"`
	MinDailySize          string  `toml:"min_daily_size"`
	MinIntradaySize       string  `toml:"min_intraday_size"`
	CorruptionRetries     int     `toml:"corruption_retries"`
	RemoteLookbackDays    int     `toml:"remote_lookback_days"`
	LiveFetchConcurrency  int     `toml:"live_fetch_concurrency"`
	LiveFetchHistoryDays  int     `toml:"live_fetch_history_days"`
	BackfillStaleFraction float64 `toml:"backfill_stale_fraction"`
	BackfillMinStale      int     `toml:"backfill_min_stale"`
	FallbackBackfillDays  int     `toml:"fallback_backfill_days"`
	PersistResult         bool    `toml:"persist_result"`
}

// GetMinDailyBytes returns the minimum trusted size of a daily snapshot
func (c *PolicyConfig) GetMinDailyBytes() int64 {
	return parseSize(c.MinDailySize, 40*1024*1024)
}

// GetMinIntradayBytes returns the minimum trusted size of an intraday snapshot
func (c *PolicyConfig) GetMinIntradayBytes() int64 {
	return parseSize(c.MinIntradaySize, 100*1024*1024)
}

// SchedulerConfig holds the cron schedule used by the watch command
type SchedulerConfig struct {
	Cron string `toml:"cron"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Format     string   `toml:"format"`
	Outputs    []string `toml:"outputs"`
	FilePath   string   `toml:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Exchange: ExchangeConfig{
			Name:     "NSE",
			Timezone: "Asia/Kolkata",
			Open:     "09:15",
			Close:    "15:30",
		},
		Storage: StorageConfig{
			Path: defaultDataPath(),
			RunLog: RunLogConfig{
				Enabled: true,
				Path:    "runs.db",
			},
		},
		Clients: ClientsConfig{
			EODHD: EODHDConfig{
				BaseURL:   "https://eodhd.com/api",
				Exchange:  "NSE",
				RateLimit: 10,
				Timeout:   "30s",
			},
			Yahoo: YahooConfig{
				BaseURL:   "https://query1.finance.yahoo.com",
				Suffix:    ".NS",
				RateLimit: 5,
				Timeout:   "30s",
			},
			Artifacts: ArtifactsConfig{
				RateLimit: 2,
				Timeout:   "5m",
			},
			Ticks: TicksConfig{
				Timeout: "10s",
			},
			GitHub: GitHubConfig{
				APIURL:  "https://api.github.com",
				Ref:     "main",
				Timeout: "15s",
			},
		},
		Policy: PolicyConfig{
			MaxStaleTradingDays:   1,
			MaxStaleIntradayDays:  0,
			MinDailySize:          "40MB",
			MinIntradaySize:       "100MB",
			CorruptionRetries:     1,
			RemoteLookbackDays:    5,
			LiveFetchConcurrency:  8,
			LiveFetchHistoryDays:  365,
			BackfillStaleFraction: 0.5,
			BackfillMinStale:      1,
			FallbackBackfillDays:  30,
			PersistResult:         true,
		},
		Scheduler: SchedulerConfig{
			Cron: "0 45 15 * * 1-5",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Outputs:    []string{"console"},
			FilePath:   "logs/stockcache.log",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
// A .env file in the working directory, if present, is loaded before overrides are applied.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// Missing .env is fine, the environment may already be populated
	_ = godotenv.Load()

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("STOCKCACHE_ENV"); env != "" {
		config.Environment = env
	}

	if level := os.Getenv("STOCKCACHE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("STOCKCACHE_DATA_PATH"); path != "" {
		config.Storage.Path = path
	}

	if v := os.Getenv("STOCKCACHE_MIN_DAILY_SIZE"); v != "" {
		config.Policy.MinDailySize = v
	}
	if v := os.Getenv("STOCKCACHE_MIN_INTRADAY_SIZE"); v != "" {
		config.Policy.MinIntradaySize = v
	}

	if v := os.Getenv("STOCKCACHE_MAX_STALE_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Policy.MaxStaleTradingDays = n
		}
	}

	if v := os.Getenv("STOCKCACHE_ARTIFACTS_URL"); v != "" {
		config.Clients.Artifacts.BaseURL = v
	}
	if v := os.Getenv("STOCKCACHE_TICKS_URL"); v != "" {
		config.Clients.Ticks.URL = v
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// SnapshotDir returns the directory holding local snapshot files.
func (c *Config) SnapshotDir() string {
	return filepath.Join(c.Storage.Path, "snapshots")
}

// RunLogPath returns the resolved path of the run ledger database.
func (c *Config) RunLogPath() string {
	if filepath.IsAbs(c.Storage.RunLog.Path) {
		return c.Storage.RunLog.Path
	}
	return filepath.Join(c.Storage.Path, c.Storage.RunLog.Path)
}

// ResolveAPIKey resolves a credential from environment or config fallback
func ResolveAPIKey(name string, fallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"eodhd_api_key": {"EODHD_API_KEY", "STOCKCACHE_EODHD_API_KEY"},
		"github_token":  {"STOCKCACHE_GITHUB_TOKEN", "CI_PAT", "GITHUB_TOKEN"},
	}

	// Check environment variables first (highest priority)
	if envVarNames, ok := keyToEnvMapping[name]; ok {
		for _, envVarName := range envVarNames {
			if envValue := strings.TrimSpace(os.Getenv(envVarName)); envValue != "" {
				return envValue, nil
			}
		}
	}

	if fallback = strings.TrimSpace(fallback); fallback != "" {
		return fallback, nil
	}

	return "", fmt.Errorf("credential '%s' not found in environment or config", name)
}

func defaultDataPath() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "stockcache")
	}
	return "data"
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// parseSize parses sizes like "40MB", "512KB", "1GB" or a plain byte count.
func parseSize(s string, fallback int64) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return fallback
	}
	mult := int64(1)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	} {
		if strings.HasSuffix(s, unit.suffix) {
			mult = unit.mult
			s = strings.TrimSpace(strings.TrimSuffix(s, unit.suffix))
			break
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n < 0 {
		return fallback
	}
	return int64(n * float64(mult))
}
