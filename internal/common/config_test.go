package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.Policy.MaxStaleTradingDays != 1 {
		t.Errorf("MaxStaleTradingDays default = %d, want 1", cfg.Policy.MaxStaleTradingDays)
	}
	if cfg.Policy.GetMinDailyBytes() != 40*1024*1024 {
		t.Errorf("GetMinDailyBytes default = %d, want %d", cfg.Policy.GetMinDailyBytes(), 40*1024*1024)
	}
	if cfg.Policy.GetMinIntradayBytes() != 100*1024*1024 {
		t.Errorf("GetMinIntradayBytes default = %d, want %d", cfg.Policy.GetMinIntradayBytes(), 100*1024*1024)
	}
	if cfg.Exchange.Timezone != "Asia/Kolkata" {
		t.Errorf("Exchange.Timezone default = %q, want Asia/Kolkata", cfg.Exchange.Timezone)
	}
}

func TestConfig_LoadConfigMergesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stockcache.toml")
	content := `
environment = "production"

[policy]
max_stale_trading_days = 3
min_daily_size = "12MB"

[exchange]
holidays = ["2026-01-26", "2026-03-04"]

[clients.github]
owner = "acme"
repo = "screener"
workflow = "backfill.yml"

[clients.github.inputs]
targetPythonScript = "pkscreenercli.py"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if !cfg.IsProduction() {
		t.Errorf("expected production environment, got %q", cfg.Environment)
	}
	if cfg.Policy.MaxStaleTradingDays != 3 {
		t.Errorf("MaxStaleTradingDays = %d, want 3", cfg.Policy.MaxStaleTradingDays)
	}
	if cfg.Policy.GetMinDailyBytes() != 12*1024*1024 {
		t.Errorf("GetMinDailyBytes = %d, want %d", cfg.Policy.GetMinDailyBytes(), 12*1024*1024)
	}
	// untouched sections keep their defaults
	if cfg.Policy.GetMinIntradayBytes() != 100*1024*1024 {
		t.Errorf("GetMinIntradayBytes = %d, want default", cfg.Policy.GetMinIntradayBytes())
	}
	if len(cfg.Exchange.Holidays) != 2 {
		t.Errorf("expected 2 holidays, got %v", cfg.Exchange.Holidays)
	}
	if cfg.Clients.GitHub.Inputs["targetPythonScript"] != "pkscreenercli.py" {
		t.Errorf("expected workflow input to be loaded, got %v", cfg.Clients.GitHub.Inputs)
	}
}

func TestConfig_LoadConfigSkipsMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"), "")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Environment != "development" {
		t.Errorf("Environment = %q, want development", cfg.Environment)
	}
}

func TestConfig_LoadConfigInvalidToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	os.WriteFile(path, []byte("[policy\nbroken"), 0644)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error for invalid toml")
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("STOCKCACHE_DATA_PATH", "/tmp/stockcache-test")
	t.Setenv("STOCKCACHE_MIN_DAILY_SIZE", "1KB")
	t.Setenv("STOCKCACHE_MAX_STALE_DAYS", "4")
	t.Setenv("STOCKCACHE_LOG_LEVEL", "debug")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Storage.Path != "/tmp/stockcache-test" {
		t.Errorf("Storage.Path = %q after env override", cfg.Storage.Path)
	}
	if cfg.SnapshotDir() != filepath.Join("/tmp/stockcache-test", "snapshots") {
		t.Errorf("SnapshotDir = %q", cfg.SnapshotDir())
	}
	if cfg.Policy.GetMinDailyBytes() != 1024 {
		t.Errorf("GetMinDailyBytes = %d, want 1024", cfg.Policy.GetMinDailyBytes())
	}
	if cfg.Policy.MaxStaleTradingDays != 4 {
		t.Errorf("MaxStaleTradingDays = %d, want 4", cfg.Policy.MaxStaleTradingDays)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestConfig_ResolveAPIKey(t *testing.T) {
	t.Setenv("STOCKCACHE_GITHUB_TOKEN", "")
	t.Setenv("CI_PAT", "")
	t.Setenv("GITHUB_TOKEN", "")

	if _, err := ResolveAPIKey("github_token", ""); err == nil {
		t.Error("expected error when no credential is available")
	}

	key, err := ResolveAPIKey("github_token", "  from-config  ")
	if err != nil || key != "from-config" {
		t.Errorf("ResolveAPIKey fallback = %q, %v", key, err)
	}

	t.Setenv("CI_PAT", "from-env")
	key, err = ResolveAPIKey("github_token", "from-config")
	if err != nil || key != "from-env" {
		t.Errorf("ResolveAPIKey env = %q, %v; env should win", key, err)
	}
}

func TestConfig_ParseSize(t *testing.T) {
	cases := map[string]int64{
		"40MB":   40 * 1024 * 1024,
		"100mb":  100 * 1024 * 1024,
		"1.5KB":  1536,
		"2048":   2048,
		"1GB":    1024 * 1024 * 1024,
		"":       7,
		"lots":   7,
		"-10MB":  7,
		" 3 MB ": 3 * 1024 * 1024,
	}
	for in, want := range cases {
		if got := parseSize(in, 7); got != want {
			t.Errorf("parseSize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestConfig_GetTimeoutFallback(t *testing.T) {
	c := GitHubConfig{Timeout: "nonsense"}
	if c.GetTimeout() != 15*time.Second {
		t.Errorf("GetTimeout fallback = %v, want 15s", c.GetTimeout())
	}
	c.Timeout = "2s"
	if c.GetTimeout() != 2*time.Second {
		t.Errorf("GetTimeout = %v, want 2s", c.GetTimeout())
	}
}
