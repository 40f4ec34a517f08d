package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bobmcallan/stockcache/internal/common"
	"github.com/bobmcallan/stockcache/internal/models"
)

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Storage.Path = t.TempDir()
	cfg.Policy.MinDailySize = "1B"
	return cfg
}

// TestNewAppWithConfig_InitializesAllServices verifies every component is wired.
func TestNewAppWithConfig_InitializesAllServices(t *testing.T) {
	a, err := NewAppWithConfig(testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewAppWithConfig failed: %v", err)
	}
	defer a.Close()

	if a.Calendar == nil {
		t.Error("Calendar is nil")
	}
	if a.Store == nil {
		t.Error("Store is nil")
	}
	if a.Recorder == nil {
		t.Error("Recorder is nil")
	}
	if a.MarketData == nil {
		t.Error("MarketData is nil")
	}
	if a.Freshness == nil {
		t.Error("Freshness is nil")
	}
	if a.Reconciler == nil {
		t.Error("Reconciler is nil")
	}
	if a.Backfill == nil {
		t.Error("Backfill is nil")
	}
	if a.LiveFetcher == nil {
		t.Error("LiveFetcher is nil")
	}
	if a.Acquirer == nil {
		t.Error("Acquirer is nil")
	}
	if a.StartupTime.IsZero() {
		t.Error("StartupTime is zero")
	}
	if _, err := os.Stat(filepath.Join(a.Config.Storage.Path, "runs.db")); err != nil {
		t.Errorf("run ledger not created: %v", err)
	}
}

func TestNewAppWithConfig_InvalidExchange(t *testing.T) {
	cfg := testConfig(t)
	cfg.Exchange.Timezone = "Mars/Olympus"
	if _, err := NewAppWithConfig(cfg, nil); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestNewApp_LoadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stockcache.toml")
	content := "[storage]\npath = \"" + filepath.ToSlash(filepath.Join(dir, "data")) + "\"\n\n[storage.runlog]\nenabled = false\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	defer a.Close()

	if a.Store.Dir() != filepath.Join(dir, "data", "snapshots") {
		t.Errorf("snapshot dir = %q", a.Store.Dir())
	}
	if _, err := os.Stat(filepath.Join(dir, "data", "runs.db")); !os.IsNotExist(err) {
		t.Error("run ledger should not be created when disabled")
	}
}

func TestStatus_EvaluatesLocalSnapshot(t *testing.T) {
	a, err := NewAppWithConfig(testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewAppWithConfig failed: %v", err)
	}
	defer a.Close()

	st, err := a.Status(context.Background(), false, 5)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.LocalFile != "" {
		t.Errorf("LocalFile = %q on empty store", st.LocalFile)
	}

	session := a.Calendar.SessionDate(time.Now())
	snap := models.NewSnapshot(session, false, models.TierLive)
	s := models.NewSeries("RELIANCE")
	s.Index = []time.Time{session}
	s.Rows = [][]float64{{1, 2, 0.5, 1.5, 10}}
	snap.Series["RELIANCE"] = s
	if _, err := a.Store.Save(snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	st, err = a.Status(context.Background(), false, 5)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.LocalSymbols != 1 || !st.SizeValid {
		t.Errorf("Status = %+v, want one symbol with a valid size", st)
	}
	if st.Verdict.FreshCount != 1 {
		t.Errorf("FreshCount = %d, want 1", st.Verdict.FreshCount)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	a, err := NewAppWithConfig(testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewAppWithConfig failed: %v", err)
	}
	defer a.Close()

	if err := a.StartScheduler("not a cron", nil, false); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if err := a.StartScheduler("0 0 3 * * *", []string{"TCS"}, false); err != nil {
		t.Fatalf("StartScheduler failed: %v", err)
	}
	if a.scheduler == nil {
		t.Fatal("scheduler not set")
	}
	a.StopScheduler()
	if a.scheduler != nil {
		t.Error("scheduler not cleared")
	}
}
