package app

import (
	"context"
	"errors"
	"time"

	"github.com/bobmcallan/stockcache/internal/common"
	"github.com/bobmcallan/stockcache/internal/models"
	"github.com/bobmcallan/stockcache/internal/storage/snapshotfs"
)

// Status describes the local cache and recent acquisitions for one granularity.
type Status struct {
	Intraday     bool                   `json:"intraday"`
	SessionDate  time.Time              `json:"session_date"`
	MarketOpen   bool                   `json:"market_open"`
	LocalFile    string                 `json:"local_file,omitempty"`
	LocalBytes   int64                  `json:"local_bytes,omitempty"`
	SizeValid    bool                   `json:"size_valid"`
	LocalSymbols int                    `json:"local_symbols"`
	Verdict      models.SnapshotVerdict `json:"verdict"`
	LoadError    string                 `json:"load_error,omitempty"`
	RecentRuns   []models.RunRecord     `json:"recent_runs"`
	RanRecently  bool                   `json:"ran_recently"`
}

// Status evaluates the newest local snapshot without touching the network.
func (a *App) Status(ctx context.Context, intraday bool, runs int) (*Status, error) {
	now := time.Now()
	st := &Status{
		Intraday:    intraday,
		SessionDate: a.Calendar.SessionDate(now),
		MarketOpen:  a.Calendar.IsMarketOpen(now),
	}

	name, err := a.Store.Latest(intraday)
	switch {
	case errors.Is(err, snapshotfs.ErrNotFound):
		// nothing cached yet
	case err != nil:
		return nil, err
	default:
		st.LocalFile = name
		if size, err := a.Store.Size(name); err == nil {
			st.LocalBytes = size
			st.SizeValid = a.Validator.ValidBytes(size, intraday)
		}
		snap, err := a.Store.Load(name)
		if err != nil {
			st.LoadError = err.Error()
		} else {
			st.LocalSymbols = snap.Len()
			st.Verdict = a.Freshness.EvaluateSnapshot(snap, intraday, a.Calendar.Today(now))
		}
	}

	if runs > 0 {
		recent, err := a.Recorder.Recent(ctx, runs)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to read run ledger")
		}
		st.RecentRuns = recent
		if len(recent) > 0 {
			st.RanRecently = common.IsFresh(recent[0].CompletedAt, common.FreshnessRunLog)
		}
	}
	return st, nil
}
