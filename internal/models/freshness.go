package models

import "time"

// FreshnessVerdict is the staleness of a single series against a reference date.
// An absent or empty series yields IsFresh=false with TradingDaysStale=0.
type FreshnessVerdict struct {
	IsFresh          bool      `json:"is_fresh"`
	LastBarDate      time.Time `json:"last_bar_date"`
	TradingDaysStale int       `json:"trading_days_stale"`
}

// SnapshotVerdict aggregates per-symbol verdicts for a snapshot.
type SnapshotVerdict struct {
	FreshCount      int       `json:"fresh_count"`
	StaleCount      int       `json:"stale_count"`
	OldestStaleDate time.Time `json:"oldest_stale_date,omitempty"`
	NewestBarDate   time.Time `json:"newest_bar_date,omitempty"`
	Stale           []string  `json:"stale,omitempty"`
}

// Total returns the number of symbols evaluated.
func (v SnapshotVerdict) Total() int {
	return v.FreshCount + v.StaleCount
}

// StaleFraction returns the share of evaluated symbols that are stale.
func (v SnapshotVerdict) StaleFraction() float64 {
	if v.Total() == 0 {
		return 0
	}
	return float64(v.StaleCount) / float64(v.Total())
}

// TickUpdate is a best-effort live price for one symbol from the tick overlay.
type TickUpdate struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// BackfillRequest asks the remote CI job to regenerate missing history.
type BackfillRequest struct {
	MissingTradingDays int `json:"missingTradingDays"`
}

// SplitFrame is the tri-part column/index/data encoding of a series.
// Index entries are epoch milliseconds or date strings.
type SplitFrame struct {
	Columns []string    `json:"columns"`
	Index   []any       `json:"index"`
	Data    [][]float64 `json:"data"`
}
