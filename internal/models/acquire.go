package models

import "time"

// AcquireState is a step of the snapshot acquisition state machine.
type AcquireState string

const (
	StateCheckLocal          AcquireState = "check_local"
	StateCheckRemotePrebuilt AcquireState = "check_remote_prebuilt"
	StateReconcileTicks      AcquireState = "reconcile_ticks"
	StateFetchLivePerSymbol  AcquireState = "fetch_live_per_symbol"
	StateMaybeBackfill       AcquireState = "maybe_backfill"
	StateDone                AcquireState = "done"
)

// AcquireRequest describes what the caller wants data for.
// An empty symbol list means every symbol present in the cached snapshots.
type AcquireRequest struct {
	Symbols  []string `json:"symbols"`
	Intraday bool     `json:"intraday"`
}

// AcquireReport records how an acquisition went.
type AcquireReport struct {
	RunID              string          `json:"run_id"`
	StartedAt          time.Time       `json:"started_at"`
	CompletedAt        time.Time       `json:"completed_at"`
	SessionDate        time.Time       `json:"session_date"`
	Intraday           bool            `json:"intraday"`
	States             []AcquireState  `json:"states"`
	LocalFile          string          `json:"local_file,omitempty"`
	LocalSymbols       int             `json:"local_symbols"`
	RemoteFile         string          `json:"remote_file,omitempty"`
	RemoteAdopted      int             `json:"remote_adopted"`
	TicksApplied       int             `json:"ticks_applied"`
	LiveFetched        int             `json:"live_fetched"`
	LiveFailed         int             `json:"live_failed"`
	Verdict            SnapshotVerdict `json:"verdict"`
	BackfillAttempted  bool            `json:"backfill_attempted"`
	BackfillAccepted   bool            `json:"backfill_accepted"`
	MissingTradingDays int             `json:"missing_trading_days,omitempty"`
	Persisted          bool            `json:"persisted"`
	Errors             []string        `json:"errors,omitempty"`
}

// Elapsed returns the acquisition wall time.
func (r AcquireReport) Elapsed() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Visited reports whether the state machine passed through state.
func (r AcquireReport) Visited(state AcquireState) bool {
	for _, s := range r.States {
		if s == state {
			return true
		}
	}
	return false
}

// AcquireResult is the best snapshot obtainable plus the symbols it could not resolve.
type AcquireResult struct {
	Snapshot   *Snapshot     `json:"-"`
	Unresolved []string      `json:"unresolved"`
	Report     AcquireReport `json:"report"`
}

// RunRecord is one row of the acquisition ledger.
type RunRecord struct {
	RunID             string    `json:"run_id"`
	StartedAt         time.Time `json:"started_at"`
	CompletedAt       time.Time `json:"completed_at"`
	SessionDate       time.Time `json:"session_date"`
	Intraday          bool      `json:"intraday"`
	States            string    `json:"states"`
	FreshCount        int       `json:"fresh_count"`
	StaleCount        int       `json:"stale_count"`
	Unresolved        int       `json:"unresolved"`
	LiveFetched       int       `json:"live_fetched"`
	TicksApplied      int       `json:"ticks_applied"`
	BackfillAttempted bool      `json:"backfill_attempted"`
	BackfillAccepted  bool      `json:"backfill_accepted"`
	Errors            string    `json:"errors,omitempty"`
}
