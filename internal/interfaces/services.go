// Package interfaces defines service contracts for stockcache
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/stockcache/internal/models"
)

// TradingCalendar answers trading-day questions for one exchange
type TradingCalendar interface {
	// Location returns the exchange timezone
	Location() *time.Location

	// IsTradingDay reports whether the exchange holds a regular session on the date
	IsTradingDay(t time.Time) bool

	// TradingDaysBetween counts trading days strictly between the dates of a and b
	TradingDaysBetween(a, b time.Time) int

	// TradingDaysSince counts trading days after the date of a up to and including the date of b
	TradingDaysSince(a, b time.Time) int

	// Today returns the exchange-local date of now at midnight
	Today(now time.Time) time.Time

	// SessionDate returns today when it is a trading day, otherwise the previous trading day
	SessionDate(now time.Time) time.Time

	// PreviousTradingDay returns the trading day before the date of t
	PreviousTradingDay(t time.Time) time.Time

	// IsMarketOpen reports whether now falls inside a regular session
	IsMarketOpen(now time.Time) bool
}

// FreshnessEvaluator judges series staleness in trading days
type FreshnessEvaluator interface {
	// Evaluate judges one series; any normalizable shape is accepted
	Evaluate(series any, maxStaleTradingDays int, ref time.Time) models.FreshnessVerdict

	// EvaluateSnapshot judges every series of a snapshot independently
	EvaluateSnapshot(snap *models.Snapshot, intraday bool, ref time.Time) models.SnapshotVerdict

	// EvaluateSymbols judges the listed symbols; symbols absent from the snapshot count as stale
	EvaluateSymbols(snap *models.Snapshot, symbols []string, intraday bool, ref time.Time) models.SnapshotVerdict

	// MaxStale returns the policy limit for a granularity
	MaxStale(intraday bool) int
}

// TickReconciler patches recent bars from the live-tick overlay
type TickReconciler interface {
	// Reconcile returns a new snapshot and the number of symbols patched
	Reconcile(ctx context.Context, snap *models.Snapshot) (*models.Snapshot, int)
}

// BackfillTrigger dispatches the remote history regeneration job
type BackfillTrigger interface {
	// Trigger returns true only when the dispatch was acknowledged
	Trigger(ctx context.Context, missingTradingDays int) bool
}

// LiveFetcher fetches bar history for many symbols from the primary source
type LiveFetcher interface {
	// Fetch returns the series fetched and the per-symbol failures
	Fetch(ctx context.Context, symbols []string, from, to time.Time, intraday bool) (map[string]*models.Series, map[string]error)
}

// SnapshotAcquirer is the single entry point for obtaining snapshot data
type SnapshotAcquirer interface {
	// Acquire walks the tiers and returns the best snapshot plus unresolved symbols
	Acquire(ctx context.Context, req models.AcquireRequest) (*models.AcquireResult, error)
}
