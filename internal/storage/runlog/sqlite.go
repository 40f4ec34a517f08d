// Package runlog records acquisition runs for operator inspection.
package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bobmcallan/stockcache/internal/common"
	"github.com/bobmcallan/stockcache/internal/interfaces"
	"github.com/bobmcallan/stockcache/internal/models"
)

// SQLiteRecorder persists acquisition reports to a SQLite database.
type SQLiteRecorder struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *common.Logger
}

var _ interfaces.RunRecorder = (*SQLiteRecorder)(nil)

// NewSQLiteRecorder opens (or creates) the ledger database and runs migrations.
func NewSQLiteRecorder(logger *common.Logger, dbPath string) (*SQLiteRecorder, error) {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single writer; the CLI and the watch loop never write concurrently through one handle
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, logger: logger}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Debug().Str("path", dbPath).Msg("Run ledger opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id             TEXT PRIMARY KEY,
			started_at         INTEGER NOT NULL,
			completed_at       INTEGER NOT NULL,
			session_date       TEXT NOT NULL,
			intraday           INTEGER NOT NULL,
			states             TEXT,
			fresh_count        INTEGER,
			stale_count        INTEGER,
			unresolved_count   INTEGER,
			live_fetched       INTEGER,
			ticks_applied      INTEGER,
			backfill_attempted INTEGER,
			backfill_accepted  INTEGER,
			errors             TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS unresolved_symbols (
			run_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			PRIMARY KEY (run_id, symbol)
		)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// Record stores one acquisition and its unresolved symbols in a single transaction.
func (r *SQLiteRecorder) Record(ctx context.Context, report models.AcquireReport, unresolved []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make([]string, len(report.States))
	for i, s := range report.States {
		states[i] = string(s)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO runs
		(run_id, started_at, completed_at, session_date, intraday, states,
		 fresh_count, stale_count, unresolved_count, live_fetched, ticks_applied,
		 backfill_attempted, backfill_accepted, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunID,
		report.StartedAt.UnixMilli(),
		report.CompletedAt.UnixMilli(),
		report.SessionDate.Format("2006-01-02"),
		boolInt(report.Intraday),
		strings.Join(states, ","),
		report.Verdict.FreshCount,
		report.Verdict.StaleCount,
		len(unresolved),
		report.LiveFetched,
		report.TicksApplied,
		boolInt(report.BackfillAttempted),
		boolInt(report.BackfillAccepted),
		strings.Join(report.Errors, "; "),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, sym := range unresolved {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO unresolved_symbols (run_id, symbol) VALUES (?, ?)`, report.RunID, sym); err != nil {
			return fmt.Errorf("insert unresolved %s: %w", sym, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Recent returns the most recent runs, newest first.
func (r *SQLiteRecorder) Recent(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `SELECT run_id, started_at, completed_at, session_date, intraday, states,
		fresh_count, stale_count, unresolved_count, live_fetched, ticks_applied,
		backfill_attempted, backfill_accepted, errors
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []models.RunRecord
	for rows.Next() {
		var (
			rec                           models.RunRecord
			started, completed            int64
			session                       string
			intraday, attempted, accepted int
			states, errs                  sql.NullString
		)
		if err := rows.Scan(&rec.RunID, &started, &completed, &session, &intraday, &states,
			&rec.FreshCount, &rec.StaleCount, &rec.Unresolved, &rec.LiveFetched, &rec.TicksApplied,
			&attempted, &accepted, &errs); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.StartedAt = time.UnixMilli(started).UTC()
		rec.CompletedAt = time.UnixMilli(completed).UTC()
		rec.SessionDate, _ = time.Parse("2006-01-02", session)
		rec.Intraday = intraday != 0
		rec.States = states.String
		rec.BackfillAttempted = attempted != 0
		rec.BackfillAccepted = accepted != 0
		rec.Errors = errs.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UnresolvedFor returns the unresolved symbols recorded for a run.
func (r *SQLiteRecorder) UnresolvedFor(ctx context.Context, runID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT symbol FROM unresolved_symbols WHERE run_id = ? ORDER BY symbol`, runID)
	if err != nil {
		return nil, fmt.Errorf("query unresolved: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("scan unresolved: %w", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// Close closes the database.
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
