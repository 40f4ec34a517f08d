// Package reconcile patches cached series with the live-tick overlay
package reconcile

import (
	"context"
	"math"
	"time"

	"github.com/bobmcallan/stockcache/internal/common"
	"github.com/bobmcallan/stockcache/internal/interfaces"
	"github.com/bobmcallan/stockcache/internal/models"
)

// Service implements TickReconciler
type Service struct {
	ticks    interfaces.TickSource
	calendar interfaces.TradingCalendar
	logger   *common.Logger
}

var _ interfaces.TickReconciler = (*Service)(nil)

// NewService creates a reconciler. ticks may be nil, in which case Reconcile
// returns the snapshot unchanged.
func NewService(ticks interfaces.TickSource, calendar interfaces.TradingCalendar, logger *common.Logger) *Service {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Service{ticks: ticks, calendar: calendar, logger: logger}
}

// Reconcile pulls the current ticks and applies them. A feed failure is logged
// and yields the input data unchanged.
func (s *Service) Reconcile(ctx context.Context, snap *models.Snapshot) (*models.Snapshot, int) {
	if snap == nil {
		return nil, 0
	}
	if s.ticks == nil {
		return snap.Clone(), 0
	}

	ticks, err := s.ticks.FetchTicks(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Tick overlay unavailable, continuing without it")
		return snap.Clone(), 0
	}
	return s.Apply(snap, ticks)
}

// Apply patches snap with ticks and returns a new snapshot plus the number of
// symbols changed. For each symbol present in both, a tick newer than the last
// bar overwrites that bar when it falls in the same bucket (trading date for
// daily data, minute for intraday) and otherwise appends a new bar. Data is
// never removed or reordered, and applying the same ticks twice is a no-op.
func (s *Service) Apply(snap *models.Snapshot, ticks map[string]models.TickUpdate) (*models.Snapshot, int) {
	out := snap.Clone()
	patched := 0

	for _, sym := range snap.Symbols() {
		tick, ok := ticks[sym]
		if !ok {
			continue
		}
		series := snap.Series[sym]
		updated, changed := s.applyTick(series, tick, snap.Intraday)
		if changed {
			out.Series[sym] = updated
			patched++
		}
	}

	if patched > 0 {
		s.logger.Info().Int("patched", patched).Int("ticks", len(ticks)).Msg("Applied tick overlay")
	}
	return out, patched
}

func (s *Service) applyTick(series *models.Series, tick models.TickUpdate, intraday bool) (*models.Series, bool) {
	if tick.Price <= 0 || math.IsNaN(tick.Price) || tick.Timestamp.IsZero() {
		return series, false
	}
	last, ok := series.LastTimestamp()
	if !ok || !tick.Timestamp.After(last) {
		return series, false
	}
	if !intraday && !s.calendar.IsTradingDay(tick.Timestamp) {
		return series, false
	}

	closeIdx := series.ColumnIndex(models.ColumnClose)
	if closeIdx < 0 {
		s.logger.Warn().Str("symbol", series.Symbol).Msg("Series has no close column, tick skipped")
		return series, false
	}

	updated := series.Clone()
	bucket := s.bucket(tick.Timestamp, intraday)

	if bucket.Equal(s.bucket(last, intraday)) {
		row := updated.Rows[len(updated.Rows)-1]
		before := append([]float64(nil), row...)
		row[closeIdx] = tick.Price
		if i := updated.ColumnIndex(models.ColumnHigh); i >= 0 && (math.IsNaN(row[i]) || tick.Price > row[i]) {
			row[i] = tick.Price
		}
		if i := updated.ColumnIndex(models.ColumnLow); i >= 0 && (math.IsNaN(row[i]) || tick.Price < row[i]) {
			row[i] = tick.Price
		}
		if i := updated.ColumnIndex(models.ColumnOpen); i >= 0 && math.IsNaN(row[i]) {
			row[i] = tick.Price
		}
		if i := updated.ColumnIndex(models.ColumnVolume); i >= 0 && tick.Volume > 0 {
			row[i] = tick.Volume
		}
		return updated, !sameRow(before, row)
	}

	row := make([]float64, len(updated.Columns))
	for i := range row {
		row[i] = math.NaN()
	}
	for _, col := range []string{models.ColumnOpen, models.ColumnHigh, models.ColumnLow, models.ColumnClose} {
		if i := updated.ColumnIndex(col); i >= 0 {
			row[i] = tick.Price
		}
	}
	if i := updated.ColumnIndex(models.ColumnVolume); i >= 0 {
		row[i] = tick.Volume
	}
	if err := updated.Append(bucket, row); err != nil {
		s.logger.Warn().Str("symbol", series.Symbol).Err(err).Msg("Tick could not be appended")
		return series, false
	}
	return updated, true
}

// bucket returns the start of the bar a timestamp belongs to.
func (s *Service) bucket(t time.Time, intraday bool) time.Time {
	if intraday {
		return t.Truncate(time.Minute)
	}
	return s.calendar.Today(t)
}

func sameRow(a, b []float64) bool {
	for i := range a {
		if a[i] != b[i] && !(math.IsNaN(a[i]) && math.IsNaN(b[i])) {
			return false
		}
	}
	return true
}
