// Package freshness judges cached series against the trading calendar
package freshness

import (
	"time"

	"github.com/bobmcallan/stockcache/internal/common"
	"github.com/bobmcallan/stockcache/internal/frame"
	"github.com/bobmcallan/stockcache/internal/interfaces"
	"github.com/bobmcallan/stockcache/internal/models"
)

// Service implements FreshnessEvaluator. Verdicts are deterministic for a fixed
// calendar and reference date.
type Service struct {
	calendar    interfaces.TradingCalendar
	maxDaily    int
	maxIntraday int
	logger      *common.Logger
}

var _ interfaces.FreshnessEvaluator = (*Service)(nil)

// NewService creates a freshness evaluator using the policy's staleness limits
func NewService(calendar interfaces.TradingCalendar, policy common.PolicyConfig, logger *common.Logger) *Service {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Service{
		calendar:    calendar,
		maxDaily:    policy.MaxStaleTradingDays,
		maxIntraday: policy.MaxStaleIntradayDays,
		logger:      logger,
	}
}

// MaxStale returns the staleness limit for a granularity.
func (s *Service) MaxStale(intraday bool) int {
	if intraday {
		return s.maxIntraday
	}
	return s.maxDaily
}

// Evaluate judges one series. Absent, empty or unreadable input is "nothing to
// judge": IsFresh=false with TradingDaysStale=0. Callers branch on emptiness
// separately from staleness.
func (s *Service) Evaluate(series any, maxStaleTradingDays int, ref time.Time) models.FreshnessVerdict {
	normalized, err := frame.NormalizeIn(series, s.calendar.Location())
	if err != nil {
		s.logger.Debug().Err(err).Msg("Series could not be normalised for freshness")
		return models.FreshnessVerdict{}
	}
	last, ok := normalized.LastTimestamp()
	if !ok {
		return models.FreshnessVerdict{}
	}
	stale := s.calendar.TradingDaysSince(last, ref)
	return models.FreshnessVerdict{
		IsFresh:          stale <= maxStaleTradingDays,
		LastBarDate:      last,
		TradingDaysStale: stale,
	}
}

// EvaluateSnapshot judges every symbol of the snapshot.
func (s *Service) EvaluateSnapshot(snap *models.Snapshot, intraday bool, ref time.Time) models.SnapshotVerdict {
	return s.EvaluateSymbols(snap, snap.Symbols(), intraday, ref)
}

// EvaluateSymbols judges the listed symbols independently. Missing, empty and
// malformed series count as stale; a malformed series is logged, never raised.
func (s *Service) EvaluateSymbols(snap *models.Snapshot, symbols []string, intraday bool, ref time.Time) models.SnapshotVerdict {
	maxStale := s.MaxStale(intraday)
	var v models.SnapshotVerdict

	for _, sym := range symbols {
		series, ok := snap.Get(sym)
		if !ok || series.Empty() {
			v.StaleCount++
			v.Stale = append(v.Stale, sym)
			continue
		}
		if err := series.Validate(); err != nil {
			s.logger.Warn().Str("symbol", sym).Err(err).Msg("Malformed series counted as stale")
			v.StaleCount++
			v.Stale = append(v.Stale, sym)
			continue
		}

		verdict := s.Evaluate(series, maxStale, ref)
		if verdict.LastBarDate.After(v.NewestBarDate) {
			v.NewestBarDate = verdict.LastBarDate
		}
		if verdict.IsFresh {
			v.FreshCount++
			continue
		}
		v.StaleCount++
		v.Stale = append(v.Stale, sym)
		if v.OldestStaleDate.IsZero() || verdict.LastBarDate.Before(v.OldestStaleDate) {
			v.OldestStaleDate = verdict.LastBarDate
		}
	}
	return v
}
