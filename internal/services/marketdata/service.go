// Package marketdata provides bar history with automatic fallback between sources
package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/stockcache/internal/common"
	"github.com/bobmcallan/stockcache/internal/interfaces"
	"github.com/bobmcallan/stockcache/internal/models"
)

// IntradayStalenessThreshold is the age beyond which an intraday series from the
// primary source is worth retrying against the fallback during market hours.
// Normal vendor delay is a few minutes; anything older means the feed is stuck.
var IntradayStalenessThreshold = 30 * time.Minute

// Service implements MarketDataClient with a primary source and an optional fallback.
type Service struct {
	primary  interfaces.MarketDataClient
	fallback interfaces.MarketDataClient
	calendar interfaces.TradingCalendar
	logger   *common.Logger
	now      func() time.Time // injectable clock for testing
}

var _ interfaces.MarketDataClient = (*Service)(nil)

// NewService creates a new market data service.
// primary may be nil when no primary credential is configured, in which case
// the fallback serves every request. fallback may be nil.
func NewService(primary, fallback interfaces.MarketDataClient, calendar interfaces.TradingCalendar, logger *common.Logger) *Service {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Service{
		primary:  primary,
		fallback: fallback,
		calendar: calendar,
		logger:   logger,
		now:      time.Now,
	}
}

// GetSeries returns bars from the primary source, falling back when the primary
// fails, returns nothing, or returns data that is stale for the requested range.
func (s *Service) GetSeries(ctx context.Context, symbol string, opts ...interfaces.SeriesOption) (*models.Series, error) {
	if s.primary == nil {
		if s.fallback == nil {
			return nil, fmt.Errorf("no market data source configured")
		}
		return s.fallback.GetSeries(ctx, symbol, opts...)
	}

	series, primaryErr := s.primary.GetSeries(ctx, symbol, opts...)
	params := interfaces.ApplySeriesOptions(opts...)

	if primaryErr == nil && !series.Empty() && !s.isStale(series, params) {
		return series, nil
	}
	if s.fallback == nil {
		if primaryErr != nil {
			return nil, primaryErr
		}
		return series, nil
	}

	s.logger.Info().
		Str("symbol", symbol).
		Bool("primary_failed", primaryErr != nil).
		Bool("intraday", params.Intraday).
		Msg("Attempting fallback market data source")

	fb, fbErr := s.fallback.GetSeries(ctx, symbol, opts...)
	if fbErr != nil || fb.Empty() {
		if fbErr != nil {
			s.logger.Warn().Err(fbErr).Str("symbol", symbol).Msg("Fallback market data source failed")
		}
		// Keep whatever the primary returned, otherwise propagate the original error
		if primaryErr != nil {
			return nil, primaryErr
		}
		return series, nil
	}

	// A stale primary series is only replaced when the fallback is actually newer
	if primaryErr == nil && !series.Empty() {
		pLast, _ := series.LastTimestamp()
		fLast, _ := fb.LastTimestamp()
		if !fLast.After(pLast) {
			return series, nil
		}
	}

	s.logger.Info().
		Str("symbol", symbol).
		Int("bars", fb.Len()).
		Msg("Fallback market data source succeeded")
	return fb, nil
}

// isStale reports whether a primary series ends too early for the request.
// Daily data must reach the last completed session before the range end;
// intraday data is only judged during market hours.
func (s *Service) isStale(series *models.Series, params interfaces.SeriesParams) bool {
	if s.calendar == nil {
		return false
	}
	last, ok := series.LastTimestamp()
	if !ok {
		return true
	}
	now := s.now()

	if params.Intraday {
		if !s.calendar.IsMarketOpen(now) {
			return false
		}
		return now.Sub(last) > IntradayStalenessThreshold
	}

	end := now
	if !params.To.IsZero() && params.To.Before(end) {
		end = params.To
	}
	return s.calendar.TradingDaysBetween(last, end) > 1
}
