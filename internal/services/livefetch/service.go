// Package livefetch fetches per-symbol bar history from the primary source with a bounded pool
package livefetch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bobmcallan/stockcache/internal/common"
	"github.com/bobmcallan/stockcache/internal/interfaces"
	"github.com/bobmcallan/stockcache/internal/models"
)

// DefaultConcurrency bounds in-flight requests when none is configured.
const DefaultConcurrency = 8

// Service implements LiveFetcher
type Service struct {
	client      interfaces.MarketDataClient
	concurrency int
	logger      *common.Logger
}

var _ interfaces.LiveFetcher = (*Service)(nil)

// NewService creates a live fetcher over client with at most concurrency requests in flight.
func NewService(client interfaces.MarketDataClient, concurrency int, logger *common.Logger) *Service {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Service{client: client, concurrency: concurrency, logger: logger}
}

// Fetch retrieves every symbol independently. Failures, empty responses and
// malformed series are collected per symbol and never abort the batch.
// Symbols not attempted because ctx was cancelled report ctx.Err().
func (s *Service) Fetch(ctx context.Context, symbols []string, from, to time.Time, intraday bool) (map[string]*models.Series, map[string]error) {
	fetched := make(map[string]*models.Series, len(symbols))
	failed := make(map[string]error)
	if len(symbols) == 0 {
		return fetched, failed
	}
	if s.client == nil {
		for _, sym := range symbols {
			failed[sym] = fmt.Errorf("no market data source configured")
		}
		return fetched, failed
	}

	var mu sync.Mutex
	record := func(sym string, series *models.Series, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failed[sym] = err
			return
		}
		fetched[sym] = series
	}

	start := time.Now()
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)

	for _, sym := range symbols {
		sym := sym
		if err := ctx.Err(); err != nil {
			record(sym, nil, err)
			continue
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error().
						Str("symbol", sym).
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", string(debug.Stack())).
						Msg("Recovered from panic in live fetch")
					record(sym, nil, fmt.Errorf("panic fetching %s: %v", sym, r))
				}
			}()
			series, err := s.fetchOne(ctx, sym, from, to, intraday)
			record(sym, series, err)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info().
		Int("requested", len(symbols)).
		Int("fetched", len(fetched)).
		Int("failed", len(failed)).
		Bool("intraday", intraday).
		Dur("elapsed", time.Since(start)).
		Msg("Live fetch complete")

	return fetched, failed
}

func (s *Service) fetchOne(ctx context.Context, symbol string, from, to time.Time, intraday bool) (*models.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	series, err := s.client.GetSeries(ctx, symbol,
		interfaces.WithDateRange(from, to),
		interfaces.WithIntraday(intraday),
	)
	if err != nil {
		s.logger.Debug().Str("symbol", symbol).Err(err).Msg("Live fetch failed")
		return nil, fmt.Errorf("fetch %s: %w", symbol, err)
	}
	if series.Empty() {
		return nil, fmt.Errorf("fetch %s: no bars returned", symbol)
	}
	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", symbol, err)
	}
	series.Symbol = symbol
	return series, nil
}
