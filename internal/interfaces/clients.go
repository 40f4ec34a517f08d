// Package interfaces defines service contracts for stockcache
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/stockcache/internal/models"
)

// MarketDataClient fetches bar history for a single symbol from a primary data source
type MarketDataClient interface {
	// GetSeries retrieves daily bars, or 1-minute bars when WithIntraday is set
	GetSeries(ctx context.Context, symbol string, opts ...SeriesOption) (*models.Series, error)
}

// SeriesOption configures series requests
type SeriesOption func(*SeriesParams)

// SeriesParams holds series query parameters
type SeriesParams struct {
	From     time.Time
	To       time.Time
	Intraday bool
}

// WithDateRange sets the date range for a series query
func WithDateRange(from, to time.Time) SeriesOption {
	return func(p *SeriesParams) {
		p.From = from
		p.To = to
	}
}

// WithIntraday requests 1-minute bars instead of daily bars
func WithIntraday(intraday bool) SeriesOption {
	return func(p *SeriesParams) {
		p.Intraday = intraday
	}
}

// ApplySeriesOptions folds options into params
func ApplySeriesOptions(opts ...SeriesOption) SeriesParams {
	var p SeriesParams
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// TickSource provides the live-tick overlay
type TickSource interface {
	// FetchTicks returns the latest tick per symbol
	FetchTicks(ctx context.Context) (map[string]models.TickUpdate, error)
}

// SnapshotDownloader fetches prebuilt snapshot artifacts by file name
type SnapshotDownloader interface {
	// Download returns the artifact bytes; a missing artifact is reported as a not-found error
	Download(ctx context.Context, name string) ([]byte, error)
}

// WorkflowDispatcher triggers the remote CI backfill job
type WorkflowDispatcher interface {
	// HasCredential reports whether a dispatch token is configured
	HasCredential() bool

	// Dispatch issues one workflow_dispatch request; nil means the endpoint acknowledged it
	Dispatch(ctx context.Context, inputs map[string]string) error
}
