package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bobmcallan/stockcache/internal/calendar"
	"github.com/bobmcallan/stockcache/internal/common"
	"github.com/bobmcallan/stockcache/internal/interfaces"
	"github.com/bobmcallan/stockcache/internal/models"
)

// --- Mocks ---

type mockSource struct {
	series *models.Series
	err    error
	called bool
}

func (m *mockSource) GetSeries(_ context.Context, _ string, _ ...interfaces.SeriesOption) (*models.Series, error) {
	m.called = true
	return m.series, m.err
}

func newCalendar(t *testing.T) *calendar.Calendar {
	t.Helper()
	cal, err := calendar.New(common.NewDefaultConfig().Exchange)
	if err != nil {
		t.Fatalf("calendar.New failed: %v", err)
	}
	return cal
}

func newTestService(t *testing.T, primary, fallback *mockSource, now time.Time) *Service {
	var p, f interfaces.MarketDataClient
	if primary != nil {
		p = primary
	}
	if fallback != nil {
		f = fallback
	}
	svc := NewService(p, f, newCalendar(t), common.NewSilentLogger())
	svc.now = func() time.Time { return now }
	return svc
}

func seriesEnding(last time.Time) *models.Series {
	s := models.NewSeries("RELIANCE", "close")
	s.Index = []time.Time{last.AddDate(0, 0, -1), last}
	s.Rows = [][]float64{{1}, {2}}
	return s
}

func ist(y int, m time.Month, d, hh, mm int) time.Time {
	loc, _ := time.LoadLocation("Asia/Kolkata")
	return time.Date(y, m, d, hh, mm, 0, 0, loc)
}

func TestGetSeries_PrimaryFresh(t *testing.T) {
	now := ist(2026, 3, 10, 18, 0) // Tuesday evening
	primary := &mockSource{series: seriesEnding(ist(2026, 3, 10, 0, 0))}
	fallback := &mockSource{}

	got, err := newTestService(t, primary, fallback, now).GetSeries(context.Background(), "RELIANCE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != primary.series {
		t.Error("expected primary series")
	}
	if fallback.called {
		t.Error("fallback should not be called for fresh primary data")
	}
}

func TestGetSeries_PrimaryErrorUsesFallback(t *testing.T) {
	now := ist(2026, 3, 10, 18, 0)
	primary := &mockSource{err: errors.New("401")}
	fallback := &mockSource{series: seriesEnding(ist(2026, 3, 10, 0, 0))}

	got, err := newTestService(t, primary, fallback, now).GetSeries(context.Background(), "RELIANCE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != fallback.series {
		t.Error("expected fallback series")
	}
}

func TestGetSeries_BothFailReturnsPrimaryError(t *testing.T) {
	primaryErr := errors.New("primary down")
	primary := &mockSource{err: primaryErr}
	fallback := &mockSource{err: errors.New("fallback down")}

	_, err := newTestService(t, primary, fallback, ist(2026, 3, 10, 18, 0)).GetSeries(context.Background(), "X")
	if !errors.Is(err, primaryErr) {
		t.Errorf("err = %v, want primary error", err)
	}
}

func TestGetSeries_StalePrimaryReplacedOnlyByNewer(t *testing.T) {
	now := ist(2026, 3, 12, 18, 0) // Thursday
	stale := seriesEnding(ist(2026, 3, 6, 0, 0))

	newer := &mockSource{series: seriesEnding(ist(2026, 3, 12, 0, 0))}
	got, _ := newTestService(t, &mockSource{series: stale}, newer, now).GetSeries(context.Background(), "X")
	if got != newer.series {
		t.Error("stale primary should be replaced by newer fallback")
	}

	older := &mockSource{series: seriesEnding(ist(2026, 3, 5, 0, 0))}
	got, _ = newTestService(t, &mockSource{series: stale}, older, now).GetSeries(context.Background(), "X")
	if got != stale {
		t.Error("stale primary should be kept when fallback is not newer")
	}
}

func TestGetSeries_NoPrimary(t *testing.T) {
	fallback := &mockSource{series: seriesEnding(ist(2026, 3, 10, 0, 0))}
	got, err := newTestService(t, nil, fallback, ist(2026, 3, 10, 18, 0)).GetSeries(context.Background(), "X")
	if err != nil || got != fallback.series {
		t.Errorf("GetSeries = %v, %v; want fallback series", got, err)
	}

	if _, err := newTestService(t, nil, nil, time.Now()).GetSeries(context.Background(), "X"); err == nil {
		t.Error("expected error with no sources")
	}
}

func TestIsStale_Intraday(t *testing.T) {
	open := ist(2026, 3, 10, 11, 0)
	svc := newTestService(t, nil, nil, open)
	params := interfaces.ApplySeriesOptions(interfaces.WithIntraday(true))

	recent := models.NewSeries("X", "close")
	recent.Index = []time.Time{open.Add(-2 * time.Minute)}
	recent.Rows = [][]float64{{1}}
	if svc.isStale(recent, params) {
		t.Error("two-minute-old bar should not be stale")
	}

	old := models.NewSeries("X", "close")
	old.Index = []time.Time{open.Add(-2 * time.Hour)}
	old.Rows = [][]float64{{1}}
	if !svc.isStale(old, params) {
		t.Error("two-hour-old bar during market hours should be stale")
	}

	svc.now = func() time.Time { return ist(2026, 3, 10, 20, 0) }
	if svc.isStale(old, params) {
		t.Error("intraday data is not judged outside market hours")
	}
}
