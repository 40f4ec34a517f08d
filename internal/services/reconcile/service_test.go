package reconcile

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/bobmcallan/stockcache/internal/calendar"
	"github.com/bobmcallan/stockcache/internal/common"
	"github.com/bobmcallan/stockcache/internal/models"
)

type stubTicks struct {
	ticks map[string]models.TickUpdate
	err   error
	calls int
}

func (s *stubTicks) FetchTicks(ctx context.Context) (map[string]models.TickUpdate, error) {
	s.calls++
	return s.ticks, s.err
}

func newTestService(t *testing.T, ticks *stubTicks) (*Service, *time.Location) {
	t.Helper()
	cal, err := calendar.New(common.NewDefaultConfig().Exchange)
	if err != nil {
		t.Fatalf("calendar.New failed: %v", err)
	}
	if ticks == nil {
		return NewService(nil, cal, common.NewSilentLogger()), cal.Location()
	}
	return NewService(ticks, cal, common.NewSilentLogger()), cal.Location()
}

func dailySnapshot(loc *time.Location, symbol string, last time.Time, n int) *models.Snapshot {
	snap := models.NewSnapshot(last, false, models.TierLocal)
	s := models.NewSeries(symbol)
	for i := n - 1; i >= 0; i-- {
		d := last.AddDate(0, 0, -i)
		s.Index = append(s.Index, d)
		s.Rows = append(s.Rows, []float64{100, 105, 95, 100, 1000})
	}
	snap.Series[symbol] = s
	return snap
}

func TestReconcile_SameDayOverwritesLastBar(t *testing.T) {
	ticks := &stubTicks{}
	svc, loc := newTestService(t, ticks)
	monday := time.Date(2026, 3, 9, 0, 0, 0, 0, loc)
	snap := dailySnapshot(loc, "RELIANCE", monday, 3)

	ticks.ticks = map[string]models.TickUpdate{
		"RELIANCE": {Symbol: "RELIANCE", Price: 110, Volume: 5000, Timestamp: time.Date(2026, 3, 9, 11, 0, 0, 0, loc)},
	}
	out, n := svc.Reconcile(context.Background(), snap)
	if n != 1 {
		t.Fatalf("patched = %d, want 1", n)
	}

	s := out.Series["RELIANCE"]
	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3 (overwrite, not append)", s.Len())
	}
	last := s.Len() - 1
	if v, _ := s.Value(last, models.ColumnClose); v != 110 {
		t.Errorf("close = %v, want 110", v)
	}
	if v, _ := s.Value(last, models.ColumnHigh); v != 110 {
		t.Errorf("high = %v, want widened to 110", v)
	}
	if v, _ := s.Value(last, models.ColumnLow); v != 95 {
		t.Errorf("low = %v, want unchanged 95", v)
	}
	if v, _ := s.Value(last, models.ColumnVolume); v != 5000 {
		t.Errorf("volume = %v, want 5000", v)
	}

	// input is not mutated
	if v, _ := snap.Series["RELIANCE"].Value(last, models.ColumnClose); v != 100 {
		t.Errorf("input close = %v, want 100", v)
	}
}

func TestReconcile_NewDayAppendsBar(t *testing.T) {
	ticks := &stubTicks{}
	svc, loc := newTestService(t, ticks)
	friday := time.Date(2026, 3, 6, 0, 0, 0, 0, loc)
	snap := dailySnapshot(loc, "TCS", friday, 2)

	tickAt := time.Date(2026, 3, 9, 10, 30, 0, 0, loc)
	ticks.ticks = map[string]models.TickUpdate{
		"TCS":   {Symbol: "TCS", Price: 90, Timestamp: tickAt},
		"OTHER": {Symbol: "OTHER", Price: 1, Timestamp: tickAt},
	}
	out, n := svc.Reconcile(context.Background(), snap)
	if n != 1 {
		t.Fatalf("patched = %d, want 1", n)
	}
	if _, ok := out.Get("OTHER"); ok {
		t.Error("ticks for symbols outside the snapshot must not add series")
	}

	s := out.Series["TCS"]
	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
	ts, _ := s.LastTimestamp()
	if !ts.Equal(time.Date(2026, 3, 9, 0, 0, 0, 0, loc)) {
		t.Errorf("appended bar at %v, want exchange midnight", ts)
	}
	for _, col := range []string{models.ColumnOpen, models.ColumnHigh, models.ColumnLow, models.ColumnClose} {
		if v, _ := s.Value(2, col); v != 90 {
			t.Errorf("%s = %v, want 90", col, v)
		}
	}
	if err := s.Validate(); err != nil {
		t.Errorf("appended series invalid: %v", err)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	ticks := &stubTicks{}
	svc, loc := newTestService(t, ticks)
	friday := time.Date(2026, 3, 6, 0, 0, 0, 0, loc)
	ticks.ticks = map[string]models.TickUpdate{
		"INFY": {Symbol: "INFY", Price: 120, Volume: 10, Timestamp: time.Date(2026, 3, 9, 9, 20, 0, 0, loc)},
	}

	once, n1 := svc.Reconcile(context.Background(), dailySnapshot(loc, "INFY", friday, 2))
	twice, n2 := svc.Reconcile(context.Background(), once)
	if n1 != 1 {
		t.Errorf("first pass patched = %d, want 1", n1)
	}
	if n2 != 0 {
		t.Errorf("second pass patched = %d, want 0", n2)
	}

	a, b := once.Series["INFY"], twice.Series["INFY"]
	if a.Len() != b.Len() {
		t.Fatalf("Len %d != %d", a.Len(), b.Len())
	}
	for i := range a.Rows {
		for c := range a.Rows[i] {
			if a.Rows[i][c] != b.Rows[i][c] {
				t.Errorf("row %d col %d differs: %v vs %v", i, c, a.Rows[i][c], b.Rows[i][c])
			}
		}
	}
}

func TestReconcile_SkipsOldAndInvalidTicks(t *testing.T) {
	ticks := &stubTicks{}
	svc, loc := newTestService(t, ticks)
	monday := time.Date(2026, 3, 9, 0, 0, 0, 0, loc)

	snap := dailySnapshot(loc, "A", monday, 2)
	noClose := models.NewSeries("B", "open", "volume")
	noClose.Index = []time.Time{monday}
	noClose.Rows = [][]float64{{1, 2}}
	snap.Series["B"] = noClose
	snap.Series["C"] = dailySnapshot(loc, "C", monday, 1).Series["C"]
	snap.Series["D"] = dailySnapshot(loc, "D", monday, 1).Series["D"]

	ticks.ticks = map[string]models.TickUpdate{
		"A": {Symbol: "A", Price: 1, Timestamp: monday.Add(-time.Hour)},                   // older than last bar
		"B": {Symbol: "B", Price: 1, Timestamp: monday.Add(time.Hour)},                    // no close column
		"C": {Symbol: "C", Price: 0, Timestamp: monday.Add(time.Hour)},                    // non-positive price
		"D": {Symbol: "D", Price: 5, Timestamp: time.Date(2026, 3, 14, 12, 0, 0, 0, loc)}, // Saturday
	}
	_, n := svc.Reconcile(context.Background(), snap)
	if n != 0 {
		t.Errorf("patched = %d, want 0", n)
	}
}

func TestReconcile_IntradayMinuteBuckets(t *testing.T) {
	ticks := &stubTicks{}
	svc, loc := newTestService(t, ticks)
	bar := time.Date(2026, 3, 9, 10, 15, 0, 0, loc)
	snap := models.NewSnapshot(time.Date(2026, 3, 9, 0, 0, 0, 0, loc), true, models.TierLocal)
	s := models.NewSeries("SBIN")
	s.Index = []time.Time{bar}
	s.Rows = [][]float64{{10, 11, 9, 10, 100}}
	snap.Series["SBIN"] = s

	ticks.ticks = map[string]models.TickUpdate{
		"SBIN": {Symbol: "SBIN", Price: 8, Timestamp: bar.Add(30 * time.Second)},
	}
	out, _ := svc.Reconcile(context.Background(), snap)
	got := out.Series["SBIN"]
	if got.Len() != 1 {
		t.Fatalf("same-minute tick should overwrite, Len = %d", got.Len())
	}
	if v, _ := got.Value(0, models.ColumnLow); v != 8 {
		t.Errorf("low = %v, want 8", v)
	}

	ticks.ticks["SBIN"] = models.TickUpdate{Symbol: "SBIN", Price: 12, Timestamp: bar.Add(90 * time.Second)}
	out, _ = svc.Reconcile(context.Background(), out)
	got = out.Series["SBIN"]
	if got.Len() != 2 {
		t.Fatalf("next-minute tick should append, Len = %d", got.Len())
	}
	if !got.Index[1].Equal(bar.Add(time.Minute)) {
		t.Errorf("appended at %v, want %v", got.Index[1], bar.Add(time.Minute))
	}
}

func TestReconcile_FeedFailureLeavesDataUnchanged(t *testing.T) {
	ticks := &stubTicks{err: errors.New("feed down")}
	svc, loc := newTestService(t, ticks)
	snap := dailySnapshot(loc, "A", time.Date(2026, 3, 9, 0, 0, 0, 0, loc), 2)

	out, n := svc.Reconcile(context.Background(), snap)
	if n != 0 || out.Len() != 1 || out == snap {
		t.Errorf("Reconcile on feed failure = %p/%d, want a copy with nothing patched", out, n)
	}

	noFeed, _ := newTestService(t, nil)
	out, n = noFeed.Reconcile(context.Background(), snap)
	if n != 0 || out.Series["A"] != snap.Series["A"] {
		t.Error("nil tick source should pass series through")
	}
}

func TestSameRow(t *testing.T) {
	nan := math.NaN()
	if !sameRow([]float64{1, nan}, []float64{1, nan}) {
		t.Error("NaN cells should compare equal")
	}
	if sameRow([]float64{1, 2}, []float64{1, 3}) {
		t.Error("different rows compared equal")
	}
}
