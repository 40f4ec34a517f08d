package livefetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/stockcache/internal/interfaces"
	"github.com/bobmcallan/stockcache/internal/models"
)

type fakeClient struct {
	mu       sync.Mutex
	inFlight int32
	maxSeen  int32
	params   []interfaces.SeriesParams
	fn       func(symbol string) (*models.Series, error)
}

func (f *fakeClient) GetSeries(_ context.Context, symbol string, opts ...interfaces.SeriesOption) (*models.Series, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, n) {
			break
		}
	}
	f.mu.Lock()
	f.params = append(f.params, interfaces.ApplySeriesOptions(opts...))
	f.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	return f.fn(symbol)
}

func oneBar(symbol string) *models.Series {
	s := models.NewSeries(symbol, "close")
	s.Index = []time.Time{time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)}
	s.Rows = [][]float64{{1}}
	return s
}

func TestFetch_CollectsPerSymbolResults(t *testing.T) {
	client := &fakeClient{fn: func(symbol string) (*models.Series, error) {
		switch symbol {
		case "BAD":
			return nil, errors.New("404")
		case "EMPTY":
			return models.NewSeries(symbol), nil
		case "BOOM":
			panic("decoder exploded")
		}
		return oneBar(symbol), nil
	}}

	from := time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	svc := NewService(client, 2, nil)
	fetched, failed := svc.Fetch(context.Background(), []string{"A", "B", "BAD", "EMPTY", "BOOM"}, from, to, false)

	assert.Len(t, fetched, 2)
	assert.Contains(t, fetched, "A")
	assert.Contains(t, fetched, "B")
	require.Len(t, failed, 3)
	assert.Contains(t, failed["BOOM"].Error(), "panic")

	for _, p := range client.params {
		assert.Equal(t, from, p.From)
		assert.Equal(t, to, p.To)
		assert.False(t, p.Intraday)
	}
}

func TestFetch_BoundedConcurrency(t *testing.T) {
	client := &fakeClient{fn: func(symbol string) (*models.Series, error) { return oneBar(symbol), nil }}
	symbols := make([]string, 20)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("S%02d", i)
	}

	fetched, failed := NewService(client, 3, nil).Fetch(context.Background(), symbols, time.Time{}, time.Time{}, true)
	assert.Len(t, fetched, 20)
	assert.Empty(t, failed)
	assert.LessOrEqual(t, atomic.LoadInt32(&client.maxSeen), int32(3))
}

func TestFetch_CancelledContext(t *testing.T) {
	client := &fakeClient{fn: func(symbol string) (*models.Series, error) { return oneBar(symbol), nil }}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetched, failed := NewService(client, 2, nil).Fetch(ctx, []string{"A", "B"}, time.Time{}, time.Time{}, false)
	assert.Empty(t, fetched)
	require.Len(t, failed, 2)
	assert.True(t, errors.Is(failed["A"], context.Canceled))
}

func TestFetch_NoClient(t *testing.T) {
	fetched, failed := NewService(nil, 0, nil).Fetch(context.Background(), []string{"A"}, time.Time{}, time.Time{}, false)
	assert.Empty(t, fetched)
	assert.Len(t, failed, 1)
}
