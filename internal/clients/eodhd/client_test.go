package eodhd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bobmcallan/stockcache/internal/interfaces"
)

func TestGetSeries_Daily(t *testing.T) {
	mockResp := `[
		{"date": "2026-03-05", "open": 100, "high": 102, "low": 99, "close": 101, "adjusted_close": 101, "volume": 5000},
		{"date": "2026-03-06", "open": "101", "high": "103.5", "low": "100.5", "close": "103", "adjusted_close": "103", "volume": "6000"}
	]`

	var capturedPath, capturedFrom, capturedOrder, capturedToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		capturedFrom = r.URL.Query().Get("from")
		capturedOrder = r.URL.Query().Get("order")
		capturedToken = r.URL.Query().Get("api_token")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(mockResp))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithExchange("NSE"))
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	series, err := client.GetSeries(context.Background(), "RELIANCE", interfaces.WithDateRange(from, from.AddDate(0, 0, 7)))
	if err != nil {
		t.Fatalf("GetSeries failed: %v", err)
	}

	if capturedPath != "/eod/RELIANCE.NSE" {
		t.Errorf("expected path /eod/RELIANCE.NSE, got %s", capturedPath)
	}
	if capturedFrom != "2026-03-01" {
		t.Errorf("expected from=2026-03-01, got %s", capturedFrom)
	}
	if capturedOrder != "a" {
		t.Errorf("expected ascending order, got %s", capturedOrder)
	}
	if capturedToken != "test-key" {
		t.Errorf("expected api_token test-key, got %s", capturedToken)
	}

	if series.Symbol != "RELIANCE" {
		t.Errorf("Symbol = %s, want RELIANCE", series.Symbol)
	}
	if series.Len() != 2 {
		t.Fatalf("expected 2 bars, got %d", series.Len())
	}
	if c, _ := series.Value(1, "close"); c != 103 {
		t.Errorf("close = %.2f, want 103 (string field)", c)
	}
	if vol, _ := series.Value(0, "volume"); vol != 5000 {
		t.Errorf("volume = %.0f, want 5000", vol)
	}
	last, _ := series.LastTimestamp()
	if !last.Equal(time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("last bar = %v", last)
	}
}

func TestGetSeries_Intraday(t *testing.T) {
	mockResp := `[
		{"timestamp": 1773027900, "datetime": "2026-03-09 03:45:00", "open": 10, "high": 11, "low": 9, "close": 10.5, "volume": 100},
		{"timestamp": 1773027960, "datetime": "2026-03-09 03:46:00", "open": 10.5, "high": 11, "low": 10, "close": 10.8, "volume": null}
	]`

	var capturedPath, capturedInterval string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		capturedInterval = r.URL.Query().Get("interval")
		w.Write([]byte(mockResp))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	series, err := client.GetSeries(context.Background(), "TCS.NSE", interfaces.WithIntraday(true))
	if err != nil {
		t.Fatalf("GetSeries failed: %v", err)
	}
	if capturedPath != "/intraday/TCS.NSE" {
		t.Errorf("expected path /intraday/TCS.NSE, got %s", capturedPath)
	}
	if capturedInterval != "1m" {
		t.Errorf("expected interval 1m, got %s", capturedInterval)
	}
	if series.Len() != 2 {
		t.Fatalf("expected 2 bars, got %d", series.Len())
	}
	if !series.Index[0].Equal(time.Unix(1773027900, 0)) {
		t.Errorf("first bar = %v", series.Index[0])
	}
}

func TestGetSeries_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("invalid api token"))
	}))
	defer srv.Close()

	client := NewClient("bad", WithBaseURL(srv.URL))
	_, err := client.GetSeries(context.Background(), "INFY")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", apiErr.StatusCode)
	}
	if apiErr.Endpoint != "/eod/INFY.NSE" {
		t.Errorf("Endpoint = %s", apiErr.Endpoint)
	}
}

func TestGetSeries_SkipsOutOfOrderBars(t *testing.T) {
	mockResp := `[
		{"date": "2026-03-06", "close": 2},
		{"date": "2026-03-05", "close": 1},
		{"date": "bad", "close": 3}
	]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(mockResp))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	series, err := client.GetSeries(context.Background(), "SBIN")
	if err != nil {
		t.Fatalf("GetSeries failed: %v", err)
	}
	if series.Len() != 1 {
		t.Errorf("expected 1 bar after skipping, got %d", series.Len())
	}
	if err := series.Validate(); err != nil {
		t.Errorf("series invalid: %v", err)
	}
}
