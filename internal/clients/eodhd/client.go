// Package eodhd provides a client for the EODHD API
package eodhd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/stockcache/internal/common"
	"github.com/bobmcallan/stockcache/internal/interfaces"
	"github.com/bobmcallan/stockcache/internal/models"
)

// flexFloat64 handles JSON values that may be either a number or a string.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" || s == "N/A" {
			*f = 0
			return nil
		}
		num, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat64(num)
		return nil
	}
	if string(data) == "null" {
		*f = 0
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

const (
	DefaultBaseURL   = "https://eodhd.com/api"
	DefaultExchange  = "NSE"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second
)

// Client implements the MarketDataClient interface
type Client struct {
	baseURL    string
	apiKey     string
	exchange   string
	loc        *time.Location
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

var _ interfaces.MarketDataClient = (*Client)(nil)

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithExchange sets the exchange code appended to bare symbols (e.g. "NSE" gives RELIANCE.NSE)
func WithExchange(exchange string) ClientOption {
	return func(c *Client) {
		c.exchange = exchange
	}
}

// WithLocation sets the timezone daily bar dates are anchored to
func WithLocation(loc *time.Location) ClientOption {
	return func(c *Client) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// NewClient creates a new EODHD client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		apiKey:   apiKey,
		exchange: DefaultExchange,
		loc:      time.UTC,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("EODHD API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// get performs a rate-limited GET request
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("EODHD API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// ticker returns the EODHD code for a symbol, adding the exchange suffix when missing
func (c *Client) ticker(symbol string) string {
	if strings.Contains(symbol, ".") || c.exchange == "" {
		return symbol
	}
	return symbol + "." + c.exchange
}

// GetSeries retrieves daily bars from /eod, or 1-minute bars from /intraday when requested.
// Bars are returned oldest first; the series symbol is the caller's symbol, not the EODHD code.
func (c *Client) GetSeries(ctx context.Context, symbol string, opts ...interfaces.SeriesOption) (*models.Series, error) {
	params := interfaces.ApplySeriesOptions(opts...)
	if params.Intraday {
		return c.getIntraday(ctx, symbol, params)
	}
	return c.getEOD(ctx, symbol, params)
}

func (c *Client) getEOD(ctx context.Context, symbol string, params interfaces.SeriesParams) (*models.Series, error) {
	urlParams := url.Values{}
	urlParams.Set("period", "d")
	urlParams.Set("order", "a")
	if !params.From.IsZero() {
		urlParams.Set("from", params.From.Format("2006-01-02"))
	}
	if !params.To.IsZero() {
		urlParams.Set("to", params.To.Format("2006-01-02"))
	}

	path := fmt.Sprintf("/eod/%s", c.ticker(symbol))

	var bars []eodBarResponse
	if err := c.get(ctx, path, urlParams, &bars); err != nil {
		return nil, err
	}

	series := models.NewSeries(symbol)
	for _, bar := range bars {
		date, err := time.ParseInLocation("2006-01-02", bar.Date, c.loc)
		if err != nil {
			c.logger.Warn().Str("symbol", symbol).Str("date", bar.Date).Msg("Skipping EOD bar with bad date")
			continue
		}
		if err := series.Append(date, []float64{
			float64(bar.Open), float64(bar.High), float64(bar.Low), float64(bar.Close), float64(bar.Volume),
		}); err != nil {
			c.logger.Warn().Str("symbol", symbol).Str("date", bar.Date).Msg("Skipping out-of-order EOD bar")
		}
	}

	return series, nil
}

func (c *Client) getIntraday(ctx context.Context, symbol string, params interfaces.SeriesParams) (*models.Series, error) {
	urlParams := url.Values{}
	urlParams.Set("interval", "1m")
	if !params.From.IsZero() {
		urlParams.Set("from", strconv.FormatInt(params.From.Unix(), 10))
	}
	if !params.To.IsZero() {
		urlParams.Set("to", strconv.FormatInt(params.To.Unix(), 10))
	}

	path := fmt.Sprintf("/intraday/%s", c.ticker(symbol))

	var bars []intradayBarResponse
	if err := c.get(ctx, path, urlParams, &bars); err != nil {
		return nil, err
	}

	series := models.NewSeries(symbol)
	for _, bar := range bars {
		if bar.Timestamp == 0 {
			continue
		}
		ts := time.Unix(bar.Timestamp, 0).UTC()
		if err := series.Append(ts, []float64{
			float64(bar.Open), float64(bar.High), float64(bar.Low), float64(bar.Close), float64(bar.Volume),
		}); err != nil {
			c.logger.Warn().Str("symbol", symbol).Int64("timestamp", bar.Timestamp).Msg("Skipping out-of-order intraday bar")
		}
	}

	return series, nil
}

// eodBarResponse represents the API response for EOD data
type eodBarResponse struct {
	Date          string      `json:"date"`
	Open          flexFloat64 `json:"open"`
	High          flexFloat64 `json:"high"`
	Low           flexFloat64 `json:"low"`
	Close         flexFloat64 `json:"close"`
	AdjustedClose flexFloat64 `json:"adjusted_close"`
	Volume        flexFloat64 `json:"volume"`
}

// intradayBarResponse represents the API response for intraday data
type intradayBarResponse struct {
	Timestamp int64       `json:"timestamp"`
	Datetime  string      `json:"datetime"`
	Open      flexFloat64 `json:"open"`
	High      flexFloat64 `json:"high"`
	Low       flexFloat64 `json:"low"`
	Close     flexFloat64 `json:"close"`
	Volume    flexFloat64 `json:"volume"`
}
