// Package yahoo provides a client for the Yahoo Finance chart API
package yahoo

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

const (
	DefaultBaseURL   = "https://query1.finance.yahoo.com"
	DefaultSuffix    = ".NS"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5 // requests per second
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Client implements the MarketDataClient interface using the public chart endpoint.
// No API key is required.
type Client struct {
	baseURL    string
	suffix     string
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

// WithSuffix sets the exchange suffix appended to bare symbols (".NS" for NSE, ".BO" for BSE)
func WithSuffix(suffix string) ClientOption {
	return func(c *Client) {
		c.suffix = suffix
	}
}

// WithLocation sets the exchange timezone daily bars are anchored to
func WithLocation(loc *time.Location) ClientOption {
	return func(c *Client) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// NewClient creates a new Yahoo chart API client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		suffix:  DefaultSuffix,
		loc:     time.UTC,
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
	return fmt.Sprintf("Yahoo chart API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// chartResponse is the response structure of the chart API
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (c *Client) ticker(symbol string) string {
	if strings.ContainsAny(symbol, ".^") || c.suffix == "" {
		return symbol
	}
	return symbol + c.suffix
}

// GetSeries retrieves daily or 1-minute bars. Null bars (halts, holidays) are skipped.
// Daily bars are stamped at midnight of their exchange-local date.
func (c *Client) GetSeries(ctx context.Context, symbol string, opts ...interfaces.SeriesOption) (*models.Series, error) {
	params := interfaces.ApplySeriesOptions(opts...)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	q := url.Values{}
	if params.Intraday {
		q.Set("interval", "1m")
	} else {
		q.Set("interval", "1d")
	}
	if params.From.IsZero() {
		if params.Intraday {
			q.Set("range", "5d")
		} else {
			q.Set("range", "1y")
		}
	} else {
		to := params.To
		if to.IsZero() {
			to = time.Now()
		}
		q.Set("period1", strconv.FormatInt(params.From.Unix(), 10))
		q.Set("period2", strconv.FormatInt(to.Unix(), 10))
	}

	path := "/v8/finance/chart/" + url.PathEscape(c.ticker(symbol))
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("symbol", symbol).Bool("intraday", params.Intraday).Msg("Yahoo chart API request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Dur("elapsed", elapsed).Msg("Yahoo chart API request failed")
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body), Endpoint: path}
	}

	var chart chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&chart); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if chart.Chart.Error != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: chart.Chart.Error.Description, Endpoint: path}
	}

	series := models.NewSeries(symbol)
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return series, nil
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	for i, ts := range result.Timestamp {
		o, h, l, cl := at(quote.Open, i), at(quote.High, i), at(quote.Low, i), at(quote.Close, i)
		if o == nil || h == nil || l == nil || cl == nil {
			continue
		}
		vol := 0.0
		if v := at(quote.Volume, i); v != nil {
			vol = *v
		}

		t := time.Unix(ts, 0).UTC()
		if !params.Intraday {
			y, m, d := t.In(c.loc).Date()
			t = time.Date(y, m, d, 0, 0, 0, 0, c.loc)
		}
		if last, ok := series.LastTimestamp(); ok && !t.After(last) {
			// Yahoo repeats the live bar at the end of a daily range; keep the newest values
			if t.Equal(last) {
				series.Rows[len(series.Rows)-1] = []float64{*o, *h, *l, *cl, vol}
			}
			continue
		}
		series.Index = append(series.Index, t)
		series.Rows = append(series.Rows, []float64{*o, *h, *l, *cl, vol})
	}

	c.logger.Debug().Str("symbol", symbol).Int("bars", series.Len()).Int("status", resp.StatusCode).Dur("elapsed", elapsed).Msg("Yahoo chart API call")
	return series, nil
}

func at(vals []*float64, i int) *float64 {
	if i < len(vals) {
		return vals[i]
	}
	return nil
}
