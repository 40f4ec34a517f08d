// Package ticks fetches the live-tick overlay document
package ticks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/bobmcallan/stockcache/internal/common"
	"github.com/bobmcallan/stockcache/internal/frame"
	"github.com/bobmcallan/stockcache/internal/interfaces"
	"github.com/bobmcallan/stockcache/internal/models"
)

const DefaultTimeout = 10 * time.Second

// maxDocumentBytes caps the overlay document; it is expected to be small.
const maxDocumentBytes = 32 << 20

// documentSchema is the JSON Schema every overlay document must satisfy
const documentSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["ticks"],
	"properties": {
		"generated_at": {"type": ["string", "number"]},
		"ticks": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"required": ["price", "timestamp"],
				"properties": {
					"price": {"type": "number", "exclusiveMinimum": 0},
					"volume": {"type": ["number", "null"], "minimum": 0},
					"timestamp": {"type": ["number", "string"]}
				}
			}
		}
	}
}`

var compiledSchema = mustCompile(documentSchema)

func mustCompile(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("tick overlay schema: %v", err))
	}
	return schema
}

// Client implements the TickSource interface
type Client struct {
	url        string
	maxAge     time.Duration
	loc        *time.Location
	now        func() time.Time
	httpClient *http.Client
	logger     *common.Logger
}

var _ interfaces.TickSource = (*Client)(nil)

// ClientOption configures the client
type ClientOption func(*Client)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithMaxAge sets how old a document may be before it is ignored
func WithMaxAge(maxAge time.Duration) ClientOption {
	return func(c *Client) {
		c.maxAge = maxAge
	}
}

// WithLocation sets the timezone used for zone-less timestamp strings
func WithLocation(loc *time.Location) ClientOption {
	return func(c *Client) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithClock overrides the wall clock used for the document age check
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a tick overlay client for the document at url
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:    url,
		maxAge: common.FreshnessTickOverlay,
		loc:    time.UTC,
		now:    time.Now,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type document struct {
	GeneratedAt any                  `json:"generated_at"`
	Ticks       map[string]tickEntry `json:"ticks"`
}

type tickEntry struct {
	Price     float64  `json:"price"`
	Volume    *float64 `json:"volume"`
	Timestamp any      `json:"timestamp"`
}

// FetchTicks downloads and validates the overlay document. A document older than
// the configured max age yields an empty set. Individual ticks with unusable
// timestamps are dropped.
func (c *Client) FetchTicks(ctx context.Context) (map[string]models.TickUpdate, error) {
	if c.url == "" {
		return map[string]models.TickUpdate{}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "max-age=0")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tick overlay: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read tick overlay: %w", err)
	}

	result, err := compiledSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("tick overlay is not valid JSON: %w", err)
	}
	if !result.Valid() {
		var sb strings.Builder
		for i, e := range result.Errors() {
			if i > 0 {
				sb.WriteString("; ")
			}
			sb.WriteString(e.String())
		}
		return nil, fmt.Errorf("tick overlay failed validation: %s", sb.String())
	}

	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode tick overlay: %w", err)
	}

	if doc.GeneratedAt != nil {
		generated, err := tickTime(doc.GeneratedAt, c.loc)
		if err == nil && c.maxAge > 0 && c.now().Sub(generated) > c.maxAge {
			c.logger.Info().Time("generated_at", generated).Dur("max_age", c.maxAge).Msg("Tick overlay is stale, ignoring")
			return map[string]models.TickUpdate{}, nil
		}
	}

	out := make(map[string]models.TickUpdate, len(doc.Ticks))
	for sym, entry := range doc.Ticks {
		ts, err := tickTime(entry.Timestamp, c.loc)
		if err != nil {
			c.logger.Debug().Str("symbol", sym).Err(err).Msg("Dropping tick with bad timestamp")
			continue
		}
		update := models.TickUpdate{Symbol: sym, Price: entry.Price, Timestamp: ts}
		if entry.Volume != nil {
			update.Volume = *entry.Volume
		}
		out[sym] = update
	}

	c.logger.Debug().Int("ticks", len(out)).Dur("elapsed", time.Since(start)).Msg("Tick overlay fetched")
	return out, nil
}

// tickTime accepts epoch seconds (or milliseconds when implausibly large) and timestamp strings.
func tickTime(v any, loc *time.Location) (time.Time, error) {
	if n, ok := v.(float64); ok {
		if n > 1e12 {
			return time.UnixMilli(int64(n)).UTC(), nil
		}
		return time.Unix(int64(n), 0).UTC(), nil
	}
	if s, ok := v.(string); ok {
		return frame.ParseTime(s, loc)
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %v", v)
}
