// Package github dispatches the CI workflow that regenerates snapshot history
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bobmcallan/stockcache/internal/common"
	"github.com/bobmcallan/stockcache/internal/interfaces"
)

const (
	DefaultAPIURL  = "https://api.github.com"
	DefaultRef     = "main"
	DefaultTimeout = 15 * time.Second
)

// Client implements the WorkflowDispatcher interface via the workflow_dispatch REST endpoint
type Client struct {
	apiURL     string
	token      string
	owner      string
	repo       string
	workflow   string
	ref        string
	inputs     map[string]string
	httpClient *http.Client
	logger     *common.Logger
}

var _ interfaces.WorkflowDispatcher = (*Client)(nil)

// ClientOption configures the client
type ClientOption func(*Client)

// WithAPIURL sets the API base URL
func WithAPIURL(apiURL string) ClientOption {
	return func(c *Client) {
		c.apiURL = strings.TrimRight(apiURL, "/")
	}
}

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

// WithRef sets the branch the workflow runs on
func WithRef(ref string) ClientOption {
	return func(c *Client) {
		if ref != "" {
			c.ref = ref
		}
	}
}

// WithInputs sets extra workflow inputs sent with every dispatch
func WithInputs(inputs map[string]string) ClientOption {
	return func(c *Client) {
		c.inputs = inputs
	}
}

// NewClient creates a dispatcher for owner/repo's workflow (file name or id)
func NewClient(token, owner, repo, workflow string, opts ...ClientOption) *Client {
	c := &Client{
		apiURL:   DefaultAPIURL,
		token:    strings.TrimSpace(token),
		owner:    owner,
		repo:     repo,
		workflow: workflow,
		ref:      DefaultRef,
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

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("GitHub API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// HasCredential reports whether a token and a target workflow are configured
func (c *Client) HasCredential() bool {
	return c.token != "" && c.owner != "" && c.repo != "" && c.workflow != ""
}

type dispatchRequest struct {
	Ref    string            `json:"ref"`
	Inputs map[string]string `json:"inputs,omitempty"`
}

// Dispatch issues one workflow_dispatch request. Any 2xx is an acknowledgement
// (GitHub answers 204); everything else is returned as an *APIError.
func (c *Client) Dispatch(ctx context.Context, inputs map[string]string) error {
	if !c.HasCredential() {
		return fmt.Errorf("workflow dispatch is not configured")
	}

	merged := make(map[string]string, len(c.inputs)+len(inputs))
	for k, v := range c.inputs {
		merged[k] = v
	}
	for k, v := range inputs {
		merged[k] = v
	}

	body, err := json.Marshal(dispatchRequest{Ref: c.ref, Inputs: merged})
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch request: %w", err)
	}

	path := fmt.Sprintf("/repos/%s/%s/actions/workflows/%s/dispatches",
		url.PathEscape(c.owner), url.PathEscape(c.repo), url.PathEscape(c.workflow))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug().Str("workflow", c.workflow).Str("ref", c.ref).Msg("GitHub workflow dispatch request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: string(msg), Endpoint: path}
	}

	c.logger.Info().Str("workflow", c.workflow).Int("status", resp.StatusCode).Dur("elapsed", elapsed).Msg("GitHub workflow dispatched")
	return nil
}
