// Package agent implements the HTTP client for the remote
// discovery/mapping agent. The client is rate limited so that many
// concurrent poll loops cannot overwhelm the agent's status endpoint.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 10
)

// Client is an agent API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// NewClient creates a new agent API client.
func NewClient(baseURL, apiKey string, opts ...ClientOption) interfaces.AgentService {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// StartDiscovery submits an environment crawl job.
func (c *Client) StartDiscovery(ctx context.Context, targetID int, opts models.DiscoveryOptions) (string, error) {
	var result startResponse
	body := startDiscoveryRequest{TargetID: targetID, Options: opts}
	if err := c.post(ctx, "/api/discovery/start", body, &result); err != nil {
		return "", err
	}
	if result.JobID == "" {
		return "", fmt.Errorf("agent returned empty job id for discovery start")
	}
	return result.JobID, nil
}

// StartMapping submits a per-form mapping job.
func (c *Client) StartMapping(ctx context.Context, targetID int) (string, error) {
	var result startResponse
	body := startMappingRequest{TargetID: targetID}
	if err := c.post(ctx, "/api/mapping/start", body, &result); err != nil {
		return "", err
	}
	if result.JobID == "" {
		return "", fmt.Errorf("agent returned empty job id for mapping start")
	}
	return result.JobID, nil
}

// JobStatus fetches the status snapshot for a remote job.
func (c *Client) JobStatus(ctx context.Context, remoteJobID string) (*models.JobStatusSnapshot, error) {
	var result models.JobStatusSnapshot
	path := "/api/jobs/" + url.PathEscape(remoteJobID) + "/status"
	if err := c.get(ctx, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelJob requests cancellation of a remote job.
func (c *Client) CancelJob(ctx context.Context, remoteJobID string) error {
	var result cancelResponse
	path := "/api/jobs/" + url.PathEscape(remoteJobID) + "/cancel"
	return c.post(ctx, path, nil, &result)
}

// ActiveJobs lists jobs still executing for a project.
func (c *Client) ActiveJobs(ctx context.Context, project string) ([]models.ActiveJob, error) {
	params := url.Values{}
	params.Set("project", project)

	var result activeJobsResponse
	if err := c.get(ctx, "/api/jobs/active", params, &result); err != nil {
		return nil, err
	}
	return result.Jobs, nil
}

// get performs a GET request to the agent API.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.do(req, path, result)
}

// post performs a POST request with a JSON body to the agent API.
func (c *Client) post(ctx context.Context, path string, body interface{}, result interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, path, result)
}

// do waits for the rate limiter, executes the request and decodes the response.
func (c *Client) do(req *http.Request, endpoint string, result interface{}) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return &RateLimitError{RetryAfter: time.Second}
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	if c.logger != nil {
		c.logger.Trace().
			Str("method", req.Method).
			Str("endpoint", endpoint).
			Msg("Agent API request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   endpoint,
		}
	}

	if result == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
