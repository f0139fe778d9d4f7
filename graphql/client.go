package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const defaultTimeout = 30 * time.Second

// HTTPError is returned when the endpoint answers with an error status and
// a body that is not a GraphQL envelope.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GraphQL endpoint error (status %d): %s", e.StatusCode, e.Body)
}

// Client executes GraphQL operations over HTTP
type Client struct {
	endpoint    string
	apiKey      string
	timeout     time.Duration
	tokenSource oauth2.TokenSource
	httpClient  *http.Client
	logger      logrus.FieldLogger
}

// Option configures a Client
type Option func(*Client)

// WithAPIKey authenticates every request with the x-api-key header
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithTokenSource authenticates every request with a bearer token
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) { c.tokenSource = ts }
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger used for request tracing
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a GraphQL client for endpoint. No request is made.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		timeout:  defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	if c.tokenSource != nil {
		base := c.httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		c.httpClient = &http.Client{
			Timeout: c.httpClient.Timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.ReuseTokenSource(nil, c.tokenSource),
				Base:   base,
			},
		}
	}
	if c.logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		c.logger = discard
	}

	return c
}

// Query runs a query and reports the result through exactly one callback
func (c *Client) Query(ctx context.Context, req *Request, onResponse ResponseConsumer, onFailure FailureConsumer) {
	go c.execute(ctx, req, onResponse, onFailure)
}

// Mutate runs a mutation and reports the result through exactly one callback
func (c *Client) Mutate(ctx context.Context, req *Request, onResponse ResponseConsumer, onFailure FailureConsumer) {
	go c.execute(ctx, req, onResponse, onFailure)
}

func (c *Client) execute(ctx context.Context, req *Request, onResponse ResponseConsumer, onFailure FailureConsumer) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		onFailure(err)
		return
	}
	onResponse(resp)
}

// Do performs a GraphQL request synchronously
func (c *Client) Do(ctx context.Context, req *Request) (*RawResponse, error) {
	jsonBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("x-api-key", c.apiKey)
	}

	c.logger.WithField("operation", req.OperationName).Debug("Sending GraphQL request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to perform request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var out RawResponse
	if resp.StatusCode >= 400 {
		// Authorization and validation failures still come back as a
		// GraphQL envelope; only fall back to HTTPError without one.
		if err := json.Unmarshal(bodyBytes, &out); err == nil && len(out.Errors) > 0 {
			return &out, nil
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"operation": req.OperationName,
		"errors":    len(out.Errors),
	}).Debug("Received GraphQL response")

	return &out, nil
}
