// Package api implements a Provider that sends email through the Shoutbox
// HTTP API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shineum/shoutbox-go/email"
	"github.com/shineum/shoutbox-go/provider"
)

// DefaultEndpoint is the hosted send endpoint.
const DefaultEndpoint = "https://api.shoutbox.net/send"

// DefaultTimeout bounds a single send request.
const DefaultTimeout = 30 * time.Second

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 1 << 20

// Config holds the configuration for creating a Client.
type Config struct {
	// APIKey falls back to provider.APIKeyEnv when empty.
	APIKey   string
	Endpoint string
	Timeout  time.Duration
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Client sends messages with an authenticated POST to the send endpoint.
// A Client may be reused for sequential sends.
type Client struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

var _ provider.Provider = (*Client)(nil)

// New creates a Client. It fails if no API key can be resolved.
func New(cfg Config) (*Client, error) {
	key, err := provider.ResolveAPIKey(cfg.APIKey)
	if err != nil {
		return nil, err
	}

	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		}
	}

	return &Client{
		apiKey:     key,
		endpoint:   cfg.Endpoint,
		httpClient: httpClient,
	}, nil
}

// APIKey returns the resolved API key.
func (c *Client) APIKey() string { return c.apiKey }

// Endpoint returns the send endpoint URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Name returns the provider name.
func (c *Client) Name() string {
	return "api"
}

// Send posts the message's API payload. A 2xx reply yields a Result carrying
// the response body; any other status yields a *provider.APIError and a
// failed round trip yields a *provider.TransportError.
func (c *Client) Send(ctx context.Context, msg *email.Message) (*provider.Result, error) {
	bodyJSON, err := json.Marshal(msg.APIPayload())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	slog.Debug("sending message via Shoutbox API",
		"endpoint", c.endpoint,
		"recipients", len(msg.To()),
		"attachments", len(msg.Attachments()),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &provider.TransportError{Provider: c.Name(), Op: "request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &provider.TransportError{Provider: c.Name(), Op: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &provider.APIError{
			Provider:   c.Name(),
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	result := &provider.Result{
		Provider:   c.Name(),
		StatusCode: resp.StatusCode,
		Raw:        body,
	}

	var decoded map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &decoded); err == nil {
			result.Body = decoded
			if id, ok := decoded["id"].(string); ok {
				result.MessageID = id
			}
		} else {
			slog.Debug("Shoutbox API returned a non-JSON body", "status", resp.StatusCode)
		}
	}

	return result, nil
}

// Close releases idle pooled connections. The Client remains usable.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
