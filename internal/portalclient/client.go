// Package portalclient talks to the portal origin server and to a remote
// cache worker's control endpoint.
package portalclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/marcus/portal/internal/portal"
	"github.com/marcus/portal/internal/worker"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

const (
	// SavePath is the save endpoint.
	SavePath = "/save-config"
	// ConfigPath is the configuration resource.
	ConfigPath = worker.ConfigPath
)

// Client is an HTTP client for the portal origin.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client. A nil transport uses http.DefaultTransport; pass a
// *worker.Worker to route requests through the cache worker.
func New(baseURL string, transport http.RoundTripper) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second, Transport: transport},
	}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

// SaveRequest is the body of the save endpoint.
type SaveRequest struct {
	Auth   portal.Credential `json:"auth"`
	Config portal.Config     `json:"config"`
}

// SaveResponse is the success body of the save endpoint.
type SaveResponse struct {
	Status    string `json:"status"`
	Success   bool   `json:"success"`
	Path      string `json:"path"`
	Timestamp string `json:"timestamp"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchConfig downloads the configuration resource with a cache-busting
// query so intermediaries never answer from a stale copy. The worker, when
// it is the transport, still applies its own policy.
func (c *Client) FetchConfig(ctx context.Context) (portal.Config, error) {
	q := url.Values{}
	q.Set("cacheBust", strconv.FormatInt(time.Now().UnixNano(), 36))
	raw, err := c.get(ctx, ConfigPath+"?"+q.Encode())
	if err != nil {
		return portal.Config{}, err
	}
	cfg, err := portal.Parse(raw)
	if err != nil {
		return portal.Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to the server. A credential mismatch is reported as
// ErrUnauthorized wrapped with the server's message.
func (c *Client) SaveConfig(ctx context.Context, auth portal.Credential, cfg portal.Config) (*SaveResponse, error) {
	var resp SaveResponse
	if err := c.do(ctx, http.MethodPost, SavePath, SaveRequest{Auth: auth, Config: cfg}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Schema downloads the JSON Schema of the configuration.
func (c *Client) Schema(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/config.schema.json")
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	return doJSON(ctx, c.HTTP, method, c.BaseURL+path, body, result)
}

func doJSON(ctx context.Context, hc *http.Client, method, target string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || (apiErr.Code == "" && apiErr.Message == "") {
			apiErr.Message = string(bytes.TrimSpace(respBody))
		}
		apiErr.Status = resp.StatusCode
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %w", ErrUnauthorized, apiErr)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrNotFound, apiErr)
		default:
			return apiErr
		}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &APIError{Status: resp.StatusCode, Message: "unexpected status"}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
