// Package remote holds the HTTP plumbing shared by the chat and speech
// backend clients: a JSON POST helper and the error taxonomy every remote
// call reports.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const DefaultTimeout = 60 * time.Second

// NewHTTPClient returns an HTTP client whose requests are traced.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the backend at baseURL. A nil httpClient is
// replaced by [NewHTTPClient] with [DefaultTimeout].
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTimeout)
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// PostJSON sends in as a JSON body to path and decodes a successful response
// into out. Failures are reported as [ErrInvalidRequest], [*TransportError],
// [*BackendError] or [*DecodeError]; op names the call in error messages.
func (c *Client) PostJSON(ctx context.Context, op string, path string, in any, out any) error {
	requestBodyBytes, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: %w: error marshalling JSON: %v", op, ErrInvalidRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(requestBodyBytes))
	if err != nil {
		return fmt.Errorf("%s: %w: error creating HTTP request: %v", op, ErrInvalidRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("error reading response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &BackendError{Op: op, StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	return nil
}
