// Package accounting is the HTTP client for the remote accounting API.
//
// The backend owns posting, ledger and tax logic. This package only moves
// requests and responses, throttles outbound traffic, and turns non-2xx
// answers into *APIError values with a normalized, displayable message.
package accounting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/config"
	"golang.org/x/time/rate"
)

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 32 << 20

// Client talks to the accounting backend. It is safe for concurrent use.
type Client struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	baseURL string
	token   string
}

// New creates a client from configuration.
func New(cfg config.APIConfig, logger *slog.Logger) *Client {
	c := NewWithBaseURL(cfg.BaseURL, logger)
	c.client.Timeout = cfg.Timeout
	c.token = cfg.Token
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1))
	}
	return c
}

// NewWithBaseURL creates an unthrottled client with a custom base URL (for testing).
func NewWithBaseURL(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger.With(slog.String("component", "accounting")),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// BaseURL returns the backend root this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// doJSON sends in (if non-nil) as JSON and decodes a 2xx body into out
// (if non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s %s request: %w", method, path, err)
		}
		body = bytes.NewReader(buf)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, body, contentType, nil, out)
}

// do performs one request. extraHeaders may be nil.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, extraHeaders http.Header, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &TransportError{Method: method, Path: path, Err: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, vs := range extraHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return &TransportError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &TransportError{Method: method, Path: path, Err: fmt.Errorf("reading response: %w", err)}
	}

	c.logger.Debug("backend call",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    NormalizeErrorPayload(data),
			Body:       data,
		}
		if resp.StatusCode >= 500 {
			c.logger.Warn("backend error",
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.String("message", apiErr.Message))
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s %s response: %w", method, path, err)
	}
	return nil
}
