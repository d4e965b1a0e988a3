// Package ollama provides a client for the local inference server and the
// lifecycle manager that pulls, loads and unloads its models.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultURL is the address the inference server listens on out of the box.
	DefaultURL = "http://localhost:11434"

	// DefaultTimeout bounds a single generate call. Large models on CPU are slow.
	DefaultTimeout = 10 * time.Minute

	// maxStreamLine is the largest streamed status line accepted from /api/pull.
	maxStreamLine = 1 << 20
)

// StatusError is returned when the inference server answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference server returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// StreamError is an error field reported inside a response payload.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "inference server error: " + e.Message
}

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	Stream bool   `json:"stream"`
	// KeepAlive is a duration string such as "0s"; empty leaves the server default.
	KeepAlive string `json:"keep_alive,omitempty"`
	// Format constrains the output, either "json" or a JSON schema object.
	Format json.RawMessage `json:"format,omitempty"`
}

// GenerateResult is a decoded /api/generate reply.
type GenerateResult struct {
	// Response is the generated text. Empty when HasResponse is false.
	Response    string
	HasResponse bool
	// Raw is the complete payload as received.
	Raw json.RawMessage
}

// Text returns the response field, falling back to the whole payload when the
// server omitted it.
func (r *GenerateResult) Text() string {
	if r.HasResponse {
		return r.Response
	}
	return string(r.Raw)
}

// PullProgress is one streamed status object from /api/pull.
type PullProgress struct {
	Status    string `json:"status,omitempty"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RunningModel is an entry of GET /api/ps.
type RunningModel struct {
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Client talks to the inference server over its HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for the server at baseURL. A nil httpClient gets
// one with DefaultTimeout.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    normalizeURL(baseURL),
		httpClient: httpClient,
		logger:     logger,
	}
}

// normalizeURL strips a trailing slash and an /api suffix so both
// "http://host:11434" and "http://host:11434/api/" work.
func normalizeURL(u string) string {
	u = strings.TrimRight(u, "/")
	u = strings.TrimSuffix(u, "/api")
	return u
}

// BaseURL returns the normalized server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Generate calls /api/generate and waits for the complete reply. Non-streaming
// requests are forced; an error field in the payload is returned as a StreamError.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	body := *req
	body.Stream = false

	resp, err := c.post(ctx, "/api/generate", &body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read generate response: %w", err)
	}

	var payload struct {
		Response *string `json:"response"`
		Error    string  `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode generate response: %w", err)
	}
	if payload.Error != "" {
		return nil, &StreamError{Message: payload.Error}
	}

	result := &GenerateResult{Raw: raw}
	if payload.Response != nil {
		result.Response = *payload.Response
		result.HasResponse = true
	}
	return result, nil
}

// Pull calls /api/pull and consumes the newline-delimited status stream. fn,
// if non-nil, is called with every status object. The first error field
// aborts the pull.
func (c *Client) Pull(ctx context.Context, model string, fn func(PullProgress)) error {
	resp, err := c.post(ctx, "/api/pull", map[string]string{"name": model})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var progress PullProgress
		if err := json.Unmarshal(line, &progress); err != nil {
			return fmt.Errorf("failed to decode pull status: %w", err)
		}
		if progress.Error != "" {
			return &StreamError{Message: progress.Error}
		}
		if fn != nil {
			fn(progress)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read pull stream: %w", err)
	}
	return nil
}

// Running lists the models currently resident in memory.
func (c *Client) Running(ctx context.Context) ([]RunningModel, error) {
	var out struct {
		Models []RunningModel `json:"models"`
	}
	if err := c.getJSON(ctx, "/api/ps", &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// Version returns the server's reported version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.getJSON(ctx, "/api/version", &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// do sends req and turns non-2xx replies into a StatusError. The caller owns
// the body of a successful response.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	c.logger.Debug("inference request", "method", req.Method, "path", req.URL.Path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", req.URL.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: extractErrorMessage(body)}
	}
	return resp, nil
}

// extractErrorMessage prefers the "error" field of a JSON body.
func extractErrorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

// isRetryable reports whether err is transient: a transport failure, 429 or 5xx.
// Errors carried in the payload and other statuses are final.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var streamErr *StreamError
	if errors.As(err, &streamErr) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
