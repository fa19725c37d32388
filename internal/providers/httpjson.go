package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"slidecast/internal/domain"
	"slidecast/internal/infra"
)

// HTTPOptions configures a JSONClient.
type HTTPOptions struct {
	Provider       domain.ProviderType
	BaseURL        string
	Headers        map[string]string
	HTTPClient     *http.Client
	RatePerSecond  int
	RequestTimeout time.Duration
	Logger         *infra.Logger
}

// JSONClient performs paced JSON requests against a provider API and
// classifies failures into the provider error taxonomy.
type JSONClient struct {
	provider   domain.ProviderType
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *infra.Logger
}

// NewJSONClient applies defaults: 30s timeout, unlimited rate when RatePerSecond <= 0.
func NewJSONClient(opts HTTPOptions) *JSONClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.RatePerSecond)
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &JSONClient{
		provider:   opts.Provider,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		headers:    opts.Headers,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
	}
}

// HTTPClient exposes the underlying client for result downloads.
func (c *JSONClient) HTTPClient() *http.Client { return c.httpClient }

// Do sends in (if non-nil) as JSON and decodes a 2xx response into out (if non-nil).
// op names the operation in returned errors.
func (c *JSONClient) Do(ctx context.Context, op, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return c.transient(op, err)
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return c.terminal(op, "encode request", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return c.terminal(op, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transient(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return c.transient(op, fmt.Errorf("read response: %w", err))
	}
	c.logger.Debug().
		Str("provider", string(c.provider)).
		Str("op", op).
		Int("status", resp.StatusCode).
		Msg("providers: http call")

	if resp.StatusCode >= 300 {
		return c.classify(op, resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return c.terminal(op, "decode response", err)
	}
	return nil
}

func (c *JSONClient) classify(op string, status int, raw []byte) error {
	detail := errorDetail(raw)
	err := fmt.Errorf("%s: status %d: %s", c.provider, status, detail)
	if IsTransientStatus(status) {
		return c.transient(op, err)
	}
	return &domain.TerminalProviderError{Provider: c.provider, Op: op, Message: detail, Err: err}
}

func (c *JSONClient) transient(op string, err error) error {
	return &domain.TransientProviderError{Provider: c.provider, Op: op, Err: err}
}

func (c *JSONClient) terminal(op, msg string, err error) error {
	return &domain.TerminalProviderError{Provider: c.provider, Op: op, Message: msg, Err: err}
}

// IsTransientStatus reports whether an HTTP status is worth retrying.
func IsTransientStatus(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500
}

// ClassifyError wraps an arbitrary adapter error for provider. Errors that
// are already classified pass through; deadline and unknown errors are transient.
func ClassifyError(provider domain.ProviderType, op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsTransient(err) || domain.IsTerminal(err) {
		return err
	}
	return &domain.TransientProviderError{Provider: provider, Op: op, Err: err}
}

// errorDetail extracts a human message from common error body shapes.
func errorDetail(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		switch e := body.Error.(type) {
		case string:
			if e != "" {
				return e
			}
		case map[string]any:
			if m, ok := e["message"].(string); ok && m != "" {
				return m
			}
		}
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "empty response"
	}
	if len(text) > 300 {
		text = text[:300]
	}
	return text
}

var errEmptyHandle = errors.New("provider returned no job handle")

// RequireHandle turns an empty handle into a terminal error.
func RequireHandle(provider domain.ProviderType, handle string) (string, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return "", &domain.TerminalProviderError{Provider: provider, Op: "submit", Message: errEmptyHandle.Error(), Err: errEmptyHandle}
	}
	return handle, nil
}
