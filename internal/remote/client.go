package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry policy for transient failures: exponential backoff starting at
// 500ms, doubling, capped at 30s, at most 5 attempts. A Retry-After header
// on a 429 overrides the computed delay.
const (
	baseBackoff = 500 * time.Millisecond
	maxBackoff  = 30 * time.Second
	maxAttempts = 5

	userAgent  = "basesync/0.1"
	apiVersion = "2025-09-03"
)

// TokenSource provides bearer tokens. Defined at the consumer per Go
// convention "accept interfaces, return structs"; the CLI wires a
// StaticToken from the configured credential handle.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token() (string, error) {
	if s == "" {
		return "", fmt.Errorf("remote: empty credential")
	}

	return string(s), nil
}

// Client is an HTTP client for the remote store API. It handles request
// construction, authentication, retry with exponential backoff, and error
// classification.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
}

// NewClient creates a remote store client.
// baseURL is typically "https://api.example.com" without a trailing slash.
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
	}
}

// apiErrorBody is the JSON error envelope the API returns on failure.
type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// do executes one API call with retry, encoding body to JSON when non-nil
// and decoding the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte

	if body != nil {
		var err error

		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: encoding %s %s body: %w", method, path, err)
		}
	}

	// retryAfterHint carries a server-provided delay from the attempt into
	// the backoff calculation.
	var retryAfterHint time.Duration

	backoff := withServerHint(&retryAfterHint,
		retry.WithCappedDuration(maxBackoff, retry.NewExponential(baseBackoff)))
	backoff = retry.WithMaxRetries(maxAttempts-1, backoff)

	attempt := 0

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		retryAfterHint = 0

		attemptErr := c.doOnce(ctx, method, path, payload, out, &retryAfterHint)
		if attemptErr == nil {
			return nil
		}

		if ctx.Err() != nil {
			return fmt.Errorf("remote: request canceled: %w", ctx.Err())
		}

		if IsTransient(attemptErr) {
			c.logger.Warn("retrying remote request",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("attempt", attempt),
				slog.String("error", attemptErr.Error()),
			)

			return retry.RetryableError(attemptErr)
		}

		return attemptErr
	})
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, err)
	}

	return nil
}

// doOnce executes a single HTTP request (no retry) and decodes the result.
func (c *Client) doOnce(
	ctx context.Context, method, path string, payload []byte, out any, retryAfterHint *time.Duration,
) error {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return fmt.Errorf("obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("API-Version", apiVersion)

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)

		if out == nil {
			return nil
		}

		if decodeErr := json.NewDecoder(resp.Body).Decode(out); decodeErr != nil {
			return fmt.Errorf("decoding response: %w", decodeErr)
		}

		return nil
	}

	errBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, parseErr := strconv.Atoi(ra); parseErr == nil && seconds > 0 {
				*retryAfterHint = time.Duration(seconds) * time.Second
			}
		}
	}

	var parsed apiErrorBody
	_ = json.Unmarshal(errBody, &parsed)

	if parsed.Message == "" {
		parsed.Message = string(errBody)
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("request-id"),
		Code:       parsed.Code,
		Message:    parsed.Message,
		Err:        classifyStatus(resp.StatusCode),
	}
}

// withServerHint wraps a backoff so a server-provided Retry-After delay
// replaces the computed one for the next attempt.
func withServerHint(hint *time.Duration, next retry.Backoff) retry.Backoff {
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := next.Next()
		if stop {
			return 0, true
		}

		if *hint > 0 {
			d = *hint
		}

		return d, false
	})
}
