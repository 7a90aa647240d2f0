// Package clioapi wraps outbound calls to the Clio case-management API with
// credential lookup, transparent refresh, and retry classification.
package clioapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/richardslaw/clio-intake/internal/auth/token"
)

const (
	// refreshMargin is the safety window before expiry inside which the
	// access token is refreshed proactively instead of burning a 401.
	refreshMargin = 60 * time.Second

	requestTimeout = 30 * time.Second

	maxAttempts    = 3
	initialBackoff = 500 * time.Millisecond
)

// APIError describes a non-2xx response from the case-management API.
// 429 and 5xx responses are retryable with backoff; other 4xx responses
// (besides the internally handled 401) surface immediately.
type APIError struct {
	Status     int
	Retryable  bool
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("clio api error: status=%d retryable=%v: %s", e.Status, e.Retryable, e.Message)
}

// IsDuplicate reports whether the error is a duplicate-name rejection from a
// create call. The provisioner treats this as success and re-fetches.
func IsDuplicate(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Status != http.StatusBadRequest &&
		apiErr.Status != http.StatusConflict &&
		apiErr.Status != http.StatusUnprocessableEntity {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "taken") || strings.Contains(msg, "already exist") || strings.Contains(msg, "duplicate")
}

// Client is the authenticated HTTP client for the Clio API. Credentials are
// looked up per account on every call; the client holds no per-account state.
type Client struct {
	httpClient *http.Client
	tokens     *token.Store
	baseURL    string
}

// NewClient creates an authenticated client against the given API base URL.
func NewClient(tokens *token.Store, baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		tokens:     tokens,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// accessToken returns a usable access token for the account, refreshing when
// expiry falls inside the safety margin.
func (c *Client) accessToken(ctx context.Context, accountID string) (string, error) {
	cred, err := c.tokens.Get(accountID)
	if err != nil {
		return "", &token.AuthError{AccountID: accountID, Permanent: true, Err: err}
	}
	if time.Until(cred.ExpiresAt) < refreshMargin {
		cred, err = c.tokens.Refresh(ctx, accountID, cred.AccessToken)
		if err != nil {
			return "", err
		}
	}
	return cred.AccessToken, nil
}

// Do issues one authenticated request with bounded retries for retryable
// failures. The JSON response body is decoded into out when out is non-nil.
func (c *Client) Do(ctx context.Context, accountID, method, path string, query url.Values, body, out interface{}) error {
	backoff := initialBackoff
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := c.doOnce(ctx, accountID, method, path, query, body, out)
		if err == nil {
			return nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Retryable || attempt == maxAttempts-1 {
			return err
		}

		delay := backoff
		if apiErr.RetryAfter > 0 {
			delay = apiErr.RetryAfter
		}
		log.Printf("⚠️ %s %s returned %d, retrying in %s (attempt %d/%d)", method, path, apiErr.Status, delay, attempt+1, maxAttempts)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		backoff *= 2
	}
	return nil
}

// doOnce issues a single request, handling the 401 refresh-and-retry-once
// rule internally.
func (c *Client) doOnce(ctx context.Context, accountID, method, path string, query url.Values, body, out interface{}) error {
	accessToken, err := c.accessToken(ctx, accountID)
	if err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	resp, err := c.roundTrip(ctx, accessToken, method, path, query, payload)
	if err != nil {
		// Transport failures (timeouts included) are retryable.
		return &APIError{Status: 0, Retryable: true, Message: err.Error()}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// The remote rejected a token we believed valid: refresh once and
		// retry exactly once, then fail.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		cred, err := c.tokens.Refresh(ctx, accountID, accessToken)
		if err != nil {
			return err
		}
		resp, err = c.roundTrip(ctx, cred.AccessToken, method, path, query, payload)
		if err != nil {
			return &APIError{Status: 0, Retryable: true, Message: err.Error()}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp)
	}

	defer resp.Body.Close()
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, accessToken, method, path string, query url.Values, payload []byte) (*http.Response, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req)
}

// newAPIError drains the response into an APIError with retryability and
// rate-limit delay classification.
func newAPIError(resp *http.Response) *APIError {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	apiErr := &APIError{
		Status:    resp.StatusCode,
		Retryable: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		Message:   strings.TrimSpace(string(raw)),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		apiErr.RetryAfter = parseRetryDelay(resp.Header)
	}
	return apiErr
}
