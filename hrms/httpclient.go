package hrms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// maxResponseBytes bounds how much of an upstream response we read.
const maxResponseBytes = 10 << 20

// authFunc attaches provider credentials to an outbound request.
type authFunc func(*http.Request)

func bearerAuth(token string) authFunc {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func basicAuth(user, pass string) authFunc {
	return func(req *http.Request) {
		req.SetBasicAuth(user, pass)
	}
}

// authFor picks the auth scheme the credentials support. BambooHR keys
// go out as the basic-auth username with a placeholder password.
func authFor(source string, creds Credentials) authFunc {
	switch {
	case source == SourceBambooHR && creds.Token != "":
		return basicAuth(creds.Token, "x")
	case creds.Token != "":
		return bearerAuth(creds.Token)
	default:
		return basicAuth(creds.ClientID, creds.ClientSecret)
	}
}

// apiClient wraps upstream provider calls with error classification so
// the poller can tell auth failures from transient ones.
type apiClient struct {
	source string
	base   string
	auth   authFunc
	client *http.Client
}

func newAPIClient(cfg Config) *apiClient {
	return &apiClient{
		source: cfg.Source,
		base:   cfg.TenantURL,
		auth:   authFor(cfg.Source, cfg.Credentials),
		client: &http.Client{Timeout: cfg.httpTimeout()},
	}
}

// getJSON fetches path under the tenant base URL and decodes the body
// into out. Non-2xx statuses come back as classified errors.
func (a *apiClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := a.base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building %s request: %w", a.source, err)
	}
	req.Header.Set("Accept", "application/json")
	a.auth(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return classifyTransport(a.source, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return NewNetworkError(a.source, fmt.Errorf("reading response: %w", err))
	}

	if err := classifyStatus(a.source, resp, body); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", a.source, err)
	}
	return nil
}

// classifyTransport maps transport-level failures onto the retryable
// error types. Deadline overruns become timeouts, everything else a
// network error.
func classifyTransport(source string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return NewTimeoutError(source, err)
	}
	return NewNetworkError(source, err)
}

// classifyStatus maps HTTP statuses onto the adapter error taxonomy:
// 401 auth, 403 permission, 429 rate limit with Retry-After, 5xx network.
func classifyStatus(source string, resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return NewAuthError(source, fmt.Errorf("status 401: %s", truncate(body, 200)))
	case resp.StatusCode == http.StatusForbidden:
		return NewPermissionError(source, fmt.Errorf("status 403: %s", truncate(body, 200)))
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewRateLimitError(source, retryAfter(resp), fmt.Errorf("status 429: %s", truncate(body, 200)))
	case resp.StatusCode >= 500:
		return NewNetworkError(source, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200)))
	default:
		return fmt.Errorf("%s returned unexpected status %d: %s", source, resp.StatusCode, truncate(body, 200))
	}
}

// retryAfter parses the Retry-After header, defaulting to one minute
// when the provider omitted or garbled it.
func retryAfter(resp *http.Response) time.Duration {
	const fallback = time.Minute

	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return fallback
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
