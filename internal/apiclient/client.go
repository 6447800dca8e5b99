package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/time/rate"
)

const userAgent = "TwifeshStreamGo"

// RequestError carries the upstream status and body for a non-success response.
type RequestError struct {
	Op     string
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, e.Body)
}

// Client signs and executes every outbound request against the provider API.
// It is constructed once at startup and passed explicitly to each component
// so no credential lives in package-level state.
type Client struct {
	baseURL string
	token   string

	http   *http.Client
	stream *http.Client // no timeout: carries the long-lived feed connection

	readExec      failsafe.Executor[*http.Response]
	detailLimiter *rate.Limiter
}

// New builds a client for the given API root. detailRate paces enrichment
// calls (requests per second) so per-event fetches do not provoke throttling.
func New(baseURL, token string, detailRate float64) *Client {
	if detailRate <= 0 {
		detailRate = 1
	}

	// Retry transient failures on the read-only endpoints. 429 is excluded:
	// rate limits must surface to the caller, never be hammered through.
	policy := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(500*time.Millisecond, 8*time.Second).
		WithMaxRetries(3).
		WithJitterFactor(0.1).
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp != nil && resp.StatusCode >= 500
		}).
		Build()

	return &Client{
		baseURL:       baseURL,
		token:         token,
		http:          &http.Client{Timeout: 30 * time.Second},
		stream:        &http.Client{},
		readExec:      failsafe.With(policy),
		detailLimiter: rate.NewLimiter(rate.Limit(detailRate), 1),
	}
}

// sign is the single authorization hook shared by all request paths.
func (c *Client) sign(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", userAgent)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.sign(req)
	return req, nil
}

// Get executes a plain GET with no automatic retry. Used by the rule
// endpoint, where a failure is fatal to the session and must not be masked.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

// GetRead executes a GET through the retry executor. Used by the
// profile/timeline read paths where transient upstream errors are retried.
func (c *Client) GetRead(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	return c.readExec.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
		if err != nil {
			return nil, err
		}
		return c.http.Do(req)
	})
}

// GetPaced waits on the detail-fetch limiter, then executes a plain GET.
func (c *Client) GetPaced(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	if err := c.detailLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.Get(ctx, path, query)
}

// Post sends a JSON body. Used by the rule add/delete operations.
func (c *Client) Post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

// Stream opens a long-lived GET whose response body is read line by line.
// The underlying client has no timeout; cancellation comes from ctx.
func (c *Client) Stream(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	return c.stream.Do(req)
}

// Err drains the response body and builds a RequestError for op.
func Err(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &RequestError{Op: op, Status: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
}
