// Package helloapi calls the portal's one protected endpoint with a fresh
// bearer token.
package helloapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	flowerrs "github.com/mikecbrant/connectiv-portal/internal/portal/errors"
	"github.com/mikecbrant/connectiv-portal/internal/portal/session"
	"github.com/mikecbrant/connectiv-portal/internal/utils/logging"
)

// SessionGuard re-confirms session validity immediately before a protected
// call. The auth state machine implements it.
type SessionGuard interface {
	EnsureFreshSession(ctx context.Context) (session.Session, error)
}

// Client performs the protected GET /hello call.
type Client struct {
	baseURL string
	guard   SessionGuard
	http    *http.Client
	logger  logging.Logger
	now     func() time.Time

	mu   sync.Mutex
	last string
	has  bool
}

// New returns a Client for the given API base URL (no trailing slash). A nil
// httpClient falls back to http.DefaultClient; a nil logger discards logs.
func New(baseURL string, guard SessionGuard, httpClient *http.Client, logger logging.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Client{baseURL: baseURL, guard: guard, http: httpClient, logger: logger, now: time.Now}
}

// Call issues the protected request for the given year. The session is
// re-validated first; on a guard failure no HTTP request is issued. The parsed
// JSON body is re-rendered pretty-printed, latched as the last response, and
// returned.
func (c *Client) Call(ctx context.Context, year int) (string, error) {
	sess, err := c.guard.EnsureFreshSession(ctx)
	if err != nil {
		return "", err
	}

	// The timestamp parameter defeats intermediate caches between the client
	// and the endpoint.
	params := url.Values{}
	params.Set("year_to_process", strconv.Itoa(year))
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	endpoint := c.baseURL + "/hello?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", flowerrs.Wrap(flowerrs.ApiError, err)
	}
	// The token is re-read from the just-validated session, never a stale copy.
	req.Header.Set("Authorization", "Bearer "+sess.IDToken)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("helloapi.call", logging.Fields{"year": year, "error": err.Error()})
		return "", flowerrs.Wrap(flowerrs.ApiError, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", flowerrs.Wrap(flowerrs.ApiError, err)
	}
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.logger.Debug("helloapi.call", logging.Fields{"year": year, "status": resp.StatusCode, "error": "non-JSON body"})
		return "", flowerrs.Wrap(flowerrs.ApiError, fmt.Errorf("response is not JSON: %w", err))
	}
	pretty, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return "", flowerrs.Wrap(flowerrs.ApiError, err)
	}
	c.logger.Debug("helloapi.call", logging.Fields{"year": year, "status": resp.StatusCode})

	rendered := string(pretty)
	c.mu.Lock()
	c.last = rendered
	c.has = true
	c.mu.Unlock()
	return rendered, nil
}

// LastResponse returns the latched display payload from the most recent
// successful call.
func (c *Client) LastResponse() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.has
}

// Clear drops the latched payload. The auth state machine calls this on
// sign-out.
func (c *Client) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = ""
	c.has = false
}
