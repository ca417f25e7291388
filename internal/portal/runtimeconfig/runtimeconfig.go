// Package runtimeconfig loads the portal's deploy-time configuration document.
//
// The document is a small JSON object written next to the site bundle at deploy
// time (config.json). It is fetched exactly once per process; a failed fetch is
// terminal for the process lifetime and the caller must not construct any
// identity-provider or API client without a Config value.
package runtimeconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	flowerrs "github.com/mikecbrant/connectiv-portal/internal/portal/errors"
	"github.com/mikecbrant/connectiv-portal/internal/utils/logging"
)

// Config holds the three runtime parameters the portal needs. The JSON keys are
// the identifiers the deploy pipeline writes for the site bundle; this client
// consumes the same document.
type Config struct {
	UserPoolID string `json:"REACT_APP_COGNITO_USER_POOL_ID"`
	ClientID   string `json:"REACT_APP_COGNITO_USER_POOL_CLIENT_ID"`
	APIBaseURL string `json:"REACT_APP_API_GATEWAY_URL"`
}

// Validate checks that all required fields are present and normalizes the API
// base URL by trimming a trailing slash.
func (c *Config) Validate() error {
	if c.UserPoolID == "" {
		return fmt.Errorf("missing REACT_APP_COGNITO_USER_POOL_ID")
	}
	if c.ClientID == "" {
		return fmt.Errorf("missing REACT_APP_COGNITO_USER_POOL_CLIENT_ID")
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("missing REACT_APP_API_GATEWAY_URL")
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	return nil
}

// Loader fetches the configuration document once and latches the result.
type Loader struct {
	url    string
	client *http.Client
	logger logging.Logger

	once sync.Once
	cfg  Config
	err  error
}

// NewLoader returns a Loader for the given config URL. A nil httpClient falls
// back to http.DefaultClient; a nil logger discards logs.
func NewLoader(url string, httpClient *http.Client, logger logging.Logger) *Loader {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Loader{url: url, client: httpClient, logger: logger}
}

// Load fetches and parses the configuration document. The network fetch happens
// at most once; both the parsed value and a failure are latched, so every later
// call observes the first outcome without refetching.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	l.once.Do(func() {
		cfg, err := l.fetch(ctx)
		if err != nil {
			l.logger.Error("runtimeconfig.load", logging.Fields{"url": l.url, "error": err.Error()})
			l.err = flowerrs.Wrap(flowerrs.ConfigUnavailable, err)
			return
		}
		l.logger.Debug("runtimeconfig.load", logging.Fields{"url": l.url})
		l.cfg = cfg
	})
	return l.cfg, l.err
}

func (l *Loader) fetch(ctx context.Context) (Config, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return Config{}, fmt.Errorf("building config request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return Config{}, fmt.Errorf("fetching %s: %w", l.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Config{}, fmt.Errorf("fetching %s: unexpected status %d", l.url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Config{}, fmt.Errorf("reading config body: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(body, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config document: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config document: %w", err)
	}
	return cfg, nil
}
