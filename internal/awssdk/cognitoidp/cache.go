package cognitoidp

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// TokenCache persists a token set to a YAML file, standing in for the identity
// provider's browser-local session cache. The file is created 0600 under a
// 0700 directory.
type TokenCache struct {
	path string
}

// NewTokenCache returns a cache backed by path.
func NewTokenCache(path string) *TokenCache {
	return &TokenCache{path: path}
}

// DefaultCachePath returns the conventional cache location under the user
// cache directory.
func DefaultCachePath() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolving user cache dir: %w", err)
	}
	return filepath.Join(base, "connectiv", "session.yaml"), nil
}

// Load reads the cached tokens. A missing or unreadable file is reported as
// absence, not an error.
func (tc *TokenCache) Load() (Tokens, bool) {
	raw, err := os.ReadFile(tc.path)
	if err != nil {
		return Tokens{}, false
	}
	var tokens Tokens
	if err := yaml.Unmarshal(raw, &tokens); err != nil {
		return Tokens{}, false
	}
	if tokens.IDToken == "" {
		return Tokens{}, false
	}
	return tokens, true
}

// Save writes tokens to the cache file.
func (tc *TokenCache) Save(tokens Tokens) error {
	if err := os.MkdirAll(filepath.Dir(tc.path), 0o700); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	raw, err := yaml.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("encoding token cache: %w", err)
	}
	if err := os.WriteFile(tc.path, raw, 0o600); err != nil {
		return fmt.Errorf("writing token cache: %w", err)
	}
	return nil
}

// Clear removes the cache file. A file that is already absent is not an error.
func (tc *TokenCache) Clear() error {
	if err := os.Remove(tc.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing token cache: %w", err)
	}
	return nil
}
