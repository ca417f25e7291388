// Package session holds the portal's current authenticated session, if any.
//
// The Store owns at most one Session at a time. Sessions are value types and
// are replaced wholesale on every transition; nothing mutates a stored session
// in place. Validity is a property of the clock, so IsValid is re-evaluated on
// every authorized use rather than cached.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/mikecbrant/connectiv-portal/internal/awssdk/cognitoidp"
	"github.com/mikecbrant/connectiv-portal/internal/utils/logging"
)

// Session is one authenticated principal's time-bounded context.
type Session struct {
	Username     string
	IDToken      string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// IsValid reports whether the session has not yet expired, checked against the
// clock at call time.
func (s Session) IsValid() bool {
	return !s.ExpiresAt.IsZero() && time.Now().Before(s.ExpiresAt)
}

// Tokens converts the session back to the provider's token shape, for refresh.
func (s Session) Tokens() cognitoidp.Tokens {
	return cognitoidp.Tokens{
		Username:     s.Username,
		IDToken:      s.IDToken,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
	}
}

// FromTokens builds a Session from a provider token set.
func FromTokens(t cognitoidp.Tokens) Session {
	return Session{
		Username:     t.Username,
		IDToken:      t.IDToken,
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.ExpiresAt,
	}
}

// Recoverer is the provider surface needed for startup session recovery.
type Recoverer interface {
	// CurrentUser returns the provider's locally cached tokens, if any.
	CurrentUser() (cognitoidp.Tokens, bool)
	// RefreshSession exchanges a refresh token for fresh tokens.
	RefreshSession(ctx context.Context, t cognitoidp.Tokens) (cognitoidp.Tokens, error)
}

// Store owns the current session. Mutation is restricted to the auth state
// machine and startup recovery.
type Store struct {
	mu      sync.Mutex
	current *Session
	logger  logging.Logger
}

// NewStore returns an empty store. A nil logger discards logs.
func NewStore(logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Store{logger: logger}
}

// Current returns a copy of the stored session and whether one exists.
func (s *Store) Current() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Session{}, false
	}
	return *s.current, true
}

// Replace installs sess as the one current session.
func (s *Store) Replace(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &sess
}

// Clear removes the current session, if any.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

// Recover attempts best-effort recovery of a cached session from the provider.
// A valid cached token set populates the store directly; an expired but
// refreshable one is refreshed first. On any failure the store is left empty
// and the cause is logged at debug. Recover never fails the caller.
func (s *Store) Recover(ctx context.Context, provider Recoverer) {
	tokens, ok := provider.CurrentUser()
	if !ok {
		s.logger.Debug("session.recover", logging.Fields{"outcome": "no cached user"})
		return
	}
	sess := FromTokens(tokens)
	if sess.IsValid() {
		s.Replace(sess)
		s.logger.Debug("session.recover", logging.Fields{"outcome": "cached", "user": sess.Username})
		return
	}
	if sess.RefreshToken == "" {
		s.logger.Debug("session.recover", logging.Fields{"outcome": "expired, no refresh token"})
		return
	}
	refreshed, err := provider.RefreshSession(ctx, tokens)
	if err != nil {
		s.logger.Debug("session.recover", logging.Fields{"outcome": "refresh failed", "error": err.Error()})
		return
	}
	s.Replace(FromTokens(refreshed))
	s.logger.Debug("session.recover", logging.Fields{"outcome": "refreshed", "user": refreshed.Username})
}
