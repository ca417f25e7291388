// Package authflow implements the portal's sign-in state machine.
//
// The machine owns the AuthFlowState variant and is the only writer of the
// session store. Provider calls happen outside the machine's lock; the busy
// flag is the sole gate against overlapping submissions, and it is cleared in
// the same critical section that applies the terminal state transition.
package authflow

import (
	"context"
	"errors"
	"sync"

	"github.com/mikecbrant/connectiv-portal/internal/awssdk/cognitoidp"
	flowerrs "github.com/mikecbrant/connectiv-portal/internal/portal/errors"
	"github.com/mikecbrant/connectiv-portal/internal/portal/session"
	"github.com/mikecbrant/connectiv-portal/internal/utils/logging"
)

// State identifies the active auth flow state. Exactly one is active at a
// time.
type State int

const (
	// Anonymous is the initial state; no session exists.
	Anonymous State = iota
	// Authenticating means credentials were submitted and the provider
	// response is pending.
	Authenticating
	// PasswordResetRequired means the provider demands a new password before
	// issuing a session; a pending user handle is retained.
	PasswordResetRequired
	// Authenticated means the session store holds a valid session.
	Authenticated
)

func (s State) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case PasswordResetRequired:
		return "password reset required"
	case Authenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// ErrBusy is returned when an operation is submitted while a prior submission
// is still in flight.
var ErrBusy = errors.New("an operation is already in progress")

// Provider is the identity-provider surface the machine drives.
type Provider interface {
	Authenticate(ctx context.Context, username, password string) (cognitoidp.AuthResult, error)
	CompleteNewPassword(ctx context.Context, pending cognitoidp.PendingUser, newPassword string) (cognitoidp.Tokens, error)
	RefreshSession(ctx context.Context, prior cognitoidp.Tokens) (cognitoidp.Tokens, error)
	SignOut()
}

// ResponseCache is anything holding a displayed API response that must be
// dropped on sign-out.
type ResponseCache interface {
	Clear()
}

// Snapshot is a read-only view of the machine for the presentation layer.
type Snapshot struct {
	State    State
	Busy     bool
	Message  string
	Username string
}

// Machine orchestrates sign-in, the forced-password-reset challenge, and
// sign-out.
type Machine struct {
	mu       sync.Mutex
	state    State
	busy     bool
	message  string
	pending  *cognitoidp.PendingUser
	gen      uint64
	provider Provider
	store    *session.Store
	respCach ResponseCache
	logger   logging.Logger
}

// NewMachine returns a machine in the Anonymous state. A nil logger discards
// logs.
func NewMachine(provider Provider, store *session.Store, logger logging.Logger) *Machine {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Machine{provider: provider, store: store, logger: logger}
}

// SetResponseCache registers a cache to be cleared on sign-out.
func (m *Machine) SetResponseCache(rc ResponseCache) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.respCach = rc
}

// AdoptRecovered moves the machine to Authenticated when startup recovery
// populated the session store. A no-op when the store is empty.
func (m *Machine) AdoptRecovered() {
	if _, ok := m.store.Current(); !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Authenticated
}

// Snapshot returns the current view of the machine.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{State: m.state, Busy: m.busy, Message: m.message}
	if sess, ok := m.store.Current(); ok {
		snap.Username = sess.Username
	} else if m.pending != nil {
		snap.Username = m.pending.Username
	}
	return snap
}

// SignIn submits credentials to the provider. Empty fields are rejected
// locally without a provider call. Signing in while already authenticated
// first clears the prior session so at most one authenticated session exists.
func (m *Machine) SignIn(ctx context.Context, username, password string) error {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return ErrBusy
	}
	m.message = ""
	if username == "" || password == "" {
		err := flowerrs.New(flowerrs.InvalidInput)
		m.message = err.Message
		m.mu.Unlock()
		return err
	}
	if m.state == Authenticated {
		m.store.Clear()
		m.gen++
	}
	m.pending = nil
	m.state = Authenticating
	m.busy = true
	m.mu.Unlock()

	m.logger.Debug("authflow.signin", logging.Fields{"user": username})
	result, provErr := m.provider.Authenticate(ctx, username, password)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false
	if provErr != nil {
		m.state = Anonymous
		err := flowerrs.Wrap(flowerrs.AuthenticationFailed, provErr)
		m.message = err.Message
		m.logger.Debug("authflow.signin", logging.Fields{"user": username, "outcome": "failed"})
		return err
	}
	switch result.Kind {
	case cognitoidp.AuthNewPasswordRequired:
		m.state = PasswordResetRequired
		m.pending = result.Pending
		m.logger.Debug("authflow.signin", logging.Fields{"user": username, "outcome": "password reset required"})
		return nil
	default:
		m.store.Replace(session.FromTokens(result.Tokens))
		m.gen++
		m.state = Authenticated
		m.logger.Debug("authflow.signin", logging.Fields{"user": username, "outcome": "authenticated"})
		return nil
	}
}

// SubmitNewPassword completes a pending NEW_PASSWORD_REQUIRED challenge. On
// failure the challenge state and pending user are retained so the user may
// retry.
func (m *Machine) SubmitNewPassword(ctx context.Context, newPassword string) error {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return ErrBusy
	}
	m.message = ""
	if m.state != PasswordResetRequired || m.pending == nil {
		err := flowerrs.New(flowerrs.MissingPendingUser)
		m.message = err.Message
		m.mu.Unlock()
		return err
	}
	if newPassword == "" {
		err := flowerrs.New(flowerrs.InvalidInput)
		m.message = err.Message
		m.mu.Unlock()
		return err
	}
	pending := *m.pending
	m.busy = true
	m.mu.Unlock()

	tokens, provErr := m.provider.CompleteNewPassword(ctx, pending, newPassword)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false
	if provErr != nil {
		// Stay in the challenge; the pending user is preserved for retry.
		err := flowerrs.Wrap(flowerrs.ChallengeFailed, provErr)
		m.message = err.Message
		m.logger.Debug("authflow.new_password", logging.Fields{"user": pending.Username, "outcome": "failed"})
		return err
	}
	m.pending = nil
	m.store.Replace(session.FromTokens(tokens))
	m.gen++
	m.state = Authenticated
	m.logger.Debug("authflow.new_password", logging.Fields{"user": pending.Username, "outcome": "authenticated"})
	return nil
}

// SignOut drops the local session and returns to Anonymous. Calling it while
// already Anonymous is a no-op.
func (m *Machine) SignOut(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Anonymous {
		return
	}
	m.provider.SignOut()
	m.store.Clear()
	m.gen++
	m.pending = nil
	m.message = ""
	m.state = Anonymous
	if m.respCach != nil {
		m.respCach.Clear()
	}
	m.logger.Debug("authflow.signout", nil)
}

// EnsureFreshSession gates protected calls. It re-confirms session validity at
// call time: a valid session is returned as-is; an expired one gets a single
// refresh attempt. Refresh failure clears the session and returns
// SessionExpired; absence of a session returns NotAuthenticated. A session
// replaced or cleared while the refresh is in flight is never resurrected.
func (m *Machine) EnsureFreshSession(ctx context.Context) (session.Session, error) {
	m.mu.Lock()
	m.message = ""
	if m.state != Authenticated {
		err := flowerrs.New(flowerrs.NotAuthenticated)
		m.message = err.Message
		m.mu.Unlock()
		return session.Session{}, err
	}
	sess, ok := m.store.Current()
	gen := m.gen
	m.mu.Unlock()
	if ok && sess.IsValid() {
		return sess, nil
	}

	var (
		refreshed cognitoidp.Tokens
		provErr   error
	)
	if ok && sess.RefreshToken != "" {
		refreshed, provErr = m.provider.RefreshSession(ctx, sess.Tokens())
	} else {
		provErr = errors.New("no refreshable session")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Authenticated || m.gen != gen {
		// The session changed while the refresh was in flight (a sign-out, or
		// a sign-in as someone else). The refreshed tokens belong to the old
		// session and must not resurrect it; a sign-out also cleared the
		// provider's token cache, which the refresh may have repopulated.
		err := flowerrs.New(flowerrs.NotAuthenticated)
		if m.state != Authenticated {
			m.provider.SignOut()
			m.store.Clear()
			m.message = err.Message
		}
		m.logger.Debug("authflow.refresh", logging.Fields{"outcome": "superseded"})
		return session.Session{}, err
	}
	if provErr != nil {
		m.store.Clear()
		m.state = Anonymous
		err := flowerrs.Wrap(flowerrs.SessionExpired, provErr)
		m.message = err.Message
		m.logger.Debug("authflow.refresh", logging.Fields{"outcome": "expired"})
		return session.Session{}, err
	}
	fresh := session.FromTokens(refreshed)
	m.store.Replace(fresh)
	m.logger.Debug("authflow.refresh", logging.Fields{"outcome": "refreshed", "user": fresh.Username})
	return fresh, nil
}
