package testutil

import (
	"context"
	"fmt"

	"github.com/mikecbrant/connectiv-portal/internal/awssdk/cognitoidp"
	"github.com/mikecbrant/connectiv-portal/internal/utils/logging"
)

// FakeProvider is a scriptable identity provider covering both the auth state
// machine's Provider interface and the session store's Recoverer interface.
type FakeProvider struct {
	Cached    cognitoidp.Tokens
	HasCached bool

	AuthOut   cognitoidp.AuthResult
	AuthErr   error
	AuthCalls int

	CompleteOut   cognitoidp.Tokens
	CompleteErr   error
	CompleteCalls int

	RefreshOut   cognitoidp.Tokens
	RefreshErr   error
	RefreshCalls int

	SignOutCalls int
}

// CurrentUser returns the scripted cached tokens.
func (f *FakeProvider) CurrentUser() (cognitoidp.Tokens, bool) {
	return f.Cached, f.HasCached
}

// Authenticate counts the call and returns the scripted result.
func (f *FakeProvider) Authenticate(_ context.Context, _, _ string) (cognitoidp.AuthResult, error) {
	f.AuthCalls++
	return f.AuthOut, f.AuthErr
}

// CompleteNewPassword counts the call and returns the scripted result.
func (f *FakeProvider) CompleteNewPassword(_ context.Context, _ cognitoidp.PendingUser, _ string) (cognitoidp.Tokens, error) {
	f.CompleteCalls++
	return f.CompleteOut, f.CompleteErr
}

// RefreshSession counts the call and returns the scripted result.
func (f *FakeProvider) RefreshSession(_ context.Context, _ cognitoidp.Tokens) (cognitoidp.Tokens, error) {
	f.RefreshCalls++
	return f.RefreshOut, f.RefreshErr
}

// SignOut counts the call.
func (f *FakeProvider) SignOut() { f.SignOutCalls++ }

// BufferLogger is a buffer-backed logger that records calls for assertions.
type BufferLogger struct {
	Calls   []string
	Entries []string
}

// Debug records a debug-level log entry.
func (l *BufferLogger) Debug(msg string, ctx logging.Fields) { l.record("debug", msg, ctx) }

// Info records an info-level log entry.
func (l *BufferLogger) Info(msg string, ctx logging.Fields) { l.record("info", msg, ctx) }

// Warn records a warn-level log entry.
func (l *BufferLogger) Warn(msg string, ctx logging.Fields) { l.record("warn", msg, ctx) }

// Error records an error-level log entry.
func (l *BufferLogger) Error(msg string, ctx logging.Fields) { l.record("error", msg, ctx) }

func (l *BufferLogger) record(level, msg string, ctx logging.Fields) {
	l.Calls = append(l.Calls, level)
	l.Entries = append(l.Entries, fmt.Sprintf("%s: %s ctx=%v", level, msg, ctx))
}

var _ logging.Logger = (*BufferLogger)(nil)
