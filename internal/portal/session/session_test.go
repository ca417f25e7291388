package session

import (
	"context"
	"testing"
	"time"

	"github.com/mikecbrant/connectiv-portal/internal/awssdk/cognitoidp"
	"github.com/mikecbrant/connectiv-portal/internal/portal/internal/testutil"
)

func TestIsValid(t *testing.T) {
	t.Parallel()
	if (Session{}).IsValid() {
		t.Fatalf("zero session must be invalid")
	}
	if (Session{ExpiresAt: time.Now().Add(-time.Minute)}).IsValid() {
		t.Fatalf("expired session must be invalid")
	}
	if !(Session{ExpiresAt: time.Now().Add(time.Minute)}).IsValid() {
		t.Fatalf("unexpired session must be valid")
	}
}

func TestStoreReplaceAndClear(t *testing.T) {
	t.Parallel()
	store := NewStore(nil)
	if _, ok := store.Current(); ok {
		t.Fatalf("new store must be empty")
	}
	store.Replace(Session{Username: "alice"})
	sess, ok := store.Current()
	if !ok || sess.Username != "alice" {
		t.Fatalf("Current() = %+v, %v", sess, ok)
	}
	store.Clear()
	if _, ok := store.Current(); ok {
		t.Fatalf("store must be empty after Clear")
	}
}

func TestRecover_ValidCachedSession(t *testing.T) {
	t.Parallel()
	provider := &testutil.FakeProvider{
		HasCached: true,
		Cached: cognitoidp.Tokens{
			Username:  "alice",
			IDToken:   "id",
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
	store := NewStore(nil)
	store.Recover(context.Background(), provider)

	sess, ok := store.Current()
	if !ok || sess.Username != "alice" {
		t.Fatalf("expected recovered session, got %+v ok=%v", sess, ok)
	}
	if provider.RefreshCalls != 0 {
		t.Fatalf("valid cached session must not be refreshed")
	}
}

func TestRecover_ExpiredRefreshable(t *testing.T) {
	t.Parallel()
	provider := &testutil.FakeProvider{
		HasCached: true,
		Cached: cognitoidp.Tokens{
			Username:     "alice",
			IDToken:      "id",
			RefreshToken: "refresh",
			ExpiresAt:    time.Now().Add(-time.Hour),
		},
		RefreshOut: cognitoidp.Tokens{
			Username:  "alice",
			IDToken:   "fresh-id",
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
	store := NewStore(nil)
	store.Recover(context.Background(), provider)

	sess, ok := store.Current()
	if !ok || sess.IDToken != "fresh-id" {
		t.Fatalf("expected refreshed session, got %+v ok=%v", sess, ok)
	}
	if provider.RefreshCalls != 1 {
		t.Fatalf("RefreshCalls = %d, want 1", provider.RefreshCalls)
	}
}

func TestRecover_NoCachedUser(t *testing.T) {
	t.Parallel()
	store := NewStore(nil)
	store.Recover(context.Background(), &testutil.FakeProvider{})
	if _, ok := store.Current(); ok {
		t.Fatalf("store must stay empty without a cached user")
	}
}

func TestRecover_RefreshFails(t *testing.T) {
	t.Parallel()
	logger := &testutil.BufferLogger{}
	provider := &testutil.FakeProvider{
		HasCached: true,
		Cached: cognitoidp.Tokens{
			Username:     "alice",
			IDToken:      "id",
			RefreshToken: "refresh",
			ExpiresAt:    time.Now().Add(-time.Hour),
		},
		RefreshErr: context.DeadlineExceeded,
	}
	store := NewStore(logger)
	store.Recover(context.Background(), provider)
	if _, ok := store.Current(); ok {
		t.Fatalf("store must stay empty when refresh fails")
	}
	if len(logger.Calls) == 0 || logger.Calls[0] != "debug" {
		t.Fatalf("recovery failure should be logged at debug, got %v", logger.Calls)
	}
}
