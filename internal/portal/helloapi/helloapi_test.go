package helloapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	flowerrs "github.com/mikecbrant/connectiv-portal/internal/portal/errors"
	"github.com/mikecbrant/connectiv-portal/internal/portal/session"
)

type fakeGuard struct {
	sess  session.Session
	err   error
	calls int
}

func (g *fakeGuard) EnsureFreshSession(context.Context) (session.Session, error) {
	g.calls++
	return g.sess, g.err
}

func TestCall(t *testing.T) {
	t.Parallel()
	var gotAuth, gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		gotQuery.Store(r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"Hello alice, authorization succeeded!"}`))
	}))
	defer srv.Close()

	guard := &fakeGuard{sess: session.Session{Username: "alice", IDToken: "tok-123", ExpiresAt: time.Now().Add(time.Hour)}}
	c := New(srv.URL, guard, srv.Client(), nil)
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }

	out, err := c.Call(context.Background(), 2020)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if gotAuth.Load().(string) != "Bearer tok-123" {
		t.Fatalf("Authorization = %q", gotAuth.Load())
	}
	q := gotQuery.Load().(string)
	if !strings.Contains(q, "year_to_process=2020") || !strings.Contains(q, "timestamp=1700000000000") {
		t.Fatalf("query = %q", q)
	}
	if !strings.Contains(out, "\n  \"message\"") {
		t.Fatalf("response should be pretty-printed, got %q", out)
	}
	if last, ok := c.LastResponse(); !ok || last != out {
		t.Fatalf("LastResponse = %q, %v", last, ok)
	}
	if guard.calls != 1 {
		t.Fatalf("guard calls = %d", guard.calls)
	}
}

func TestCall_GuardFailureIssuesNoRequest(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	cases := []struct {
		name string
		kind flowerrs.Kind
	}{
		{"not authenticated", flowerrs.NotAuthenticated},
		{"session expired", flowerrs.SessionExpired},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			guard := &fakeGuard{err: flowerrs.New(tc.kind)}
			c := New(srv.URL, guard, srv.Client(), nil)
			_, err := c.Call(context.Background(), 2020)
			if !flowerrs.Is(err, tc.kind) {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
		})
	}
	if hits.Load() != 0 {
		t.Fatalf("no HTTP request may be issued on a guard failure; got %d", hits.Load())
	}
}

func TestCall_NonJSONBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway error</html>"))
	}))
	defer srv.Close()

	guard := &fakeGuard{sess: session.Session{IDToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}}
	c := New(srv.URL, guard, srv.Client(), nil)
	_, err := c.Call(context.Background(), 2020)
	if !flowerrs.Is(err, flowerrs.ApiError) {
		t.Fatalf("expected ApiError, got %v", err)
	}
	if _, ok := c.LastResponse(); ok {
		t.Fatalf("failed call must not latch a response")
	}
}

func TestCall_TransportFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	guard := &fakeGuard{sess: session.Session{IDToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}}
	c := New(srv.URL, guard, nil, nil)
	_, err := c.Call(context.Background(), 2020)
	if !flowerrs.Is(err, flowerrs.ApiError) {
		t.Fatalf("expected ApiError, got %v", err)
	}
}

func TestClear(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	guard := &fakeGuard{sess: session.Session{IDToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}}
	c := New(srv.URL, guard, srv.Client(), nil)
	if _, err := c.Call(context.Background(), 2021); err != nil {
		t.Fatalf("Call: %v", err)
	}
	c.Clear()
	if _, ok := c.LastResponse(); ok {
		t.Fatalf("LastResponse should report absence after Clear")
	}
}
