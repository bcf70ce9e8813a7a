package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func freshToken(value string) *Token {
	return &Token{AccessToken: value, ExpiresAt: time.Now().Add(time.Hour)}
}

func TestClientAttachesAccessToken(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	coord := NewCoordinator(func(ctx context.Context) (*Token, error) {
		t.Fatal("refresh should not run with a fresh cached token")
		return nil, nil
	})
	coord.SetToken(freshToken("tok-1"))

	c := NewClient(coord, nil)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if got := gotAuth.Load(); got != "Bearer tok-1" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer tok-1")
	}
}

// TestClientRetriesOnceAfter401 drives the expired-token path: the first
// attempt gets a 401, the client refreshes, and the replay succeeds with the
// new token. Exactly one retry, exactly one refresh.
func TestClientRetriesOnceAfter401(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("Authorization") == "Bearer expired-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"n":1}` {
			t.Errorf("replayed body = %q, want original payload", body)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var refreshes atomic.Int32
	coord := NewCoordinator(func(ctx context.Context) (*Token, error) {
		refreshes.Add(1)
		return freshToken("new-token"), nil
	})
	coord.SetToken(freshToken("expired-token"))

	c := NewClient(coord, nil)
	req, _ := http.NewRequest(http.MethodPost, srv.URL, bytes.NewReader([]byte(`{"n":1}`)))
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("server saw %d requests, want 2", got)
	}
	if got := refreshes.Load(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
}

// TestClientDoesNotLoopOnRepeated401 confirms a second 401 after a
// successful refresh comes back to the caller instead of triggering another
// refresh cycle.
func TestClientDoesNotLoopOnRepeated401(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	coord := NewCoordinator(func(ctx context.Context) (*Token, error) {
		return freshToken("still-rejected"), nil
	})
	coord.SetToken(freshToken("first"))

	c := NewClient(coord, nil)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want the second 401 surfaced", resp.StatusCode)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("server saw %d requests, want exactly 2", got)
	}
}

func TestClientSurfacesTerminatedSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	coord := NewCoordinator(func(ctx context.Context) (*Token, error) {
		return nil, ErrSessionTerminated
	})
	coord.SetToken(freshToken("doomed"))

	c := NewClient(coord, nil)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if _, err := c.Do(req); err == nil {
		t.Fatal("Do() expected ErrSessionTerminated, got nil")
	}
}
