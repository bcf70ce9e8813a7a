// Package client provides the request-side half of the session subsystem: a
// refresh coordinator that collapses concurrent expired-token signals into a
// single refresh call, and an HTTP client that retries a request exactly once
// after a successful refresh.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrSessionTerminated means the server rejected the refresh token for good:
// reuse detection, revocation, or expiry. The caller must authenticate again.
var ErrSessionTerminated = errors.New("session terminated, re-authentication required")

// DefaultExpirySkew is how long before nominal expiry a cached access token
// is already treated as stale. Covers clock drift and request transit time.
const DefaultExpirySkew = 30 * time.Second

// Token is an access token with its expiry, as returned by a refresh.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// RefreshFunc performs one refresh against the server and returns the new
// access token. Implementations return ErrSessionTerminated (possibly
// wrapped) when the session family is gone and retrying is pointless.
type RefreshFunc func(ctx context.Context) (*Token, error)

// Coordinator deduplicates refresh attempts. When N in-flight requests
// observe an expired access token concurrently, exactly one refresh call is
// made and all N callers share its outcome. Each Coordinator owns one
// session; multiple accounts in one process use multiple Coordinators.
type Coordinator struct {
	refresh RefreshFunc
	skew    time.Duration
	timeNow func() time.Time

	mu      sync.Mutex
	current *Token

	group singleflight.Group
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithExpirySkew overrides the staleness margin applied to cached tokens.
func WithExpirySkew(skew time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.skew = skew
	}
}

// WithTimeNow overrides the clock, for tests.
func WithTimeNow(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.timeNow = now
	}
}

// NewCoordinator creates a refresh coordinator around a refresh function.
func NewCoordinator(refresh RefreshFunc, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		refresh: refresh,
		skew:    DefaultExpirySkew,
		timeNow: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken seeds the cached access token, typically right after login.
func (c *Coordinator) SetToken(tok *Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = tok
}

// Invalidate drops the cached token if it still matches accessToken. A
// request that got a 401 calls this before EnsureFresh so the next caller
// triggers a real refresh. The match check keeps a slow loser from throwing
// away a token some winner already replaced.
func (c *Coordinator) Invalidate(accessToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.AccessToken == accessToken {
		c.current = nil
	}
}

// EnsureFresh returns a usable access token, refreshing if the cached one is
// missing or stale. Concurrent callers suspend on one shared refresh; a
// caller whose context is cancelled stops waiting, but the in-flight refresh
// keeps going for everyone else.
func (c *Coordinator) EnsureFresh(ctx context.Context) (string, error) {
	if tok, ok := c.cachedFresh(); ok {
		return tok, nil
	}

	ch := c.group.DoChan("refresh", func() (any, error) {
		// Re-check under the flight: a racing caller may have finished a
		// refresh between our cache miss and winning the flight.
		if tok, ok := c.cachedFresh(); ok {
			return tok, nil
		}

		// The flight outlives any single waiter. Detach from the caller's
		// cancellation so one aborted request cannot fail the others.
		tok, err := c.refresh(context.WithoutCancel(ctx))
		if err != nil {
			c.mu.Lock()
			c.current = nil
			c.mu.Unlock()
			return "", err
		}

		c.mu.Lock()
		c.current = tok
		c.mu.Unlock()
		return tok.AccessToken, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Coordinator) cachedFresh() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.AccessToken == "" {
		return "", false
	}
	if !c.timeNow().Add(c.skew).Before(c.current.ExpiresAt) {
		return "", false
	}
	return c.current.AccessToken, true
}
