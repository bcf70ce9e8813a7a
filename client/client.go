package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout bounds every request made by the client.
const DefaultHTTPTimeout = 30 * time.Second

// Client is an HTTP client that authenticates requests with access tokens
// from a Coordinator. On a 401 it refreshes through the coordinator and
// retries the request exactly once; a second 401 after a successful refresh
// is returned as-is.
type Client struct {
	httpClient  *http.Client
	coordinator *Coordinator
}

// NewClient wraps httpClient with token handling. A nil httpClient gets a
// default with a timeout.
func NewClient(coordinator *Coordinator, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{
		httpClient:  httpClient,
		coordinator: coordinator,
	}
}

// Do sends a request with a fresh access token. Requests that may be retried
// need a replayable body; use http.NewRequest with a bytes.Reader or set
// GetBody yourself.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	accessToken, err := c.coordinator.EnsureFresh(req.Context())
	if err != nil {
		return nil, err
	}

	resp, err := c.send(req, accessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// The token went stale between issuance and arrival, or another party
	// terminated the session. Refresh once and replay.
	drainAndClose(resp.Body)
	c.coordinator.Invalidate(accessToken)

	accessToken, err = c.coordinator.EnsureFresh(req.Context())
	if err != nil {
		return nil, err
	}
	return c.send(req, accessToken)
}

func (c *Client) send(req *http.Request, accessToken string) (*http.Response, error) {
	r := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		r.Body = body
	}
	r.Header.Set("Authorization", "Bearer "+accessToken)
	return c.httpClient.Do(r)
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}

// ServerSession talks to an auth server's refresh endpoint. It holds the
// rotating refresh token in a cookie jar, the same way a browser would, and
// implements RefreshFunc for a Coordinator. One ServerSession per logged-in
// account.
type ServerSession struct {
	baseURL    string
	httpClient *http.Client

	mu sync.Mutex
}

// NewServerSession creates a session client for an auth server. The returned
// session owns its cookie jar; Login or Refresh populate it.
func NewServerSession(baseURL string) (*ServerSession, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &ServerSession{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultHTTPTimeout,
			Jar:     jar,
		},
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Login authenticates with email and password. The refresh cookie lands in
// the jar; the access token goes to the caller, usually straight into
// Coordinator.SetToken.
func (s *ServerSession) Login(ctx context.Context, email, password string) (*Token, error) {
	body := fmt.Sprintf(`{"email":%q,"password":%q}`, email, password)
	return s.postForToken(ctx, "/auth/login", strings.NewReader(body))
}

// Refresh rotates the session. It satisfies RefreshFunc.
func (s *ServerSession) Refresh(ctx context.Context) (*Token, error) {
	return s.postForToken(ctx, "/auth/refresh", nil)
}

// Logout revokes the session family and empties the jar's cookie.
func (s *ServerSession) Logout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/auth/logout", nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	drainAndClose(resp.Body)
	return nil
}

func (s *ServerSession) postForToken(ctx context.Context, path string, body io.Reader) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if resp.StatusCode == http.StatusUnauthorized {
			if errResp.ErrorDescription != "" {
				return nil, fmt.Errorf("%w: %s", ErrSessionTerminated, errResp.ErrorDescription)
			}
			return nil, ErrSessionTerminated
		}
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, errResp.Error)
	}

	var tokResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokResp.AccessToken == "" {
		return nil, errors.New("server returned no access token")
	}

	return &Token{
		AccessToken: tokResp.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(tokResp.ExpiresIn) * time.Second),
	}, nil
}
