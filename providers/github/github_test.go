package github

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

// rewriteTransport sends every request to the test server regardless of the
// request host, so the hardcoded API endpoints resolve locally.
type rewriteTransport struct {
	server *httptest.Server
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	target, _ := url.Parse(t.server.URL)
	req.URL.Scheme = target.Scheme
	req.URL.Host = target.Host
	return t.server.Client().Transport.RoundTrip(req)
}

func newTestProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider, err := NewProvider(&Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "http://localhost:8080/auth/github/callback",
		HTTPClient:   &http.Client{Transport: &rewriteTransport{server: server}},
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	return provider
}

func TestNewProviderValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"missing client ID", &Config{ClientSecret: "secret"}},
		{"missing client secret", &Config{ClientID: "id"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProvider(tt.cfg); err == nil {
				t.Error("NewProvider() succeeded with incomplete config")
			}
		})
	}
}

func TestDefaultScopes(t *testing.T) {
	provider, err := NewProvider(&Config{ClientID: "id", ClientSecret: "secret"})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	scopes := provider.DefaultScopes()
	if len(scopes) != 2 || scopes[0] != "user:email" || scopes[1] != "read:user" {
		t.Errorf("DefaultScopes() = %v", scopes)
	}

	// Mutating the returned slice must not touch the provider's copy.
	scopes[0] = "mutated"
	if provider.DefaultScopes()[0] != "user:email" {
		t.Error("DefaultScopes() returns the internal slice")
	}
}

func TestAuthorizationURL(t *testing.T) {
	provider, err := NewProvider(&Config{ClientID: "test-client-id", ClientSecret: "secret"})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	authURL := provider.AuthorizationURL("some-state")
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("authorization URL does not parse: %v", err)
	}
	if u.Host != "github.com" {
		t.Errorf("host = %q, want github.com", u.Host)
	}
	q := u.Query()
	if q.Get("client_id") != "test-client-id" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	if q.Get("state") != "some-state" {
		t.Errorf("state = %q", q.Get("state"))
	}
}

func TestFetchUserPublicEmail(t *testing.T) {
	emailsCalled := false
	provider := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user":
			if got := r.Header.Get("Authorization"); got != "Bearer gh-token" {
				t.Errorf("Authorization = %q", got)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id": 12345,
				"login": "octocat",
				"name": "Octo Cat",
				"email": "octo@example.com",
				"avatar_url": "https://avatars.example.com/octocat"
			}`))
		case "/user/emails":
			emailsCalled = true
			http.Error(w, "should not be called", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))

	info, err := provider.FetchUser(context.Background(), &oauth2.Token{AccessToken: "gh-token"})
	if err != nil {
		t.Fatalf("FetchUser() error = %v", err)
	}
	if info.Subject != "12345" {
		t.Errorf("Subject = %q, want 12345", info.Subject)
	}
	if info.Username != "octocat" {
		t.Errorf("Username = %q", info.Username)
	}
	if info.Email != "octo@example.com" || !info.EmailVerified {
		t.Errorf("Email = %q verified=%v", info.Email, info.EmailVerified)
	}
	if emailsCalled {
		t.Error("emails endpoint called despite a public profile email")
	}
}

func TestFetchUserPrivateEmailFallback(t *testing.T) {
	provider := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/user":
			_, _ = w.Write([]byte(`{"id": 67890, "login": "shy", "email": null}`))
		case "/user/emails":
			_, _ = w.Write([]byte(`[
				{"email": "secondary@example.com", "primary": false, "verified": true},
				{"email": "primary@example.com", "primary": true, "verified": true}
			]`))
		default:
			http.NotFound(w, r)
		}
	}))

	info, err := provider.FetchUser(context.Background(), &oauth2.Token{AccessToken: "gh-token"})
	if err != nil {
		t.Fatalf("FetchUser() error = %v", err)
	}
	if info.Email != "primary@example.com" {
		t.Errorf("Email = %q, want the primary address", info.Email)
	}
	if !info.EmailVerified {
		t.Error("primary verified email reported unverified")
	}
}

func TestFetchUserNoEmailAtAll(t *testing.T) {
	provider := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/user":
			_, _ = w.Write([]byte(`{"id": 111, "login": "ghost"}`))
		case "/user/emails":
			_, _ = w.Write([]byte(`[]`))
		default:
			http.NotFound(w, r)
		}
	}))

	info, err := provider.FetchUser(context.Background(), &oauth2.Token{AccessToken: "gh-token"})
	if err != nil {
		t.Fatalf("FetchUser() error = %v", err)
	}
	if info.Email != "" || info.EmailVerified {
		t.Errorf("Email = %q verified=%v, want empty", info.Email, info.EmailVerified)
	}
}

func TestFetchUserAPIError(t *testing.T) {
	provider := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))

	_, err := provider.FetchUser(context.Background(), &oauth2.Token{AccessToken: "revoked"})
	if err == nil {
		t.Fatal("FetchUser() succeeded against a 401 API")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error %q does not mention the status", err)
	}
}
