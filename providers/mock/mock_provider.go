// Package mock provides a mock implementation of the Provider interface for testing.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/liangyon/machi-quest/providers"
)

// MockProvider is a mock implementation of the Provider interface for testing
type MockProvider struct {
	// NameFunc is called when Name() is invoked
	NameFunc func() string

	// AuthorizationURLFunc is called when AuthorizationURL() is invoked
	AuthorizationURLFunc func(state string) string

	// ExchangeCodeFunc is called when ExchangeCode() is invoked
	ExchangeCodeFunc func(ctx context.Context, code string) (*oauth2.Token, error)

	// FetchUserFunc is called when FetchUser() is invoked
	FetchUserFunc func(ctx context.Context, token *oauth2.Token) (*providers.UserInfo, error)

	// DefaultScopesFunc is called when DefaultScopes() is invoked
	DefaultScopesFunc func() []string

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	// mu protects CallCounts from concurrent access
	mu sync.RWMutex
}

// Compile-time check that MockProvider implements the providers.Provider interface.
var _ providers.Provider = (*MockProvider)(nil)

// NewMockProvider creates a new mock provider with default implementations
func NewMockProvider() *MockProvider {
	return &MockProvider{
		CallCounts: make(map[string]int),
		NameFunc: func() string {
			return "mock"
		},
		AuthorizationURLFunc: func(state string) string {
			return fmt.Sprintf("https://mock.example.com/authorize?state=%s", state)
		},
		ExchangeCodeFunc: func(ctx context.Context, code string) (*oauth2.Token, error) {
			return &oauth2.Token{
				AccessToken:  "mock-access-token",
				TokenType:    "Bearer",
				RefreshToken: "mock-refresh-token",
				Expiry:       time.Now().Add(time.Hour),
			}, nil
		},
		FetchUserFunc: func(ctx context.Context, token *oauth2.Token) (*providers.UserInfo, error) {
			return &providers.UserInfo{
				Subject:       "mock-user-123",
				Email:         "mock@example.com",
				EmailVerified: true,
				Username:      "mockuser",
				Name:          "Mock User",
				AvatarURL:     "https://mock.example.com/avatar.png",
			}, nil
		},
		DefaultScopesFunc: func() []string {
			return []string{"user:email"}
		},
	}
}

func (m *MockProvider) recordCall(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CallCounts == nil {
		m.CallCounts = make(map[string]int)
	}
	m.CallCounts[method]++
}

// GetCallCount returns how many times a method was called
func (m *MockProvider) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}

// Name returns the provider name
func (m *MockProvider) Name() string {
	m.recordCall("Name")
	return m.NameFunc()
}

// AuthorizationURL generates the mock authorization URL
func (m *MockProvider) AuthorizationURL(state string) string {
	m.recordCall("AuthorizationURL")
	return m.AuthorizationURLFunc(state)
}

// ExchangeCode exchanges an authorization code for tokens
func (m *MockProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	m.recordCall("ExchangeCode")
	return m.ExchangeCodeFunc(ctx, code)
}

// FetchUser retrieves the identity behind a provider token
func (m *MockProvider) FetchUser(ctx context.Context, token *oauth2.Token) (*providers.UserInfo, error) {
	m.recordCall("FetchUser")
	return m.FetchUserFunc(ctx, token)
}

// DefaultScopes returns the configured scopes
func (m *MockProvider) DefaultScopes() []string {
	m.recordCall("DefaultScopes")
	return m.DefaultScopesFunc()
}
