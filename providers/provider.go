// Package providers defines the interface for OAuth identity providers and
// implements provider-specific logic for GitHub and Google.
package providers

import (
	"context"

	"golang.org/x/oauth2"
)

// Provider defines the interface for OAuth identity providers.
type Provider interface {
	// Name returns the provider name (e.g., "github", "google")
	Name() string

	// AuthorizationURL generates the URL to redirect users for authentication
	AuthorizationURL(state string) string

	// ExchangeCode exchanges an authorization code for tokens.
	// The call is bounded by a timeout and never retried internally; a flaky
	// provider surfaces as an error for the caller to handle.
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)

	// FetchUser retrieves the identity behind a provider token
	FetchUser(ctx context.Context, token *oauth2.Token) (*UserInfo, error)

	// DefaultScopes returns the scopes the provider was configured with
	DefaultScopes() []string
}

// UserInfo represents user information from a provider
type UserInfo struct {
	// Subject is the provider's stable unique user identifier
	Subject string

	// Email is the user's email address
	Email string

	// EmailVerified indicates if the email is verified at the provider
	EmailVerified bool

	// Username is the provider-side login name
	Username string

	// Name is the user's display name
	Name string

	// AvatarURL is the URL of the user's profile picture
	AvatarURL string
}
