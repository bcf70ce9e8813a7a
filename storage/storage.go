// Package storage defines interfaces for persisting accounts, refresh-token
// sessions, encrypted provider credentials, and OAuth login flows.
// It supports various backend implementations including in-memory and SQLite.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by storage backends. Callers match with errors.Is.
var (
	// ErrAccountNotFound indicates no account matched the lookup.
	ErrAccountNotFound = errors.New("account not found")

	// ErrEmailTaken indicates an account with the same email already exists.
	ErrEmailTaken = errors.New("email already registered")

	// ErrIdentityTaken indicates the provider identity is linked to a different account.
	ErrIdentityTaken = errors.New("provider identity linked to another account")

	// ErrSessionNotFound indicates no session matched the presented token hash.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired indicates the session's refresh window has elapsed.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionRevoked indicates the session family has been revoked.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrReuseDetected indicates a superseded refresh token was presented.
	// The backend has already revoked the whole family when returning this.
	ErrReuseDetected = errors.New("refresh token reuse detected")

	// ErrCredentialNotFound indicates no linked credential matched the lookup.
	ErrCredentialNotFound = errors.New("linked credential not found")

	// ErrStateNotFound indicates the login state is unknown, already consumed,
	// or expired. The three cases are deliberately indistinguishable.
	ErrStateNotFound = errors.New("login state not found")
)

// Revocation reasons recorded on sessions.
const (
	RevokedLogout      = "logout"
	RevokedReuse       = "token_reuse"
	RevokedExplicit    = "explicit_revoke"
	RevokedAccountWipe = "account_sessions_revoked"
)

// Credentials is the local authentication material for an account.
// Accounts created through an OAuth-only flow carry no password hash;
// callers check HasPassword before attempting verification instead of
// null-checking a stored string.
type Credentials struct {
	passwordHash string
	set          bool
}

// PasswordCredentials wraps an argon2id password hash.
func PasswordCredentials(hash string) Credentials {
	return Credentials{passwordHash: hash, set: hash != ""}
}

// NoCredentials marks an account as password-less (OAuth-only).
func NoCredentials() Credentials {
	return Credentials{}
}

// HasPassword reports whether a password hash is present.
func (c Credentials) HasPassword() bool {
	return c.set
}

// PasswordHash returns the stored hash. ok is false for password-less accounts.
func (c Credentials) PasswordHash() (hash string, ok bool) {
	return c.passwordHash, c.set
}

// Account represents a local identity record.
type Account struct {
	ID          string
	Email       string
	Credentials Credentials
	DisplayName string
	AvatarURL   string
	Identities  []ProviderIdentity
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Identity returns the linked identity for a provider, if any.
func (a *Account) Identity(provider string) (ProviderIdentity, bool) {
	for _, id := range a.Identities {
		if id.Provider == provider {
			return id, true
		}
	}
	return ProviderIdentity{}, false
}

// AuthMethods counts the usable authentication methods on the account.
// Every account must keep at least one after creation.
func (a *Account) AuthMethods() int {
	n := len(a.Identities)
	if a.Credentials.HasPassword() {
		n++
	}
	return n
}

// ProviderIdentity is a third-party identity linked to an account.
// (Provider, Subject) is unique across all accounts.
type ProviderIdentity struct {
	Provider string // e.g. "github", "google"
	Subject  string // provider-side stable user id
	Username string // provider-side login, informational
}

// Session represents one refresh-token rotation family.
// TokenHash is the SHA-256 of the currently valid raw token; raw values
// are never persisted.
type Session struct {
	FamilyID      string
	AccountID     string
	Version       int
	TokenHash     string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	RotatedAt     time.Time
	Revoked       bool
	RevokedAt     time.Time
	RevokedReason string
}

// LinkedCredential holds a provider's tokens for an account, encrypted at rest.
// Only ciphertext ever reaches a backend.
type LinkedCredential struct {
	AccountID             string
	Provider              string
	AccessTokenEncrypted  string
	RefreshTokenEncrypted string // empty when the provider issued none
	Scopes                string
	ProviderUsername      string
	ExpiresAt             time.Time
	LastRefreshedAt       time.Time
}

// LoginState is the server-side record of an in-flight OAuth authorization,
// keyed by the anti-forgery state value sent to the provider. Single use,
// short TTL, expiry enforced by the backend.
type LoginState struct {
	State         string
	Provider      string
	RedirectURI   string
	LinkAccountID string // non-empty when an authenticated user is linking
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// AccountStore persists accounts and their linked provider identities.
// All methods accept context.Context for tracing and cancellation.
type AccountStore interface {
	// CreateAccount stores a new account. Fails with ErrEmailTaken on a
	// duplicate email and ErrIdentityTaken on a duplicate provider identity.
	CreateAccount(ctx context.Context, account *Account) error

	// GetAccount retrieves an account by id.
	GetAccount(ctx context.Context, id string) (*Account, error)

	// GetAccountByEmail retrieves an account by email.
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)

	// GetAccountByIdentity retrieves the account owning a provider identity.
	GetAccountByIdentity(ctx context.Context, provider, subject string) (*Account, error)

	// UpdateAccount persists mutable account fields (display name, avatar,
	// credentials).
	UpdateAccount(ctx context.Context, account *Account) error

	// LinkIdentity attaches a provider identity to an account.
	// Fails with ErrIdentityTaken when the identity belongs to another account.
	LinkIdentity(ctx context.Context, accountID string, identity ProviderIdentity) error

	// UnlinkIdentity removes a provider identity from an account.
	UnlinkIdentity(ctx context.Context, accountID, provider string) error
}

// SessionStore persists refresh-token rotation families.
// All methods accept context.Context for tracing and cancellation.
type SessionStore interface {
	// CreateSession stores a new session family (version 0).
	CreateSession(ctx context.Context, session *Session) error

	// GetSession retrieves a session by family id.
	GetSession(ctx context.Context, familyID string) (*Session, error)

	// RotateSession atomically advances a session family: it looks up the
	// family owning tokenHash, and if tokenHash is the CURRENT hash of a live,
	// unexpired session it installs newHash, increments the version, and
	// returns the updated session. If tokenHash belongs to the family but has
	// already been superseded, the backend revokes the whole family and
	// returns ErrReuseDetected. Other failures: ErrSessionNotFound,
	// ErrSessionExpired, ErrSessionRevoked.
	//
	// SECURITY: this operation MUST be atomic. Two concurrent rotations
	// presenting the same tokenHash yield exactly one winner; the loser
	// observes ErrReuseDetected.
	RotateSession(ctx context.Context, tokenHash, newHash string, now time.Time) (*Session, error)

	// RevokeSession marks a family revoked with a reason. Idempotent; revoking
	// an already-revoked family keeps the original reason.
	RevokeSession(ctx context.Context, familyID, reason string) error

	// RevokeAccountSessions revokes every live family owned by an account.
	// Returns the number of families revoked.
	RevokeAccountSessions(ctx context.Context, accountID, reason string) (int, error)

	// DeleteExpiredSessions removes families whose expiry (or revocation
	// retention window) is before the cutoff. Returns the number removed.
	DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int, error)
}

// CredentialStore persists encrypted provider credentials.
// All methods accept context.Context for tracing and cancellation.
type CredentialStore interface {
	// UpsertCredential inserts or replaces the credential for
	// (AccountID, Provider).
	UpsertCredential(ctx context.Context, cred *LinkedCredential) error

	// GetCredential retrieves the credential for an (account, provider) pair.
	GetCredential(ctx context.Context, accountID, provider string) (*LinkedCredential, error)

	// DeleteCredential removes the credential for an (account, provider) pair.
	// Deleting a missing credential is not an error.
	DeleteCredential(ctx context.Context, accountID, provider string) error

	// DeleteAccountCredentials removes every credential owned by an account.
	DeleteAccountCredentials(ctx context.Context, accountID string) error
}

// FlowStore persists in-flight OAuth login states.
// All methods accept context.Context for tracing and cancellation.
type FlowStore interface {
	// SaveLoginState stores a freshly generated anti-forgery state.
	SaveLoginState(ctx context.Context, state *LoginState) error

	// ConsumeLoginState atomically retrieves and deletes a login state.
	// Expired or unknown states fail with ErrStateNotFound; expiry is
	// enforced here, server-side, never from client-supplied timestamps.
	//
	// SECURITY: retrieval and deletion MUST be atomic so a state value can
	// authorize at most one callback.
	ConsumeLoginState(ctx context.Context, state string, now time.Time) (*LoginState, error)

	// DeleteExpiredStates removes states that expired before the cutoff.
	DeleteExpiredStates(ctx context.Context, cutoff time.Time) (int, error)
}

// Store combines all storage interfaces. Backends in this repository
// implement the full set.
type Store interface {
	AccountStore
	SessionStore
	CredentialStore
	FlowStore
}
