// Package testutil provides shared helpers for the auth test suites.
package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/liangyon/machi-quest/providers"
	"github.com/liangyon/machi-quest/storage"
)

// MockTime is a controllable clock for deterministic expiry tests.
type MockTime struct {
	now time.Time
}

// NewMockTime creates a clock frozen at t.
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time.
func (m *MockTime) Now() time.Time {
	return m.now
}

// Advance moves the clock forward by d.
func (m *MockTime) Advance(d time.Duration) {
	m.now = m.now.Add(d)
}

// Set jumps the clock to t.
func (m *MockTime) Set(t time.Time) {
	m.now = t
}

// RandomString generates a random base64-encoded string of the given length.
func RandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// TestAccount creates an account with a password credential.
func TestAccount(id string) *storage.Account {
	return &storage.Account{
		ID:          id,
		Email:       id + "@example.com",
		Credentials: storage.PasswordCredentials("$argon2id$v=19$m=65536,t=3,p=4$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaGhhc2hoYXNoaGFzaGhhc2g"),
		DisplayName: "Test User",
		CreatedAt:   time.Now(),
	}
}

// TestSession creates an active session for an account.
func TestSession(familyID, accountID, tokenHash string) *storage.Session {
	now := time.Now()
	return &storage.Session{
		FamilyID:  familyID,
		AccountID: accountID,
		Version:   0,
		TokenHash: tokenHash,
		IssuedAt:  now,
		ExpiresAt: now.Add(7 * 24 * time.Hour),
	}
}

// TestUserInfo creates provider user info for a verified email.
func TestUserInfo() *providers.UserInfo {
	return &providers.UserInfo{
		Subject:       "provider-user-123",
		Email:         "provider-user@example.com",
		EmailVerified: true,
		Username:      "provideruser",
		Name:          "Provider User",
		AvatarURL:     "https://example.com/avatar.png",
	}
}

// TestProviderToken creates an OAuth2 token expiring in an hour.
func TestProviderToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  RandomString(32),
		TokenType:    "Bearer",
		RefreshToken: RandomString(32),
		Expiry:       time.Now().Add(time.Hour),
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

// AssertEqual fails the test if got != want.
func AssertEqual(t *testing.T, got, want any) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
