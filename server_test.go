package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/liangyon/machi-quest/providers"
	"github.com/liangyon/machi-quest/providers/mock"
	"github.com/liangyon/machi-quest/security"
	"github.com/liangyon/machi-quest/storage"
	"github.com/liangyon/machi-quest/storage/memory"
	storagemock "github.com/liangyon/machi-quest/storage/mock"
)

var testSigningSecret = []byte("test-secret-test-secret-test-sec")

func newTestServer(t *testing.T, provs ...providers.Provider) (*Server, *memory.Store) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	key, err := security.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	server, err := NewServer(store, provs, &Config{
		PublicURL:     "http://localhost:8080",
		FrontendURL:   "http://localhost:3000",
		SigningSecret: testSigningSecret,
		RateLimit: RateLimitConfig{
			LoginPerMinute:   -1,
			SignupPerMinute:  -1,
			RefreshPerMinute: -1,
		},
		Security: SecurityConfig{EncryptionKey: key},
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(server.Stop)
	return server, store
}

func assertAuthError(t *testing.T, err error, wantCode string) {
	t.Helper()
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthError with code %q", err, wantCode)
	}
	if authErr.Code != wantCode {
		t.Errorf("error code = %q, want %q", authErr.Code, wantCode)
	}
}

func stateFromAuthURL(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("authorization URL %q does not parse: %v", authURL, err)
	}
	state := u.Query().Get("state")
	if state == "" {
		t.Fatalf("authorization URL %q carries no state", authURL)
	}
	return state
}

// ============================================================
// Password authentication
// ============================================================

func TestSignupIssuesWorkingTokens(t *testing.T) {
	server, _ := newTestServer(t)
	ctx := context.Background()

	pair, err := server.Signup(ctx, "new@example.com", "longenoughpassword", "New User", "1.2.3.4")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("Signup() returned empty tokens")
	}

	account, claims, err := server.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if account.Email != "new@example.com" {
		t.Errorf("Email = %q, want %q", account.Email, "new@example.com")
	}
	if claims.SessionID != pair.SessionID {
		t.Errorf("SessionID = %q, want %q", claims.SessionID, pair.SessionID)
	}
}

func TestSignupValidation(t *testing.T) {
	server, _ := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		password string
		wantCode string
	}{
		{"missing email", "", "longenoughpassword", ErrorCodeInvalidRequest},
		{"email without at sign", "not-an-email", "longenoughpassword", ErrorCodeInvalidRequest},
		{"short password", "ok@example.com", "short", ErrorCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := server.Signup(ctx, tt.email, tt.password, "", "1.2.3.4")
			assertAuthError(t, err, tt.wantCode)
		})
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	server, _ := newTestServer(t)
	ctx := context.Background()

	if _, err := server.Signup(ctx, "dup@example.com", "longenoughpassword", "", "1.2.3.4"); err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	_, err := server.Signup(ctx, "DUP@example.com", "longenoughpassword", "", "1.2.3.4")
	assertAuthError(t, err, ErrorCodeEmailTaken)
}

func TestLogin(t *testing.T) {
	server, _ := newTestServer(t)
	ctx := context.Background()

	if _, err := server.Signup(ctx, "user@example.com", "correct-password", "", "1.2.3.4"); err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	pair, err := server.Login(ctx, "User@Example.com", "correct-password", "1.2.3.4")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if pair.Account.Email != "user@example.com" {
		t.Errorf("Email = %q, want %q", pair.Account.Email, "user@example.com")
	}

	// Unknown email and wrong password produce the same error.
	_, unknownErr := server.Login(ctx, "nobody@example.com", "whatever-pass", "1.2.3.4")
	assertAuthError(t, unknownErr, ErrorCodeInvalidCredentials)
	_, wrongErr := server.Login(ctx, "user@example.com", "wrong-password", "1.2.3.4")
	assertAuthError(t, wrongErr, ErrorCodeInvalidCredentials)
}

// ============================================================
// Session lifecycle
// ============================================================

func TestRefreshRotatesAndDetectsReuse(t *testing.T) {
	server, _ := newTestServer(t)
	ctx := context.Background()

	pair, err := server.Signup(ctx, "user@example.com", "longenoughpassword", "", "1.2.3.4")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	refreshed, err := server.Refresh(ctx, pair.RefreshToken, "1.2.3.4")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if refreshed.RefreshToken == pair.RefreshToken {
		t.Error("refresh token did not rotate")
	}
	if refreshed.SessionID != pair.SessionID {
		t.Errorf("SessionID changed: %q -> %q", pair.SessionID, refreshed.SessionID)
	}

	// The stale token trips reuse detection and burns the family.
	_, reuseErr := server.Refresh(ctx, pair.RefreshToken, "1.2.3.4")
	assertAuthError(t, reuseErr, ErrorCodeReuseDetected)

	// Even the freshly rotated token is dead now.
	_, revokedErr := server.Refresh(ctx, refreshed.RefreshToken, "1.2.3.4")
	assertAuthError(t, revokedErr, ErrorCodeSessionRevoked)
}

func TestRefreshUnknownToken(t *testing.T) {
	server, _ := newTestServer(t)

	_, err := server.Refresh(context.Background(), "never-issued-token", "1.2.3.4")
	assertAuthError(t, err, ErrorCodeSessionNotFound)
}

func TestLogout(t *testing.T) {
	server, _ := newTestServer(t)
	ctx := context.Background()

	pair, err := server.Signup(ctx, "user@example.com", "longenoughpassword", "", "1.2.3.4")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	if err := server.Logout(ctx, pair.RefreshToken, "1.2.3.4"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	_, err = server.Refresh(ctx, pair.RefreshToken, "1.2.3.4")
	assertAuthError(t, err, ErrorCodeSessionRevoked)

	// Repeat logout and unknown tokens are fine.
	if err := server.Logout(ctx, pair.RefreshToken, "1.2.3.4"); err != nil {
		t.Errorf("second Logout() error = %v", err)
	}
	if err := server.Logout(ctx, "never-issued", "1.2.3.4"); err != nil {
		t.Errorf("Logout(unknown) error = %v", err)
	}
}

func TestRevokeAccountSessions(t *testing.T) {
	server, _ := newTestServer(t)
	ctx := context.Background()

	pair, err := server.Signup(ctx, "user@example.com", "longenoughpassword", "", "1.2.3.4")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	second, err := server.Login(ctx, "user@example.com", "longenoughpassword", "1.2.3.4")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	n, err := server.RevokeAccountSessions(ctx, pair.Account.ID, "1.2.3.4")
	if err != nil {
		t.Fatalf("RevokeAccountSessions() error = %v", err)
	}
	if n != 2 {
		t.Errorf("revoked = %d, want 2", n)
	}

	_, err = server.Refresh(ctx, second.RefreshToken, "1.2.3.4")
	assertAuthError(t, err, ErrorCodeSessionRevoked)
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	server, _ := newTestServer(t)
	ctx := context.Background()

	_, _, err := server.Authenticate(ctx, "garbage")
	assertAuthError(t, err, ErrorCodeTokenMalformed)
}

// ============================================================
// OAuth flows
// ============================================================

func TestOAuthFlowCreatesAccount(t *testing.T) {
	provider := mock.NewMockProvider()
	server, store := newTestServer(t, provider)
	ctx := context.Background()

	authURL, err := server.OAuthBegin(ctx, "mock", "", "1.2.3.4")
	if err != nil {
		t.Fatalf("OAuthBegin() error = %v", err)
	}
	state := stateFromAuthURL(t, authURL)

	pair, err := server.OAuthComplete(ctx, "mock", state, "auth-code", "1.2.3.4")
	if err != nil {
		t.Fatalf("OAuthComplete() error = %v", err)
	}
	if pair.Account.Email != "mock@example.com" {
		t.Errorf("Email = %q, want %q", pair.Account.Email, "mock@example.com")
	}
	if pair.Account.Credentials.HasPassword() {
		t.Error("OAuth-created account has a password credential")
	}
	if _, ok := pair.Account.Identity("mock"); !ok {
		t.Error("provider identity not linked")
	}

	// Credential stored encrypted, not in the clear.
	cred, err := store.GetCredential(ctx, pair.Account.ID, "mock")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if cred.AccessTokenEncrypted == "mock-access-token" {
		t.Error("provider access token stored in plaintext")
	}

	// And decrypts back through the vault.
	tok, err := server.ProviderCredential(ctx, pair.Account.ID, "mock")
	if err != nil {
		t.Fatalf("ProviderCredential() error = %v", err)
	}
	if tok.AccessToken != "mock-access-token" {
		t.Errorf("AccessToken = %q, want %q", tok.AccessToken, "mock-access-token")
	}
}

func TestOAuthFlowReturningIdentity(t *testing.T) {
	provider := mock.NewMockProvider()
	server, _ := newTestServer(t, provider)

	first := completeOAuth(t, server, "mock")
	second := completeOAuth(t, server, "mock")
	if first.Account.ID != second.Account.ID {
		t.Errorf("returning identity resolved to a different account: %q vs %q",
			first.Account.ID, second.Account.ID)
	}
}

func completeOAuth(t *testing.T, server *Server, providerName string) *TokenPair {
	t.Helper()
	ctx := context.Background()
	authURL, err := server.OAuthBegin(ctx, providerName, "", "1.2.3.4")
	if err != nil {
		t.Fatalf("OAuthBegin() error = %v", err)
	}
	pair, err := server.OAuthComplete(ctx, providerName, stateFromAuthURL(t, authURL), "auth-code", "1.2.3.4")
	if err != nil {
		t.Fatalf("OAuthComplete() error = %v", err)
	}
	return pair
}

func TestOAuthLinksByVerifiedEmail(t *testing.T) {
	provider := mock.NewMockProvider()
	server, _ := newTestServer(t, provider)
	ctx := context.Background()

	existing, err := server.Signup(ctx, "mock@example.com", "longenoughpassword", "", "1.2.3.4")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	pair := completeOAuth(t, server, "mock")
	if pair.Account.ID != existing.Account.ID {
		t.Errorf("verified-email match created account %q instead of linking %q",
			pair.Account.ID, existing.Account.ID)
	}
	if _, ok := pair.Account.Identity("mock"); !ok {
		t.Error("identity not linked to the existing account")
	}
}

func TestOAuthEmailLinkPolicyDisabled(t *testing.T) {
	provider := mock.NewMockProvider()
	store := memory.New()
	t.Cleanup(store.Stop)

	linkByEmail := false
	server, err := NewServer(store, []providers.Provider{provider}, &Config{
		SigningSecret: testSigningSecret,
		OAuth:         OAuthConfig{LinkByVerifiedEmail: &linkByEmail},
		RateLimit:     RateLimitConfig{LoginPerMinute: -1, SignupPerMinute: -1, RefreshPerMinute: -1},
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(server.Stop)
	ctx := context.Background()

	if _, err := server.Signup(ctx, "mock@example.com", "longenoughpassword", "", "1.2.3.4"); err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	authURL, err := server.OAuthBegin(ctx, "mock", "", "1.2.3.4")
	if err != nil {
		t.Fatalf("OAuthBegin() error = %v", err)
	}
	_, err = server.OAuthComplete(ctx, "mock", stateFromAuthURL(t, authURL), "auth-code", "1.2.3.4")
	assertAuthError(t, err, ErrorCodeAccountLinkConflict)
}

func TestOAuthUnverifiedEmailNeverLinks(t *testing.T) {
	provider := mock.NewMockProvider()
	provider.FetchUserFunc = func(ctx context.Context, token *oauth2.Token) (*providers.UserInfo, error) {
		return &providers.UserInfo{
			Subject:       "unverified-sub",
			Email:         "mock@example.com",
			EmailVerified: false,
		}, nil
	}
	server, _ := newTestServer(t, provider)
	ctx := context.Background()

	existing, err := server.Signup(ctx, "mock@example.com", "longenoughpassword", "", "1.2.3.4")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	pair := completeOAuth(t, server, "mock")
	if pair.Account.ID == existing.Account.ID {
		t.Error("unverified provider email linked into an existing account")
	}
	if pair.Account.Email != "" {
		t.Errorf("new account captured the registered address %q", pair.Account.Email)
	}

	// The registered address still resolves to its owner.
	owner, err := server.Login(ctx, "mock@example.com", "longenoughpassword", "1.2.3.4")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if owner.Account.ID != existing.Account.ID {
		t.Errorf("address owner = %q, want %q", owner.Account.ID, existing.Account.ID)
	}
}

func TestOAuthStateValidation(t *testing.T) {
	provider := mock.NewMockProvider()
	server, _ := newTestServer(t, provider)
	ctx := context.Background()

	// Unknown state.
	_, err := server.OAuthComplete(ctx, "mock", "made-up-state", "auth-code", "1.2.3.4")
	assertAuthError(t, err, ErrorCodeCSRFStateInvalid)

	// A consumed state authorizes exactly one callback.
	authURL, err := server.OAuthBegin(ctx, "mock", "", "1.2.3.4")
	if err != nil {
		t.Fatalf("OAuthBegin() error = %v", err)
	}
	state := stateFromAuthURL(t, authURL)
	if _, err := server.OAuthComplete(ctx, "mock", state, "auth-code", "1.2.3.4"); err != nil {
		t.Fatalf("OAuthComplete() error = %v", err)
	}
	_, err = server.OAuthComplete(ctx, "mock", state, "auth-code", "1.2.3.4")
	assertAuthError(t, err, ErrorCodeCSRFStateInvalid)

	// A state minted for one provider does not authorize another.
	otherProvider := mock.NewMockProvider()
	otherProvider.NameFunc = func() string { return "other" }
	server2, _ := newTestServer(t, provider, otherProvider)
	authURL2, err := server2.OAuthBegin(ctx, "mock", "", "1.2.3.4")
	if err != nil {
		t.Fatalf("OAuthBegin() error = %v", err)
	}
	_, err = server2.OAuthComplete(ctx, "other", stateFromAuthURL(t, authURL2), "auth-code", "1.2.3.4")
	assertAuthError(t, err, ErrorCodeCSRFStateInvalid)
}

func TestOAuthExchangeFailure(t *testing.T) {
	provider := mock.NewMockProvider()
	provider.ExchangeCodeFunc = func(ctx context.Context, code string) (*oauth2.Token, error) {
		return nil, errors.New("provider unreachable")
	}
	server, _ := newTestServer(t, provider)
	ctx := context.Background()

	authURL, err := server.OAuthBegin(ctx, "mock", "", "1.2.3.4")
	if err != nil {
		t.Fatalf("OAuthBegin() error = %v", err)
	}
	_, err = server.OAuthComplete(ctx, "mock", stateFromAuthURL(t, authURL), "bad-code", "1.2.3.4")
	assertAuthError(t, err, ErrorCodeProviderExchangeFailed)

	var authErr *AuthError
	errors.As(err, &authErr)
	if authErr.Status != http.StatusBadGateway {
		t.Errorf("Status = %d, want %d", authErr.Status, http.StatusBadGateway)
	}
}

func TestOAuthExplicitLinkFlow(t *testing.T) {
	provider := mock.NewMockProvider()
	provider.FetchUserFunc = func(ctx context.Context, token *oauth2.Token) (*providers.UserInfo, error) {
		return &providers.UserInfo{Subject: "link-sub", Email: "other@example.com", EmailVerified: true}, nil
	}
	server, _ := newTestServer(t, provider)
	ctx := context.Background()

	existing, err := server.Signup(ctx, "user@example.com", "longenoughpassword", "", "1.2.3.4")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	authURL, err := server.OAuthBegin(ctx, "mock", existing.Account.ID, "1.2.3.4")
	if err != nil {
		t.Fatalf("OAuthBegin() error = %v", err)
	}
	pair, err := server.OAuthComplete(ctx, "mock", stateFromAuthURL(t, authURL), "auth-code", "1.2.3.4")
	if err != nil {
		t.Fatalf("OAuthComplete() error = %v", err)
	}
	if pair.Account.ID != existing.Account.ID {
		t.Errorf("link flow landed on account %q, want %q", pair.Account.ID, existing.Account.ID)
	}
	if _, ok := pair.Account.Identity("mock"); !ok {
		t.Error("identity not linked")
	}
}

func TestOAuthLinkConflict(t *testing.T) {
	provider := mock.NewMockProvider()
	server, _ := newTestServer(t, provider)
	ctx := context.Background()

	// The identity gets claimed by a fresh OAuth account first.
	owner := completeOAuth(t, server, "mock")

	other, err := server.Signup(ctx, "other@example.com", "longenoughpassword", "", "1.2.3.4")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	if owner.Account.ID == other.Account.ID {
		t.Fatal("test setup collided")
	}

	authURL, err := server.OAuthBegin(ctx, "mock", other.Account.ID, "1.2.3.4")
	if err != nil {
		t.Fatalf("OAuthBegin() error = %v", err)
	}
	_, err = server.OAuthComplete(ctx, "mock", stateFromAuthURL(t, authURL), "auth-code", "1.2.3.4")
	assertAuthError(t, err, ErrorCodeAccountLinkConflict)
}

func TestOAuthBeginUnknownProvider(t *testing.T) {
	server, _ := newTestServer(t)

	_, err := server.OAuthBegin(context.Background(), "nonexistent", "", "1.2.3.4")
	assertAuthError(t, err, ErrorCodeInvalidRequest)
}

// ============================================================
// Linked identities and credential vault
// ============================================================

func TestDisconnectProvider(t *testing.T) {
	provider := mock.NewMockProvider()
	server, store := newTestServer(t, provider)
	ctx := context.Background()

	// Password account with a linked provider: disconnecting is fine.
	existing, err := server.Signup(ctx, "mock@example.com", "longenoughpassword", "", "1.2.3.4")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	completeOAuth(t, server, "mock")

	if err := server.DisconnectProvider(ctx, existing.Account.ID, "mock", "1.2.3.4"); err != nil {
		t.Fatalf("DisconnectProvider() error = %v", err)
	}

	account, _ := store.GetAccount(ctx, existing.Account.ID)
	if _, ok := account.Identity("mock"); ok {
		t.Error("identity still linked after disconnect")
	}
	if _, err := store.GetCredential(ctx, existing.Account.ID, "mock"); !errors.Is(err, storage.ErrCredentialNotFound) {
		t.Error("credential survived disconnect")
	}
}

func TestDisconnectLastAuthMethodRefused(t *testing.T) {
	provider := mock.NewMockProvider()
	server, _ := newTestServer(t, provider)
	ctx := context.Background()

	// OAuth-only account: the provider is the only way in.
	pair := completeOAuth(t, server, "mock")

	err := server.DisconnectProvider(ctx, pair.Account.ID, "mock", "1.2.3.4")
	assertAuthError(t, err, ErrorCodeLastAuthMethod)
}

func TestDisconnectUnlinkedProvider(t *testing.T) {
	server, _ := newTestServer(t)
	ctx := context.Background()

	pair, err := server.Signup(ctx, "user@example.com", "longenoughpassword", "", "1.2.3.4")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	err = server.DisconnectProvider(ctx, pair.Account.ID, "github", "1.2.3.4")
	assertAuthError(t, err, ErrorCodeInvalidRequest)
}

func TestProviderCredentialMissing(t *testing.T) {
	server, _ := newTestServer(t)
	ctx := context.Background()

	pair, err := server.Signup(ctx, "user@example.com", "longenoughpassword", "", "1.2.3.4")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	_, err = server.ProviderCredential(ctx, pair.Account.ID, "github")
	assertAuthError(t, err, ErrorCodeInvalidRequest)
}

func TestProviderCredentialDecryptionFailure(t *testing.T) {
	provider := mock.NewMockProvider()
	server, store := newTestServer(t, provider)
	ctx := context.Background()

	pair := completeOAuth(t, server, "mock")

	// Corrupt the stored ciphertext, as a key rotation would.
	cred, err := store.GetCredential(ctx, pair.Account.ID, "mock")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	cred.AccessTokenEncrypted = "bm90LXJlYWwtY2lwaGVydGV4dC1hdC1hbGwtanVzdC1ub2lzZQ"
	if err := store.UpsertCredential(ctx, cred); err != nil {
		t.Fatalf("UpsertCredential() error = %v", err)
	}

	_, err = server.ProviderCredential(ctx, pair.Account.ID, "mock")
	assertAuthError(t, err, ErrorCodeDecryptionFailed)
}

// ============================================================
// Storage failure paths
// ============================================================

func newMockBackedServer(t *testing.T) (*Server, *storagemock.Store) {
	t.Helper()
	store := storagemock.New()
	t.Cleanup(store.Inner().Stop)

	server, err := NewServer(store, nil, &Config{
		SigningSecret: testSigningSecret,
		RateLimit:     RateLimitConfig{LoginPerMinute: -1, SignupPerMinute: -1, RefreshPerMinute: -1},
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(server.Stop)
	return server, store
}

func TestLoginStorageOutage(t *testing.T) {
	server, store := newMockBackedServer(t)
	store.GetAccountByEmailFunc = func(ctx context.Context, email string) (*storage.Account, error) {
		return nil, errors.New("connection reset")
	}

	_, err := server.Login(context.Background(), "user@example.com", "longenoughpassword", "1.2.3.4")
	assertAuthError(t, err, ErrorCodeServerError)
	if store.CallCount("GetAccountByEmail") != 1 {
		t.Errorf("GetAccountByEmail calls = %d, want 1", store.CallCount("GetAccountByEmail"))
	}
}

func TestRefreshStorageOutage(t *testing.T) {
	server, store := newMockBackedServer(t)
	ctx := context.Background()

	pair, err := server.Signup(ctx, "user@example.com", "longenoughpassword", "", "1.2.3.4")
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	store.RotateSessionFunc = func(ctx context.Context, tokenHash, newHash string, now time.Time) (*storage.Session, error) {
		return nil, errors.New("disk full")
	}
	_, err = server.Refresh(ctx, pair.RefreshToken, "1.2.3.4")
	assertAuthError(t, err, ErrorCodeServerError)

	// The failed attempt must not have burned the token.
	store.RotateSessionFunc = nil
	if _, err := server.Refresh(ctx, pair.RefreshToken, "1.2.3.4"); err != nil {
		t.Errorf("Refresh() after recovery error = %v", err)
	}
}

func TestOAuthCredentialStoreFailureDoesNotFailLogin(t *testing.T) {
	provider := mock.NewMockProvider()
	store := storagemock.New()
	t.Cleanup(store.Inner().Stop)
	store.UpsertCredentialFunc = func(ctx context.Context, cred *storage.LinkedCredential) error {
		return errors.New("disk full")
	}

	server, err := NewServer(store, []providers.Provider{provider}, &Config{
		SigningSecret: testSigningSecret,
		RateLimit:     RateLimitConfig{LoginPerMinute: -1, SignupPerMinute: -1, RefreshPerMinute: -1},
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(server.Stop)

	pair := completeOAuth(t, server, "mock")
	if pair.AccessToken == "" {
		t.Error("login failed because the credential vault was unavailable")
	}
	if store.CallCount("UpsertCredential") != 1 {
		t.Errorf("UpsertCredential calls = %d, want 1", store.CallCount("UpsertCredential"))
	}
}

func TestNewServerValidation(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)

	if _, err := NewServer(nil, nil, &Config{SigningSecret: testSigningSecret}); err == nil {
		t.Error("NewServer(nil store) succeeded")
	}
	if _, err := NewServer(store, nil, &Config{SigningSecret: []byte("short")}); err == nil {
		t.Error("NewServer(short secret) succeeded")
	}
	dup := mock.NewMockProvider()
	if _, err := NewServer(store, []providers.Provider{dup, mock.NewMockProvider()}, &Config{
		SigningSecret: testSigningSecret,
	}); err == nil {
		t.Error("NewServer(duplicate provider) succeeded")
	}
}
