// Package auth implements a session and credential service: password and
// OAuth login, short-lived signed access tokens, rotating refresh sessions
// with family-wide reuse detection, and encrypted provider credentials.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/liangyon/machi-quest/instrumentation"
	"github.com/liangyon/machi-quest/providers"
	"github.com/liangyon/machi-quest/security"
	"github.com/liangyon/machi-quest/storage"
	"github.com/liangyon/machi-quest/token"
)

// minPasswordLength is the minimum accepted password length for signup.
const minPasswordLength = 8

// Server implements the authentication operations. HTTP handling lives in
// Handler; Server is usable directly as a library.
type Server struct {
	store     storage.Store
	providers map[string]providers.Provider
	issuer    *token.Issuer
	encryptor *security.Encryptor
	auditor   *security.Auditor

	loginLimiter   *security.RateLimiter
	signupLimiter  *security.RateLimiter
	refreshLimiter *security.RateLimiter

	instr   *instrumentation.Instrumentation
	logger  *slog.Logger
	config  *Config
	timeNow func() time.Time
}

// TokenPair is the result of a successful authentication: a signed access
// token plus the raw refresh token for the session family.
type TokenPair struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
	SessionID       string
	Account         *storage.Account
}

// ProviderToken is a decrypted provider credential.
type ProviderToken struct {
	AccessToken  string
	RefreshToken string
	Scopes       string
	Username     string
	ExpiresAt    time.Time
}

// NewServer creates an auth server.
func NewServer(store storage.Store, provs []providers.Provider, config *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config == nil {
		config = &Config{}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	if len(config.SigningSecret) < 32 {
		return nil, fmt.Errorf("signing secret must be at least 32 bytes")
	}

	issuer, err := token.NewIssuer(config.SigningSecret, store,
		token.WithAccessTokenTTL(config.Tokens.AccessTokenTTL),
		token.WithRefreshTokenTTL(config.Tokens.RefreshTokenTTL),
	)
	if err != nil {
		return nil, err
	}

	encryptor, err := security.NewEncryptor(config.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	provMap := make(map[string]providers.Provider, len(provs))
	for _, p := range provs {
		if p == nil {
			continue
		}
		name := p.Name()
		if _, dup := provMap[name]; dup {
			return nil, fmt.Errorf("duplicate provider %q", name)
		}
		provMap[name] = p
	}

	s := &Server{
		store:     store,
		providers: provMap,
		issuer:    issuer,
		encryptor: encryptor,
		auditor:   security.NewAuditor(logger, config.Security.EnableAuditLogging),
		logger:    logger,
		config:    config,
		timeNow:   time.Now,
	}

	rl := config.RateLimit
	if rl.LoginPerMinute > 0 {
		s.loginLimiter = security.NewRateLimiter(rl.LoginPerMinute, rl.Burst, rl.MaxEntries, logger)
	}
	if rl.SignupPerMinute > 0 {
		s.signupLimiter = security.NewRateLimiter(rl.SignupPerMinute, rl.Burst, rl.MaxEntries, logger)
	}
	if rl.RefreshPerMinute > 0 {
		s.refreshLimiter = security.NewRateLimiter(rl.RefreshPerMinute, rl.Burst, rl.MaxEntries, logger)
	}

	return s, nil
}

// SetInstrumentation wires metrics and tracing into the server.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instr = inst
}

// Config returns the effective server configuration after defaults.
func (s *Server) Config() *Config {
	return s.config
}

// Issuer exposes the token issuer, mainly for middleware that verifies
// access tokens without going through the server.
func (s *Server) Issuer() *token.Issuer {
	return s.issuer
}

// Stop releases background resources (rate limiter cleanup goroutines).
func (s *Server) Stop() {
	for _, rl := range []*security.RateLimiter{s.loginLimiter, s.signupLimiter, s.refreshLimiter} {
		if rl != nil {
			rl.Stop()
		}
	}
}

// ============================================================
// Password authentication
// ============================================================

// Signup registers a new account with email and password and starts a
// session for it.
func (s *Server) Signup(ctx context.Context, email, password, displayName, clientIP string) (*TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidRequest("a valid email is required")
	}
	if len(password) < minPasswordLength {
		return nil, ErrInvalidRequest(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		s.logger.Error("password hashing failed", "error", err)
		return nil, ErrServerError("failed to process credentials")
	}

	account := &storage.Account{
		ID:          uuid.NewString(),
		Email:       email,
		Credentials: storage.PasswordCredentials(hash),
		DisplayName: displayName,
	}

	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			return nil, ErrEmailTaken()
		}
		s.logger.Error("account creation failed", "error", err)
		return nil, ErrServerError("failed to create account")
	}

	s.auditor.LogEvent(security.Event{
		Type:      security.EventAccountCreated,
		AccountID: account.ID,
		IPAddress: clientIP,
	})

	return s.startSession(ctx, account, clientIP, "password")
}

// Login authenticates an account with email and password and starts a new
// session family. Unknown emails and wrong passwords are indistinguishable
// to the caller.
func (s *Server) Login(ctx context.Context, email, password, clientIP string) (*TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	account, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			s.recordAuthFailure(ctx, "", clientIP, "unknown_email")
			return nil, ErrInvalidCredentials()
		}
		s.logger.Error("account lookup failed", "error", err)
		return nil, ErrServerError("failed to look up account")
	}

	hash, ok := account.Credentials.PasswordHash()
	if !ok {
		// OAuth-only account; password login is not available for it.
		s.recordAuthFailure(ctx, account.ID, clientIP, "no_password_set")
		return nil, ErrInvalidCredentials()
	}

	match, err := security.VerifyPassword(password, hash)
	if err != nil {
		s.logger.Error("password verification failed", "account_id", account.ID, "error", err)
		return nil, ErrServerError("failed to verify credentials")
	}
	if !match {
		s.recordAuthFailure(ctx, account.ID, clientIP, "wrong_password")
		return nil, ErrInvalidCredentials()
	}

	return s.startSession(ctx, account, clientIP, "password")
}

// ============================================================
// Session lifecycle
// ============================================================

// Refresh rotates a refresh token and mints a fresh access token. The
// presented token dies on success; on reuse detection the whole family is
// already revoked by the time the error returns.
func (s *Server) Refresh(ctx context.Context, rawRefresh, clientIP string) (*TokenPair, error) {
	session, newRaw, err := s.issuer.Rotate(ctx, rawRefresh)
	if err != nil {
		return nil, s.mapRotateError(ctx, err, clientIP)
	}

	account, err := s.store.GetAccount(ctx, session.AccountID)
	if err != nil {
		s.logger.Error("account lookup after rotation failed",
			"account_id", session.AccountID, "error", err)
		return nil, ErrServerError("failed to look up account")
	}

	accessToken, expiresAt, err := s.issuer.IssueAccessToken(account.ID, session.FamilyID)
	if err != nil {
		s.logger.Error("access token issuance failed", "error", err)
		return nil, ErrServerError("failed to issue access token")
	}

	s.auditor.LogTokenRefreshed(account.ID, session.FamilyID, clientIP, session.Version)
	if s.instr != nil {
		s.instr.Metrics().RecordTokenRefresh(ctx)
	}

	return &TokenPair{
		AccessToken:     accessToken,
		AccessExpiresAt: expiresAt,
		RefreshToken:    newRaw,
		SessionID:       session.FamilyID,
		Account:         account,
	}, nil
}

// Logout revokes the session family behind a refresh token. It is
// idempotent: unknown, expired, and already-revoked tokens all succeed.
// The token is validated through the same atomic rotation path as Refresh,
// so a stolen-then-reused token still trips family revocation here.
func (s *Server) Logout(ctx context.Context, rawRefresh, clientIP string) error {
	session, _, err := s.issuer.Rotate(ctx, rawRefresh)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrReuseDetected),
			errors.Is(err, storage.ErrSessionRevoked),
			errors.Is(err, storage.ErrSessionExpired),
			errors.Is(err, storage.ErrSessionNotFound):
			return nil
		default:
			s.logger.Error("logout rotation failed", "error", err)
			return ErrServerError("failed to terminate session")
		}
	}

	if err := s.issuer.Revoke(ctx, session.FamilyID, storage.RevokedLogout); err != nil {
		s.logger.Error("logout revocation failed", "family_id", session.FamilyID, "error", err)
		return ErrServerError("failed to terminate session")
	}

	s.auditor.LogSessionRevoked(session.AccountID, session.FamilyID, clientIP, storage.RevokedLogout)
	if s.instr != nil {
		s.instr.Metrics().RecordSessionRevoked(ctx, storage.RevokedLogout)
	}
	return nil
}

// RevokeAccountSessions terminates every live session of an account.
func (s *Server) RevokeAccountSessions(ctx context.Context, accountID, clientIP string) (int, error) {
	n, err := s.store.RevokeAccountSessions(ctx, accountID, storage.RevokedAccountWipe)
	if err != nil {
		s.logger.Error("account session revocation failed", "account_id", accountID, "error", err)
		return 0, ErrServerError("failed to revoke sessions")
	}
	s.auditor.LogEvent(security.Event{
		Type:      security.EventAllSessionsRevoked,
		AccountID: accountID,
		IPAddress: clientIP,
		Details:   map[string]any{"count": n},
	})
	return n, nil
}

// Authenticate verifies an access token and loads its account.
func (s *Server) Authenticate(ctx context.Context, accessToken string) (*storage.Account, *token.Claims, error) {
	claims, err := s.issuer.VerifyAccessToken(accessToken)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			return nil, nil, ErrTokenExpired()
		}
		return nil, nil, ErrTokenMalformed()
	}

	account, err := s.store.GetAccount(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return nil, nil, ErrTokenMalformed()
		}
		return nil, nil, ErrServerError("failed to look up account")
	}
	return account, claims, nil
}

// startSession creates a session family and mints the first token pair.
func (s *Server) startSession(ctx context.Context, account *storage.Account, clientIP, method string) (*TokenPair, error) {
	session, rawRefresh, err := s.issuer.StartSession(ctx, account.ID)
	if err != nil {
		s.logger.Error("session creation failed", "account_id", account.ID, "error", err)
		return nil, ErrServerError("failed to start session")
	}

	accessToken, expiresAt, err := s.issuer.IssueAccessToken(account.ID, session.FamilyID)
	if err != nil {
		s.logger.Error("access token issuance failed", "error", err)
		return nil, ErrServerError("failed to issue access token")
	}

	s.auditor.LogSessionStarted(account.ID, session.FamilyID, clientIP)
	if s.instr != nil {
		s.instr.Metrics().RecordSessionStarted(ctx, method)
	}

	return &TokenPair{
		AccessToken:     accessToken,
		AccessExpiresAt: expiresAt,
		RefreshToken:    rawRefresh,
		SessionID:       session.FamilyID,
		Account:         account,
	}, nil
}

func (s *Server) mapRotateError(ctx context.Context, err error, clientIP string) error {
	switch {
	case errors.Is(err, storage.ErrReuseDetected):
		s.auditor.LogReuseDetected("", "", clientIP)
		if s.instr != nil {
			s.instr.Metrics().RecordTokenReuseDetected(ctx)
		}
		return ErrReuseDetected()
	case errors.Is(err, storage.ErrSessionRevoked):
		return ErrSessionRevoked()
	case errors.Is(err, storage.ErrSessionExpired):
		return ErrSessionExpired()
	case errors.Is(err, storage.ErrSessionNotFound):
		return ErrSessionNotFound()
	default:
		s.logger.Error("session rotation failed", "error", err)
		return ErrServerError("failed to rotate session")
	}
}

func (s *Server) recordAuthFailure(ctx context.Context, accountID, clientIP, reason string) {
	s.auditor.LogAuthFailure(accountID, clientIP, reason)
	if s.instr != nil {
		s.instr.Metrics().RecordAuthFailure(ctx, reason)
	}
}

// ============================================================
// OAuth login flows
// ============================================================

// OAuthBegin starts a provider login flow: it stores a single-use
// anti-forgery state and returns the provider authorization URL to redirect
// the browser to. linkAccountID is non-empty when an authenticated user is
// attaching the provider to their existing account.
func (s *Server) OAuthBegin(ctx context.Context, providerName, linkAccountID, clientIP string) (string, error) {
	provider, ok := s.providers[providerName]
	if !ok {
		return "", ErrInvalidRequest(fmt.Sprintf("unknown provider %q", providerName))
	}

	state, err := token.GenerateRefreshToken()
	if err != nil {
		s.logger.Error("state generation failed", "error", err)
		return "", ErrServerError("failed to start login flow")
	}

	now := s.timeNow()
	if err := s.store.SaveLoginState(ctx, &storage.LoginState{
		State:         state,
		Provider:      providerName,
		LinkAccountID: linkAccountID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.config.OAuth.StateTTL),
	}); err != nil {
		s.logger.Error("state persistence failed", "error", err)
		return "", ErrServerError("failed to start login flow")
	}

	s.auditor.LogEvent(security.Event{
		Type:      security.EventProviderFlowStarted,
		AccountID: linkAccountID,
		IPAddress: clientIP,
		Details:   map[string]any{"provider": providerName},
	})

	return provider.AuthorizationURL(state), nil
}

// OAuthComplete finishes a provider login flow. Validation order is fixed:
// state first, then code exchange, then account resolution. A state that
// fails consumption never reaches the provider.
func (s *Server) OAuthComplete(ctx context.Context, providerName, state, code, clientIP string) (*TokenPair, error) {
	loginState, err := s.store.ConsumeLoginState(ctx, state, s.timeNow())
	if err != nil {
		s.auditor.LogEvent(security.Event{
			Type:      security.EventProviderStateMismatch,
			IPAddress: clientIP,
			Details:   map[string]any{"provider": providerName},
		})
		return nil, ErrCSRFStateInvalid()
	}
	if loginState.Provider != providerName {
		return nil, ErrCSRFStateInvalid()
	}

	provider, ok := s.providers[providerName]
	if !ok {
		return nil, ErrInvalidRequest(fmt.Sprintf("unknown provider %q", providerName))
	}

	exchangeStart := time.Now()
	providerToken, err := provider.ExchangeCode(ctx, code)
	if s.instr != nil {
		s.instr.Metrics().RecordProviderExchange(ctx, providerName,
			float64(time.Since(exchangeStart).Milliseconds()), err)
	}
	if err != nil {
		s.auditor.LogEvent(security.Event{
			Type:      security.EventProviderCodeExchangeFailed,
			IPAddress: clientIP,
			Details:   map[string]any{"provider": providerName},
		})
		s.logger.Warn("provider code exchange failed", "provider", providerName, "error", err)
		return nil, ErrProviderExchangeFailed("code exchange with provider failed")
	}

	userInfo, err := provider.FetchUser(ctx, providerToken)
	if err != nil {
		s.logger.Warn("provider user fetch failed", "provider", providerName, "error", err)
		return nil, ErrProviderExchangeFailed("failed to fetch user from provider")
	}
	if userInfo.Subject == "" {
		return nil, ErrProviderExchangeFailed("provider returned no user identifier")
	}

	account, err := s.resolveAccount(ctx, provider, loginState, userInfo, clientIP)
	if err != nil {
		return nil, err
	}

	s.storeCredential(ctx, account.ID, provider, providerToken, userInfo)

	return s.startSession(ctx, account, clientIP, providerName)
}

// resolveAccount maps a provider identity to a local account: an explicit
// link target wins, then the identity itself, then a verified-email match
// (policy gated), and finally a fresh password-less account.
func (s *Server) resolveAccount(ctx context.Context, provider providers.Provider, loginState *storage.LoginState, userInfo *providers.UserInfo, clientIP string) (*storage.Account, error) {
	providerName := provider.Name()
	identity := storage.ProviderIdentity{
		Provider: providerName,
		Subject:  userInfo.Subject,
		Username: userInfo.Username,
	}

	if loginState.LinkAccountID != "" {
		if err := s.store.LinkIdentity(ctx, loginState.LinkAccountID, identity); err != nil {
			if errors.Is(err, storage.ErrIdentityTaken) {
				s.auditor.LogEvent(security.Event{
					Type:      security.EventIdentityLinkConflict,
					AccountID: loginState.LinkAccountID,
					IPAddress: clientIP,
					Details:   map[string]any{"provider": providerName},
				})
				return nil, ErrAccountLinkConflict()
			}
			s.logger.Error("identity link failed", "error", err)
			return nil, ErrServerError("failed to link identity")
		}
		s.auditor.LogIdentityLinked(loginState.LinkAccountID, providerName, clientIP)
		return s.getAccountOrServerError(ctx, loginState.LinkAccountID)
	}

	account, err := s.store.GetAccountByIdentity(ctx, providerName, userInfo.Subject)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, storage.ErrAccountNotFound) {
		s.logger.Error("identity lookup failed", "error", err)
		return nil, ErrServerError("failed to look up identity")
	}

	// No account owns this identity yet. A verified provider email matching
	// an existing account attaches the identity there when policy allows.
	if userInfo.Email != "" && userInfo.EmailVerified {
		existing, err := s.store.GetAccountByEmail(ctx, userInfo.Email)
		switch {
		case err == nil:
			if !*s.config.OAuth.LinkByVerifiedEmail {
				return nil, ErrAccountLinkConflict()
			}
			if err := s.store.LinkIdentity(ctx, existing.ID, identity); err != nil {
				s.logger.Error("identity link by email failed", "error", err)
				return nil, ErrServerError("failed to link identity")
			}
			s.auditor.LogIdentityLinked(existing.ID, providerName, clientIP)
			return s.getAccountOrServerError(ctx, existing.ID)
		case !errors.Is(err, storage.ErrAccountNotFound):
			s.logger.Error("email lookup failed", "error", err)
			return nil, ErrServerError("failed to look up account")
		}
	}

	// Create a fresh password-less account owned by this identity.
	account = &storage.Account{
		ID:          uuid.NewString(),
		Email:       strings.ToLower(userInfo.Email),
		Credentials: storage.NoCredentials(),
		DisplayName: userInfo.Name,
		AvatarURL:   userInfo.AvatarURL,
		Identities:  []storage.ProviderIdentity{identity},
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			// The address is already registered and this identity has no
			// verified claim to it (unverified email, or a signup race).
			// The account starts without an email rather than failing the
			// login or capturing someone else's address.
			account.Email = ""
			err = s.store.CreateAccount(ctx, account)
		}
		if err != nil {
			s.logger.Error("oauth account creation failed", "error", err)
			return nil, ErrServerError("failed to create account")
		}
	}

	s.auditor.LogEvent(security.Event{
		Type:      security.EventAccountCreated,
		AccountID: account.ID,
		IPAddress: clientIP,
		Details:   map[string]any{"provider": providerName},
	})
	return account, nil
}

func (s *Server) getAccountOrServerError(ctx context.Context, accountID string) (*storage.Account, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		s.logger.Error("account lookup failed", "account_id", accountID, "error", err)
		return nil, ErrServerError("failed to look up account")
	}
	return account, nil
}

// storeCredential encrypts and persists provider tokens. Failures are logged
// but never fail the login: the identity link matters more than the vault.
func (s *Server) storeCredential(ctx context.Context, accountID string, provider providers.Provider, tok *oauth2.Token, userInfo *providers.UserInfo) {
	encAccess, err := s.encryptor.Encrypt(tok.AccessToken)
	if err != nil {
		s.logger.Error("credential encryption failed", "provider", provider.Name(), "error", err)
		return
	}
	encRefresh := ""
	if tok.RefreshToken != "" {
		encRefresh, err = s.encryptor.Encrypt(tok.RefreshToken)
		if err != nil {
			s.logger.Error("credential encryption failed", "provider", provider.Name(), "error", err)
			return
		}
	}

	now := s.timeNow()
	cred := &storage.LinkedCredential{
		AccountID:             accountID,
		Provider:              provider.Name(),
		AccessTokenEncrypted:  encAccess,
		RefreshTokenEncrypted: encRefresh,
		Scopes:                strings.Join(provider.DefaultScopes(), " "),
		ProviderUsername:      userInfo.Username,
		ExpiresAt:             tok.Expiry,
		LastRefreshedAt:       now,
	}
	if err := s.store.UpsertCredential(ctx, cred); err != nil {
		s.logger.Error("credential persistence failed", "provider", provider.Name(), "error", err)
		return
	}
	s.auditor.LogEvent(security.Event{
		Type:      security.EventCredentialStored,
		AccountID: accountID,
		Details:   map[string]any{"provider": provider.Name()},
	})
}

// ============================================================
// Linked identities and the credential vault
// ============================================================

// DisconnectProvider removes a linked identity and its stored credential.
// The last remaining way into the account can never be removed.
func (s *Server) DisconnectProvider(ctx context.Context, accountID, providerName, clientIP string) error {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return ErrInvalidRequest("account not found")
		}
		return ErrServerError("failed to look up account")
	}

	if _, ok := account.Identity(providerName); !ok {
		return ErrInvalidRequest(fmt.Sprintf("provider %q is not linked", providerName))
	}
	if account.AuthMethods() <= 1 {
		return ErrLastAuthMethod()
	}

	if err := s.store.UnlinkIdentity(ctx, accountID, providerName); err != nil {
		s.logger.Error("identity unlink failed", "account_id", accountID, "error", err)
		return ErrServerError("failed to unlink identity")
	}
	if err := s.store.DeleteCredential(ctx, accountID, providerName); err != nil && !errors.Is(err, storage.ErrCredentialNotFound) {
		s.logger.Error("credential deletion failed", "account_id", accountID, "error", err)
	}

	s.auditor.LogIdentityUnlinked(accountID, providerName, clientIP)
	return nil
}

// ProviderCredential returns the decrypted provider tokens stored for an
// account. Ciphertext that no longer decrypts (key rotation, corruption) is
// reported as a conflict so callers know to re-link the provider.
func (s *Server) ProviderCredential(ctx context.Context, accountID, providerName string) (*ProviderToken, error) {
	cred, err := s.store.GetCredential(ctx, accountID, providerName)
	if err != nil {
		if errors.Is(err, storage.ErrCredentialNotFound) {
			return nil, ErrInvalidRequest(fmt.Sprintf("no credential stored for provider %q", providerName))
		}
		return nil, ErrServerError("failed to look up credential")
	}

	accessToken, err := s.encryptor.Decrypt(cred.AccessTokenEncrypted)
	if err != nil {
		s.auditor.LogEvent(security.Event{
			Type:      security.EventCredentialDecryptionFailed,
			AccountID: accountID,
			Details:   map[string]any{"provider": providerName},
		})
		s.logger.Error("credential decryption failed", "provider", providerName, "error", err)
		return nil, ErrDecryptionFailed()
	}
	refreshToken := ""
	if cred.RefreshTokenEncrypted != "" {
		refreshToken, err = s.encryptor.Decrypt(cred.RefreshTokenEncrypted)
		if err != nil {
			s.logger.Error("credential decryption failed", "provider", providerName, "error", err)
			return nil, ErrDecryptionFailed()
		}
	}

	return &ProviderToken{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Scopes:       cred.Scopes,
		Username:     cred.ProviderUsername,
		ExpiresAt:    cred.ExpiresAt,
	}, nil
}
