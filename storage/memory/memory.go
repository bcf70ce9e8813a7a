// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/liangyon/machi-quest/instrumentation"
	"github.com/liangyon/machi-quest/storage"
)

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	// Account storage
	accounts   map[string]*storage.Account // account id -> account
	emails     map[string]string           // lowercased email -> account id
	identities map[string]string           // provider + "\x00" + subject -> account id

	// Session storage. sessionsByHash indexes the CURRENT hash of each live
	// family; usedHashes remembers superseded hashes so a stale presentation
	// can be classified as reuse rather than an unknown token.
	sessions       map[string]*storage.Session // family id -> session
	sessionsByHash map[string]string           // current token hash -> family id
	usedHashes     map[string]string           // superseded token hash -> family id

	// Credential storage (values are ciphertext, encrypted by the caller)
	credentials map[string]*storage.LinkedCredential // account id + "\x00" + provider

	// Flow storage
	states map[string]*storage.LoginState

	// Instrumentation
	instr  *instrumentation.Instrumentation
	tracer trace.Tracer

	// Atomic counters for metrics (lock-free access during collection)
	accountsCount    atomic.Int64
	sessionsCount    atomic.Int64
	credentialsCount atomic.Int64
	statesCount      atomic.Int64

	// Cleanup
	cleanupInterval  time.Duration
	revokedRetention time.Duration
	stopCleanup      chan struct{}
	stopOnce         sync.Once
	logger           *slog.Logger
}

// Compile-time interface check
var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store with the default cleanup interval
// (1 minute) and default revoked session retention (90 days).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup interval.
func NewWithInterval(interval time.Duration) *Store {
	s := &Store{
		accounts:         make(map[string]*storage.Account),
		emails:           make(map[string]string),
		identities:       make(map[string]string),
		sessions:         make(map[string]*storage.Session),
		sessionsByHash:   make(map[string]string),
		usedHashes:       make(map[string]string),
		credentials:      make(map[string]*storage.LinkedCredential),
		states:           make(map[string]*storage.LoginState),
		cleanupInterval:  interval,
		revokedRetention: 90 * 24 * time.Hour,
		stopCleanup:      make(chan struct{}),
		logger:           slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetRevokedSessionRetention sets how long revoked session families are kept
// after revocation, for forensics. Call before the store is in use.
func (s *Store) SetRevokedSessionRetention(d time.Duration) {
	if d > 0 {
		s.revokedRetention = d
	}
}

// SetInstrumentation wires metrics and tracing into the store and registers
// storage size gauges backed by the atomic counters.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instr = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.accountsCount.Store(int64(len(s.accounts)))
	s.sessionsCount.Store(int64(len(s.sessions)))
	s.credentialsCount.Store(int64(len(s.credentials)))
	s.statesCount.Store(int64(len(s.states)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.accountsCount.Load() },
			func() int64 { return s.sessionsCount.Load() },
			func() int64 { return s.credentialsCount.Load() },
			func() int64 { return s.statesCount.Load() },
		)
		if err != nil {
			s.logger.Warn("failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ============================================================
// AccountStore implementation
// ============================================================

// CreateAccount stores a new account.
func (s *Store) CreateAccount(ctx context.Context, account *storage.Account) error {
	ctx, span := s.startStorageSpan(ctx, "create_account")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "create_account", err, startTime) }()

	if account == nil || account.ID == "" {
		err = fmt.Errorf("account id cannot be empty")
		return err
	}

	emailKey := strings.ToLower(account.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ID]; exists {
		err = fmt.Errorf("account %s already exists", account.ID)
		return err
	}
	if emailKey != "" {
		if _, exists := s.emails[emailKey]; exists {
			err = storage.ErrEmailTaken
			return err
		}
	}
	for _, id := range account.Identities {
		if _, exists := s.identities[identityKey(id.Provider, id.Subject)]; exists {
			err = storage.ErrIdentityTaken
			return err
		}
	}

	stored := cloneAccount(account)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.UpdatedAt = stored.CreatedAt

	s.accounts[stored.ID] = stored
	if emailKey != "" {
		s.emails[emailKey] = stored.ID
	}
	for _, id := range stored.Identities {
		s.identities[identityKey(id.Provider, id.Subject)] = stored.ID
	}
	s.accountsCount.Add(1)

	s.logger.Debug("account created", "account_id", stored.ID)
	return nil
}

// GetAccount retrieves an account by id.
func (s *Store) GetAccount(ctx context.Context, id string) (*storage.Account, error) {
	ctx, span := s.startStorageSpan(ctx, "get_account")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "get_account", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.accounts[id]
	if !exists {
		err = storage.ErrAccountNotFound
		return nil, err
	}
	return cloneAccount(account), nil
}

// GetAccountByEmail retrieves an account by email, case-insensitively.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*storage.Account, error) {
	ctx, span := s.startStorageSpan(ctx, "get_account_by_email")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "get_account_by_email", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.emails[strings.ToLower(email)]
	if !exists {
		err = storage.ErrAccountNotFound
		return nil, err
	}
	return cloneAccount(s.accounts[id]), nil
}

// GetAccountByIdentity retrieves the account owning a provider identity.
func (s *Store) GetAccountByIdentity(ctx context.Context, provider, subject string) (*storage.Account, error) {
	ctx, span := s.startStorageSpan(ctx, "get_account_by_identity")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "get_account_by_identity", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.identities[identityKey(provider, subject)]
	if !exists {
		err = storage.ErrAccountNotFound
		return nil, err
	}
	return cloneAccount(s.accounts[id]), nil
}

// UpdateAccount persists mutable account fields. Linked identities are
// managed through LinkIdentity and UnlinkIdentity, not here.
func (s *Store) UpdateAccount(ctx context.Context, account *storage.Account) error {
	ctx, span := s.startStorageSpan(ctx, "update_account")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "update_account", err, startTime) }()

	if account == nil || account.ID == "" {
		err = fmt.Errorf("account id cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.accounts[account.ID]
	if !exists {
		err = storage.ErrAccountNotFound
		return err
	}

	newEmailKey := strings.ToLower(account.Email)
	oldEmailKey := strings.ToLower(existing.Email)
	if newEmailKey != oldEmailKey {
		if owner, taken := s.emails[newEmailKey]; taken && owner != account.ID {
			err = storage.ErrEmailTaken
			return err
		}
		delete(s.emails, oldEmailKey)
		if newEmailKey != "" {
			s.emails[newEmailKey] = account.ID
		}
	}

	existing.Email = account.Email
	existing.Credentials = account.Credentials
	existing.DisplayName = account.DisplayName
	existing.AvatarURL = account.AvatarURL
	existing.UpdatedAt = time.Now()

	return nil
}

// LinkIdentity attaches a provider identity to an account.
func (s *Store) LinkIdentity(ctx context.Context, accountID string, identity storage.ProviderIdentity) error {
	ctx, span := s.startStorageSpan(ctx, "link_identity")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "link_identity", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[accountID]
	if !exists {
		err = storage.ErrAccountNotFound
		return err
	}

	key := identityKey(identity.Provider, identity.Subject)
	if owner, taken := s.identities[key]; taken && owner != accountID {
		err = storage.ErrIdentityTaken
		return err
	}

	// Replace any existing link for the same provider.
	for i, id := range account.Identities {
		if id.Provider == identity.Provider {
			delete(s.identities, identityKey(id.Provider, id.Subject))
			account.Identities = append(account.Identities[:i], account.Identities[i+1:]...)
			break
		}
	}

	account.Identities = append(account.Identities, identity)
	account.UpdatedAt = time.Now()
	s.identities[key] = accountID

	return nil
}

// UnlinkIdentity removes a provider identity from an account. Removing an
// identity that is not linked is not an error.
func (s *Store) UnlinkIdentity(ctx context.Context, accountID, provider string) error {
	ctx, span := s.startStorageSpan(ctx, "unlink_identity")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "unlink_identity", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[accountID]
	if !exists {
		err = storage.ErrAccountNotFound
		return err
	}

	for i, id := range account.Identities {
		if id.Provider == provider {
			delete(s.identities, identityKey(id.Provider, id.Subject))
			account.Identities = append(account.Identities[:i], account.Identities[i+1:]...)
			account.UpdatedAt = time.Now()
			break
		}
	}

	return nil
}

// ============================================================
// SessionStore implementation
// ============================================================

// CreateSession stores a new session family.
func (s *Store) CreateSession(ctx context.Context, session *storage.Session) error {
	ctx, span := s.startStorageSpan(ctx, "create_session")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "create_session", err, startTime) }()

	if session == nil || session.FamilyID == "" {
		err = fmt.Errorf("session family id cannot be empty")
		return err
	}
	if session.TokenHash == "" {
		err = fmt.Errorf("session token hash cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.FamilyID]; exists {
		err = fmt.Errorf("session family %s already exists", session.FamilyID)
		return err
	}

	stored := cloneSession(session)
	s.sessions[stored.FamilyID] = stored
	s.sessionsByHash[stored.TokenHash] = stored.FamilyID
	s.sessionsCount.Add(1)

	s.logger.Debug("session created", "family_id", stored.FamilyID)
	return nil
}

// GetSession retrieves a session by family id.
func (s *Store) GetSession(ctx context.Context, familyID string) (*storage.Session, error) {
	ctx, span := s.startStorageSpan(ctx, "get_session")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "get_session", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[familyID]
	if !exists {
		err = storage.ErrSessionNotFound
		return nil, err
	}
	return cloneSession(session), nil
}

// RotateSession atomically advances a session family. See the interface
// contract in package storage; all checks happen under one lock so two
// concurrent rotations of the same token yield exactly one winner.
func (s *Store) RotateSession(ctx context.Context, tokenHash, newHash string, now time.Time) (*storage.Session, error) {
	ctx, span := s.startStorageSpan(ctx, "rotate_session")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "rotate_session", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	familyID, current := s.sessionsByHash[tokenHash]
	if !current {
		// Not the current hash of any family. A hit in usedHashes means a
		// superseded token was presented: revoke the whole family.
		familyID, used := s.usedHashes[tokenHash]
		if !used {
			err = storage.ErrSessionNotFound
			return nil, err
		}

		session, exists := s.sessions[familyID]
		if !exists {
			err = storage.ErrSessionNotFound
			return nil, err
		}
		if session.Revoked {
			err = storage.ErrSessionRevoked
			return nil, err
		}
		if now.After(session.ExpiresAt) {
			err = storage.ErrSessionExpired
			return nil, err
		}

		s.revokeLocked(session, storage.RevokedReuse, now)
		instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrTokenReuse, true))
		s.logger.Warn("refresh token reuse detected, family revoked",
			"family_id", session.FamilyID, "version", session.Version)

		err = storage.ErrReuseDetected
		return nil, err
	}

	session, exists := s.sessions[familyID]
	if !exists {
		err = storage.ErrSessionNotFound
		return nil, err
	}
	if session.Revoked {
		err = storage.ErrSessionRevoked
		return nil, err
	}
	if now.After(session.ExpiresAt) {
		err = storage.ErrSessionExpired
		return nil, err
	}

	delete(s.sessionsByHash, tokenHash)
	s.usedHashes[tokenHash] = familyID

	session.TokenHash = newHash
	session.Version++
	session.RotatedAt = now
	s.sessionsByHash[newHash] = familyID

	instrumentation.AddSessionAttributes(span, session.FamilyID, session.Version)
	return cloneSession(session), nil
}

// RevokeSession marks a family revoked with a reason.
func (s *Store) RevokeSession(ctx context.Context, familyID, reason string) error {
	ctx, span := s.startStorageSpan(ctx, "revoke_session")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "revoke_session", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[familyID]
	if !exists {
		err = storage.ErrSessionNotFound
		return err
	}
	if session.Revoked {
		return nil
	}

	s.revokeLocked(session, reason, time.Now())
	return nil
}

// RevokeAccountSessions revokes every live family owned by an account.
func (s *Store) RevokeAccountSessions(ctx context.Context, accountID, reason string) (int, error) {
	ctx, span := s.startStorageSpan(ctx, "revoke_account_sessions")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "revoke_account_sessions", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	revoked := 0
	for _, session := range s.sessions {
		if session.AccountID == accountID && !session.Revoked {
			s.revokeLocked(session, reason, now)
			revoked++
		}
	}

	if revoked > 0 {
		s.logger.Info("revoked all sessions for account",
			"account_id", accountID, "count", revoked, "reason", reason)
	}
	return revoked, nil
}

// revokeLocked marks a session revoked. Caller holds s.mu.
func (s *Store) revokeLocked(session *storage.Session, reason string, now time.Time) {
	session.Revoked = true
	session.RevokedAt = now
	session.RevokedReason = reason
}

// DeleteExpiredSessions removes families whose refresh window ended before
// the cutoff, and revoked families past the retention window.
func (s *Store) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, span := s.startStorageSpan(ctx, "delete_expired_sessions")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "delete_expired_sessions", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for familyID, session := range s.sessions {
		expired := session.ExpiresAt.Before(cutoff)
		retired := session.Revoked && session.RevokedAt.Add(s.revokedRetention).Before(cutoff)
		if !expired && !retired {
			continue
		}

		delete(s.sessions, familyID)
		delete(s.sessionsByHash, session.TokenHash)
		for hash, fid := range s.usedHashes {
			if fid == familyID {
				delete(s.usedHashes, hash)
			}
		}
		removed++
	}

	s.sessionsCount.Add(int64(-removed))
	return removed, nil
}

// ============================================================
// CredentialStore implementation
// ============================================================

// UpsertCredential inserts or replaces the credential for (account, provider).
func (s *Store) UpsertCredential(ctx context.Context, cred *storage.LinkedCredential) error {
	ctx, span := s.startStorageSpan(ctx, "upsert_credential")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "upsert_credential", err, startTime) }()

	if cred == nil || cred.AccountID == "" || cred.Provider == "" {
		err = fmt.Errorf("credential account id and provider cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := credentialKey(cred.AccountID, cred.Provider)
	_, existed := s.credentials[key]

	stored := *cred
	s.credentials[key] = &stored
	if !existed {
		s.credentialsCount.Add(1)
	}

	return nil
}

// GetCredential retrieves the credential for an (account, provider) pair.
func (s *Store) GetCredential(ctx context.Context, accountID, provider string) (*storage.LinkedCredential, error) {
	ctx, span := s.startStorageSpan(ctx, "get_credential")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "get_credential", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, exists := s.credentials[credentialKey(accountID, provider)]
	if !exists {
		err = storage.ErrCredentialNotFound
		return nil, err
	}
	copied := *cred
	return &copied, nil
}

// DeleteCredential removes the credential for an (account, provider) pair.
func (s *Store) DeleteCredential(ctx context.Context, accountID, provider string) error {
	ctx, span := s.startStorageSpan(ctx, "delete_credential")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "delete_credential", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := credentialKey(accountID, provider)
	if _, exists := s.credentials[key]; exists {
		delete(s.credentials, key)
		s.credentialsCount.Add(-1)
	}
	return nil
}

// DeleteAccountCredentials removes every credential owned by an account.
func (s *Store) DeleteAccountCredentials(ctx context.Context, accountID string) error {
	ctx, span := s.startStorageSpan(ctx, "delete_account_credentials")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "delete_account_credentials", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, cred := range s.credentials {
		if cred.AccountID == accountID {
			delete(s.credentials, key)
			removed++
		}
	}
	s.credentialsCount.Add(int64(-removed))
	return nil
}

// ============================================================
// FlowStore implementation
// ============================================================

// SaveLoginState stores a freshly generated anti-forgery state.
func (s *Store) SaveLoginState(ctx context.Context, state *storage.LoginState) error {
	ctx, span := s.startStorageSpan(ctx, "save_login_state")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "save_login_state", err, startTime) }()

	if state == nil || state.State == "" {
		err = fmt.Errorf("login state value cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.states[state.State]
	stored := *state
	s.states[state.State] = &stored
	if !existed {
		s.statesCount.Add(1)
	}
	return nil
}

// ConsumeLoginState atomically retrieves and deletes a login state. Unknown,
// consumed, and expired states are indistinguishable to the caller.
func (s *Store) ConsumeLoginState(ctx context.Context, state string, now time.Time) (*storage.LoginState, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_login_state")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "consume_login_state", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.states[state]
	if !exists {
		err = storage.ErrStateNotFound
		return nil, err
	}

	delete(s.states, state)
	s.statesCount.Add(-1)

	if now.After(stored.ExpiresAt) {
		err = storage.ErrStateNotFound
		return nil, err
	}

	copied := *stored
	return &copied, nil
}

// DeleteExpiredStates removes states that expired before the cutoff.
func (s *Store) DeleteExpiredStates(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, span := s.startStorageSpan(ctx, "delete_expired_states")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "delete_expired_states", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, state := range s.states {
		if state.ExpiresAt.Before(cutoff) {
			delete(s.states, key)
			removed++
		}
	}
	s.statesCount.Add(int64(-removed))
	return removed, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) cleanup() {
	ctx := context.Background()
	now := time.Now()

	sessions, err := s.DeleteExpiredSessions(ctx, now)
	if err != nil {
		s.logger.Warn("session cleanup failed", "error", err)
	}
	states, err := s.DeleteExpiredStates(ctx, now)
	if err != nil {
		s.logger.Warn("login state cleanup failed", "error", err)
	}

	if sessions > 0 || states > 0 {
		s.logger.Debug("storage cleanup completed",
			"expired_sessions", sessions,
			"expired_states", states)
	}
}

// ============================================================
// Helpers
// ============================================================

func identityKey(provider, subject string) string {
	return provider + "\x00" + subject
}

func credentialKey(accountID, provider string) string {
	return accountID + "\x00" + provider
}

func cloneAccount(a *storage.Account) *storage.Account {
	copied := *a
	copied.Identities = append([]storage.ProviderIdentity(nil), a.Identities...)
	return &copied
}

func cloneSession(sess *storage.Session) *storage.Session {
	copied := *sess
	return &copied
}

// startStorageSpan starts a tracing span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instr == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else if span != nil {
		span.SetStatus(codes.Ok, "")
	}

	s.instr.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
