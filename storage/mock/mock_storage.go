// Package mock provides a storage.Store test double. It delegates to an
// in-memory store by default; individual methods can be overridden to inject
// failures, and every call is counted.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/liangyon/machi-quest/storage"
	"github.com/liangyon/machi-quest/storage/memory"
)

// Store wraps a real in-memory store with per-method override hooks.
type Store struct {
	inner *memory.Store

	CreateAccountFunc     func(ctx context.Context, account *storage.Account) error
	GetAccountFunc        func(ctx context.Context, id string) (*storage.Account, error)
	GetAccountByEmailFunc func(ctx context.Context, email string) (*storage.Account, error)
	RotateSessionFunc     func(ctx context.Context, tokenHash, newHash string, now time.Time) (*storage.Session, error)
	SaveLoginStateFunc    func(ctx context.Context, state *storage.LoginState) error
	ConsumeLoginStateFunc func(ctx context.Context, state string, now time.Time) (*storage.LoginState, error)
	UpsertCredentialFunc  func(ctx context.Context, cred *storage.LinkedCredential) error

	mu         sync.Mutex
	callCounts map[string]int
}

// Compile-time interface check
var _ storage.Store = (*Store)(nil)

// New creates a mock store backed by a fresh in-memory store.
func New() *Store {
	return &Store{
		inner:      memory.New(),
		callCounts: make(map[string]int),
	}
}

// Inner exposes the backing store for test setup.
func (s *Store) Inner() *memory.Store {
	return s.inner
}

// CallCount reports how many times a method was invoked.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCounts[method]
}

func (s *Store) record(method string) {
	s.mu.Lock()
	s.callCounts[method]++
	s.mu.Unlock()
}

func (s *Store) CreateAccount(ctx context.Context, account *storage.Account) error {
	s.record("CreateAccount")
	if s.CreateAccountFunc != nil {
		return s.CreateAccountFunc(ctx, account)
	}
	return s.inner.CreateAccount(ctx, account)
}

func (s *Store) GetAccount(ctx context.Context, id string) (*storage.Account, error) {
	s.record("GetAccount")
	if s.GetAccountFunc != nil {
		return s.GetAccountFunc(ctx, id)
	}
	return s.inner.GetAccount(ctx, id)
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*storage.Account, error) {
	s.record("GetAccountByEmail")
	if s.GetAccountByEmailFunc != nil {
		return s.GetAccountByEmailFunc(ctx, email)
	}
	return s.inner.GetAccountByEmail(ctx, email)
}

func (s *Store) GetAccountByIdentity(ctx context.Context, provider, subject string) (*storage.Account, error) {
	s.record("GetAccountByIdentity")
	return s.inner.GetAccountByIdentity(ctx, provider, subject)
}

func (s *Store) UpdateAccount(ctx context.Context, account *storage.Account) error {
	s.record("UpdateAccount")
	return s.inner.UpdateAccount(ctx, account)
}

func (s *Store) LinkIdentity(ctx context.Context, accountID string, identity storage.ProviderIdentity) error {
	s.record("LinkIdentity")
	return s.inner.LinkIdentity(ctx, accountID, identity)
}

func (s *Store) UnlinkIdentity(ctx context.Context, accountID, provider string) error {
	s.record("UnlinkIdentity")
	return s.inner.UnlinkIdentity(ctx, accountID, provider)
}

func (s *Store) CreateSession(ctx context.Context, session *storage.Session) error {
	s.record("CreateSession")
	return s.inner.CreateSession(ctx, session)
}

func (s *Store) GetSession(ctx context.Context, familyID string) (*storage.Session, error) {
	s.record("GetSession")
	return s.inner.GetSession(ctx, familyID)
}

func (s *Store) RotateSession(ctx context.Context, tokenHash, newHash string, now time.Time) (*storage.Session, error) {
	s.record("RotateSession")
	if s.RotateSessionFunc != nil {
		return s.RotateSessionFunc(ctx, tokenHash, newHash, now)
	}
	return s.inner.RotateSession(ctx, tokenHash, newHash, now)
}

func (s *Store) RevokeSession(ctx context.Context, familyID, reason string) error {
	s.record("RevokeSession")
	return s.inner.RevokeSession(ctx, familyID, reason)
}

func (s *Store) RevokeAccountSessions(ctx context.Context, accountID, reason string) (int, error) {
	s.record("RevokeAccountSessions")
	return s.inner.RevokeAccountSessions(ctx, accountID, reason)
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	s.record("DeleteExpiredSessions")
	return s.inner.DeleteExpiredSessions(ctx, now)
}

func (s *Store) UpsertCredential(ctx context.Context, cred *storage.LinkedCredential) error {
	s.record("UpsertCredential")
	if s.UpsertCredentialFunc != nil {
		return s.UpsertCredentialFunc(ctx, cred)
	}
	return s.inner.UpsertCredential(ctx, cred)
}

func (s *Store) GetCredential(ctx context.Context, accountID, provider string) (*storage.LinkedCredential, error) {
	s.record("GetCredential")
	return s.inner.GetCredential(ctx, accountID, provider)
}

func (s *Store) DeleteCredential(ctx context.Context, accountID, provider string) error {
	s.record("DeleteCredential")
	return s.inner.DeleteCredential(ctx, accountID, provider)
}

func (s *Store) DeleteAccountCredentials(ctx context.Context, accountID string) error {
	s.record("DeleteAccountCredentials")
	return s.inner.DeleteAccountCredentials(ctx, accountID)
}

func (s *Store) SaveLoginState(ctx context.Context, state *storage.LoginState) error {
	s.record("SaveLoginState")
	if s.SaveLoginStateFunc != nil {
		return s.SaveLoginStateFunc(ctx, state)
	}
	return s.inner.SaveLoginState(ctx, state)
}

func (s *Store) ConsumeLoginState(ctx context.Context, state string, now time.Time) (*storage.LoginState, error) {
	s.record("ConsumeLoginState")
	if s.ConsumeLoginStateFunc != nil {
		return s.ConsumeLoginStateFunc(ctx, state, now)
	}
	return s.inner.ConsumeLoginState(ctx, state, now)
}

func (s *Store) DeleteExpiredStates(ctx context.Context, now time.Time) (int, error) {
	s.record("DeleteExpiredStates")
	return s.inner.DeleteExpiredStates(ctx, now)
}
