// Package sqlite provides a SQLite-backed implementation of all storage
// interfaces using GORM with a pure-Go driver. It is suitable for
// single-node deployments that need durability across restarts.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/liangyon/machi-quest/storage"
)

// Store is a SQLite-backed implementation of all storage interfaces.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Compile-time interface check
var _ storage.Store = (*Store)(nil)

// Open opens (or creates) the database at path and runs migrations.
// Use ":memory:" for an ephemeral database in tests.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(
		&accountRow{},
		&identityRow{},
		&sessionRow{},
		&usedTokenRow{},
		&credentialRow{},
		&loginStateRow{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db, logger: log}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ============================================================
// AccountStore implementation
// ============================================================

// CreateAccount stores a new account with its linked identities.
func (s *Store) CreateAccount(ctx context.Context, account *storage.Account) error {
	if account == nil || account.ID == "" {
		return fmt.Errorf("account id cannot be empty")
	}

	now := time.Now()
	row := accountToRow(account)
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = row.CreatedAt

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if row.Email != "" {
			if err := tx.Model(&accountRow{}).Where("email = ?", row.Email).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return storage.ErrEmailTaken
			}
		}

		for _, id := range account.Identities {
			if err := tx.Model(&identityRow{}).
				Where("provider = ? AND subject = ?", id.Provider, id.Subject).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return storage.ErrIdentityTaken
			}
		}

		if err := tx.Create(row).Error; err != nil {
			return err
		}
		for _, id := range account.Identities {
			if err := tx.Create(&identityRow{
				AccountID: account.ID,
				Provider:  id.Provider,
				Subject:   id.Subject,
				Username:  id.Username,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetAccount retrieves an account by id.
func (s *Store) GetAccount(ctx context.Context, id string) (*storage.Account, error) {
	var row accountRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.loadAccount(ctx, &row)
}

// GetAccountByEmail retrieves an account by email, case-insensitively.
// Email-less accounts are not addressable this way.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*storage.Account, error) {
	if email == "" {
		return nil, storage.ErrAccountNotFound
	}
	var row accountRow
	err := s.db.WithContext(ctx).First(&row, "email = ?", strings.ToLower(email)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.loadAccount(ctx, &row)
}

// GetAccountByIdentity retrieves the account owning a provider identity.
func (s *Store) GetAccountByIdentity(ctx context.Context, provider, subject string) (*storage.Account, error) {
	var id identityRow
	err := s.db.WithContext(ctx).
		First(&id, "provider = ? AND subject = ?", provider, subject).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetAccount(ctx, id.AccountID)
}

// UpdateAccount persists mutable account fields. Linked identities are
// managed through LinkIdentity and UnlinkIdentity, not here.
func (s *Store) UpdateAccount(ctx context.Context, account *storage.Account) error {
	if account == nil || account.ID == "" {
		return fmt.Errorf("account id cannot be empty")
	}

	hash, _ := account.Credentials.PasswordHash()
	res := s.db.WithContext(ctx).Model(&accountRow{}).
		Where("id = ?", account.ID).
		Updates(map[string]any{
			"email":         strings.ToLower(account.Email),
			"password_hash": hash,
			"display_name":  account.DisplayName,
			"avatar_url":    account.AvatarURL,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrAccountNotFound
	}
	return nil
}

// LinkIdentity attaches a provider identity to an account.
func (s *Store) LinkIdentity(ctx context.Context, accountID string, identity storage.ProviderIdentity) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&accountRow{}).Where("id = ?", accountID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrAccountNotFound
		}

		var existing identityRow
		err := tx.First(&existing, "provider = ? AND subject = ?", identity.Provider, identity.Subject).Error
		if err == nil && existing.AccountID != accountID {
			return storage.ErrIdentityTaken
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// Replace any existing link for the same provider.
		if err := tx.Delete(&identityRow{}, "account_id = ? AND provider = ?", accountID, identity.Provider).Error; err != nil {
			return err
		}
		return tx.Create(&identityRow{
			AccountID: accountID,
			Provider:  identity.Provider,
			Subject:   identity.Subject,
			Username:  identity.Username,
		}).Error
	})
}

// UnlinkIdentity removes a provider identity from an account. Removing an
// identity that is not linked is not an error.
func (s *Store) UnlinkIdentity(ctx context.Context, accountID, provider string) error {
	return s.db.WithContext(ctx).
		Delete(&identityRow{}, "account_id = ? AND provider = ?", accountID, provider).Error
}

func (s *Store) loadAccount(ctx context.Context, row *accountRow) (*storage.Account, error) {
	var ids []identityRow
	if err := s.db.WithContext(ctx).Find(&ids, "account_id = ?", row.ID).Error; err != nil {
		return nil, err
	}
	return rowToAccount(row, ids), nil
}

// ============================================================
// SessionStore implementation
// ============================================================

// CreateSession stores a new session family.
func (s *Store) CreateSession(ctx context.Context, session *storage.Session) error {
	if session == nil || session.FamilyID == "" {
		return fmt.Errorf("session family id cannot be empty")
	}
	if session.TokenHash == "" {
		return fmt.Errorf("session token hash cannot be empty")
	}
	return s.db.WithContext(ctx).Create(sessionToRow(session)).Error
}

// GetSession retrieves a session by family id.
func (s *Store) GetSession(ctx context.Context, familyID string) (*storage.Session, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).First(&row, "family_id = ?", familyID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToSession(&row), nil
}

// RotateSession atomically advances a session family inside a transaction.
// See the interface contract in package storage. A guarded UPDATE on the
// current hash keeps concurrent rotations of the same token to one winner
// even if both transactions read the same snapshot.
//
// Reuse-triggered revocation runs in its own transaction after the rotation
// transaction commits: returning the sentinel from inside the callback would
// make gorm roll the revocation back along with everything else.
func (s *Store) RotateSession(ctx context.Context, tokenHash, newHash string, now time.Time) (*storage.Session, error) {
	var rotated *storage.Session
	var reuseFamily string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row sessionRow
		err := tx.First(&row, "token_hash = ?", tokenHash).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			family, err := classifyStaleHash(tx, tokenHash, now)
			if err != nil {
				return err
			}
			reuseFamily = family
			return nil
		}
		if err != nil {
			return err
		}

		if row.Revoked {
			return storage.ErrSessionRevoked
		}
		if now.After(row.ExpiresAt) {
			return storage.ErrSessionExpired
		}

		res := tx.Model(&sessionRow{}).
			Where("family_id = ? AND token_hash = ?", row.FamilyID, tokenHash).
			Updates(map[string]any{
				"token_hash": newHash,
				"version":    row.Version + 1,
				"rotated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Another rotation won between our read and this write.
			reuseFamily = row.FamilyID
			return nil
		}

		if err := tx.Create(&usedTokenRow{
			TokenHash: tokenHash,
			FamilyID:  row.FamilyID,
			RotatedAt: now,
		}).Error; err != nil {
			return err
		}

		row.TokenHash = newHash
		row.Version++
		row.RotatedAt = now
		rotated = rowToSession(&row)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if reuseFamily != "" {
		if err := s.revokeFamily(s.db.WithContext(ctx), reuseFamily, storage.RevokedReuse, now); err != nil {
			return nil, err
		}
		s.logger.Warn("refresh token reuse detected, family revoked",
			"family_id", reuseFamily)
		return nil, storage.ErrReuseDetected
	}
	return rotated, nil
}

// classifyStaleHash classifies a token hash that is not current: a hit in the
// used-token table on a live family is reuse (reported via a non-empty family
// id so the caller can revoke after commit), anything else is a sentinel.
func classifyStaleHash(tx *gorm.DB, tokenHash string, now time.Time) (string, error) {
	var used usedTokenRow
	err := tx.First(&used, "token_hash = ?", tokenHash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", storage.ErrSessionNotFound
	}
	if err != nil {
		return "", err
	}

	var row sessionRow
	err = tx.First(&row, "family_id = ?", used.FamilyID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", storage.ErrSessionNotFound
	}
	if err != nil {
		return "", err
	}

	if row.Revoked {
		return "", storage.ErrSessionRevoked
	}
	if now.After(row.ExpiresAt) {
		return "", storage.ErrSessionExpired
	}
	return row.FamilyID, nil
}

func (s *Store) revokeFamily(tx *gorm.DB, familyID, reason string, now time.Time) error {
	return tx.Model(&sessionRow{}).
		Where("family_id = ? AND revoked = ?", familyID, false).
		Updates(map[string]any{
			"revoked":        true,
			"revoked_at":     now,
			"revoked_reason": reason,
		}).Error
}

// RevokeSession marks a family revoked with a reason. Idempotent.
func (s *Store) RevokeSession(ctx context.Context, familyID, reason string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&sessionRow{}).Where("family_id = ?", familyID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrSessionNotFound
		}
		return s.revokeFamily(tx, familyID, reason, time.Now())
	})
}

// RevokeAccountSessions revokes every live family owned by an account.
func (s *Store) RevokeAccountSessions(ctx context.Context, accountID, reason string) (int, error) {
	res := s.db.WithContext(ctx).Model(&sessionRow{}).
		Where("account_id = ? AND revoked = ?", accountID, false).
		Updates(map[string]any{
			"revoked":        true,
			"revoked_at":     time.Now(),
			"revoked_reason": reason,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// DeleteExpiredSessions removes families that expired before the cutoff,
// together with their used-token history.
func (s *Store) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int, error) {
	var removed int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var expired []sessionRow
		if err := tx.Select("family_id").Find(&expired, "expires_at < ?", cutoff).Error; err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}

		ids := make([]string, len(expired))
		for i, row := range expired {
			ids[i] = row.FamilyID
		}

		if err := tx.Delete(&usedTokenRow{}, "family_id IN ?", ids).Error; err != nil {
			return err
		}
		res := tx.Delete(&sessionRow{}, "family_id IN ?", ids)
		if res.Error != nil {
			return res.Error
		}
		removed = int(res.RowsAffected)
		return nil
	})
	return removed, err
}

// ============================================================
// CredentialStore implementation
// ============================================================

// UpsertCredential inserts or replaces the credential for (account, provider).
func (s *Store) UpsertCredential(ctx context.Context, cred *storage.LinkedCredential) error {
	if cred == nil || cred.AccountID == "" || cred.Provider == "" {
		return fmt.Errorf("credential account id and provider cannot be empty")
	}

	row := &credentialRow{
		AccountID:             cred.AccountID,
		Provider:              cred.Provider,
		AccessTokenEncrypted:  cred.AccessTokenEncrypted,
		RefreshTokenEncrypted: cred.RefreshTokenEncrypted,
		Scopes:                cred.Scopes,
		ProviderUsername:      cred.ProviderUsername,
		ExpiresAt:             cred.ExpiresAt,
		LastRefreshedAt:       cred.LastRefreshedAt,
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&credentialRow{}, "account_id = ? AND provider = ?", cred.AccountID, cred.Provider).Error; err != nil {
			return err
		}
		return tx.Create(row).Error
	})
}

// GetCredential retrieves the credential for an (account, provider) pair.
func (s *Store) GetCredential(ctx context.Context, accountID, provider string) (*storage.LinkedCredential, error) {
	var row credentialRow
	err := s.db.WithContext(ctx).
		First(&row, "account_id = ? AND provider = ?", accountID, provider).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrCredentialNotFound
	}
	if err != nil {
		return nil, err
	}

	return &storage.LinkedCredential{
		AccountID:             row.AccountID,
		Provider:              row.Provider,
		AccessTokenEncrypted:  row.AccessTokenEncrypted,
		RefreshTokenEncrypted: row.RefreshTokenEncrypted,
		Scopes:                row.Scopes,
		ProviderUsername:      row.ProviderUsername,
		ExpiresAt:             row.ExpiresAt,
		LastRefreshedAt:       row.LastRefreshedAt,
	}, nil
}

// DeleteCredential removes the credential for an (account, provider) pair.
func (s *Store) DeleteCredential(ctx context.Context, accountID, provider string) error {
	return s.db.WithContext(ctx).
		Delete(&credentialRow{}, "account_id = ? AND provider = ?", accountID, provider).Error
}

// DeleteAccountCredentials removes every credential owned by an account.
func (s *Store) DeleteAccountCredentials(ctx context.Context, accountID string) error {
	return s.db.WithContext(ctx).
		Delete(&credentialRow{}, "account_id = ?", accountID).Error
}

// ============================================================
// FlowStore implementation
// ============================================================

// SaveLoginState stores a freshly generated anti-forgery state.
func (s *Store) SaveLoginState(ctx context.Context, state *storage.LoginState) error {
	if state == nil || state.State == "" {
		return fmt.Errorf("login state value cannot be empty")
	}
	return s.db.WithContext(ctx).Create(&loginStateRow{
		State:         state.State,
		Provider:      state.Provider,
		RedirectURI:   state.RedirectURI,
		LinkAccountID: state.LinkAccountID,
		CreatedAt:     state.CreatedAt,
		ExpiresAt:     state.ExpiresAt,
	}).Error
}

// ConsumeLoginState atomically retrieves and deletes a login state. The
// delete's row count decides the race: whichever caller removes the row owns
// the state. An expired row is still deleted (the delete must commit, so the
// expiry check cannot abort the transaction) and then reported as not found.
func (s *Store) ConsumeLoginState(ctx context.Context, state string, now time.Time) (*storage.LoginState, error) {
	var consumed *storage.LoginState
	expired := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row loginStateRow
		err := tx.First(&row, "state = ?", state).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return storage.ErrStateNotFound
		}
		if err != nil {
			return err
		}

		res := tx.Delete(&loginStateRow{}, "state = ?", state)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return storage.ErrStateNotFound
		}

		if now.After(row.ExpiresAt) {
			expired = true
			return nil
		}

		consumed = &storage.LoginState{
			State:         row.State,
			Provider:      row.Provider,
			RedirectURI:   row.RedirectURI,
			LinkAccountID: row.LinkAccountID,
			CreatedAt:     row.CreatedAt,
			ExpiresAt:     row.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, storage.ErrStateNotFound
	}
	return consumed, nil
}

// DeleteExpiredStates removes states that expired before the cutoff.
func (s *Store) DeleteExpiredStates(ctx context.Context, cutoff time.Time) (int, error) {
	res := s.db.WithContext(ctx).Delete(&loginStateRow{}, "expires_at < ?", cutoff)
	return int(res.RowsAffected), res.Error
}

// ============================================================
// Row conversion helpers
// ============================================================

func accountToRow(a *storage.Account) *accountRow {
	hash, _ := a.Credentials.PasswordHash()
	return &accountRow{
		ID:           a.ID,
		Email:        strings.ToLower(a.Email),
		PasswordHash: hash,
		DisplayName:  a.DisplayName,
		AvatarURL:    a.AvatarURL,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func rowToAccount(row *accountRow, ids []identityRow) *storage.Account {
	creds := storage.NoCredentials()
	if row.PasswordHash != "" {
		creds = storage.PasswordCredentials(row.PasswordHash)
	}

	account := &storage.Account{
		ID:          row.ID,
		Email:       row.Email,
		Credentials: creds,
		DisplayName: row.DisplayName,
		AvatarURL:   row.AvatarURL,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	for _, id := range ids {
		account.Identities = append(account.Identities, storage.ProviderIdentity{
			Provider: id.Provider,
			Subject:  id.Subject,
			Username: id.Username,
		})
	}
	return account
}

func sessionToRow(sess *storage.Session) *sessionRow {
	return &sessionRow{
		FamilyID:      sess.FamilyID,
		AccountID:     sess.AccountID,
		Version:       sess.Version,
		TokenHash:     sess.TokenHash,
		IssuedAt:      sess.IssuedAt,
		ExpiresAt:     sess.ExpiresAt,
		RotatedAt:     sess.RotatedAt,
		Revoked:       sess.Revoked,
		RevokedAt:     sess.RevokedAt,
		RevokedReason: sess.RevokedReason,
	}
}

func rowToSession(row *sessionRow) *storage.Session {
	return &storage.Session{
		FamilyID:      row.FamilyID,
		AccountID:     row.AccountID,
		Version:       row.Version,
		TokenHash:     row.TokenHash,
		IssuedAt:      row.IssuedAt,
		ExpiresAt:     row.ExpiresAt,
		RotatedAt:     row.RotatedAt,
		Revoked:       row.Revoked,
		RevokedAt:     row.RevokedAt,
		RevokedReason: row.RevokedReason,
	}
}
