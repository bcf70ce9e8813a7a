package sqlite

import "time"

// accountRow is the persisted form of storage.Account. The password hash
// column is empty for OAuth-only accounts; the sum type is rebuilt on read.
// The email index is partial: any number of accounts may have no email
// (identities created from providers that expose none).
type accountRow struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex:idx_accounts_email,where:email <> ''"`
	PasswordHash string
	DisplayName  string
	AvatarURL    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (accountRow) TableName() string { return "accounts" }

// identityRow links a provider identity to an account.
// (Provider, Subject) is unique across all accounts.
type identityRow struct {
	AccountID string `gorm:"primaryKey;index"`
	Provider  string `gorm:"primaryKey;uniqueIndex:idx_provider_subject"`
	Subject   string `gorm:"uniqueIndex:idx_provider_subject"`
	Username  string
}

func (identityRow) TableName() string { return "identities" }

// sessionRow is one refresh-token rotation family. TokenHash always holds the
// CURRENT generation's hash; superseded hashes live in usedTokenRow.
type sessionRow struct {
	FamilyID      string `gorm:"primaryKey"`
	AccountID     string `gorm:"index"`
	Version       int
	TokenHash     string `gorm:"uniqueIndex"`
	IssuedAt      time.Time
	ExpiresAt     time.Time `gorm:"index"`
	RotatedAt     time.Time
	Revoked       bool
	RevokedAt     time.Time
	RevokedReason string
}

func (sessionRow) TableName() string { return "sessions" }

// usedTokenRow records a superseded refresh token hash so a stale
// presentation can be traced back to its family and classified as reuse.
type usedTokenRow struct {
	TokenHash string `gorm:"primaryKey"`
	FamilyID  string `gorm:"index"`
	RotatedAt time.Time
}

func (usedTokenRow) TableName() string { return "used_tokens" }

// credentialRow holds encrypted provider tokens. Token columns store
// ciphertext produced by the caller; plaintext never reaches this layer.
type credentialRow struct {
	AccountID             string `gorm:"primaryKey"`
	Provider              string `gorm:"primaryKey"`
	AccessTokenEncrypted  string
	RefreshTokenEncrypted string
	Scopes                string
	ProviderUsername      string
	ExpiresAt             time.Time
	LastRefreshedAt       time.Time
}

func (credentialRow) TableName() string { return "credentials" }

// loginStateRow is an in-flight OAuth login state.
type loginStateRow struct {
	State         string `gorm:"primaryKey"`
	Provider      string
	RedirectURI   string
	LinkAccountID string
	CreatedAt     time.Time
	ExpiresAt     time.Time `gorm:"index"`
}

func (loginStateRow) TableName() string { return "login_states" }
