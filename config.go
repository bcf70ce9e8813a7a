package auth

import (
	"log/slog"
	"time"
)

// Config holds the auth server configuration.
// Structured using composition for better organization and maintainability.
type Config struct {
	// PublicURL is the server's public base URL. Used for security headers
	// and provider redirect URLs.
	PublicURL string

	// FrontendURL is where OAuth callbacks redirect the browser after a
	// completed login.
	FrontendURL string

	// SigningSecret is the HMAC key for access tokens (required, >= 32 bytes).
	SigningSecret []byte

	// Tokens holds token lifetime settings.
	Tokens TokenConfig

	// OAuth holds provider login flow settings.
	OAuth OAuthConfig

	// RateLimit holds rate limiting configuration.
	RateLimit RateLimitConfig

	// Security holds security settings (secure by default).
	Security SecurityConfig

	// CleanupInterval is how often storage cleanup runs. Default: 1 minute.
	CleanupInterval time.Duration

	// Logger for structured logging (optional, uses default if not provided).
	Logger *slog.Logger
}

// TokenConfig holds token lifetime settings.
type TokenConfig struct {
	// AccessTokenTTL is how long access tokens are valid.
	// Default: 15 minutes.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is how long a refresh session family lives.
	// Default: 7 days.
	RefreshTokenTTL time.Duration
}

// OAuthConfig holds provider login flow settings.
type OAuthConfig struct {
	// StateTTL is how long an anti-forgery state is valid.
	// Default: 10 minutes.
	StateTTL time.Duration

	// LinkByVerifiedEmail enables attaching a provider identity to an
	// existing account when the provider reports a verified email matching
	// that account. When false, a conflicting email fails the login instead.
	// Default: true.
	LinkByVerifiedEmail *bool
}

// RateLimitConfig holds rate limiting configuration.
// Limits are per client IP; a negative limit disables that limiter.
type RateLimitConfig struct {
	// LoginPerMinute limits password login attempts. Default: 5.
	LoginPerMinute int

	// SignupPerMinute limits account creation. Default: 3.
	SignupPerMinute int

	// RefreshPerMinute limits refresh rotations. Default: 60.
	RefreshPerMinute int

	// Burst is the maximum burst size per IP. Default: 5.
	Burst int

	// MaxEntries bounds the number of tracked IPs. Default: 10000.
	MaxEntries int

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is how many rightmost X-Forwarded-For entries belong
	// to our own proxies. Zero means one.
	TrustedProxyCount int
}

// SecurityConfig holds security settings.
type SecurityConfig struct {
	// EncryptionKey is the AES-256 key (32 bytes) for credential encryption
	// at rest. Nil disables encryption (not recommended outside tests).
	// Generate with security.GenerateKey().
	EncryptionKey []byte

	// EnableAuditLogging enables security audit logging.
	// Auth events and violations are logged with sensitive data hashed.
	EnableAuditLogging bool

	// CookieSecure marks the refresh cookie Secure. Default: true; disable
	// only for plain-HTTP local development.
	CookieSecure *bool

	// CookieDomain scopes the refresh cookie. Empty means host-only.
	CookieDomain string
}

// applySecureDefaults applies secure-by-default configuration values.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	if config.Tokens.AccessTokenTTL == 0 {
		config.Tokens.AccessTokenTTL = 15 * time.Minute
	}
	if config.Tokens.RefreshTokenTTL == 0 {
		config.Tokens.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if config.OAuth.StateTTL == 0 {
		config.OAuth.StateTTL = 10 * time.Minute
	}
	if config.OAuth.LinkByVerifiedEmail == nil {
		linkByEmail := true
		config.OAuth.LinkByVerifiedEmail = &linkByEmail
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = time.Minute
	}

	if config.RateLimit.LoginPerMinute == 0 {
		config.RateLimit.LoginPerMinute = 5
	}
	if config.RateLimit.SignupPerMinute == 0 {
		config.RateLimit.SignupPerMinute = 3
	}
	if config.RateLimit.RefreshPerMinute == 0 {
		config.RateLimit.RefreshPerMinute = 60
	}
	if config.RateLimit.Burst == 0 {
		config.RateLimit.Burst = 5
	}
	if config.RateLimit.MaxEntries == 0 {
		config.RateLimit.MaxEntries = 10000
	}

	if config.Security.CookieSecure == nil {
		secure := true
		config.Security.CookieSecure = &secure
	}

	if len(config.Security.EncryptionKey) == 0 {
		logger.Warn("credential encryption is DISABLED, provider tokens will be stored in plaintext",
			"recommendation", "set Security.EncryptionKey to a 32-byte key")
	}
	if config.RateLimit.TrustProxy {
		logger.Info("proxy headers trusted for client IP extraction",
			"note", "only safe behind a trusted reverse proxy")
	}

	return config
}
