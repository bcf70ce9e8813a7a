package auth

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestApplySecureDefaults(t *testing.T) {
	cfg := &Config{SigningSecret: testSigningSecret}
	applySecureDefaults(cfg, discardLogger())

	if cfg.Tokens.AccessTokenTTL != 15*time.Minute {
		t.Errorf("AccessTokenTTL = %v, want 15m", cfg.Tokens.AccessTokenTTL)
	}
	if cfg.Tokens.RefreshTokenTTL != 7*24*time.Hour {
		t.Errorf("RefreshTokenTTL = %v, want 168h", cfg.Tokens.RefreshTokenTTL)
	}
	if cfg.OAuth.StateTTL != 10*time.Minute {
		t.Errorf("StateTTL = %v, want 10m", cfg.OAuth.StateTTL)
	}
	if cfg.OAuth.LinkByVerifiedEmail == nil || !*cfg.OAuth.LinkByVerifiedEmail {
		t.Error("LinkByVerifiedEmail default is not true")
	}
	if cfg.RateLimit.LoginPerMinute != 5 {
		t.Errorf("LoginPerMinute = %d, want 5", cfg.RateLimit.LoginPerMinute)
	}
	if cfg.RateLimit.SignupPerMinute != 3 {
		t.Errorf("SignupPerMinute = %d, want 3", cfg.RateLimit.SignupPerMinute)
	}
	if cfg.RateLimit.RefreshPerMinute != 60 {
		t.Errorf("RefreshPerMinute = %d, want 60", cfg.RateLimit.RefreshPerMinute)
	}
	if cfg.RateLimit.Burst != 5 {
		t.Errorf("Burst = %d, want 5", cfg.RateLimit.Burst)
	}
	if cfg.RateLimit.MaxEntries != 10000 {
		t.Errorf("MaxEntries = %d, want 10000", cfg.RateLimit.MaxEntries)
	}
	if cfg.Security.CookieSecure == nil || !*cfg.Security.CookieSecure {
		t.Error("CookieSecure default is not true")
	}
	if cfg.CleanupInterval != time.Minute {
		t.Errorf("CleanupInterval = %v, want 1m", cfg.CleanupInterval)
	}
}

func TestApplySecureDefaultsKeepsExplicitValues(t *testing.T) {
	secure := false
	linkByEmail := false
	cfg := &Config{
		SigningSecret: testSigningSecret,
		Tokens: TokenConfig{
			AccessTokenTTL:  5 * time.Minute,
			RefreshTokenTTL: 24 * time.Hour,
		},
		OAuth: OAuthConfig{
			StateTTL:            time.Minute,
			LinkByVerifiedEmail: &linkByEmail,
		},
		RateLimit: RateLimitConfig{
			LoginPerMinute:   -1,
			SignupPerMinute:  20,
			RefreshPerMinute: -1,
			Burst:            2,
			MaxEntries:       50,
		},
		Security: SecurityConfig{CookieSecure: &secure},
	}
	applySecureDefaults(cfg, discardLogger())

	if cfg.Tokens.AccessTokenTTL != 5*time.Minute {
		t.Errorf("AccessTokenTTL overridden to %v", cfg.Tokens.AccessTokenTTL)
	}
	if *cfg.OAuth.LinkByVerifiedEmail {
		t.Error("explicit LinkByVerifiedEmail=false overridden")
	}
	// Negative limits stay negative: that is how a limiter is disabled.
	if cfg.RateLimit.LoginPerMinute != -1 {
		t.Errorf("LoginPerMinute = %d, want -1", cfg.RateLimit.LoginPerMinute)
	}
	if cfg.RateLimit.SignupPerMinute != 20 {
		t.Errorf("SignupPerMinute = %d, want 20", cfg.RateLimit.SignupPerMinute)
	}
	if cfg.RateLimit.Burst != 2 {
		t.Errorf("Burst = %d, want 2", cfg.RateLimit.Burst)
	}
	if *cfg.Security.CookieSecure {
		t.Error("explicit CookieSecure=false overridden")
	}
}
