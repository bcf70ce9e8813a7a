package token

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/liangyon/machi-quest/internal/testutil"
	"github.com/liangyon/machi-quest/storage"
	"github.com/liangyon/machi-quest/storage/memory"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestIssuer(t *testing.T, opts ...IssuerOption) (*Issuer, *memory.Store) {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)

	issuer, err := NewIssuer(testSecret, store, opts...)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	return issuer, store
}

func TestNewIssuerRejectsShortSecret(t *testing.T) {
	if _, err := NewIssuer([]byte("short"), memory.New()); err == nil {
		t.Error("NewIssuer() accepted a short secret")
	}
}

func TestGenerateRefreshTokenUniqueness(t *testing.T) {
	a, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}
	b, _ := GenerateRefreshToken()
	if a == b {
		t.Error("two refresh tokens are identical")
	}
	if len(a) != 43 {
		t.Errorf("token length = %d, want 43 (32 bytes base64url)", len(a))
	}
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	raw, expiresAt, err := issuer.IssueAccessToken("acct-1", "fam-1")
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	if time.Until(expiresAt) > DefaultAccessTokenTTL {
		t.Errorf("expiry %v further out than the TTL", expiresAt)
	}

	claims, err := issuer.VerifyAccessToken(raw)
	if err != nil {
		t.Fatalf("VerifyAccessToken() error = %v", err)
	}
	if claims.Subject != "acct-1" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "acct-1")
	}
	if claims.SessionID != "fam-1" {
		t.Errorf("SessionID = %q, want %q", claims.SessionID, "fam-1")
	}
}

func TestVerifyAccessTokenExpired(t *testing.T) {
	clock := testutil.NewMockTime(time.Now())
	issuer, _ := newTestIssuer(t, WithTimeNow(clock.Now), WithAccessTokenTTL(time.Minute))

	raw, _, err := issuer.IssueAccessToken("acct-1", "fam-1")
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	clock.Advance(2 * time.Minute)
	if _, err := issuer.VerifyAccessToken(raw); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("VerifyAccessToken() error = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyAccessTokenMalformed(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	otherSecret := []byte("ffffffffffffffffffffffffffffffff")
	otherIssuer, err := NewIssuer(otherSecret, memory.New())
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	foreignToken, _, _ := otherIssuer.IssueAccessToken("acct-1", "fam-1")

	valid, _, _ := issuer.IssueAccessToken("acct-1", "fam-1")
	parts := strings.Split(valid, ".")
	tamperedSig := parts[0] + "." + parts[1] + ".AAAA"

	tests := []struct {
		name string
		raw  string
	}{
		{"garbage", "not.a.token"},
		{"empty", ""},
		{"wrong signing key", foreignToken},
		{"tampered signature", tamperedSig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := issuer.VerifyAccessToken(tt.raw); !errors.Is(err, ErrTokenMalformed) {
				t.Errorf("VerifyAccessToken() error = %v, want ErrTokenMalformed", err)
			}
		})
	}
}

func TestStartSession(t *testing.T) {
	issuer, store := newTestIssuer(t)
	ctx := context.Background()

	session, raw, err := issuer.StartSession(ctx, "acct-1")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if session.Version != 0 {
		t.Errorf("Version = %d, want 0", session.Version)
	}
	if session.TokenHash != HashToken(raw) {
		t.Error("stored hash does not match the raw token")
	}

	stored, err := store.GetSession(ctx, session.FamilyID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if stored.AccountID != "acct-1" {
		t.Errorf("AccountID = %q, want %q", stored.AccountID, "acct-1")
	}
}

func TestRotateAdvancesVersionAndKillsOldToken(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	ctx := context.Background()

	session, raw0, err := issuer.StartSession(ctx, "acct-1")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	rotated, raw1, err := issuer.Rotate(ctx, raw0)
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if rotated.FamilyID != session.FamilyID {
		t.Errorf("FamilyID changed across rotation: %q -> %q", session.FamilyID, rotated.FamilyID)
	}
	if rotated.Version != 1 {
		t.Errorf("Version = %d, want 1", rotated.Version)
	}
	if raw1 == raw0 {
		t.Error("rotation returned the same raw token")
	}

	// The superseded token now trips reuse detection and burns the family.
	if _, _, err := issuer.Rotate(ctx, raw0); !errors.Is(err, storage.ErrReuseDetected) {
		t.Fatalf("Rotate(stale) error = %v, want ErrReuseDetected", err)
	}
	if _, _, err := issuer.Rotate(ctx, raw1); !errors.Is(err, storage.ErrSessionRevoked) {
		t.Errorf("Rotate(current after reuse) error = %v, want ErrSessionRevoked", err)
	}
}

func TestRotateUnknownToken(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	if _, _, err := issuer.Rotate(context.Background(), "never-issued"); !errors.Is(err, storage.ErrSessionNotFound) {
		t.Errorf("Rotate() error = %v, want ErrSessionNotFound", err)
	}
}

func TestRotateExpiredSession(t *testing.T) {
	clock := testutil.NewMockTime(time.Now())
	issuer, _ := newTestIssuer(t, WithTimeNow(clock.Now), WithRefreshTokenTTL(time.Hour))
	ctx := context.Background()

	_, raw, err := issuer.StartSession(ctx, "acct-1")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	clock.Advance(2 * time.Hour)
	if _, _, err := issuer.Rotate(ctx, raw); !errors.Is(err, storage.ErrSessionExpired) {
		t.Errorf("Rotate() error = %v, want ErrSessionExpired", err)
	}
}

func TestRevokeIsTerminal(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	ctx := context.Background()

	session, raw, err := issuer.StartSession(ctx, "acct-1")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if err := issuer.Revoke(ctx, session.FamilyID, storage.RevokedLogout); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	// Idempotent.
	if err := issuer.Revoke(ctx, session.FamilyID, storage.RevokedExplicit); err != nil {
		t.Fatalf("second Revoke() error = %v", err)
	}

	if _, _, err := issuer.Rotate(ctx, raw); !errors.Is(err, storage.ErrSessionRevoked) {
		t.Errorf("Rotate() after revoke error = %v, want ErrSessionRevoked", err)
	}
}

func TestRevokeAccount(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := issuer.StartSession(ctx, "acct-1"); err != nil {
			t.Fatalf("StartSession() error = %v", err)
		}
	}
	if _, _, err := issuer.StartSession(ctx, "acct-2"); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	n, err := issuer.RevokeAccount(ctx, "acct-1", storage.RevokedAccountWipe)
	if err != nil {
		t.Fatalf("RevokeAccount() error = %v", err)
	}
	if n != 3 {
		t.Errorf("RevokeAccount() = %d, want 3", n)
	}
}
