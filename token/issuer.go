package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/liangyon/machi-quest/storage"
)

// Access token verification errors.
var (
	// ErrTokenExpired indicates a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("access token expired")

	// ErrTokenMalformed indicates a token that failed signature or structural
	// validation.
	ErrTokenMalformed = errors.New("access token malformed")
)

// Default lifetimes. Access tokens stay short so a revoked session is locked
// out within minutes; the refresh window matches a typical browser session.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Claims are the registered claims carried by an access token plus the
// session family id. Verification is purely local; no storage lookup happens
// on the hot path.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Issuer mints HMAC-signed access tokens and drives refresh-token rotation
// against a SessionStore.
type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	sessions   storage.SessionStore
	timeNow    func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithAccessTokenTTL overrides the access token lifetime.
func WithAccessTokenTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) { i.accessTTL = ttl }
}

// WithRefreshTokenTTL overrides the refresh session lifetime.
func WithRefreshTokenTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) { i.refreshTTL = ttl }
}

// WithTimeNow overrides the clock, for tests.
func WithTimeNow(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.timeNow = now }
}

// NewIssuer creates an issuer. The signing secret must be non-empty; anything
// shorter than 32 bytes is rejected to keep HS256 keys at full strength.
func NewIssuer(secret []byte, sessions storage.SessionStore, opts ...IssuerOption) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("signing secret must be at least 32 bytes, got %d", len(secret))
	}

	i := &Issuer{
		secret:     secret,
		accessTTL:  DefaultAccessTokenTTL,
		refreshTTL: DefaultRefreshTokenTTL,
		sessions:   sessions,
		timeNow:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// AccessTokenTTL returns the configured access token lifetime.
func (i *Issuer) AccessTokenTTL() time.Duration {
	return i.accessTTL
}

// IssueAccessToken mints a signed access token for an account within a
// session family. Returns the compact token and its expiry.
func (i *Issuer) IssueAccessToken(accountID, sessionID string) (string, time.Time, error) {
	now := i.timeNow()
	expiresAt := now.Add(i.accessTTL)

	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyAccessToken validates signature and expiry of a compact token and
// returns its claims. It never consults storage: a token from a family that
// was revoked after issuance still verifies until it expires.
func (i *Issuer) VerifyAccessToken(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.timeNow), jwt.WithExpirationRequired())
	if err != nil {
		return nil, mapJWTError(err)
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing sub or sid claim", ErrTokenMalformed)
	}
	return claims, nil
}

// mapJWTError folds jwt library errors into this package's sentinels so
// callers never depend on the library's error surface.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}

// StartSession creates a fresh rotation family for an account and returns the
// session record together with the raw refresh token for the client.
func (i *Issuer) StartSession(ctx context.Context, accountID string) (*storage.Session, string, error) {
	raw, err := GenerateRefreshToken()
	if err != nil {
		return nil, "", err
	}

	now := i.timeNow()
	session := &storage.Session{
		FamilyID:  uuid.NewString(),
		AccountID: accountID,
		Version:   0,
		TokenHash: HashToken(raw),
		IssuedAt:  now,
		ExpiresAt: now.Add(i.refreshTTL),
		RotatedAt: now,
	}

	if err := i.sessions.CreateSession(ctx, session); err != nil {
		return nil, "", fmt.Errorf("failed to create session: %w", err)
	}
	return session, raw, nil
}

// Rotate exchanges a raw refresh token for the next generation of its family.
// On success the presented token is dead and the returned raw token is the
// only valid one. Storage errors pass through unchanged, including
// storage.ErrReuseDetected after a family-wide revocation.
func (i *Issuer) Rotate(ctx context.Context, rawRefresh string) (*storage.Session, string, error) {
	newRaw, err := GenerateRefreshToken()
	if err != nil {
		return nil, "", err
	}

	session, err := i.sessions.RotateSession(ctx, HashToken(rawRefresh), HashToken(newRaw), i.timeNow())
	if err != nil {
		return nil, "", err
	}
	return session, newRaw, nil
}

// Revoke terminates a session family.
func (i *Issuer) Revoke(ctx context.Context, sessionID, reason string) error {
	return i.sessions.RevokeSession(ctx, sessionID, reason)
}

// RevokeAccount terminates every live family owned by an account.
func (i *Issuer) RevokeAccount(ctx context.Context, accountID, reason string) (int, error) {
	return i.sessions.RevokeAccountSessions(ctx, accountID, reason)
}
