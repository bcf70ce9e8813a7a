package auth

import (
	"fmt"
	"net/http"
)

// Authentication error codes as constants
const (
	ErrorCodeInvalidRequest         = "invalid_request"
	ErrorCodeInvalidCredentials     = "invalid_credentials"
	ErrorCodeEmailTaken             = "email_taken"
	ErrorCodeTokenExpired           = "token_expired"
	ErrorCodeTokenMalformed         = "token_malformed"
	ErrorCodeSessionNotFound        = "session_not_found"
	ErrorCodeSessionExpired         = "session_expired"
	ErrorCodeSessionRevoked         = "session_revoked"
	ErrorCodeReuseDetected          = "reuse_detected"
	ErrorCodeCSRFStateInvalid       = "csrf_state_invalid"
	ErrorCodeProviderExchangeFailed = "provider_exchange_failed"
	ErrorCodeAccountLinkConflict    = "account_link_conflict"
	ErrorCodeLastAuthMethod         = "last_auth_method"
	ErrorCodeDecryptionFailed       = "decryption_failed"
	ErrorCodeRateLimitExceeded      = "rate_limit_exceeded"
	ErrorCodeServerError            = "server_error"
)

// AuthError represents a structured authentication error response
type AuthError struct {
	Code        string // stable error code (e.g., "invalid_credentials")
	Description string // human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewAuthError creates a new authentication error
func NewAuthError(code, description string, status int) *AuthError {
	return &AuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common authentication errors as reusable constructors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidCredentials indicates email/password verification failed.
	// The description never distinguishes unknown email from wrong password.
	ErrInvalidCredentials = func() *AuthError {
		return NewAuthError(ErrorCodeInvalidCredentials, "incorrect email or password", http.StatusUnauthorized)
	}

	// ErrEmailTaken indicates the email is already registered
	ErrEmailTaken = func() *AuthError {
		return NewAuthError(ErrorCodeEmailTaken, "email already registered", http.StatusConflict)
	}

	// ErrTokenExpired indicates the access token is past its expiry
	ErrTokenExpired = func() *AuthError {
		return NewAuthError(ErrorCodeTokenExpired, "access token expired", http.StatusUnauthorized)
	}

	// ErrTokenMalformed indicates the access token failed signature or structural validation
	ErrTokenMalformed = func() *AuthError {
		return NewAuthError(ErrorCodeTokenMalformed, "access token malformed", http.StatusUnauthorized)
	}

	// ErrSessionNotFound indicates the refresh token matches no known session
	ErrSessionNotFound = func() *AuthError {
		return NewAuthError(ErrorCodeSessionNotFound, "session not found", http.StatusUnauthorized)
	}

	// ErrSessionExpired indicates the refresh window has elapsed
	ErrSessionExpired = func() *AuthError {
		return NewAuthError(ErrorCodeSessionExpired, "session expired", http.StatusUnauthorized)
	}

	// ErrSessionRevoked indicates the session family has been revoked
	ErrSessionRevoked = func() *AuthError {
		return NewAuthError(ErrorCodeSessionRevoked, "session revoked", http.StatusUnauthorized)
	}

	// ErrReuseDetected indicates a superseded refresh token was presented and
	// the whole family has been revoked
	ErrReuseDetected = func() *AuthError {
		return NewAuthError(ErrorCodeReuseDetected, "refresh token reuse detected, session revoked", http.StatusUnauthorized)
	}

	// ErrCSRFStateInvalid indicates the OAuth callback state is unknown, expired, or consumed
	ErrCSRFStateInvalid = func() *AuthError {
		return NewAuthError(ErrorCodeCSRFStateInvalid, "invalid or expired state", http.StatusBadRequest)
	}

	// ErrProviderExchangeFailed indicates the code exchange with the provider failed
	ErrProviderExchangeFailed = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeProviderExchangeFailed, desc, http.StatusBadGateway)
	}

	// ErrAccountLinkConflict indicates the provider identity belongs to another account
	ErrAccountLinkConflict = func() *AuthError {
		return NewAuthError(ErrorCodeAccountLinkConflict, "provider identity linked to another account", http.StatusConflict)
	}

	// ErrLastAuthMethod indicates removing the method would leave the account
	// with no way to sign in
	ErrLastAuthMethod = func() *AuthError {
		return NewAuthError(ErrorCodeLastAuthMethod, "cannot remove the only authentication method", http.StatusConflict)
	}

	// ErrDecryptionFailed indicates stored credentials could not be decrypted
	ErrDecryptionFailed = func() *AuthError {
		return NewAuthError(ErrorCodeDecryptionFailed, "stored credential cannot be decrypted", http.StatusConflict)
	}

	// ErrRateLimitExceeded indicates too many requests
	ErrRateLimitExceeded = func() *AuthError {
		return NewAuthError(ErrorCodeRateLimitExceeded, "too many requests", http.StatusTooManyRequests)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)
