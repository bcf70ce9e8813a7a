// Package security provides security features for the auth service including
// credential encryption, password hashing, rate limiting, audit logging, and
// secure header management.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	AccountID string
	SessionID string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"account_id_hash", hashForLogging(event.AccountID),
		"session_id", event.SessionID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogSessionStarted logs the creation of a new refresh session family
func (a *Auditor) LogSessionStarted(accountID, sessionID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventSessionStarted,
		AccountID: accountID,
		SessionID: sessionID,
		IPAddress: ipAddress,
	})
}

// LogTokenRefreshed logs a successful session rotation
func (a *Auditor) LogTokenRefreshed(accountID, sessionID, ipAddress string, version int) {
	a.LogEvent(Event{
		Type:      EventTokenRefreshed,
		AccountID: accountID,
		SessionID: sessionID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"version": version,
		},
	})
}

// LogReuseDetected logs refresh token reuse and the resulting family revocation
func (a *Auditor) LogReuseDetected(accountID, sessionID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventTokenReuseDetected,
		AccountID: accountID,
		SessionID: sessionID,
		IPAddress: ipAddress,
	})
}

// LogSessionRevoked logs a session family revocation
func (a *Auditor) LogSessionRevoked(accountID, sessionID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventSessionRevoked,
		AccountID: accountID,
		SessionID: sessionID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(accountID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		AccountID: accountID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, accountID string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		AccountID: accountID,
		IPAddress: ipAddress,
	})
}

// LogIdentityLinked logs a provider identity being attached to an account
func (a *Auditor) LogIdentityLinked(accountID, provider, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventIdentityLinked,
		AccountID: accountID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"provider": provider,
		},
	})
}

// LogIdentityUnlinked logs a provider identity being removed from an account
func (a *Auditor) LogIdentityUnlinked(accountID, provider, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventIdentityUnlinked,
		AccountID: accountID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"provider": provider,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
