package security

// Event type constants for security audit logging.
// These constants ensure consistency across the codebase and prevent typos
// when logging security-relevant events.
const (
	// Session and token lifecycle events

	// EventSessionStarted is logged when a new refresh session family is created
	EventSessionStarted = "session_started"

	// EventTokenIssued is logged when a new access token is issued
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a session rotates to a new refresh token
	EventTokenRefreshed = "token_refreshed"

	// EventTokenReuseDetected is logged when a superseded refresh token is
	// presented, which triggers family-wide revocation (theft signal)
	EventTokenReuseDetected = "token_reuse_detected" //nolint:gosec // G101: False positive - this is an event type name, not a credential

	// EventSessionRevoked is logged when a session family is revoked
	EventSessionRevoked = "session_revoked"

	// EventAllSessionsRevoked is logged when every session of an account is revoked
	EventAllSessionsRevoked = "all_sessions_revoked"

	// Local authentication events

	// EventAccountCreated is logged when a new account is registered
	EventAccountCreated = "account_created"

	// EventAuthFailure is logged when authentication fails (wrong credentials, etc.)
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// Provider flow events

	// EventProviderFlowStarted is logged when an OAuth login flow is initiated
	EventProviderFlowStarted = "provider_flow_started"

	// EventProviderStateMismatch is logged when the callback state is unknown,
	// expired, or already consumed
	EventProviderStateMismatch = "provider_state_mismatch"

	// EventProviderCodeExchangeFailed is logged when code exchange with the provider fails
	EventProviderCodeExchangeFailed = "provider_code_exchange_failed"

	// EventIdentityLinked is logged when a provider identity is attached to an account
	EventIdentityLinked = "identity_linked"

	// EventIdentityUnlinked is logged when a provider identity is removed from an account
	EventIdentityUnlinked = "identity_unlinked"

	// EventIdentityLinkConflict is logged when a link attempt targets an
	// identity already owned by a different account
	EventIdentityLinkConflict = "identity_link_conflict"

	// Credential vault events

	// EventCredentialStored is logged when provider tokens are encrypted and stored
	EventCredentialStored = "credential_stored"

	// EventCredentialDecryptionFailed is logged when stored ciphertext cannot be
	// decrypted, typically after a key rotation
	EventCredentialDecryptionFailed = "credential_decryption_failed"
)
