package domain

// Event type strings, the fixed vocabulary emitted by the event bus (C8)
// and consumed by webhook subscribers and the audit log (C9).
const (
	EventLoginSuccess   = "authentication.login.success"
	EventLoginFailure   = "authentication.login.failure"
	EventLogout         = "authentication.logout"
	EventTokenRefresh   = "authentication.token.refresh"
	EventTokenRevoke    = "authentication.token.revoke"
	EventMFAChallenge      = "authentication.mfa.challenge"
	EventMFASuccess        = "authentication.mfa.success"
	EventMFAFailure        = "authentication.mfa.failure"
	EventWebAuthnEnrolled  = "authentication.mfa.webauthn_enrolled"
	EventPasswordChange = "authentication.password.change"
	EventPasswordReset  = "authentication.password.reset"

	EventAccessGranted = "authorization.access.granted"
	EventAccessDenied  = "authorization.access.denied"

	EventHighRiskDetected     = "security.high_risk.detected"
	EventRateLimitExceeded    = "security.rate_limit.exceeded"
	EventValidationFailed     = "security.validation.failed"
	EventSuspiciousActivity   = "security.suspicious.activity"

	EventSessionCreated = "session.created"
	EventSessionExpired = "session.expired"
	EventSessionRevoked = "session.revoked"

	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"

	EventWebhookRegistered   = "webhook.registered"
	EventWebhookUpdated      = "webhook.updated"
	EventWebhookDeleted      = "webhook.deleted"
	EventWebhookTested       = "webhook.tested"
	EventWebhookAutoDisabled = "webhook.auto_disabled"

	EventAdminAction = "admin.action"
	EventSystemError = "system.error"
)
