// Package domain holds the core entities of the authentication pipeline,
// independent of how they are transported or persisted.
package domain

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// User is the identity record. Email is unique and case-folded before
// lookup or storage; a nil PasswordHash means the user cannot authenticate
// by password (social/passwordless only).
type User struct {
	ID                 uuid.UUID
	Email              string
	EmailVerifiedAt    *time.Time
	PasswordHash       string
	MFAEnabled         bool
	TOTPSecret         string
	BackupCodeHashes   []string
	WebAuthnCreds      []WebAuthnCredential
	FailedLoginAttempts int
	LockedUntil        *time.Time
	LastLoginAt        *time.Time
	LastLoginIP        net.IP
	RiskScore          float64
	Roles              []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasPassword reports whether the user can authenticate via password.
func (u *User) HasPassword() bool { return u.PasswordHash != "" }

// IsLocked reports whether the account is locked at time t.
func (u *User) IsLocked(t time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(t)
}

// WebAuthnCredential is the persisted shape of a registered authenticator,
// generalized over the library's raw credential bytes.
type WebAuthnCredential struct {
	ID        string
	PublicKey []byte
	SignCount uint32
	Nickname  string
	CreatedAt time.Time
}

// Session binds an authenticated user to a device, identified by the
// fingerprints of its current token pair.
type Session struct {
	ID                   uuid.UUID
	UserID               uuid.UUID
	AccessTokenFP        string
	RefreshTokenFP       string
	ExpiresAt            time.Time
	RefreshExpiresAt     time.Time
	LastActivity         time.Time
	CreatedAt            time.Time
	IP                   net.IP
	DeviceFingerprint    string
	UserAgent            string
	RiskScoreAtIssuance  float64
	Active               bool
}

// FastSession is the hot-path subset of Session kept in the cache tier,
// keyed by access-token fingerprint.
type FastSession struct {
	SessionID    uuid.UUID
	UserID       uuid.UUID
	ExpiresAt    time.Time
	RiskScore    float64
	Active       bool
	LastActivity time.Time
}

// Valid reports whether the fast-path record alone is sufficient to
// validate a request, per spec: isActive && expiresAt > now.
func (f *FastSession) Valid(now time.Time) bool {
	return f != nil && f.Active && f.ExpiresAt.After(now)
}

// AuthAttempt is an append-only record of one credential evaluation.
type AuthAttempt struct {
	ID                uuid.UUID
	Timestamp         time.Time
	UserID            *uuid.UUID
	Email             string
	IP                net.IP
	UserAgent         string
	DeviceFingerprint string
	Success           bool
	FailureReason     string
	RiskScore         float64
}

// MFAChallengeType enumerates supported step-up factors.
type MFAChallengeType string

const (
	MFATOTP      MFAChallengeType = "totp"
	MFASMS       MFAChallengeType = "sms"
	MFAEmail     MFAChallengeType = "email"
	MFAWebAuthn  MFAChallengeType = "webauthn"
	MFAMagicLink MFAChallengeType = "magic_link"
)

// MFAChallenge is pending step-up verification state.
type MFAChallenge struct {
	ID           uuid.UUID
	Type         MFAChallengeType
	UserID       uuid.UUID
	ExpiresAt    time.Time
	Attempts     int
	MaxAttempts  int
	PayloadHash  string // hashed OTP / magic-link token / serialized WebAuthn challenge
	WebAuthnData []byte // raw protocol.CredentialAssertion challenge, when Type == MFAWebAuthn
	CreatedAt    time.Time
}

// Expired reports whether the challenge has passed its deadline at t.
func (c *MFAChallenge) Expired(t time.Time) bool { return t.After(c.ExpiresAt) }

// Exhausted reports whether the challenge has used up its attempt budget.
func (c *MFAChallenge) Exhausted() bool { return c.Attempts >= c.MaxAttempts }

// RetryPolicy configures webhook delivery backoff.
type RetryPolicy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	MaxAttempts  int
}

// DefaultRetryPolicy matches the spec's stated default (§4.8, seed scenario §8).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     time.Hour,
		MaxAttempts:  5,
	}
}

// Webhook is a subscriber registration for domain events.
type Webhook struct {
	ID                    uuid.UUID
	OwnerUserID           uuid.UUID
	TargetURL             string
	Secret                string
	EventPatterns         []string
	Active                bool
	ConsecutiveFailures   int
	AutoDisableThreshold  int
	Retry                 RetryPolicy
	Timeout               time.Duration
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// DefaultAutoDisableThreshold matches spec.md §4.8's stated default.
const DefaultAutoDisableThreshold = 20

// DefaultWebhookTimeout matches spec.md §4.8's stated default.
const DefaultWebhookTimeout = 10 * time.Second

// MaxWebhookTimeout matches spec.md §4.8's stated cap.
const MaxWebhookTimeout = 30 * time.Second

// Matches reports whether the webhook is subscribed to eventType, honoring
// the "*" wildcard and simple "prefix.*" patterns.
func (w *Webhook) Matches(eventType string) bool {
	for _, p := range w.EventPatterns {
		if p == "*" || p == eventType {
			return true
		}
		if len(p) > 2 && p[len(p)-2:] == ".*" {
			prefix := p[:len(p)-1] // "authentication."
			if len(eventType) >= len(prefix) && eventType[:len(prefix)] == prefix {
				return true
			}
		}
	}
	return false
}

// EventRecord is a published domain event, §6 taxonomy.
type EventRecord struct {
	ID            uuid.UUID
	Type          string
	Timestamp     time.Time
	SubjectUserID *uuid.UUID
	CorrelationID string
	Payload       map[string]any
	Metadata      map[string]any
}

// DeliveryStatus enumerates the lifecycle of one delivery attempt.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliveryTimeout DeliveryStatus = "timeout"
)

// DeliveryAttempt is a per-(webhook, event) delivery record.
type DeliveryAttempt struct {
	ID             uuid.UUID
	WebhookID      uuid.UUID
	EventID        uuid.UUID
	Status         DeliveryStatus
	HTTPStatus     int
	ResponseSnippet string
	AttemptNumber  int
	ScheduledFor   time.Time
	CompletedAt    *time.Time
}

// Role is a named bundle of permissions (global, not tenant-scoped).
type Role struct {
	ID          uuid.UUID
	Name        string
	Permissions []string
}
