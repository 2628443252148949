// Package mfa implements the MFA Challenge Manager (C6): issuance, attempt
// counting, and verification for TOTP, SMS, email, WebAuthn, and magic-link
// step-up factors. TOTP generation/validation is kept from the teacher's
// internal/auth/mfa.go (pquerna/otp); the state machine, expiry table, and
// the other four challenge kinds are new, generalized from that file's
// single-type shape to the full taxonomy.
package mfa

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"image/png"
	"math/big"
	"time"

	"github.com/duo-labs/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/wardline/authcore/internal/domain"
	"github.com/wardline/authcore/internal/storage"
)

// Expiry and attempt budgets, fixed per type (§4.6).
var expiryFor = map[domain.MFAChallengeType]time.Duration{
	domain.MFATOTP:      5 * time.Minute,
	domain.MFASMS:       5 * time.Minute,
	domain.MFAEmail:     5 * time.Minute,
	domain.MFAWebAuthn:  2 * time.Minute,
	domain.MFAMagicLink: 15 * time.Minute,
}

var maxAttemptsFor = map[domain.MFAChallengeType]int{
	domain.MFATOTP:      3,
	domain.MFASMS:       3,
	domain.MFAEmail:     3,
	domain.MFAWebAuthn:  3,
	domain.MFAMagicLink: 1,
}

// Verdict is the outcome of verifying a presented code against a
// challenge.
type Verdict int

const (
	VerdictSuccess Verdict = iota
	VerdictFailed
	VerdictExpired
	VerdictExhausted
)

// Notifier delivers an out-of-band code or link; SMS and email are both
// just "send this string to this address" from the manager's point of
// view, matching the teacher's notify.EmailSender shape.
type Notifier interface {
	Send(ctx context.Context, to, body string) error
}

type Manager struct {
	challenges  *storage.MFAChallengeRepo
	totpIssuer  string
	smsNotifier Notifier
	emailNotifier Notifier
}

func New(challenges *storage.MFAChallengeRepo, totpIssuer string, smsNotifier, emailNotifier Notifier) *Manager {
	return &Manager{
		challenges:    challenges,
		totpIssuer:    totpIssuer,
		smsNotifier:   smsNotifier,
		emailNotifier: emailNotifier,
	}
}

func hashOTP(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// GenerateTOTPSecret creates a new TOTP key and a PNG QR code for
// enrollment, unchanged from the teacher's GenerateSecret.
func (m *Manager) GenerateTOTPSecret(accountName string) (*otp.Key, []byte, error) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: m.totpIssuer, AccountName: accountName})
	if err != nil {
		return nil, nil, fmt.Errorf("generate totp key: %w", err)
	}
	var buf bytes.Buffer
	img, err := key.Image(200, 200)
	if err != nil {
		return nil, nil, fmt.Errorf("render qr code: %w", err)
	}
	if err := png.Encode(&buf, img); err != nil {
		return nil, nil, fmt.Errorf("encode qr png: %w", err)
	}
	return key, buf.Bytes(), nil
}

// ValidateTOTP checks a code against a secret with the library's default
// one-period clock-skew allowance.
func (m *Manager) ValidateTOTP(code, secret string) bool {
	return totp.Validate(code, secret)
}

// GenerateBackupCodes produces cryptographically random recovery codes in
// XXXX-XXXX form, excluding visually ambiguous characters. Callers hash
// each code before persisting, same contract as the teacher's version.
func (m *Manager) GenerateBackupCodes(count int) ([]string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codes := make([]string, count)
	for i := range codes {
		code := make([]byte, 8)
		for j := range code {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
			if err != nil {
				return nil, fmt.Errorf("generate backup code: %w", err)
			}
			code[j] = chars[n.Int64()]
		}
		codes[i] = string(code[:4]) + "-" + string(code[4:])
	}
	return codes, nil
}

// IssueTOTP creates a challenge whose verification defers to the user's
// already-enrolled TOTP secret; no out-of-band delivery is needed.
func (m *Manager) IssueTOTP(ctx context.Context, userID uuid.UUID, now time.Time) (*domain.MFAChallenge, error) {
	return m.issue(ctx, domain.MFATOTP, userID, "", now)
}

// IssueSMS generates a 6-digit numeric code, sends it to phoneNumber, and
// stores only its hash.
func (m *Manager) IssueSMS(ctx context.Context, userID uuid.UUID, phoneNumber string, now time.Time) (*domain.MFAChallenge, error) {
	code, err := randomNumericCode(6)
	if err != nil {
		return nil, err
	}
	c, err := m.issue(ctx, domain.MFASMS, userID, hashOTP(code), now)
	if err != nil {
		return nil, err
	}
	if m.smsNotifier != nil {
		_ = m.smsNotifier.Send(ctx, phoneNumber, fmt.Sprintf("Your verification code is %s", code))
	}
	return c, nil
}

// IssueEmail mirrors IssueSMS but delivers over email.
func (m *Manager) IssueEmail(ctx context.Context, userID uuid.UUID, emailAddr string, now time.Time) (*domain.MFAChallenge, error) {
	code, err := randomNumericCode(6)
	if err != nil {
		return nil, err
	}
	c, err := m.issue(ctx, domain.MFAEmail, userID, hashOTP(code), now)
	if err != nil {
		return nil, err
	}
	if m.emailNotifier != nil {
		_ = m.emailNotifier.Send(ctx, emailAddr, fmt.Sprintf("Your verification code is %s", code))
	}
	return c, nil
}

// IssueMagicLink mints a high-entropy single-use token and returns both
// the challenge and the raw token to embed in the link; only the hash is
// persisted.
func (m *Manager) IssueMagicLink(ctx context.Context, userID uuid.UUID, now time.Time) (*domain.MFAChallenge, string, error) {
	raw, err := randomToken(32)
	if err != nil {
		return nil, "", err
	}
	c, err := m.issue(ctx, domain.MFAMagicLink, userID, hashOTP(raw), now)
	if err != nil {
		return nil, "", err
	}
	return c, raw, nil
}

// IssueWebAuthn stores the serialized assertion challenge bytes generated
// by the WebAuthn library at the call site (BeginLogin in webauthn.go,
// called from the orchestrator); the
// manager only owns the challenge's lifecycle, not protocol details.
func (m *Manager) IssueWebAuthn(ctx context.Context, userID uuid.UUID, challengeData []byte, now time.Time) (*domain.MFAChallenge, error) {
	c := &domain.MFAChallenge{
		ID:           uuid.New(),
		Type:         domain.MFAWebAuthn,
		UserID:       userID,
		ExpiresAt:    now.Add(expiryFor[domain.MFAWebAuthn]),
		MaxAttempts:  maxAttemptsFor[domain.MFAWebAuthn],
		PayloadHash:  hashOTP(hex.EncodeToString(challengeData)),
		WebAuthnData: challengeData,
		CreatedAt:    now,
	}
	if err := m.challenges.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create webauthn challenge: %w", err)
	}
	return c, nil
}

// GetChallenge loads a pending challenge by id, for callers (the
// orchestrator's mfa-continuation path) that need to resolve the user
// before calling Verify.
func (m *Manager) GetChallenge(ctx context.Context, id uuid.UUID) (*domain.MFAChallenge, error) {
	return m.challenges.GetByID(ctx, id)
}

func (m *Manager) issue(ctx context.Context, typ domain.MFAChallengeType, userID uuid.UUID, payloadHash string, now time.Time) (*domain.MFAChallenge, error) {
	c := &domain.MFAChallenge{
		ID:          uuid.New(),
		Type:        typ,
		UserID:      userID,
		ExpiresAt:   now.Add(expiryFor[typ]),
		MaxAttempts: maxAttemptsFor[typ],
		PayloadHash: payloadHash,
		CreatedAt:   now,
	}
	if err := m.challenges.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create %s challenge: %w", typ, err)
	}
	return c, nil
}

// Verify advances the challenge's state machine: issued → verified on a
// correct code (the challenge is then deleted, consumed on first
// success), issued → failed and attempts++ on an incorrect one. A
// challenge already past its deadline or attempt budget is destroyed and
// reported as such rather than re-checked. totpSecret is the user's
// enrolled TOTP secret; it is ignored for every challenge type besides
// MFATOTP, since those verify against the challenge's own payload hash.
func (m *Manager) Verify(ctx context.Context, challengeID uuid.UUID, presentedCode, totpSecret string, now time.Time) (Verdict, error) {
	c, err := m.challenges.GetByID(ctx, challengeID)
	if err != nil {
		return VerdictFailed, err
	}

	if c.Expired(now) {
		_ = m.challenges.Delete(ctx, c.ID)
		return VerdictExpired, nil
	}
	if c.Exhausted() {
		_ = m.challenges.Delete(ctx, c.ID)
		return VerdictExhausted, nil
	}

	var ok bool
	switch c.Type {
	case domain.MFATOTP:
		ok = m.ValidateTOTP(presentedCode, totpSecret)
	default:
		ok = hashOTP(presentedCode) == c.PayloadHash
	}

	if ok {
		_ = m.challenges.Delete(ctx, c.ID)
		return VerdictSuccess, nil
	}

	return m.registerFailure(ctx, c)
}

// VerifyWebAuthn is Verify's counterpart for assertion-based challenges:
// the presented value is the browser's serialized assertion response, not
// a code, so it is checked against wa/user via the library rather than a
// payload hash. On success it returns the matched credential's ID and its
// updated signature counter so the caller can persist both.
func (m *Manager) VerifyWebAuthn(ctx context.Context, challengeID uuid.UUID, wa *webauthn.WebAuthn, user *domain.User, assertionResponse []byte, now time.Time) (Verdict, string, uint32, error) {
	c, err := m.challenges.GetByID(ctx, challengeID)
	if err != nil {
		return VerdictFailed, "", 0, err
	}
	if c.Type != domain.MFAWebAuthn {
		return VerdictFailed, "", 0, fmt.Errorf("challenge %s is not a webauthn challenge", challengeID)
	}

	if c.Expired(now) {
		_ = m.challenges.Delete(ctx, c.ID)
		return VerdictExpired, "", 0, nil
	}
	if c.Exhausted() {
		_ = m.challenges.Delete(ctx, c.ID)
		return VerdictExhausted, "", 0, nil
	}

	credentialID, signCount, ferr := FinishLoginFromBytes(wa, user, c.WebAuthnData, assertionResponse)
	if ferr != nil {
		verdict, verr := m.registerFailure(ctx, c)
		return verdict, "", 0, verr
	}

	_ = m.challenges.Delete(ctx, c.ID)
	return VerdictSuccess, credentialID, signCount, nil
}

// registerFailure bumps a challenge's attempt counter and destroys it once
// the budget is exhausted, shared by Verify and VerifyWebAuthn so the two
// verification paths can't drift on the exhaustion rule.
func (m *Manager) registerFailure(ctx context.Context, c *domain.MFAChallenge) (Verdict, error) {
	count, ierr := m.challenges.IncrementAttempt(ctx, c.ID)
	if ierr != nil {
		return VerdictFailed, fmt.Errorf("increment challenge attempt: %w", ierr)
	}
	if count >= c.MaxAttempts {
		_ = m.challenges.Delete(ctx, c.ID)
		return VerdictExhausted, nil
	}
	return VerdictFailed, nil
}

func randomNumericCode(digits int) (string, error) {
	max := big.NewInt(1)
	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		max.Mul(max, ten)
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate otp code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random token: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}
