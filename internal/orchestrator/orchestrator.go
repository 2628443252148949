// Package orchestrator implements the authentication orchestrator (C1):
// the three public operations (authenticate, refresh, logout) that compose
// every other component into the login/refresh/logout flows. Grounded on
// the teacher's login_service.go/service.go Login/Refresh/Logout sequence
// (lookup -> password check -> MFA branch -> token issue -> session create
// -> audit -> event), generalized to the result-variant shape this system
// needs instead of the teacher's plain (*LoginResult, error).
//
// It lives in its own package, not internal/auth, because internal/creds
// already imports internal/auth for PasswordHasher; an orchestrator inside
// internal/auth that also imported internal/creds would cycle.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"time"

	"github.com/duo-labs/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/wardline/authcore/internal/audit"
	"github.com/wardline/authcore/internal/auth"
	"github.com/wardline/authcore/internal/cache"
	"github.com/wardline/authcore/internal/creds"
	"github.com/wardline/authcore/internal/domain"
	"github.com/wardline/authcore/internal/events"
	"github.com/wardline/authcore/internal/mfa"
	"github.com/wardline/authcore/internal/notify"
	"github.com/wardline/authcore/internal/oauth"
	"github.com/wardline/authcore/internal/risk"
	"github.com/wardline/authcore/internal/session"
	"github.com/wardline/authcore/internal/storage"
)

// CredentialKind distinguishes the four ways authenticate() can be entered.
type CredentialKind string

const (
	KindPassword           CredentialKind = "password"
	KindOAuthCallback      CredentialKind = "oauth-callback"
	KindPasswordlessVerify CredentialKind = "passwordless-verify"
	KindMFAContinuation    CredentialKind = "mfa-continuation"
)

// Device is the device/network context every authenticate/refresh call
// carries, used for session binding and risk assessment.
type Device struct {
	Fingerprint string
	IP          net.IP
	UserAgent   string
}

// Credentials is the union of every authenticate() input shape; only the
// fields relevant to Kind are read.
type Credentials struct {
	Kind CredentialKind

	// KindPassword
	Email    string
	Password string

	// RequestedMFAType lets a KindPassword caller ask for a specific
	// step-up factor (sms, webauthn) instead of the TOTP-or-email
	// default; empty means let the orchestrator choose. MFAPhoneNumber
	// is only read when RequestedMFAType is sms: phone numbers are not
	// stored on the user record, so the client supplies one per request.
	RequestedMFAType domain.MFAChallengeType
	MFAPhoneNumber   string

	// KindOAuthCallback
	OAuthProvider string
	OAuthCode     string
	OAuthState    string

	// KindPasswordlessVerify (magic link)
	ChallengeID uuid.UUID
	Token       string

	// KindMFAContinuation. MFACode doubles as the serialized WebAuthn
	// assertion response when the pending challenge is MFAWebAuthn.
	MFAChallengeID uuid.UUID
	MFACode        string

	Device Device
}

// ResultKind is the tag of the variant authenticate()/refresh() returns.
type ResultKind string

const (
	ResultSuccess     ResultKind = "success"
	ResultMFARequired ResultKind = "mfaRequired"
	ResultBlocked     ResultKind = "blocked"
	ResultFailure     ResultKind = "failure"
)

// Result is the tagged-variant outcome of authenticate/refresh.
type Result struct {
	Kind ResultKind

	User         *domain.User
	Session      *domain.Session
	AccessToken  string
	RefreshToken string

	Challenge *domain.MFAChallenge

	// WebAuthnOptions carries the marshaled CredentialRequestOptions a
	// client must feed to navigator.credentials.get() to answer a
	// webauthn Challenge; set only when Challenge.Type == MFAWebAuthn.
	WebAuthnOptions []byte

	RiskScore float64
	Err       *domain.AuthError
}

// Config bundles the orchestrator's tunables, sourced from internal/config.
type Config struct {
	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration
	SpecialTokenTTL     time.Duration
	RiskStepUpThreshold float64
	AttemptLookback     time.Duration
	AttemptLookbackMax  int
	AppURL              string
}

// Orchestrator composes C2-C9 into the three public operations named by
// spec.md §4.1. now is overridable for deterministic tests.
type Orchestrator struct {
	users    *storage.UserRepo
	attempts *storage.AuthAttemptRepo
	creds    *creds.Store
	sessions *session.Store
	tokens   auth.TokenProvider
	mfaMgr   *mfa.Manager
	bus      *events.Bus
	audit    *audit.Logger
	oauthReg oauth.Registry
	oauthSt  *cache.OAuthStateStore
	mailer   notify.EmailSender

	webauthnCfg      *webauthn.WebAuthn
	webauthnCreds    *storage.WebAuthnCredRepo
	webauthnSessions *cache.WebAuthnSessionStore

	cfg Config
	now func() time.Time
}

func New(
	users *storage.UserRepo,
	attempts *storage.AuthAttemptRepo,
	credStore *creds.Store,
	sessions *session.Store,
	tokens auth.TokenProvider,
	mfaMgr *mfa.Manager,
	bus *events.Bus,
	auditLog *audit.Logger,
	oauthReg oauth.Registry,
	oauthSt *cache.OAuthStateStore,
	mailer notify.EmailSender,
	webauthnCfg *webauthn.WebAuthn,
	webauthnCreds *storage.WebAuthnCredRepo,
	webauthnSessions *cache.WebAuthnSessionStore,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		users:            users,
		attempts:         attempts,
		creds:            credStore,
		sessions:         sessions,
		tokens:           tokens,
		mfaMgr:           mfaMgr,
		bus:              bus,
		audit:            auditLog,
		oauthReg:         oauthReg,
		oauthSt:          oauthSt,
		mailer:           mailer,
		webauthnCfg:      webauthnCfg,
		webauthnCreds:    webauthnCreds,
		webauthnSessions: webauthnSessions,
		cfg:              cfg,
		now:              time.Now,
	}
}

func failure(kind domain.ErrorKind, correlationID string, riskScore float64) *Result {
	return &Result{Kind: ResultFailure, RiskScore: riskScore, Err: domain.NewAuthError(kind, "", correlationID)}
}

func blocked(kind domain.ErrorKind, correlationID string, riskScore float64) *Result {
	return &Result{Kind: ResultBlocked, RiskScore: riskScore, Err: domain.NewAuthError(kind, "", correlationID)}
}

// Authenticate dispatches to the flow named by creds.Kind.
func (o *Orchestrator) Authenticate(ctx context.Context, c Credentials, correlationID string) (*Result, error) {
	switch c.Kind {
	case KindPassword:
		return o.authenticatePassword(ctx, c, correlationID)
	case KindOAuthCallback:
		return o.authenticateOAuth(ctx, c, correlationID)
	case KindPasswordlessVerify:
		return o.authenticatePasswordless(ctx, c, correlationID)
	case KindMFAContinuation:
		return o.authenticateMFAContinuation(ctx, c, correlationID)
	default:
		return failure(domain.ErrUnsupportedAuthType, correlationID, 0), nil
	}
}

// authenticatePassword implements spec.md §4.1's 10-step algorithm,
// short-circuiting at the first applicable step.
func (o *Orchestrator) authenticatePassword(ctx context.Context, c Credentials, correlationID string) (*Result, error) {
	now := o.now()

	// Step 1: structural validation.
	if c.Email == "" {
		return failure(domain.ErrMissingEmail, correlationID, 0), nil
	}
	if c.Password == "" {
		return failure(domain.ErrMissingPassword, correlationID, 0), nil
	}
	if c.Device.Fingerprint == "" {
		return failure(domain.ErrMissingDevice, correlationID, 0), nil
	}
	if c.Device.IP == nil {
		return failure(domain.ErrMissingIP, correlationID, 0), nil
	}
	if c.Device.UserAgent == "" {
		return failure(domain.ErrMissingUA, correlationID, 0), nil
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return failure(domain.ErrInvalidEmail, correlationID, 0), nil
	}

	email := creds.NormalizeEmail(c.Email)

	// Step 2: provisional failure row, so a crash mid-flow still leaves a
	// durable (if momentarily wrong) record.
	attemptID := uuid.New()
	provisional := &domain.AuthAttempt{
		ID:                attemptID,
		Timestamp:         now,
		Email:             email,
		IP:                c.Device.IP,
		UserAgent:         c.Device.UserAgent,
		DeviceFingerprint: c.Device.Fingerprint,
		Success:           false,
		FailureReason:     "incomplete",
	}
	if err := o.attempts.Record(ctx, provisional); err != nil {
		return nil, fmt.Errorf("record provisional attempt: %w", err)
	}

	finish := func(u *domain.User, success bool, reason string, riskScore float64) {
		_ = o.attempts.UpdateOutcome(ctx, attemptID, success, reason, riskScore)
	}

	// Step 3: lookup, constant-ish outcome either way to avoid enumeration.
	user, err := o.creds.Lookup(ctx, email)
	if err != nil {
		if err == storage.ErrNotFound {
			finish(nil, false, string(domain.ErrInvalidCredentials), 30)
			return failure(domain.ErrInvalidCredentials, correlationID, 30), nil
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	// Step 4: lockout.
	if user.IsLocked(now) {
		finish(user, false, string(domain.ErrAccountLocked), 80)
		return failure(domain.ErrAccountLocked, correlationID, 80), nil
	}

	// Step 5: email verification.
	if user.EmailVerifiedAt == nil {
		finish(user, false, string(domain.ErrAccountNotVerified), 50)
		return failure(domain.ErrAccountNotVerified, correlationID, 50), nil
	}

	// Step 6: no password set (social/passwordless-only account).
	if !user.HasPassword() {
		finish(user, false, string(domain.ErrNoPasswordSet), 40)
		return failure(domain.ErrNoPasswordSet, correlationID, 40), nil
	}

	// Step 7: password check, lockout bookkeeping on mismatch.
	verdict, err := o.creds.CheckPassword(ctx, user, c.Password, now)
	if err != nil {
		return nil, fmt.Errorf("check password: %w", err)
	}
	switch verdict {
	case creds.VerdictLocked:
		finish(user, false, string(domain.ErrAccountLocked), 80)
		return failure(domain.ErrAccountLocked, correlationID, 80), nil
	case creds.VerdictNoPassword:
		finish(user, false, string(domain.ErrNoPasswordSet), 40)
		return failure(domain.ErrNoPasswordSet, correlationID, 40), nil
	case creds.VerdictWrongPassword:
		finish(user, false, string(domain.ErrInvalidCredentials), 60)
		return failure(domain.ErrInvalidCredentials, correlationID, 60), nil
	}

	// Steps 8-10: risk-gate, MFA branch if required, then complete login.
	pref := mfaPreference{Type: c.RequestedMFAType, PhoneNumber: c.MFAPhoneNumber}
	return o.riskGateThenLogin(ctx, user, c.Device, attemptID, now, correlationID, pref)
}

// mfaPreference carries a caller's explicit step-up request; a zero value
// means let issueChallenge pick the TOTP-or-email default.
type mfaPreference struct {
	Type        domain.MFAChallengeType
	PhoneNumber string
}

// riskGateThenLogin is the shared tail of every flow that still needs a
// full risk assessment and possible step-up (password, oauth-callback):
// spec.md §4.1 steps 8-9-10. attemptID, when non-nil, is the provisional
// auth_attempts row to finalize; pass uuid.Nil for flows with no such row.
func (o *Orchestrator) riskGateThenLogin(ctx context.Context, user *domain.User, device Device, attemptID uuid.UUID, now time.Time, correlationID string, pref mfaPreference) (*Result, error) {
	factors := o.buildRiskFactors(ctx, user, creds.NormalizeEmail(user.Email), device, now)
	assessment := risk.Score(factors)

	finishIfTracked := func(success bool, reason string, score float64) {
		if attemptID != uuid.Nil {
			_ = o.attempts.UpdateOutcome(ctx, attemptID, success, reason, score)
		}
	}

	if !assessment.AllowAccess {
		finishIfTracked(false, string(domain.ErrHighRiskBlocked), assessment.Score)
		return blocked(domain.ErrHighRiskBlocked, correlationID, assessment.Score), nil
	}

	if assessment.RequiresMFA || user.MFAEnabled {
		challenge, waOpts, cerr := o.issueChallenge(ctx, user, now, pref)
		if cerr != nil {
			var ae *domain.AuthError
			if errors.As(cerr, &ae) {
				finishIfTracked(false, string(ae.Kind), assessment.Score)
				return failure(ae.Kind, correlationID, assessment.Score), nil
			}
			return nil, fmt.Errorf("issue mfa challenge: %w", cerr)
		}
		finishIfTracked(false, "mfa_required", assessment.Score)
		return &Result{Kind: ResultMFARequired, User: user, Challenge: challenge, WebAuthnOptions: waOpts, RiskScore: assessment.Score}, nil
	}

	return o.completeLogin(ctx, user, device, assessment.Score, attemptID, now, correlationID)
}

// riskBlockGateThenLogin is the lighter tail used by flows that already
// performed their own strong verification (magic-link token, MFA
// continuation code): only the hard block check applies, not a second
// step-up request.
func (o *Orchestrator) riskBlockGateThenLogin(ctx context.Context, user *domain.User, device Device, now time.Time, correlationID string) (*Result, error) {
	factors := o.buildRiskFactors(ctx, user, creds.NormalizeEmail(user.Email), device, now)
	assessment := risk.Score(factors)
	if !assessment.AllowAccess {
		return blocked(domain.ErrHighRiskBlocked, correlationID, assessment.Score), nil
	}
	return o.completeLogin(ctx, user, device, assessment.Score, uuid.Nil, now, correlationID)
}

// completeLogin is the common tail of every successful authenticate path
// (password, oauth, passwordless, mfa-continuation): mint tokens, create
// the session, reset lockout bookkeeping, record the attempt, publish the
// login event, and write the audit entry.
func (o *Orchestrator) completeLogin(ctx context.Context, user *domain.User, device Device, riskScore float64, attemptID uuid.UUID, now time.Time, correlationID string) (*Result, error) {
	accessToken, refreshToken, _, _, err := o.tokens.CreatePair(user.ID, o.cfg.AccessTokenTTL, o.cfg.RefreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("mint token pair: %w", err)
	}

	sess := &domain.Session{
		ID:                  uuid.New(),
		UserID:              user.ID,
		AccessTokenFP:       auth.Fingerprint(accessToken),
		RefreshTokenFP:      auth.Fingerprint(refreshToken),
		ExpiresAt:           now.Add(o.cfg.AccessTokenTTL),
		RefreshExpiresAt:    now.Add(o.cfg.RefreshTokenTTL),
		LastActivity:        now,
		CreatedAt:           now,
		IP:                  device.IP,
		DeviceFingerprint:   device.Fingerprint,
		UserAgent:           device.UserAgent,
		RiskScoreAtIssuance: riskScore,
		Active:              true,
	}
	if err := o.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := o.creds.ResetLockout(ctx, user, now, riskScore); err != nil {
		return nil, fmt.Errorf("reset lockout: %w", err)
	}

	if attemptID != uuid.Nil {
		_ = o.attempts.UpdateOutcome(ctx, attemptID, true, "", riskScore)
	}

	if o.bus != nil {
		_ = o.bus.Publish(ctx, domain.EventLoginSuccess, &user.ID, correlationID, map[string]any{
			"session_id": sess.ID.String(),
			"risk_score": riskScore,
		})
	}
	if o.audit != nil {
		o.audit.Log(ctx, audit.Entry{
			CorrelationID: correlationID,
			EventType:     domain.EventLoginSuccess,
			Actor:         user.ID.String(),
			Resource:      sess.ID.String(),
			Outcome:       "success",
			RiskScore:     &riskScore,
			DeviceHash:    device.Fingerprint,
		})
	}

	return &Result{
		Kind:         ResultSuccess,
		User:         user,
		Session:      sess,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		RiskScore:    riskScore,
	}, nil
}

// issueDefaultChallenge picks a step-up factor when the caller didn't
// request one explicitly: TOTP if enrolled, otherwise email. Narrower than
// a full preference system, matching the scope this system actually needs.
func (o *Orchestrator) issueDefaultChallenge(ctx context.Context, user *domain.User, now time.Time) (*domain.MFAChallenge, error) {
	if user.TOTPSecret != "" {
		return o.mfaMgr.IssueTOTP(ctx, user.ID, now)
	}
	return o.mfaMgr.IssueEmail(ctx, user.ID, user.Email, now)
}

// issueChallenge honors an explicitly requested step-up factor (sms,
// webauthn) and otherwise falls back to issueDefaultChallenge. SMS and
// WebAuthn are only ever issued here, on an explicit request: neither
// factor has a way to be silently defaulted to, since SMS needs a
// caller-supplied phone number and WebAuthn needs at least one enrolled
// credential. The second return value is the marshaled WebAuthn
// CredentialRequestOptions to hand the browser, non-nil only for that
// branch.
func (o *Orchestrator) issueChallenge(ctx context.Context, user *domain.User, now time.Time, pref mfaPreference) (*domain.MFAChallenge, []byte, error) {
	switch pref.Type {
	case domain.MFASMS:
		if pref.PhoneNumber == "" {
			return nil, nil, domain.NewAuthError(domain.ErrValidation, "phone number required for sms mfa", "")
		}
		c, err := o.mfaMgr.IssueSMS(ctx, user.ID, pref.PhoneNumber, now)
		if err != nil {
			return nil, nil, err
		}
		return c, nil, nil

	case domain.MFAWebAuthn:
		if o.webauthnCfg == nil {
			return nil, nil, fmt.Errorf("webauthn is not configured")
		}
		enrolled, err := o.webauthnCreds.ListByUser(ctx, user.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("load webauthn credentials: %w", err)
		}
		if len(enrolled) == 0 {
			return nil, nil, domain.NewAuthError(domain.ErrValidation, "no webauthn credentials enrolled", "")
		}
		user.WebAuthnCreds = enrolled

		opts, sessionData, err := mfa.BeginLogin(o.webauthnCfg, user)
		if err != nil {
			return nil, nil, fmt.Errorf("begin webauthn login: %w", err)
		}
		c, err := o.mfaMgr.IssueWebAuthn(ctx, user.ID, sessionData, now)
		if err != nil {
			return nil, nil, err
		}
		optsJSON, err := json.Marshal(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal webauthn options: %w", err)
		}
		return c, optsJSON, nil

	default:
		c, err := o.issueDefaultChallenge(ctx, user, now)
		return c, nil, err
	}
}

// buildRiskFactors derives risk.Factors from recent attempt history and
// simple known-device/known-location heuristics over past successful
// attempts. Network reputation is left at zero: no reputation feed is
// wired into this system, and the risk engine already treats an unset
// signal as clean rather than risky.
func (o *Orchestrator) buildRiskFactors(ctx context.Context, user *domain.User, email string, device Device, now time.Time) risk.Factors {
	lookback := o.cfg.AttemptLookback
	if lookback <= 0 {
		lookback = time.Hour
	}
	limit := o.cfg.AttemptLookbackMax
	if limit <= 0 {
		limit = 50
	}
	since := now.Add(-lookback)

	byEmail, err := o.attempts.RecentByEmail(ctx, email, since, limit)
	if err != nil {
		return risk.Fallback()
	}

	var recentFailures, recentAttempts int
	var lastAttempt time.Time
	knownDevices := map[string]struct{}{}
	knownLocations := map[string]struct{}{}
	for _, a := range byEmail {
		recentAttempts++
		if !a.Success {
			recentFailures++
		} else {
			if a.DeviceFingerprint != "" {
				knownDevices[a.DeviceFingerprint] = struct{}{}
			}
			if loc := locationKey(a.IP); loc != "" {
				knownLocations[loc] = struct{}{}
			}
		}
		if a.Timestamp.After(lastAttempt) {
			lastAttempt = a.Timestamp
		}
	}

	f := risk.Factors{
		IP:                device.IP,
		CurrentLocation:   locationKey(device.IP),
		DeviceFingerprint: device.Fingerprint,
		RecentFailures:    recentFailures,
		RecentAttempts:    recentAttempts,
		Hour:              now.Hour(),
		SecondsSinceLast:  risk.DurationSince(lastAttempt, now),
		NetworkReputation: 0,
	}
	for d := range knownDevices {
		f.KnownDevices = append(f.KnownDevices, d)
	}
	for l := range knownLocations {
		f.KnownLocations = append(f.KnownLocations, l)
	}
	return f
}

// locationKey reduces an IP to a coarse location key (its /24 or /48
// prefix). No geo database is wired into this system; treating same-prefix
// traffic as "the same place" is a deliberately coarse stand-in for actual
// geolocation.
func locationKey(ip net.IP) string {
	if ip == nil {
		return ""
	}
	if v4 := ip.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.0/24", v4[0], v4[1], v4[2])
	}
	if len(ip) == net.IPv6len {
		return fmt.Sprintf("%x:%x:%x::/48", ip[0:2], ip[2:4], ip[4:6])
	}
	return ""
}
