package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/wardline/authcore/internal/creds"
	"github.com/wardline/authcore/internal/domain"
	"github.com/wardline/authcore/internal/mfa"
	"github.com/wardline/authcore/internal/storage"
)

// SendMagicLink issues a passwordless-login challenge and emails its link.
// It returns nil for an unknown address, so whether the address exists is
// never surfaced to the caller; any existing account gets a link, with or
// without a password.
func (o *Orchestrator) SendMagicLink(ctx context.Context, email, appURL, correlationID string) error {
	if email == "" || o.mailer == nil {
		return nil
	}
	user, err := o.users.GetByEmail(ctx, creds.NormalizeEmail(email))
	if err != nil {
		if err == storage.ErrNotFound {
			return nil
		}
		return err
	}

	challenge, token, err := o.mfaMgr.IssueMagicLink(ctx, user.ID, o.now())
	if err != nil {
		return err
	}
	return o.mailer.SendMagicLink(ctx, user.Email, challenge.ID.String(), token, appURL)
}

// authenticatePasswordless completes a magic-link login: verify the
// presented token against the pending challenge, then fall through to the
// block-only risk gate (the link itself is the strong factor, so no
// further step-up is requested).
func (o *Orchestrator) authenticatePasswordless(ctx context.Context, c Credentials, correlationID string) (*Result, error) {
	now := o.now()

	if c.ChallengeID == uuid.Nil || c.Token == "" {
		return failure(domain.ErrValidation, correlationID, 0), nil
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

	challenge, err := o.mfaMgr.GetChallenge(ctx, c.ChallengeID)
	if err != nil {
		if err == storage.ErrNotFound {
			return failure(domain.ErrChallengeExpired, correlationID, 0), nil
		}
		return nil, err
	}
	if challenge.Type != domain.MFAMagicLink {
		return failure(domain.ErrValidation, correlationID, 0), nil
	}

	verdict, err := o.mfaMgr.Verify(ctx, challenge.ID, c.Token, "", now)
	if err != nil {
		return nil, err
	}
	switch verdict {
	case mfa.VerdictExpired:
		return failure(domain.ErrChallengeExpired, correlationID, 0), nil
	case mfa.VerdictExhausted:
		return failure(domain.ErrChallengeExhausted, correlationID, 0), nil
	case mfa.VerdictFailed:
		return failure(domain.ErrInvalidMFACode, correlationID, 0), nil
	}

	user, err := o.users.GetByID(ctx, challenge.UserID)
	if err != nil {
		return nil, err
	}
	if user.IsLocked(now) {
		return failure(domain.ErrAccountLocked, correlationID, 80), nil
	}

	return o.riskBlockGateThenLogin(ctx, user, c.Device, now, correlationID)
}

// authenticateMFAContinuation completes a login that was suspended for
// step-up: verify the presented code against the pending challenge, then
// run the block-only risk gate (the step-up itself already satisfied
// spec.md §4.1 step 9; asking again would loop).
func (o *Orchestrator) authenticateMFAContinuation(ctx context.Context, c Credentials, correlationID string) (*Result, error) {
	now := o.now()

	if c.MFAChallengeID == uuid.Nil || c.MFACode == "" {
		return failure(domain.ErrValidation, correlationID, 0), nil
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

	challenge, err := o.mfaMgr.GetChallenge(ctx, c.MFAChallengeID)
	if err != nil {
		if err == storage.ErrNotFound {
			return failure(domain.ErrChallengeExpired, correlationID, 0), nil
		}
		return nil, err
	}

	user, err := o.users.GetByID(ctx, challenge.UserID)
	if err != nil {
		return nil, err
	}

	var verdict mfa.Verdict
	if challenge.Type == domain.MFAWebAuthn {
		if o.webauthnCfg == nil {
			return nil, fmt.Errorf("webauthn is not configured")
		}
		enrolled, lerr := o.webauthnCreds.ListByUser(ctx, user.ID)
		if lerr != nil {
			return nil, fmt.Errorf("load webauthn credentials: %w", lerr)
		}
		user.WebAuthnCreds = enrolled

		var credentialID string
		var signCount uint32
		verdict, credentialID, signCount, err = o.mfaMgr.VerifyWebAuthn(ctx, challenge.ID, o.webauthnCfg, user, []byte(c.MFACode), now)
		if err != nil {
			return nil, err
		}
		if verdict == mfa.VerdictSuccess {
			_ = o.webauthnCreds.UpdateSignCount(ctx, credentialID, signCount)
		}
	} else {
		verdict, err = o.mfaMgr.Verify(ctx, challenge.ID, c.MFACode, user.TOTPSecret, now)
		if err != nil {
			return nil, err
		}
	}
	switch verdict {
	case mfa.VerdictExpired:
		return failure(domain.ErrChallengeExpired, correlationID, 0), nil
	case mfa.VerdictExhausted:
		return failure(domain.ErrChallengeExhausted, correlationID, 0), nil
	case mfa.VerdictFailed:
		return failure(domain.ErrInvalidMFACode, correlationID, 0), nil
	}

	if user.IsLocked(now) {
		return failure(domain.ErrAccountLocked, correlationID, 80), nil
	}

	return o.riskBlockGateThenLogin(ctx, user, c.Device, now, correlationID)
}
