package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/wardline/authcore/internal/creds"
	"github.com/wardline/authcore/internal/domain"
	"github.com/wardline/authcore/internal/storage"
)

// authenticateOAuth completes the oauth-callback flow: consume the
// one-time state/nonce pair, exchange the code for a verified identity,
// find-or-create the local user, then fall through to the same risk-gate
// and MFA branch the password flow uses.
func (o *Orchestrator) authenticateOAuth(ctx context.Context, c Credentials, correlationID string) (*Result, error) {
	now := o.now()

	if c.OAuthProvider == "" || c.OAuthCode == "" || c.OAuthState == "" {
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

	stateProvider, nonce, err := o.oauthSt.Consume(ctx, c.OAuthState)
	if err != nil || stateProvider != c.OAuthProvider {
		return failure(domain.ErrOAuthStateMismatch, correlationID, 0), nil
	}

	provider, ok := o.oauthReg.Get(c.OAuthProvider)
	if !ok {
		return failure(domain.ErrUnsupportedAuthType, correlationID, 0), nil
	}

	identity, err := provider.Exchange(ctx, c.OAuthCode, nonce)
	if err != nil || identity.Email == "" {
		return failure(domain.ErrInvalidCredentials, correlationID, 0), nil
	}

	email := creds.NormalizeEmail(identity.Email)
	user, err := o.creds.Lookup(ctx, email)
	if err != nil {
		if err != storage.ErrNotFound {
			return nil, fmt.Errorf("lookup oauth user: %w", err)
		}
		user = &domain.User{
			ID:        uuid.New(),
			Email:     email,
			Roles:     []string{"user"},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if identity.EmailVerified {
			verifiedAt := now
			user.EmailVerifiedAt = &verifiedAt
		}
		if cerr := o.users.Create(ctx, user); cerr != nil {
			return nil, fmt.Errorf("create oauth user: %w", cerr)
		}
	}

	if user.IsLocked(now) {
		return failure(domain.ErrAccountLocked, correlationID, 80), nil
	}
	if user.EmailVerifiedAt == nil {
		return failure(domain.ErrAccountNotVerified, correlationID, 50), nil
	}

	return o.riskGateThenLogin(ctx, user, c.Device, uuid.Nil, now, correlationID, mfaPreference{})
}
