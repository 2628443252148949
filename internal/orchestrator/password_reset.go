package orchestrator

import (
	"context"
	"fmt"

	"github.com/wardline/authcore/internal/audit"
	"github.com/wardline/authcore/internal/auth"
	"github.com/wardline/authcore/internal/creds"
	"github.com/wardline/authcore/internal/domain"
	"github.com/wardline/authcore/internal/storage"
)

// Special-token purposes: the two kinds of HS256 special-secret token this
// package mints, never accepted by the login flow. Verify() checks the
// signature, expiry, scope and blacklist but not Purpose, so callers must
// check Purpose themselves before acting on the claims.
const (
	purposeVerifyEmail   = "verify_email"
	purposePasswordReset = "password_reset"
)

// RequestPasswordReset emails a reset link when the address belongs to a
// password-holding account. It returns nil both for an unknown address and
// for an account without a password, so whether the address exists is
// never surfaced to the caller and the endpoint can't be used to enumerate
// accounts; lookup, token and mail failures are returned as errors.
func (o *Orchestrator) RequestPasswordReset(ctx context.Context, email, correlationID string) error {
	if email == "" || o.mailer == nil {
		return nil
	}
	user, err := o.users.GetByEmail(ctx, creds.NormalizeEmail(email))
	if err != nil {
		if err == storage.ErrNotFound {
			return nil
		}
		return fmt.Errorf("lookup user for reset: %w", err)
	}
	if !user.HasPassword() {
		return nil
	}

	token, _, err := o.tokens.CreateSpecialToken(user.ID, purposePasswordReset, o.cfg.SpecialTokenTTL)
	if err != nil {
		return fmt.Errorf("mint reset token: %w", err)
	}
	if err := o.mailer.SendPasswordReset(ctx, user.Email, token, o.cfg.AppURL); err != nil {
		return fmt.Errorf("send reset email: %w", err)
	}

	if o.audit != nil {
		o.audit.Log(ctx, audit.Entry{
			CorrelationID: correlationID,
			EventType:     domain.EventPasswordReset,
			Actor:         user.ID.String(),
			Resource:      user.ID.String(),
			Outcome:       "requested",
		})
	}
	return nil
}

// ConfirmPasswordReset consumes a reset token, sets the new password, and
// terminates every existing session for the account: a password reset is a
// declaration that prior sessions may be compromised, not just that the
// user forgot their password.
func (o *Orchestrator) ConfirmPasswordReset(ctx context.Context, token, newPassword, correlationID string) error {
	if len(newPassword) < 8 {
		return domain.NewAuthError(domain.ErrValidation, "password must be at least 8 characters", correlationID)
	}

	claims, err := o.tokens.Verify(token, auth.ScopeSpecial)
	if err != nil || claims.Purpose != purposePasswordReset {
		return domain.NewAuthError(domain.ErrInvalidToken, "", correlationID)
	}

	user, err := o.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if err == storage.ErrNotFound {
			return domain.NewAuthError(domain.ErrUserNotFound, "", correlationID)
		}
		return fmt.Errorf("load user: %w", err)
	}

	hash, err := o.creds.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}
	user.PasswordHash = hash
	if err := o.users.UpdateProfile(ctx, user); err != nil {
		return fmt.Errorf("persist new password: %w", err)
	}

	if err := o.sessions.TerminateAllForUser(ctx, user.ID); err != nil {
		return fmt.Errorf("terminate sessions after reset: %w", err)
	}

	if o.bus != nil {
		_ = o.bus.Publish(ctx, domain.EventPasswordChange, &user.ID, correlationID, nil)
	}
	if o.audit != nil {
		o.audit.Log(ctx, audit.Entry{
			CorrelationID: correlationID,
			EventType:     domain.EventPasswordChange,
			Actor:         user.ID.String(),
			Resource:      user.ID.String(),
			Outcome:       "success",
		})
	}
	return nil
}
