package orchestrator

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/google/uuid"

	"github.com/wardline/authcore/internal/audit"
	"github.com/wardline/authcore/internal/auth"
	"github.com/wardline/authcore/internal/creds"
	"github.com/wardline/authcore/internal/domain"
	"github.com/wardline/authcore/internal/storage"
)

// RegisterUser creates a new password-holding account and sends a
// verification email carrying a special-purpose token. The account starts
// unverified: authenticatePassword's step 5 already refuses unverified
// accounts, so a registered-but-unconfirmed user simply can't log in yet
// rather than needing a separate "pending" state.
func (o *Orchestrator) RegisterUser(ctx context.Context, email, password string, correlationID string) (*domain.User, error) {
	if email == "" || password == "" {
		return nil, domain.NewAuthError(domain.ErrValidation, "email and password required", correlationID)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, domain.NewAuthError(domain.ErrInvalidEmail, "", correlationID)
	}
	if len(password) < 8 {
		return nil, domain.NewAuthError(domain.ErrValidation, "password must be at least 8 characters", correlationID)
	}

	now := o.now()
	normalized := creds.NormalizeEmail(email)

	if _, err := o.users.GetByEmail(ctx, normalized); err == nil {
		// Deliberately generic: don't tell the caller the address is taken.
		return nil, domain.NewAuthError(domain.ErrValidation, "unable to register", correlationID)
	} else if err != storage.ErrNotFound {
		return nil, fmt.Errorf("check existing user: %w", err)
	}

	hash, err := o.creds.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.New(),
		Email:        normalized,
		PasswordHash: hash,
		Roles:        []string{"user"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := o.sendVerificationEmail(ctx, user); err != nil {
		return nil, fmt.Errorf("send verification email: %w", err)
	}

	if o.bus != nil {
		_ = o.bus.Publish(ctx, domain.EventUserCreated, &user.ID, correlationID, map[string]any{
			"email": user.Email,
		})
	}
	if o.audit != nil {
		o.audit.Log(ctx, audit.Entry{
			CorrelationID: correlationID,
			EventType:     domain.EventUserCreated,
			Actor:         user.ID.String(),
			Resource:      user.ID.String(),
			Outcome:       "success",
		})
	}

	return user, nil
}

func (o *Orchestrator) sendVerificationEmail(ctx context.Context, user *domain.User) error {
	if o.mailer == nil {
		return nil
	}
	token, _, err := o.tokens.CreateSpecialToken(user.ID, purposeVerifyEmail, o.cfg.SpecialTokenTTL)
	if err != nil {
		return err
	}
	return o.mailer.SendVerification(ctx, user.Email, token, o.cfg.AppURL)
}

// ConfirmEmailVerification marks the account behind a verification token as
// verified. It is the only consumer of special tokens with purpose
// purposeVerifyEmail.
func (o *Orchestrator) ConfirmEmailVerification(ctx context.Context, token, correlationID string) error {
	claims, err := o.tokens.Verify(token, auth.ScopeSpecial)
	if err != nil || claims.Purpose != purposeVerifyEmail {
		return domain.NewAuthError(domain.ErrInvalidToken, "", correlationID)
	}

	user, err := o.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if err == storage.ErrNotFound {
			return domain.NewAuthError(domain.ErrUserNotFound, "", correlationID)
		}
		return fmt.Errorf("load user: %w", err)
	}
	if user.EmailVerifiedAt != nil {
		return nil
	}

	verifiedAt := o.now()
	user.EmailVerifiedAt = &verifiedAt
	if err := o.users.UpdateProfile(ctx, user); err != nil {
		return fmt.Errorf("persist verification: %w", err)
	}

	if o.bus != nil {
		_ = o.bus.Publish(ctx, domain.EventUserUpdated, &user.ID, correlationID, map[string]any{
			"email_verified": true,
		})
	}
	return nil
}
