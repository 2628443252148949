package orchestrator

import (
	"context"
	"fmt"

	"github.com/duo-labs/webauthn/protocol"
	"github.com/google/uuid"

	"github.com/wardline/authcore/internal/audit"
	"github.com/wardline/authcore/internal/domain"
	"github.com/wardline/authcore/internal/mfa"
)

// ErrWebAuthnUnavailable means no relying-party config was supplied at
// startup (e.g. WEBAUTHN_RP_ID left unset in a dev environment).
var ErrWebAuthnUnavailable = fmt.Errorf("webauthn is not configured")

// BeginWebAuthnRegistration starts enrollment of a new authenticator for
// an already-authenticated user, returning the browser-facing creation
// options and an opaque session token the client must echo back to
// FinishWebAuthnRegistration.
func (o *Orchestrator) BeginWebAuthnRegistration(ctx context.Context, userID uuid.UUID) (*protocol.CredentialCreation, string, error) {
	if o.webauthnCfg == nil {
		return nil, "", ErrWebAuthnUnavailable
	}
	user, err := o.users.GetByID(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	enrolled, err := o.webauthnCreds.ListByUser(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("load webauthn credentials: %w", err)
	}
	user.WebAuthnCreds = enrolled

	opts, sessionData, err := mfa.BeginRegistration(o.webauthnCfg, user)
	if err != nil {
		return nil, "", fmt.Errorf("begin webauthn registration: %w", err)
	}
	token, err := o.webauthnSessions.Put(ctx, sessionData)
	if err != nil {
		return nil, "", fmt.Errorf("store webauthn registration session: %w", err)
	}
	return opts, token, nil
}

// FinishWebAuthnRegistration validates the browser's attestation response
// against the session started by BeginWebAuthnRegistration and persists
// the new credential.
func (o *Orchestrator) FinishWebAuthnRegistration(ctx context.Context, userID uuid.UUID, sessionToken string, attestationResponse []byte) error {
	if o.webauthnCfg == nil {
		return ErrWebAuthnUnavailable
	}
	user, err := o.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	sessionData, err := o.webauthnSessions.Consume(ctx, sessionToken)
	if err != nil {
		return fmt.Errorf("consume webauthn registration session: %w", err)
	}

	cred, err := mfa.FinishRegistrationFromBytes(o.webauthnCfg, user, sessionData, attestationResponse)
	if err != nil {
		return fmt.Errorf("finish webauthn registration: %w", err)
	}
	cred.ID = uuid.NewString() + ":" + cred.ID // disambiguate across users since the table key is global
	cred.CreatedAt = o.now()

	if err := o.webauthnCreds.Create(ctx, userID, cred); err != nil {
		return fmt.Errorf("persist webauthn credential: %w", err)
	}

	if o.audit != nil {
		o.audit.Log(ctx, audit.Entry{
			CorrelationID: cred.ID,
			EventType:     domain.EventWebAuthnEnrolled,
			Actor:         userID.String(),
			Resource:      cred.ID,
			Outcome:       "success",
		})
	}
	return nil
}
