package mfa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/duo-labs/webauthn/protocol"
	"github.com/duo-labs/webauthn/webauthn"

	"github.com/wardline/authcore/internal/domain"
)

// NewWebAuthnConfig builds the relying-party configuration, grounded on
// Chandu00756-uars7's CADS WebAuthnHandler constructor.
func NewWebAuthnConfig(rpID, rpOrigin, rpDisplayName string) (*webauthn.WebAuthn, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: rpDisplayName,
		RPID:          rpID,
		RPOrigin:      rpOrigin,
	})
	if err != nil {
		return nil, fmt.Errorf("init webauthn relying party: %w", err)
	}
	return wa, nil
}

// webauthnUser adapts domain.User to the library's User interface.
type webauthnUser struct {
	u *domain.User
}

func (w webauthnUser) WebAuthnID() []byte          { return []byte(w.u.ID.String()) }
func (w webauthnUser) WebAuthnName() string        { return w.u.Email }
func (w webauthnUser) WebAuthnDisplayName() string { return w.u.Email }
func (w webauthnUser) WebAuthnIcon() string        { return "" }

func (w webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	out := make([]webauthn.Credential, 0, len(w.u.WebAuthnCreds))
	for _, c := range w.u.WebAuthnCreds {
		out = append(out, webauthn.Credential{
			ID:        []byte(c.ID),
			PublicKey: c.PublicKey,
			Authenticator: webauthn.Authenticator{
				SignCount: c.SignCount,
			},
		})
	}
	return out
}

// BeginRegistration starts credential enrollment for user, returning the
// browser-facing creation options and the serialized session data the
// caller keeps (the orchestrator puts it in the Redis WebAuthn session
// store) so FinishRegistration can later verify against it.
func BeginRegistration(wa *webauthn.WebAuthn, user *domain.User) (*protocol.CredentialCreation, []byte, error) {
	opts, sessionData, err := wa.BeginRegistration(webauthnUser{user})
	if err != nil {
		return nil, nil, fmt.Errorf("begin webauthn registration: %w", err)
	}
	raw, err := json.Marshal(sessionData)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal webauthn session data: %w", err)
	}
	return opts, raw, nil
}

// FinishRegistration validates the browser's attestation response against
// the previously issued session data and returns the credential to persist
// on the user record.
func FinishRegistration(wa *webauthn.WebAuthn, user *domain.User, sessionData []byte, r *http.Request) (*domain.WebAuthnCredential, error) {
	var sd webauthn.SessionData
	if err := json.Unmarshal(sessionData, &sd); err != nil {
		return nil, fmt.Errorf("unmarshal webauthn session data: %w", err)
	}
	cred, err := wa.FinishRegistration(webauthnUser{user}, sd, r)
	if err != nil {
		return nil, fmt.Errorf("finish webauthn registration: %w", err)
	}
	return &domain.WebAuthnCredential{
		ID:        string(cred.ID),
		PublicKey: cred.PublicKey,
		SignCount: cred.Authenticator.SignCount,
	}, nil
}

// BeginLogin issues an assertion challenge for an already-enrolled user,
// the payload IssueWebAuthn stores on the pending MFA challenge.
func BeginLogin(wa *webauthn.WebAuthn, user *domain.User) (*protocol.CredentialAssertion, []byte, error) {
	opts, sessionData, err := wa.BeginLogin(webauthnUser{user})
	if err != nil {
		return nil, nil, fmt.Errorf("begin webauthn login: %w", err)
	}
	raw, err := json.Marshal(sessionData)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal webauthn session data: %w", err)
	}
	return opts, raw, nil
}

// FinishLogin validates the browser's assertion response and returns the
// matched credential's ID along with its updated signature counter, which
// the caller must persist to detect cloned authenticators on the next use.
func FinishLogin(wa *webauthn.WebAuthn, user *domain.User, sessionData []byte, r *http.Request) (credentialID string, signCount uint32, err error) {
	var sd webauthn.SessionData
	if err := json.Unmarshal(sessionData, &sd); err != nil {
		return "", 0, fmt.Errorf("unmarshal webauthn session data: %w", err)
	}
	cred, err := wa.FinishLogin(webauthnUser{user}, sd, r)
	if err != nil {
		return "", 0, fmt.Errorf("finish webauthn login: %w", err)
	}
	return string(cred.ID), cred.Authenticator.SignCount, nil
}

// requestFromBody adapts a raw JSON payload to the *http.Request shape the
// duo-labs library's Finish* calls parse internally; there is no real
// network request at this layer, only the browser's serialized response
// relayed through the orchestrator.
func requestFromBody(body []byte) (*http.Request, error) {
	r, err := http.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build webauthn request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")
	return r, nil
}

// FinishRegistrationFromBytes is FinishRegistration for callers (the
// orchestrator) that only have the client's raw attestation response
// bytes, not a live HTTP request.
func FinishRegistrationFromBytes(wa *webauthn.WebAuthn, user *domain.User, sessionData, response []byte) (*domain.WebAuthnCredential, error) {
	r, err := requestFromBody(response)
	if err != nil {
		return nil, err
	}
	return FinishRegistration(wa, user, sessionData, r)
}

// FinishLoginFromBytes is FinishLogin for callers that only have the
// client's raw assertion response bytes.
func FinishLoginFromBytes(wa *webauthn.WebAuthn, user *domain.User, sessionData, response []byte) (credentialID string, signCount uint32, err error) {
	r, err := requestFromBody(response)
	if err != nil {
		return "", 0, err
	}
	return FinishLogin(wa, user, sessionData, r)
}
