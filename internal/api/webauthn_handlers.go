package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wardline/authcore/internal/api/helpers"
	customMiddleware "github.com/wardline/authcore/internal/api/middleware"
	"github.com/wardline/authcore/internal/orchestrator"
)

// BeginWebAuthnRegistration starts enrollment of a new authenticator for
// the caller, returning the browser-facing CredentialCreationOptions
// alongside the session token FinishWebAuthnRegistration needs.
func (s *Server) BeginWebAuthnRegistration(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	opts, token, err := s.orch.BeginWebAuthnRegistration(r.Context(), userID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrWebAuthnUnavailable) {
			helpers.RespondError(w, http.StatusServiceUnavailable, "webauthn not available")
			return
		}
		s.Logger.Error("begin webauthn registration failed", "error", err, "user_id", userID)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"options":       opts,
		"session_token": token,
	})
}

type finishWebAuthnRegistrationRequest struct {
	SessionToken string          `json:"session_token"`
	Response     json.RawMessage `json:"response"`
}

// FinishWebAuthnRegistration validates the browser's attestation response
// and persists the new credential on the caller's account.
func (s *Server) FinishWebAuthnRegistration(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req finishWebAuthnRegistrationRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionToken == "" || len(req.Response) == 0 {
		helpers.RespondError(w, http.StatusBadRequest, "session_token and response are required")
		return
	}

	if err := s.orch.FinishWebAuthnRegistration(r.Context(), userID, req.SessionToken, req.Response); err != nil {
		if errors.Is(err, orchestrator.ErrWebAuthnUnavailable) {
			helpers.RespondError(w, http.StatusServiceUnavailable, "webauthn not available")
			return
		}
		s.Logger.Error("finish webauthn registration failed", "error", err, "user_id", userID)
		helpers.RespondError(w, http.StatusBadRequest, "registration failed")
		return
	}

	helpers.RespondJSON(w, http.StatusCreated, map[string]string{"message": "credential registered"})
}
