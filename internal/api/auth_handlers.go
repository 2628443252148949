package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/wardline/authcore/internal/api/helpers"
	"github.com/wardline/authcore/internal/domain"
	"github.com/wardline/authcore/internal/oauth"
	"github.com/wardline/authcore/internal/orchestrator"
)

// deviceFromRequest reads the client-supplied device fingerprint from the
// body and the network-level IP/UA from the request itself: the
// fingerprint is something only the client can compute (canvas/WebGL/font
// enumeration on the frontend), so it travels in the payload rather than a
// header a proxy might strip.
func deviceFromRequest(r *http.Request, fingerprint string) orchestrator.Device {
	return orchestrator.Device{
		Fingerprint: fingerprint,
		IP:          helpers.GetRealIP(r),
		UserAgent:   r.UserAgent(),
	}
}

// authResultResponse is the JSON shape returned by every endpoint that can
// conclude a login: success, mfaRequired, blocked, or failure all share one
// envelope so clients branch on "status" instead of HTTP status alone.
type authResultResponse struct {
	Status          string          `json:"status"`
	AccessToken     string          `json:"access_token,omitempty"`
	RefreshToken    string          `json:"refresh_token,omitempty"`
	UserID          uuid.UUID       `json:"user_id,omitempty"`
	ChallengeID     uuid.UUID       `json:"challenge_id,omitempty"`
	ChallengeType   string          `json:"challenge_type,omitempty"`
	WebAuthnOptions json.RawMessage `json:"webauthn_options,omitempty"`
	RiskScore       float64         `json:"risk_score"`
	Error           string          `json:"error,omitempty"`
}

func writeResult(w http.ResponseWriter, res *orchestrator.Result) {
	switch res.Kind {
	case orchestrator.ResultSuccess:
		helpers.RespondJSON(w, http.StatusOK, authResultResponse{
			Status:       "success",
			AccessToken:  res.AccessToken,
			RefreshToken: res.RefreshToken,
			UserID:       res.User.ID,
			RiskScore:    res.RiskScore,
		})
	case orchestrator.ResultMFARequired:
		helpers.RespondJSON(w, http.StatusOK, authResultResponse{
			Status:          "mfaRequired",
			ChallengeID:     res.Challenge.ID,
			ChallengeType:   string(res.Challenge.Type),
			WebAuthnOptions: res.WebAuthnOptions,
			RiskScore:       res.RiskScore,
		})
	case orchestrator.ResultBlocked:
		helpers.RespondJSON(w, res.Err.Kind.HTTPStatus(), authResultResponse{
			Status:    "blocked",
			RiskScore: res.RiskScore,
			Error:     "access blocked, please retry later",
		})
	default:
		helpers.RespondJSON(w, res.Err.Kind.HTTPStatus(), authResultResponse{
			Status:    "failure",
			RiskScore: res.RiskScore,
			Error:     loginSafeMessage(res.Err.Kind),
		})
	}
}

// loginSafeMessage collapses the credential failures (unknown user, wrong
// password, no password set) into a single generic phrase so a client (or
// an attacker) can't distinguish "no such user" from "wrong password".
// Locked and unverified accounts get messages of their own; any other kind
// is returned as its kind string.
func loginSafeMessage(kind domain.ErrorKind) string {
	switch kind {
	case domain.ErrInvalidCredentials, domain.ErrUserNotFound, domain.ErrNoPasswordSet:
		return "invalid email or password"
	case domain.ErrAccountLocked:
		return "account temporarily locked"
	case domain.ErrAccountNotVerified:
		return "account not verified"
	default:
		return string(kind)
	}
}

type loginRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	DeviceFingerprint string `json:"device_fingerprint"`

	// RequestedMFAType lets a client ask for "sms" or "webauthn" step-up
	// instead of the TOTP-or-email default; PhoneNumber is only read
	// when RequestedMFAType is "sms".
	RequestedMFAType string `json:"requested_mfa_type,omitempty"`
	PhoneNumber      string `json:"phone_number,omitempty"`
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reqID := requestID(r)
	res, err := s.orch.Authenticate(r.Context(), orchestrator.Credentials{
		Kind:             orchestrator.KindPassword,
		Email:            req.Email,
		Password:         req.Password,
		RequestedMFAType: domain.MFAChallengeType(req.RequestedMFAType),
		MFAPhoneNumber:   req.PhoneNumber,
		Device:           deviceFromRequest(r, req.DeviceFingerprint),
	}, reqID)
	if err != nil {
		s.Logger.Error("login failed", "error", err, "request_id", reqID)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeResult(w, res)
}

type refreshRequest struct {
	RefreshToken      string `json:"refresh_token"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.orch.Refresh(r.Context(), req.RefreshToken, deviceFromRequest(r, req.DeviceFingerprint), requestID(r))
	if err != nil {
		s.Logger.Error("refresh failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeResult(w, res)
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	accessToken, ok := bearerToken(r)
	if !ok {
		helpers.RespondError(w, http.StatusUnauthorized, "authorization header required")
		return
	}

	fs, err := s.sessions.ValidateByAccessFP(r.Context(), fingerprintOf(accessToken), nowUTC())
	if err != nil {
		// Already gone: logout is idempotent either way.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := s.orch.Logout(r.Context(), fs.SessionID, fingerprintOf(accessToken), requestID(r)); err != nil {
		s.Logger.Error("logout failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type mfaVerifyRequest struct {
	ChallengeID       uuid.UUID `json:"challenge_id"`
	Code              string    `json:"code"`
	DeviceFingerprint string    `json:"device_fingerprint"`
}

func (s *Server) MFAVerify(w http.ResponseWriter, r *http.Request) {
	var req mfaVerifyRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.orch.Authenticate(r.Context(), orchestrator.Credentials{
		Kind:           orchestrator.KindMFAContinuation,
		MFAChallengeID: req.ChallengeID,
		MFACode:        req.Code,
		Device:         deviceFromRequest(r, req.DeviceFingerprint),
	}, requestID(r))
	if err != nil {
		s.Logger.Error("mfa verify failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeResult(w, res)
}

func (s *Server) OAuthInit(w http.ResponseWriter, r *http.Request) {
	providerName := chiURLParam(r, "provider")
	provider, ok := s.oauthReg.Get(providerName)
	if !ok {
		helpers.RespondError(w, http.StatusBadRequest, "unsupported provider")
		return
	}

	state, err := oauth.NewState()
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	nonce, err := oauth.NewState()
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.oauthSt.Put(r.Context(), state, providerName, nonce); err != nil {
		s.Logger.Error("oauth state store failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{
		"authorization_url": provider.AuthCodeURL(state, nonce),
		"state":             state,
	})
}

type oauthCallbackRequest struct {
	Code              string `json:"code"`
	State             string `json:"state"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

func (s *Server) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	var req oauthCallbackRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.orch.Authenticate(r.Context(), orchestrator.Credentials{
		Kind:          orchestrator.KindOAuthCallback,
		OAuthProvider: chiURLParam(r, "provider"),
		OAuthCode:     req.Code,
		OAuthState:    req.State,
		Device:        deviceFromRequest(r, req.DeviceFingerprint),
	}, requestID(r))
	if err != nil {
		s.Logger.Error("oauth callback failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeResult(w, res)
}

type magicLinkSendRequest struct {
	Email string `json:"email"`
}

func (s *Server) MagicLinkSend(w http.ResponseWriter, r *http.Request) {
	var req magicLinkSendRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.orch.SendMagicLink(r.Context(), req.Email, s.appURL, requestID(r)); err != nil {
		s.Logger.Error("magic link send failed", "error", err)
	}
	// Always the same response: enumeration-safe regardless of outcome.
	helpers.RespondJSON(w, http.StatusOK, map[string]string{
		"message": "if an account exists, a link was sent",
	})
}

func (s *Server) MagicLinkVerify(w http.ResponseWriter, r *http.Request) {
	challengeIDStr := r.URL.Query().Get("challenge_id")
	token := r.URL.Query().Get("token")
	challengeID, err := uuid.Parse(challengeIDStr)
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid link")
		return
	}

	res, err := s.orch.Authenticate(r.Context(), orchestrator.Credentials{
		Kind:        orchestrator.KindPasswordlessVerify,
		ChallengeID: challengeID,
		Token:       token,
		Device:      deviceFromRequest(r, r.URL.Query().Get("device_fingerprint")),
	}, requestID(r))
	if err != nil {
		s.Logger.Error("magic link verify failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeResult(w, res)
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.orch.RegisterUser(r.Context(), req.Email, req.Password, requestID(r))
	if err != nil {
		var ae *domain.AuthError
		if errors.As(err, &ae) {
			helpers.RespondError(w, ae.Kind.HTTPStatus(), ae.Error())
			return
		}
		s.Logger.Error("register failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	helpers.RespondJSON(w, http.StatusCreated, map[string]any{"user_id": user.ID})
}

func (s *Server) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if err := s.orch.ConfirmEmailVerification(r.Context(), token, requestID(r)); err != nil {
		var ae *domain.AuthError
		if errors.As(err, &ae) {
			helpers.RespondError(w, ae.Kind.HTTPStatus(), ae.Error())
			return
		}
		s.Logger.Error("verify email failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "email verified"})
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

func (s *Server) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.orch.RequestPasswordReset(r.Context(), req.Email, requestID(r)); err != nil {
		s.Logger.Error("password reset request failed", "error", err)
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{
		"message": "if an account exists, a reset link was sent",
	})
}

type confirmPasswordResetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (s *Server) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req confirmPasswordResetRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.orch.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword, requestID(r)); err != nil {
		var ae *domain.AuthError
		if errors.As(err, &ae) {
			helpers.RespondError(w, ae.Kind.HTTPStatus(), ae.Error())
			return
		}
		s.Logger.Error("password reset confirm failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}
