package api

import (
	"net/http"

	"github.com/wardline/authcore/internal/api/helpers"
	customMiddleware "github.com/wardline/authcore/internal/api/middleware"
)

type profileResponse struct {
	ID            string   `json:"id"`
	Email         string   `json:"email"`
	EmailVerified bool     `json:"email_verified"`
	MFAEnabled    bool     `json:"mfa_enabled"`
	Roles         []string `json:"roles"`
}

func (s *Server) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := s.users.GetByID(r.Context(), userID)
	if err != nil {
		s.Logger.Error("load profile failed", "error", err, "user_id", userID)
		helpers.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	helpers.RespondJSON(w, http.StatusOK, profileResponse{
		ID:            user.ID.String(),
		Email:         user.Email,
		EmailVerified: user.EmailVerifiedAt != nil,
		MFAEnabled:    user.MFAEnabled,
		Roles:         user.Roles,
	})
}
