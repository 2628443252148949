package middleware

import (
	"log/slog"
	"net/http"

	"github.com/wardline/authcore/internal/api/helpers"
	"github.com/wardline/authcore/internal/storage"
)

// RequireRole builds a middleware that only admits requests whose
// authenticated user holds roleName. Unlike the teacher's claims-based
// hierarchy (role baked into the JWT at issuance), roles here are looked up
// fresh per request against storage: a role revoked mid-session takes
// effect on the very next call instead of waiting for the token to expire.
func RequireRole(roles *storage.RoleRepo, roleName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := GetUserID(r.Context())
			if err != nil {
				helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			assigned, err := roles.RolesForUser(r.Context(), userID)
			if err != nil {
				slog.Error("rbac: load roles failed", "error", err, "user_id", userID)
				helpers.RespondError(w, http.StatusInternalServerError, "internal error")
				return
			}

			for _, role := range assigned {
				if role.Name == roleName {
					next.ServeHTTP(w, r)
					return
				}
			}
			helpers.RespondError(w, http.StatusForbidden, "insufficient permissions")
		})
	}
}
