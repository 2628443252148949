package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wardline/authcore/internal/api/helpers"
	"github.com/wardline/authcore/internal/auth"
	"github.com/wardline/authcore/internal/session"
)

// Authenticate validates the bearer access token and, on success, confirms
// the session it names is still active before letting the request through.
// A verified-but-terminated token (logged out, session expired server-side)
// must not grant access just because its signature and expiry still check
// out.
func Authenticate(tokens auth.TokenProvider, sessions *session.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				helpers.RespondError(w, http.StatusUnauthorized, "authorization header required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				helpers.RespondError(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			claims, err := tokens.Verify(parts[1], auth.ScopeAccess)
			if err != nil {
				slog.Warn("invalid access token", "error", err, "ip", r.RemoteAddr)
				helpers.RespondError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			fs, err := sessions.ValidateByAccessFP(r.Context(), auth.Fingerprint(parts[1]), time.Now())
			if err != nil {
				if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrStaleRefresh) {
					helpers.RespondError(w, http.StatusUnauthorized, "session no longer active")
					return
				}
				slog.Error("session validation failed", "error", err)
				helpers.RespondError(w, http.StatusInternalServerError, "internal error")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, SessionIDKey, fs.SessionID)
			SetSentryUser(ctx, claims.UserID.String(), "", r.RemoteAddr)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
