package api

import (
	"net/http"

	"github.com/wardline/authcore/internal/api/helpers"
	customMiddleware "github.com/wardline/authcore/internal/api/middleware"
)

// ServeWebSocket upgrades the connection and subscribes it to the event
// stream for the authenticated user only: the hub filters broadcasts by
// subject, so one user's connection never sees another's events.
func (s *Server) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	s.hub.ServeWS(w, r, userID)
}
