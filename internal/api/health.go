package api

import (
	"context"
	"net/http"
	"time"

	"github.com/wardline/authcore/internal/api/helpers"
)

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready checks the database connection so a load balancer can stop routing
// traffic to an instance that lost its pool before the process crashes.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.Pool.Ping(ctx); err != nil {
		helpers.RespondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
