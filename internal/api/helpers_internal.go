package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wardline/authcore/internal/auth"
)

// requestID surfaces chi's per-request ID as the correlation ID threaded
// through orchestrator calls and audit entries, so a log line and an audit
// row for the same request can be joined on one value.
func requestID(r *http.Request) string {
	return chimw.GetReqID(r.Context())
}

func chiURLParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func fingerprintOf(token string) string {
	return auth.Fingerprint(token)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
