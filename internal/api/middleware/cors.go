package middleware

import (
	"net/http"
	"slices"
)

// CORS reflects the request Origin when it appears in allowedOrigins,
// generalizing the teacher's per-tenant DynamicCorsMiddleware (which
// looked allowed origins up per tenant row) to a single static allowlist
// sourced from config, since this design has no tenant dimension to key
// the lookup on. Credentials are not allowed: tokens travel in the
// Authorization header, never a cookie, so there is nothing for the
// browser to attach automatically.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !slices.Contains(allowedOrigins, origin) {
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusNoContent)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
