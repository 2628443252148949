// Package api wires the authentication orchestrator and its supporting
// components to an HTTP surface, following the teacher's flat
// internal/api/*_handlers.go layout with a chi.Mux assembled in this file.
package api

import (
	"log/slog"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	customMiddleware "github.com/wardline/authcore/internal/api/middleware"
	"github.com/wardline/authcore/internal/auth"
	"github.com/wardline/authcore/internal/cache"
	"github.com/wardline/authcore/internal/events"
	"github.com/wardline/authcore/internal/mfa"
	"github.com/wardline/authcore/internal/oauth"
	"github.com/wardline/authcore/internal/orchestrator"
	"github.com/wardline/authcore/internal/ratelimit"
	"github.com/wardline/authcore/internal/session"
	"github.com/wardline/authcore/internal/storage"
)

// Server bundles every handler's dependencies. Individual handlers are
// methods on Server so they share one struct instead of each carrying its
// own constructor arguments, matching the teacher's *Handler pattern.
type Server struct {
	Router *chi.Mux
	Pool   *pgxpool.Pool
	Logger *slog.Logger

	orch       *orchestrator.Orchestrator
	sessions   *session.Store
	tokens     auth.TokenProvider
	users      *storage.UserRepo
	roles      *storage.RoleRepo
	webhooks   *storage.WebhookRepo
	deliveries *storage.DeliveryRepo
	oauthReg   oauth.Registry
	oauthSt    *cache.OAuthStateStore
	mfaMgr     *mfa.Manager
	hub        *events.Hub
	appURL     string
}

func NewServer(
	pool *pgxpool.Pool,
	logger *slog.Logger,
	orch *orchestrator.Orchestrator,
	sessions *session.Store,
	tokens auth.TokenProvider,
	users *storage.UserRepo,
	roles *storage.RoleRepo,
	webhooks *storage.WebhookRepo,
	deliveries *storage.DeliveryRepo,
	oauthReg oauth.Registry,
	oauthSt *cache.OAuthStateStore,
	mfaMgr *mfa.Manager,
	hub *events.Hub,
	limiter *ratelimit.Limiter,
	appURL string,
	allowedOrigins []string,
) *Server {
	s := &Server{
		Pool:       pool,
		Logger:     logger,
		orch:       orch,
		sessions:   sessions,
		tokens:     tokens,
		users:      users,
		roles:      roles,
		webhooks:   webhooks,
		deliveries: deliveries,
		oauthReg:   oauthReg,
		oauthSt:    oauthSt,
		mfaMgr:     mfaMgr,
		hub:        hub,
		appURL:     appURL,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.CORS(allowedOrigins))

	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
	r.Use(sentryHandler.Handle)

	r.Use(customMiddleware.RequestLogger)
	r.Use(customMiddleware.PanicRecovery)
	r.Use(customMiddleware.RateLimit(limiter))

	r.Get("/health", s.Health)
	r.Get("/ready", s.Ready)

	requireAuth := customMiddleware.Authenticate(tokens, sessions)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.Register)
		r.Get("/verify-email", s.VerifyEmail)
		r.Post("/login", s.Login)
		r.Post("/refresh", s.Refresh)
		r.Post("/logout", s.Logout)
		r.Post("/mfa/verify", s.MFAVerify)
		r.Post("/oauth/{provider}/init", s.OAuthInit)
		r.Post("/oauth/{provider}/callback", s.OAuthCallback)
		r.Post("/magic-link", s.MagicLinkSend)
		r.Get("/magic-link/verify", s.MagicLinkVerify)
		r.Post("/password/reset", s.RequestPasswordReset)
		r.Post("/password/reset/confirm", s.ConfirmPasswordReset)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)

		r.Get("/users/profile", s.GetProfile)
		r.Post("/users/webauthn/register/begin", s.BeginWebAuthnRegistration)
		r.Post("/users/webauthn/register/finish", s.FinishWebAuthnRegistration)
		r.Get("/ws", s.ServeWebSocket)

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/", s.CreateWebhook)
			r.Get("/", s.ListWebhooks)
			r.Patch("/{id}", s.UpdateWebhook)
			r.Delete("/{id}", s.DeleteWebhook)
			r.Get("/{id}/events", s.WebhookEvents)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(customMiddleware.RequireRole(roles, "admin"))

			r.Route("/roles", func(r chi.Router) {
				r.Get("/", s.ListRoles)
				r.Post("/", s.CreateRole)
				r.Patch("/{id}", s.UpdateRole)
				r.Delete("/{id}", s.DeleteRole)
				r.Post("/{id}/assign", s.AssignRole)
				r.Post("/{id}/revoke", s.RevokeRole)
			})
		})
	})

	s.Router = r
	return s
}
