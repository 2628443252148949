package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/wardline/authcore/internal/api"
	"github.com/wardline/authcore/internal/audit"
	"github.com/wardline/authcore/internal/auth"
	"github.com/wardline/authcore/internal/cache"
	"github.com/wardline/authcore/internal/config"
	"github.com/wardline/authcore/internal/creds"
	"github.com/wardline/authcore/internal/domain"
	"github.com/wardline/authcore/internal/events"
	"github.com/wardline/authcore/internal/mfa"
	"github.com/wardline/authcore/internal/notify"
	"github.com/wardline/authcore/internal/oauth"
	"github.com/wardline/authcore/internal/orchestrator"
	"github.com/wardline/authcore/internal/ratelimit"
	"github.com/wardline/authcore/internal/session"
	"github.com/wardline/authcore/internal/storage"
	"github.com/wardline/authcore/pkg/logger"
)

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg := config.Load()

	log := logger.Setup(cfg.AppEnv)
	log.Info("application_startup", "env", cfg.AppEnv)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 1.0,
			Environment:      cfg.AppEnv,
		}); err != nil {
			log.Error("sentry_init_failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
			log.Info("sentry_initialized")
		}
	} else {
		log.Warn("sentry_dsn_missing", "details", "skipping_init")
	}

	ctx := context.Background()

	pool, err := storage.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("database_connect_failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	log.Info("database_connected")

	redisClient, err := cache.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("redis_connect_failed", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	log.Info("redis_connected")

	blacklist := cache.NewBlacklist(redisClient, log)

	if cfg.AccessTokenSecret == "" || cfg.RefreshTokenSecret == "" || cfg.SpecialTokenSecret == "" {
		if cfg.AppEnv == "production" {
			log.Error("token_secrets_missing", "details", "fatal_in_production")
			os.Exit(1)
		}
		log.Warn("token_secrets_missing", "details", "dev_mode_unsafe")
	}

	tokens, err := auth.NewJWTProvider(
		cfg.AccessTokenSecret, cfg.RefreshTokenSecret, cfg.SpecialTokenSecret,
		cfg.TokenIssuer, cfg.TokenAudience, blacklist,
	)
	if err != nil {
		log.Error("token_provider_init_failed", "error", err)
		os.Exit(1)
	}

	hasher := auth.NewBcryptHasher()
	mailer := &notify.DevMailer{Logger: log}

	userRepo := storage.NewUserRepo(pool)
	attemptRepo := storage.NewAuthAttemptRepo(pool)
	sessionRepo := storage.NewSessionRepo(pool)
	roleRepo := storage.NewRoleRepo(pool)
	webhookRepo := storage.NewWebhookRepo(pool)
	deliveryRepo := storage.NewDeliveryRepo(pool)
	eventRepo := storage.NewEventRepo(pool)
	mfaChallengeRepo := storage.NewMFAChallengeRepo(pool)
	auditRepo := storage.NewAuditRepo(pool)

	credStore := creds.New(userRepo, hasher, cfg.LockoutThreshold, cfg.LockoutBaseDelay, cfg.LockoutMaxDelay)

	fastSessions := cache.NewFastSessionStore(redisClient)
	sessionStore := session.New(sessionRepo, fastSessions, cfg.AccessTokenTTL)

	mfaMgr := mfa.New(mfaChallengeRepo, cfg.MFAIssuer, mailer, mailer)

	webauthnCredRepo := storage.NewWebAuthnCredRepo(pool)
	webauthnSessions := cache.NewWebAuthnSessionStore(redisClient, 5*time.Minute)
	webauthnCfg, err := mfa.NewWebAuthnConfig(cfg.WebAuthnRPID, cfg.WebAuthnRPOrigin, cfg.WebAuthnRPDisplayName)
	if err != nil {
		log.Warn("webauthn_config_init_failed", "error", err)
		webauthnCfg = nil
	}

	oauthReg := oauth.Registry{}
	if cfg.OAuthGoogleClientID != "" && cfg.OAuthGoogleClientSecret != "" {
		googleProvider, err := oauth.NewProvider(ctx, "google", cfg.OAuthGoogleIssuerURL,
			cfg.OAuthGoogleClientID, cfg.OAuthGoogleClientSecret,
			cfg.OAuthRedirectBaseURL+"/google/callback",
			[]string{"openid", "email", "profile"})
		if err != nil {
			log.Warn("oauth_google_init_failed", "error", err)
		} else {
			oauthReg["google"] = googleProvider
		}
	} else {
		log.Warn("oauth_google_not_configured")
	}
	oauthStateStore := cache.NewOAuthStateStore(redisClient, 10*time.Minute)

	auditLogger := audit.New(1000, log, auditRepo)

	dispatcher := events.NewDispatcher(webhookRepo, deliveryRepo, eventRepo, log, events.DispatcherConfig{
		WorkerPoolSize:        cfg.WebhookWorkerPoolSize,
		PerWebhookConcurrency: cfg.WebhookPerHookConcurrency,
	})
	hub := events.NewHub(log)
	bus := events.NewBus(eventRepo, dispatcher, hub, log)

	limiter := ratelimit.New(ratelimit.Config{
		BaseLimit: cfg.RateLimitBase,
		Window:    cfg.RateLimitWindow,
		RiskTTL:   cfg.RateLimitRiskTTL,
		Redis:     redisClient,
		Emit: func(eventType, identifier string) {
			_ = bus.Publish(ctx, domain.EventRateLimitExceeded, nil, identifier, map[string]any{"identifier": identifier})
		},
	})

	orch := orchestrator.New(
		userRepo, attemptRepo, credStore, sessionStore, tokens, mfaMgr,
		bus, auditLogger, oauthReg, oauthStateStore, mailer,
		webauthnCfg, webauthnCredRepo, webauthnSessions,
		orchestrator.Config{
			AccessTokenTTL:      cfg.AccessTokenTTL,
			RefreshTokenTTL:     cfg.RefreshTokenTTL,
			SpecialTokenTTL:     cfg.SpecialTokenTTL,
			RiskStepUpThreshold: cfg.RiskStepUpThreshold,
			AttemptLookback:     time.Hour,
			AttemptLookbackMax:  50,
			AppURL:              cfg.AppURL,
		},
	)

	server := api.NewServer(
		pool, log, orch, sessionStore, tokens, userRepo, roleRepo, webhookRepo,
		deliveryRepo, oauthReg, oauthStateStore, mfaMgr, hub, limiter, cfg.AppURL,
		cfg.AllowedOrigins,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server_listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("server_startup_failed", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		log.Info("shutdown_signal_received", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful_shutdown_failed", "error", err)
			if err := srv.Close(); err != nil {
				log.Error("server_force_close_failed", "error", err)
			}
		}

		hub.Shutdown()
		pool.Close()
		log.Info("server_shutdown_complete")
	}
}
