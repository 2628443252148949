// Command worker runs the background maintenance loops that the API
// process itself never blocks on: webhook delivery retries, expired
// session/challenge/delivery purges, and rate-limiter idle-entry GC.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wardline/authcore/internal/cache"
	"github.com/wardline/authcore/internal/config"
	"github.com/wardline/authcore/internal/events"
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
	log.Info("worker_startup", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := storage.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("database_connect_failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("redis_connect_failed", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	webhookRepo := storage.NewWebhookRepo(pool)
	deliveryRepo := storage.NewDeliveryRepo(pool)
	eventRepo := storage.NewEventRepo(pool)
	sessionRepo := storage.NewSessionRepo(pool)
	mfaChallengeRepo := storage.NewMFAChallengeRepo(pool)

	dispatcher := events.NewDispatcher(webhookRepo, deliveryRepo, eventRepo, log, events.DispatcherConfig{
		WorkerPoolSize:        cfg.WebhookWorkerPoolSize,
		PerWebhookConcurrency: cfg.WebhookPerHookConcurrency,
	})

	fastSessions := cache.NewFastSessionStore(redisClient)
	sessionStore := session.New(sessionRepo, fastSessions, cfg.AccessTokenTTL)

	limiter := ratelimit.New(ratelimit.Config{
		BaseLimit: cfg.RateLimitBase,
		Window:    cfg.RateLimitWindow,
		RiskTTL:   cfg.RateLimitRiskTTL,
		Redis:     redisClient,
	})
	go limiter.Run(ctx, cfg.RateLimitGCInterval, cfg.RateLimitGCInterval)

	deliveryTicker := time.NewTicker(5 * time.Second)
	defer deliveryTicker.Stop()

	cleanupTicker := time.NewTicker(10 * time.Minute)
	defer cleanupTicker.Stop()

	log.Info("worker_loops_started")

	for {
		select {
		case <-ctx.Done():
			log.Info("worker_shutdown")
			return

		case <-deliveryTicker.C:
			n, err := dispatcher.ProcessDue(ctx, 100)
			if err != nil {
				log.Error("webhook_delivery_sweep_failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("webhook_delivery_sweep", "processed", n)
			}

		case <-cleanupTicker.C:
			now := time.Now()

			if n, err := sessionStore.CleanupExpired(ctx, now); err != nil {
				log.Error("session_cleanup_failed", "error", err)
			} else if n > 0 {
				log.Info("session_cleanup", "removed", n)
			}

			if n, err := mfaChallengeRepo.DeleteExpired(ctx, now); err != nil {
				log.Error("mfa_challenge_cleanup_failed", "error", err)
			} else if n > 0 {
				log.Info("mfa_challenge_cleanup", "removed", n)
			}

			if n, err := deliveryRepo.PurgeOlderThan(ctx, now.Add(-cfg.WebhookDLQRetention)); err != nil {
				log.Error("delivery_purge_failed", "error", err)
			} else if n > 0 {
				log.Info("delivery_purge", "removed", n)
			}
		}
	}
}
