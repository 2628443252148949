// Package ratelimit implements the intelligent rate limiter (C7): a
// per-identifier (IP, user ID, or API key) limit that is scaled down as the
// identifier's recent risk score rises. With Redis it counts requests in a
// fixed window shared across instances; without Redis it uses an
// in-process token bucket. No sliding window is kept.
// Generalizes the teacher's per-IP token-bucket middleware
// (internal/api/middleware/ratelimit.go) from a fixed rate to a
// risk-adjusted one, and replaces its "wipe the whole map" cleanup with a
// last-seen sweep.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/wardline/authcore/internal/domain"
)

// RiskSource reports the last known risk score for an identifier. The
// limiter treats a score older than 5 minutes as stale and reassesses
// lazily on the next request rather than polling.
type RiskSource interface {
	RiskScoreFor(ctx context.Context, identifier string) (score float64, assessedAt time.Time, ok bool)
}

type entry struct {
	limiter    *rate.Limiter
	riskScore  float64
	assessedAt time.Time
	lastSeen   time.Time
}

// Limiter is the in-process tier of the rate limiter, always present even
// when Redis is unreachable so request handling degrades rather than
// fails open or closed unpredictably.
type Limiter struct {
	mu          sync.Mutex
	entries     map[string]*entry
	baseLimit   float64
	window      time.Duration
	riskTTL     time.Duration
	risk        RiskSource
	redis       *redis.Client // optional: when set, Allow gates against a shared cross-instance count
	emit        func(eventType string, identifier string)
}

// Config bundles the constructor's knobs.
type Config struct {
	BaseLimit float64 // requests per Window before the risk multiplier (1.5 at low risk) is applied
	Window    time.Duration
	RiskTTL   time.Duration
	Risk      RiskSource
	Redis     *redis.Client // nil disables the shared-counter path
	Emit      func(eventType string, identifier string)
}

func New(cfg Config) *Limiter {
	return &Limiter{
		entries:   make(map[string]*entry),
		baseLimit: cfg.BaseLimit,
		window:    cfg.Window,
		riskTTL:   cfg.RiskTTL,
		risk:      cfg.Risk,
		redis:     cfg.Redis,
		emit:      cfg.Emit,
	}
}

// riskMultiplier implements the spec's risk-to-allowance curve: higher
// risk tightens the window, never loosens it.
func riskMultiplier(score float64) float64 {
	switch {
	case score < 50:
		return 1.5
	case score < 75:
		return 1.0
	case score < 90:
		return 0.5
	default:
		return 0.1
	}
}

func effectiveLimit(base, multiplier float64) rate.Limit {
	limit := base * multiplier
	if limit < 1 {
		limit = 1
	}
	return rate.Limit(limit / 60) // per-second rate given a 1-minute base window
}

func burstFor(base float64) int {
	b := int(base)
	if b < 1 {
		b = 1
	}
	return b
}

// windowLimitFor converts the risk-adjusted rate back into a per-Window
// request count, the unit the shared Redis counter actually enforces.
func windowLimitFor(base, multiplier float64) int {
	limit := int(base * multiplier)
	if limit < 1 {
		limit = 1
	}
	return limit
}

// reserve decides locally via the token bucket, returning the wait the
// caller must honor when over limit instead of just a bool, so a rejected
// request can carry an accurate Retry-After.
func reserve(limiter *rate.Limiter, now time.Time) (bool, time.Duration) {
	r := limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}

// Allow reports whether identifier may proceed, reassessing its risk
// score if the cached value is older than RiskTTL or this is its first
// request. When Redis is configured the decision is made there, against
// a counter every instance shares, so a client can't outrun the limit by
// spreading requests across the fleet; the in-process token bucket is the
// fallback when Redis is nil or unreachable, never a second independent
// gate on top of it.
func (l *Limiter) Allow(ctx context.Context, identifier string) (bool, time.Duration) {
	now := time.Now()

	l.mu.Lock()
	e, ok := l.entries[identifier]
	if !ok {
		e = &entry{
			limiter:    rate.NewLimiter(effectiveLimit(l.baseLimit, riskMultiplier(0)), burstFor(l.baseLimit)),
			assessedAt: time.Time{},
		}
		l.entries[identifier] = e
	}
	needsReassessment := now.Sub(e.assessedAt) > l.riskTTL
	e.lastSeen = now
	limiter := e.limiter
	multiplier := riskMultiplier(e.riskScore)
	l.mu.Unlock()

	if needsReassessment && l.risk != nil {
		if score, assessedAt, ok := l.risk.RiskScoreFor(ctx, identifier); ok {
			l.mu.Lock()
			e.riskScore = score
			e.assessedAt = assessedAt
			multiplier = riskMultiplier(score)
			e.limiter.SetLimit(effectiveLimit(l.baseLimit, multiplier))
			l.mu.Unlock()
		}
	}

	if l.redis != nil {
		if allowed, retryAfter, ok := l.allowShared(ctx, identifier, windowLimitFor(l.baseLimit, multiplier)); ok {
			if !allowed && l.emit != nil {
				l.emit(domain.EventRateLimitExceeded, identifier)
			}
			return allowed, retryAfter
		}
		// Redis unreachable: fall through to the local bucket below
		// rather than fail open.
	}

	allowed, retryAfter := reserve(limiter, now)
	if !allowed && l.emit != nil {
		l.emit(domain.EventRateLimitExceeded, identifier)
	}
	return allowed, retryAfter
}

// allowShared enforces a fixed-window counter in Redis, shared by every
// instance behind the same deployment, so the limit is a fleet-wide
// budget rather than per-process. ok is false on any Redis error, telling
// the caller to fall back to the local decision instead of silently
// allowing or blocking everything.
func (l *Limiter) allowShared(ctx context.Context, identifier string, limit int) (allowed bool, retryAfter time.Duration, ok bool) {
	key := fmt.Sprintf("ratelimit:count:%s", identifier)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, false
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return false, 0, false
		}
	}
	if int(count) <= limit {
		return true, 0, true
	}
	ttl, err := l.redis.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = l.window
	}
	return false, ttl, true
}

// GC removes entries idle for longer than idleFor, replacing the teacher's
// full-map wipe with a last-seen sweep so active identifiers keep their
// learned risk state across the cleanup cycle.
func (l *Limiter) GC(idleFor time.Duration) int {
	cutoff := time.Now().Add(-idleFor)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}

// Run starts the periodic GC loop; cancel ctx to stop it.
func (l *Limiter) Run(ctx context.Context, interval, idleFor time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.GC(idleFor)
		}
	}
}
