package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeRisk struct {
	score      float64
	assessedAt time.Time
	ok         bool
}

func (f fakeRisk) RiskScoreFor(ctx context.Context, identifier string) (float64, time.Time, bool) {
	return f.score, f.assessedAt, f.ok
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestLimiter_AllowsWithinBaseLimit(t *testing.T) {
	l := New(Config{BaseLimit: 120, Window: time.Minute})
	allowed, _ := l.Allow(context.Background(), "ip-1")
	require.True(t, allowed)
}

func TestLimiter_RejectsAboveBurstLimit(t *testing.T) {
	l := New(Config{BaseLimit: 2, Window: time.Minute})
	ctx := context.Background()

	allowed1, _ := l.Allow(ctx, "ip-2")
	allowed2, _ := l.Allow(ctx, "ip-2")
	allowed3, retryAfter := l.Allow(ctx, "ip-2")
	require.True(t, allowed1)
	require.True(t, allowed2)
	require.False(t, allowed3)
	require.Greater(t, retryAfter, time.Duration(0))
}

func TestLimiter_EmitsOnRejection(t *testing.T) {
	var emitted []string
	l := New(Config{BaseLimit: 1, Window: time.Minute, Emit: func(eventType, identifier string) {
		emitted = append(emitted, eventType+":"+identifier)
	}})
	ctx := context.Background()

	allowed1, _ := l.Allow(ctx, "ip-3")
	allowed2, _ := l.Allow(ctx, "ip-3")
	require.True(t, allowed1)
	require.False(t, allowed2)
	require.Len(t, emitted, 1)
}

func TestLimiter_HighRiskTightensAllowance(t *testing.T) {
	risk := fakeRisk{score: 95, assessedAt: time.Now(), ok: true}
	l := New(Config{BaseLimit: 120, Window: time.Minute, Risk: risk, RiskTTL: time.Minute})
	ctx := context.Background()

	// burst size is int(baseLimit) regardless of risk, but a tightened
	// limit should still allow the first request through before any
	// refill happens.
	allowed, _ := l.Allow(ctx, "risky-ip")
	require.True(t, allowed)
}

func TestLimiter_IdentifiersAreIndependent(t *testing.T) {
	l := New(Config{BaseLimit: 1, Window: time.Minute})
	ctx := context.Background()

	allowedA1, _ := l.Allow(ctx, "a")
	allowedB1, _ := l.Allow(ctx, "b")
	allowedA2, _ := l.Allow(ctx, "a")
	require.True(t, allowedA1)
	require.True(t, allowedB1)
	require.False(t, allowedA2)
}

func TestLimiter_GCRemovesOnlyIdleEntries(t *testing.T) {
	l := New(Config{BaseLimit: 10, Window: time.Minute})
	ctx := context.Background()

	allowedIdle, _ := l.Allow(ctx, "idle")
	allowedActive, _ := l.Allow(ctx, "active")
	require.True(t, allowedIdle)
	require.True(t, allowedActive)

	l.mu.Lock()
	l.entries["idle"].lastSeen = time.Now().Add(-time.Hour)
	l.mu.Unlock()

	removed := l.GC(time.Minute)
	require.Equal(t, 1, removed)

	l.mu.Lock()
	_, idleStillThere := l.entries["idle"]
	_, activeStillThere := l.entries["active"]
	l.mu.Unlock()
	require.False(t, idleStillThere)
	require.True(t, activeStillThere)
}

func TestLimiter_SharedCounterGatesAcrossInstances(t *testing.T) {
	client, _ := newTestRedis(t)
	ctx := context.Background()

	// Two Limiter instances, same Redis, simulating two API processes
	// behind the same deployment: the second instance must see the
	// first's usage rather than starting its own independent count.
	l1 := New(Config{BaseLimit: 2, Window: time.Minute, Redis: client})
	l2 := New(Config{BaseLimit: 2, Window: time.Minute, Redis: client})

	// BaseLimit 2 at risk 0 (multiplier 1.5) gives a window budget of 3, so
	// the fourth call is rejected although each instance made only two.
	allowed1, _ := l1.Allow(ctx, "shared-ip")
	allowed2, _ := l2.Allow(ctx, "shared-ip")
	allowed3, _ := l1.Allow(ctx, "shared-ip")
	allowed4, retryAfter := l2.Allow(ctx, "shared-ip")

	require.True(t, allowed1)
	require.True(t, allowed2)
	require.True(t, allowed3)
	require.False(t, allowed4)
	require.Greater(t, retryAfter, time.Duration(0))
}

func TestLimiter_FallsBackToLocalWhenRedisUnreachable(t *testing.T) {
	client, mr := newTestRedis(t)
	mr.Close()
	ctx := context.Background()

	l := New(Config{BaseLimit: 2, Window: time.Minute, Redis: client})
	allowed, _ := l.Allow(ctx, "degraded-ip")
	require.True(t, allowed)
}
