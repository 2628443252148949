package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Blacklist implements auth.Blacklist on top of Redis: a revoked JTI is a
// key whose TTL is set to its remaining validity window, so an entry never
// outlives the token it revokes and the set self-prunes without a sweep.
//
// The interface it satisfies has no error return, so a Redis outage fails
// open on IsRevoked (an unreachable blacklist must not turn every request
// into a 500) while Revoke is best-effort and logged on failure.
type Blacklist struct {
	client *redis.Client
	logger *slog.Logger
}

func NewBlacklist(client *redis.Client, logger *slog.Logger) *Blacklist {
	return &Blacklist{client: client, logger: logger}
}

func blacklistKey(jti string) string { return "blacklist:jti:" + jti }

func (b *Blacklist) IsRevoked(jti string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := b.client.Exists(ctx, blacklistKey(jti)).Result()
	if err != nil {
		b.logger.Warn("blacklist lookup failed, failing open", "jti", jti, "error", err)
		return false
	}
	return n > 0
}

func (b *Blacklist) Revoke(jti string, until time.Time) {
	ttl := time.Until(until)
	if ttl <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := b.client.Set(ctx, blacklistKey(jti), "1", ttl).Err(); err != nil {
		b.logger.Error("blacklist revoke failed", "jti", jti, "error", err)
	}
}
