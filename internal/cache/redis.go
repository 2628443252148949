// Package cache is the fast-path tier of the dual-tier session store (C2),
// the counter backend for the rate limiter (C7), and the store for
// short-lived single-use state (OAuth state, WebAuthn registration
// sessions) and the token blacklist. Redis is always
// subordinate: on any divergence from the authoritative Postgres tier, the
// Postgres value wins and the cache entry is repaired, never the reverse.
package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewClient parses a redis:// URL and returns a ready client. Ping fails
// fast at startup rather than surfacing as a mysterious first-request
// timeout, mirroring the teacher's Postgres startup check.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
