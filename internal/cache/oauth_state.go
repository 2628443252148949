package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStateMiss is returned when a presented OAuth state value was never
// issued or has already been consumed.
var ErrStateMiss = errors.New("cache: oauth state miss")

// OAuthStateStore holds the short-lived state/nonce pair issued at
// /auth/oauth/{provider}/init, consumed exactly once at callback time to
// defend against CSRF and replay.
type OAuthStateStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewOAuthStateStore(client *redis.Client, ttl time.Duration) *OAuthStateStore {
	return &OAuthStateStore{client: client, ttl: ttl}
}

func oauthStateKey(state string) string { return "oauth:state:" + state }

func (s *OAuthStateStore) Put(ctx context.Context, state, provider, nonce string) error {
	if err := s.client.Set(ctx, oauthStateKey(state), provider+"|"+nonce, s.ttl).Err(); err != nil {
		return fmt.Errorf("store oauth state: %w", err)
	}
	return nil
}

// Consume retrieves and deletes the state atomically (GETDEL), returning
// the provider name and nonce it was issued with. A second callback for
// the same state will always miss.
func (s *OAuthStateStore) Consume(ctx context.Context, state string) (provider, nonce string, err error) {
	val, err := s.client.GetDel(ctx, oauthStateKey(state)).Result()
	if errors.Is(err, redis.Nil) {
		return "", "", ErrStateMiss
	}
	if err != nil {
		return "", "", fmt.Errorf("consume oauth state: %w", err)
	}
	for i := 0; i < len(val); i++ {
		if val[i] == '|' {
			return val[:i], val[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("malformed oauth state record")
}
