package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrWebAuthnSessionMiss is returned when a registration/login ceremony's
// session token was never issued or has already been consumed.
var ErrWebAuthnSessionMiss = errors.New("cache: webauthn session miss")

// WebAuthnSessionStore holds the library's SessionData between the begin
// and finish calls of a WebAuthn ceremony, keyed by an opaque token handed
// to the client. Same shape as OAuthStateStore: short TTL, consume-once.
type WebAuthnSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewWebAuthnSessionStore(client *redis.Client, ttl time.Duration) *WebAuthnSessionStore {
	return &WebAuthnSessionStore{client: client, ttl: ttl}
}

func webauthnSessionKey(token string) string { return "webauthn:session:" + token }

// Put stores sessionData and returns the token the client must echo back
// to the finish endpoint.
func (s *WebAuthnSessionStore) Put(ctx context.Context, sessionData []byte) (string, error) {
	token := uuid.NewString()
	if err := s.client.Set(ctx, webauthnSessionKey(token), sessionData, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store webauthn session: %w", err)
	}
	return token, nil
}

// Consume retrieves and deletes the session data atomically (GETDEL), so a
// finish call can't be replayed against the same begin.
func (s *WebAuthnSessionStore) Consume(ctx context.Context, token string) ([]byte, error) {
	val, err := s.client.GetDel(ctx, webauthnSessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrWebAuthnSessionMiss
	}
	if err != nil {
		return nil, fmt.Errorf("consume webauthn session: %w", err)
	}
	return val, nil
}
