package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wardline/authcore/internal/domain"
)

// ErrMiss is returned when a fast-path lookup finds nothing, distinct from
// a Redis connectivity error so callers know to fall through to Postgres
// rather than fail the request.
var ErrMiss = errors.New("cache: miss")

// FastSessionStore is the Redis-backed hot path for session validation,
// keyed by access-token fingerprint so a bearer token maps to its session
// in one round trip.
type FastSessionStore struct {
	client *redis.Client
}

func NewFastSessionStore(client *redis.Client) *FastSessionStore {
	return &FastSessionStore{client: client}
}

func sessionKey(accessFP string) string { return "session:access:" + accessFP }

func userIndexKey(userID uuid.UUID) string { return "session:user:" + userID.String() }

// Put writes the session record and adds its fingerprint to a per-user
// index set, so a later InvalidateAllForUser can evict every fast-path
// entry for that user instead of waiting out each one's TTL individually.
func (s *FastSessionStore) Put(ctx context.Context, accessFP string, fs *domain.FastSession, ttl time.Duration) error {
	b, err := json.Marshal(fs)
	if err != nil {
		return fmt.Errorf("marshal fast session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(accessFP), b, ttl)
	pipe.SAdd(ctx, userIndexKey(fs.UserID), accessFP)
	pipe.Expire(ctx, userIndexKey(fs.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache put session: %w", err)
	}
	return nil
}

func (s *FastSessionStore) Get(ctx context.Context, accessFP string) (*domain.FastSession, error) {
	b, err := s.client.Get(ctx, sessionKey(accessFP)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get session: %w", err)
	}
	var fs domain.FastSession
	if err := json.Unmarshal(b, &fs); err != nil {
		return nil, fmt.Errorf("unmarshal fast session: %w", err)
	}
	return &fs, nil
}

// TouchActivity rewrites LastActivity in the cached record (read, update,
// write back, all in Redis), used by the debounced activity bump so
// validated requests don't each pay a round trip through Postgres.
func (s *FastSessionStore) TouchActivity(ctx context.Context, accessFP string, at time.Time, ttl time.Duration) error {
	fs, err := s.Get(ctx, accessFP)
	if err != nil {
		return err
	}
	fs.LastActivity = at
	return s.Put(ctx, accessFP, fs, ttl)
}

func (s *FastSessionStore) Invalidate(ctx context.Context, accessFP string) error {
	if err := s.client.Del(ctx, sessionKey(accessFP)).Err(); err != nil {
		return fmt.Errorf("cache invalidate session: %w", err)
	}
	return nil
}

// InvalidateBySessionID removes the fast-path entry stored under accessFP,
// but only if that entry belongs to sessionID. It reads that one key and
// does not scan: a miss or an entry of another session is a no-op, and
// callers need the access fingerprint as well as the session's UUID.
func (s *FastSessionStore) InvalidateBySessionID(ctx context.Context, accessFP string, sessionID uuid.UUID) error {
	fs, err := s.Get(ctx, accessFP)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return nil
		}
		return err
	}
	if fs.SessionID != sessionID {
		return nil
	}
	return s.Invalidate(ctx, accessFP)
}

// InvalidateAllForUser evicts every fast-path entry the per-user index
// set knows about for userID. The index can accumulate entries for
// sessions already removed via Invalidate (those deletes don't bother
// trimming the set to keep the hot path's single-key write cheap), so a
// stale fingerprint here just costs a harmless no-op Del.
func (s *FastSessionStore) InvalidateAllForUser(ctx context.Context, userID uuid.UUID) error {
	key := userIndexKey(userID)
	fps, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("cache list user sessions: %w", err)
	}
	if len(fps) == 0 {
		return nil
	}

	keys := make([]string, len(fps))
	for i, fp := range fps {
		keys[i] = sessionKey(fp)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache invalidate user sessions: %w", err)
	}
	return nil
}
