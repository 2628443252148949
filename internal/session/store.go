// Package session implements the dual-tier session store (C2): Postgres
// is authoritative, Redis is the fast path. Generalizes the teacher's
// RotateRefreshToken reuse-detection pattern (session_service.go) into a
// single-use, compare-and-swap rotation, and adds the fast-path cache tier
// and per-session singleflight serialization the teacher's single-store
// design never needed.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/wardline/authcore/internal/cache"
	"github.com/wardline/authcore/internal/domain"
	"github.com/wardline/authcore/internal/storage"
)

// ErrStaleRefresh is returned when the presented refresh-token fingerprint
// no longer matches the session's current one: either it was already
// rotated (replay) or the session was terminated.
var ErrStaleRefresh = errors.New("session: refresh token reuse or session terminated")

// ErrNotFound mirrors storage.ErrNotFound so callers outside this package
// don't need to import internal/storage just to check this case.
var ErrNotFound = storage.ErrNotFound

type Store struct {
	authoritative *storage.SessionRepo
	fast          *cache.FastSessionStore
	rotate        singleflight.Group
	fastTTL       time.Duration
}

func New(authoritative *storage.SessionRepo, fast *cache.FastSessionStore, fastTTL time.Duration) *Store {
	return &Store{authoritative: authoritative, fast: fast, fastTTL: fastTTL}
}

func (s *Store) toFast(sess *domain.Session) *domain.FastSession {
	return &domain.FastSession{
		SessionID:    sess.ID,
		UserID:       sess.UserID,
		ExpiresAt:    sess.ExpiresAt,
		RiskScore:    sess.RiskScoreAtIssuance,
		Active:       sess.Active,
		LastActivity: sess.LastActivity,
	}
}

// Create writes the session to both tiers. The authoritative write
// happens first: a cache-only session that the database never heard of
// would be unrecoverable after an eviction.
func (s *Store) Create(ctx context.Context, sess *domain.Session) error {
	if err := s.authoritative.Create(ctx, sess); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if err := s.fast.Put(ctx, sess.AccessTokenFP, s.toFast(sess), s.fastTTL); err != nil {
		// fast-path write failure is not fatal: the next validation falls
		// through to the authoritative tier and repairs the cache.
		return nil
	}
	return nil
}

// ValidateByAccessFP checks the fast path first; on a miss it falls back
// to the authoritative tier and repopulates the cache so the next request
// for this session is fast again.
func (s *Store) ValidateByAccessFP(ctx context.Context, accessFP string, now time.Time) (*domain.FastSession, error) {
	if fs, err := s.fast.Get(ctx, accessFP); err == nil {
		if fs.Valid(now) {
			return fs, nil
		}
		return nil, ErrStaleRefresh
	}
	// Miss or Redis error: fall through to the authoritative tier and
	// repair the cache rather than fail the request.

	sess, err := s.authoritative.GetByAccessFP(ctx, accessFP)
	if err != nil {
		return nil, err
	}
	fs := s.toFast(sess)
	if !fs.Valid(now) {
		return nil, ErrStaleRefresh
	}
	_ = s.fast.Put(ctx, accessFP, fs, s.fastTTL)
	return fs, nil
}

// GetByID loads a session by its primary key, straight from the
// authoritative tier, for callers (logout) that need the owning user
// before terminating it.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return s.authoritative.GetByID(ctx, id)
}

// GetByRefreshFP loads a session by its current refresh-token fingerprint,
// straight from the authoritative tier: refresh is security-sensitive and
// rare enough that the fast path buys nothing here.
func (s *Store) GetByRefreshFP(ctx context.Context, refreshFP string) (*domain.Session, error) {
	return s.authoritative.GetByRefreshFP(ctx, refreshFP)
}

// TouchActivity bumps last-activity in the fast tier only; the
// authoritative row is a last-writer-wins bump applied periodically by the
// caller (no correctness impact per spec, so sub-second precision in
// Postgres is not required).
func (s *Store) TouchActivity(ctx context.Context, accessFP string, at time.Time) {
	_ = s.fast.TouchActivity(ctx, accessFP, at, s.fastTTL)
}

func (s *Store) FlushActivity(ctx context.Context, sessionID uuid.UUID, at time.Time) error {
	return s.authoritative.TouchActivity(ctx, sessionID, at)
}

// RotationResult wraps the session after a successful refresh; the new
// fingerprints it was rotated to are its AccessTokenFP and RefreshTokenFP.
// Rotate itself returns the *domain.Session directly.
type RotationResult struct {
	Session *domain.Session
}

// Rotate performs the single-use refresh-token rotation. It is serialized
// per session ID via singleflight so two concurrent refresh requests for
// the same session can't both observe the old fingerprint as valid and
// race to rotate it -- the second one simply rides the first's result.
func (s *Store) Rotate(ctx context.Context, sessionID uuid.UUID, oldRefreshFP, newAccessFP, newRefreshFP string, expiresAt, refreshExpiresAt time.Time, riskScore float64) (*domain.Session, error) {
	key := sessionID.String()
	v, err, _ := s.rotate.Do(key, func() (interface{}, error) {
		if rerr := s.authoritative.Rotate(ctx, sessionID, oldRefreshFP, newAccessFP, newRefreshFP, expiresAt, refreshExpiresAt, riskScore); rerr != nil {
			if errors.Is(rerr, storage.ErrNotFound) {
				return nil, ErrStaleRefresh
			}
			return nil, fmt.Errorf("rotate session: %w", rerr)
		}
		sess, gerr := s.authoritative.GetByID(ctx, sessionID)
		if gerr != nil {
			return nil, fmt.Errorf("reload rotated session: %w", gerr)
		}
		_ = s.fast.Put(ctx, newAccessFP, s.toFast(sess), s.fastTTL)
		_ = s.fast.Invalidate(ctx, oldRefreshFP) // refresh fp is never a cache key, but belt-and-suspenders if a caller mis-keys
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Session), nil
}

func (s *Store) Terminate(ctx context.Context, accessFP string, sessionID uuid.UUID) error {
	if err := s.authoritative.Terminate(ctx, sessionID); err != nil {
		return fmt.Errorf("terminate session: %w", err)
	}
	_ = s.fast.Invalidate(ctx, accessFP)
	return nil
}

func (s *Store) TerminateAllForUser(ctx context.Context, userID uuid.UUID) error {
	if err := s.authoritative.TerminateAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("terminate user sessions: %w", err)
	}
	// Evict every fast-path entry for this user via the per-user index so
	// a just-revoked session doesn't keep validating against Redis until
	// its TTL decays; a failure here is not fatal since the authoritative
	// tier already reflects the termination.
	_ = s.fast.InvalidateAllForUser(ctx, userID)
	return nil
}

func (s *Store) CleanupExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.authoritative.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return n, nil
}
