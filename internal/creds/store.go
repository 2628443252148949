// Package creds is the credential store (C5): user lookup, password
// verification via bcrypt, and the atomic lockout counter. Generalizes the
// teacher's user_service.go failed-attempt bookkeeping, which mutated the
// counter inline in the login flow; here it is its own component so the
// orchestrator calls a single CheckPassword and gets back a verdict
// instead of hand-rolling the counter math itself.
package creds

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/wardline/authcore/internal/auth"
	"github.com/wardline/authcore/internal/domain"
	"github.com/wardline/authcore/internal/storage"
)

// Verdict is the outcome of a password check, folding the account-lock
// state into the same call so the orchestrator doesn't need a second
// round trip to decide what happened.
type Verdict int

const (
	VerdictOK Verdict = iota
	VerdictWrongPassword
	VerdictLocked
	VerdictNoPassword
)

type Store struct {
	users  *storage.UserRepo
	hasher auth.PasswordHasher

	lockoutThreshold int
	lockoutBaseDelay time.Duration
	lockoutMaxDelay  time.Duration
}

func New(users *storage.UserRepo, hasher auth.PasswordHasher, lockoutThreshold int, baseDelay, maxDelay time.Duration) *Store {
	return &Store{
		users:            users,
		hasher:           hasher,
		lockoutThreshold: lockoutThreshold,
		lockoutBaseDelay: baseDelay,
		lockoutMaxDelay:  maxDelay,
	}
}

// NormalizeEmail case-folds and trims an email the same way on every
// lookup path, so "User@Example.com" and "user@example.com" resolve to
// one account.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) Lookup(ctx context.Context, email string) (*domain.User, error) {
	u, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CheckPassword verifies the password against the stored hash, bumping
// the failure counter and computing a new lock expiry on mismatch. It is
// the one place the exponential lockout curve is computed so it can't
// drift between callers.
//
// The lock decision is made from the count IncrementFailedAttempts
// returns after its atomic increment, never from the caller's
// pre-increment snapshot of u: Postgres row-level locking serializes
// concurrent increments for the same user, so each concurrent attempt
// observes its own distinct post-increment count. Deciding from the
// stale snapshot instead would let two attempts that both read count=3
// both compute count+1=4 and skip the lock while the counter itself
// reaches 5.
func (s *Store) CheckPassword(ctx context.Context, u *domain.User, password string, now time.Time) (Verdict, error) {
	if u.IsLocked(now) {
		return VerdictLocked, nil
	}
	if !u.HasPassword() {
		return VerdictNoPassword, nil
	}

	if err := s.hasher.Compare(u.PasswordHash, password); err != nil {
		count, ierr := s.users.IncrementFailedAttempts(ctx, u.ID)
		if ierr != nil {
			return VerdictWrongPassword, fmt.Errorf("increment failed attempts: %w", ierr)
		}
		if lockUntil := s.lockExpiryAfter(count, now); lockUntil != nil {
			if serr := s.users.SetLockedUntil(ctx, u.ID, *lockUntil); serr != nil {
				return VerdictWrongPassword, fmt.Errorf("set lockout: %w", serr)
			}
		}
		return VerdictWrongPassword, nil
	}

	return VerdictOK, nil
}

// lockExpiryAfter returns nil until the failure count reaches threshold,
// then grows the lock window exponentially: delay = base * 2^min(count-threshold, 10),
// capped at maxDelay. At exactly threshold failures the delay is one base
// unit (spec seed scenario: the 5th consecutive failure locks the account).
func (s *Store) lockExpiryAfter(count int, now time.Time) *time.Time {
	if count < s.lockoutThreshold {
		return nil
	}
	exponent := count - s.lockoutThreshold
	if exponent > 10 {
		exponent = 10
	}
	delay := s.lockoutBaseDelay * time.Duration(math.Pow(2, float64(exponent)))
	if delay > s.lockoutMaxDelay {
		delay = s.lockoutMaxDelay
	}
	until := now.Add(delay)
	return &until
}

func (s *Store) ResetLockout(ctx context.Context, u *domain.User, at time.Time, riskScore float64) error {
	return s.users.RecordLoginSuccess(ctx, u.ID, at, u.LastLoginIP, riskScore)
}

// HashPassword exposes the store's configured hasher to callers that set a
// password outside the login path (registration, reset confirmation) so
// the bcrypt cost stays in one place.
func (s *Store) HashPassword(password string) (string, error) {
	return s.hasher.Hash(password)
}
