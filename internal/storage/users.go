package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardline/authcore/internal/domain"
)

// ErrNotFound is returned by repository lookups that find no row.
var ErrNotFound = errors.New("storage: not found")

// UserRepo is the authoritative CRUD surface for domain.User.
type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo { return &UserRepo{pool: pool} }

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, email, email_verified_at, password_hash, mfa_enabled,
			totp_secret, backup_code_hashes, failed_login_attempts, locked_until,
			last_login_at, last_login_ip, risk_score, roles, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		u.ID, u.Email, u.EmailVerifiedAt, nullString(u.PasswordHash), u.MFAEnabled,
		nullString(u.TOTPSecret), u.BackupCodeHashes, u.FailedLoginAttempts, u.LockedUntil,
		u.LastLoginAt, ipOrNil(u.LastLoginIP), u.RiskScore, u.Roles, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, userSelectCols+" WHERE id = $1", id)
	return scanUser(row)
}

// GetByEmail looks up a user by case-folded email. Callers must fold the
// email before calling (see creds.NormalizeEmail), so storage stays naive.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, userSelectCols+" WHERE email = $1", email)
	return scanUser(row)
}

const userSelectCols = `
	SELECT id, email, email_verified_at, COALESCE(password_hash, ''), mfa_enabled,
		COALESCE(totp_secret, ''), backup_code_hashes, failed_login_attempts, locked_until,
		last_login_at, last_login_ip, risk_score, roles, created_at, updated_at
	FROM users`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	var lastIP *net.IP
	var backupCodes []string
	var roles []string

	err := row.Scan(
		&u.ID, &u.Email, &u.EmailVerifiedAt, &u.PasswordHash, &u.MFAEnabled,
		&u.TOTPSecret, &backupCodes, &u.FailedLoginAttempts, &u.LockedUntil,
		&u.LastLoginAt, &lastIP, &u.RiskScore, &roles, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.BackupCodeHashes = backupCodes
	u.Roles = roles
	if lastIP != nil {
		u.LastLoginIP = *lastIP
	}
	return &u, nil
}

// UpdateProfile persists the mutable identity fields (email verification,
// password, MFA secret/state, backup codes). It does not touch the lockout
// counters or last-login bookkeeping; use the dedicated methods for those
// so concurrent writers don't clobber each other's half of the row.
func (r *UserRepo) UpdateProfile(ctx context.Context, u *domain.User) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET email = $2, email_verified_at = $3, password_hash = $4,
			mfa_enabled = $5, totp_secret = $6, backup_code_hashes = $7, roles = $8,
			updated_at = now()
		WHERE id = $1
	`, u.ID, u.Email, u.EmailVerifiedAt, nullString(u.PasswordHash), u.MFAEnabled,
		nullString(u.TOTPSecret), u.BackupCodeHashes, u.Roles)
	if err != nil {
		return fmt.Errorf("update user profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordLoginSuccess resets the lockout counter and stamps last-login
// bookkeeping in one statement, matching the teacher's atomic reset-on-success
// pattern from user_service.go.
func (r *UserRepo) RecordLoginSuccess(ctx context.Context, id uuid.UUID, at time.Time, ip net.IP, riskScore float64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET failed_login_attempts = 0, locked_until = NULL,
			last_login_at = $2, last_login_ip = $3, risk_score = $4, updated_at = now()
		WHERE id = $1
	`, id, at, ipOrNil(ip), riskScore)
	if err != nil {
		return fmt.Errorf("record login success: %w", err)
	}
	return nil
}

// IncrementFailedAttempts atomically bumps the failure counter and returns
// the count after the increment. Row-level locking in Postgres serializes
// concurrent increments for the same user, so the count this call returns
// is the authoritative post-increment value for the caller's own attempt:
// internal/creds computes the lockout decision from it, never from a
// pre-increment snapshot, so two concurrent wrong-password attempts can't
// both observe a count below threshold and skip locking.
func (r *UserRepo) IncrementFailedAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		UPDATE users SET failed_login_attempts = failed_login_attempts + 1, updated_at = now()
		WHERE id = $1
		RETURNING failed_login_attempts
	`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment failed attempts: %w", err)
	}
	return count, nil
}

// SetLockedUntil persists the lock expiry computed from an
// IncrementFailedAttempts count that has already reached threshold.
func (r *UserRepo) SetLockedUntil(ctx context.Context, id uuid.UUID, until time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET locked_until = $2, updated_at = now() WHERE id = $1`, id, until)
	if err != nil {
		return fmt.Errorf("set locked_until: %w", err)
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func ipOrNil(ip net.IP) *net.IP {
	if ip == nil {
		return nil
	}
	return &ip
}
