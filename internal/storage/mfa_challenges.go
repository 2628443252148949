package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardline/authcore/internal/domain"
)

// MFAChallengeRepo persists pending step-up verification state.
type MFAChallengeRepo struct {
	pool *pgxpool.Pool
}

func NewMFAChallengeRepo(pool *pgxpool.Pool) *MFAChallengeRepo { return &MFAChallengeRepo{pool: pool} }

func (r *MFAChallengeRepo) Create(ctx context.Context, c *domain.MFAChallenge) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO mfa_challenges (id, type, user_id, expires_at, attempts,
			max_attempts, payload_hash, webauthn_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, string(c.Type), c.UserID, c.ExpiresAt, c.Attempts, c.MaxAttempts,
		c.PayloadHash, c.WebAuthnData, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert mfa challenge: %w", err)
	}
	return nil
}

const mfaSelectCols = `
	SELECT id, type, user_id, expires_at, attempts, max_attempts, payload_hash,
		webauthn_data, created_at
	FROM mfa_challenges`

func scanChallenge(row pgx.Row) (*domain.MFAChallenge, error) {
	var c domain.MFAChallenge
	var typ string
	err := row.Scan(&c.ID, &typ, &c.UserID, &c.ExpiresAt, &c.Attempts, &c.MaxAttempts,
		&c.PayloadHash, &c.WebAuthnData, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan mfa challenge: %w", err)
	}
	c.Type = domain.MFAChallengeType(typ)
	return &c, nil
}

func (r *MFAChallengeRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.MFAChallenge, error) {
	return scanChallenge(r.pool.QueryRow(ctx, mfaSelectCols+" WHERE id = $1", id))
}

// IncrementAttempt atomically bumps the attempt counter and returns the new
// count, so the caller can compare against MaxAttempts without a separate
// read-modify-write race.
func (r *MFAChallengeRepo) IncrementAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		UPDATE mfa_challenges SET attempts = attempts + 1 WHERE id = $1
		RETURNING attempts
	`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment challenge attempt: %w", err)
	}
	return count, nil
}

func (r *MFAChallengeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM mfa_challenges WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete mfa challenge: %w", err)
	}
	return nil
}

func (r *MFAChallengeRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM mfa_challenges WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	return tag.RowsAffected(), nil
}
