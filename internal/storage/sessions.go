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

// SessionRepo is the authoritative (slow-path) tier of the dual-tier
// session store. The fast path lives in internal/cache.
type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo { return &SessionRepo{pool: pool} }

func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, access_token_fp, refresh_token_fp, expires_at,
			refresh_expires_at, last_activity, created_at, ip, device_fingerprint,
			user_agent, risk_score_at_issuance, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, s.ID, s.UserID, s.AccessTokenFP, s.RefreshTokenFP, s.ExpiresAt, s.RefreshExpiresAt,
		s.LastActivity, s.CreatedAt, ipOrNil(s.IP), s.DeviceFingerprint, s.UserAgent,
		s.RiskScoreAtIssuance, s.Active)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const sessionSelectCols = `
	SELECT id, user_id, access_token_fp, refresh_token_fp, expires_at, refresh_expires_at,
		last_activity, created_at, ip, device_fingerprint, user_agent,
		risk_score_at_issuance, active
	FROM sessions`

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	var ip *net.IP
	err := row.Scan(
		&s.ID, &s.UserID, &s.AccessTokenFP, &s.RefreshTokenFP, &s.ExpiresAt, &s.RefreshExpiresAt,
		&s.LastActivity, &s.CreatedAt, &ip, &s.DeviceFingerprint, &s.UserAgent,
		&s.RiskScoreAtIssuance, &s.Active,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if ip != nil {
		s.IP = *ip
	}
	return &s, nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return scanSession(r.pool.QueryRow(ctx, sessionSelectCols+" WHERE id = $1", id))
}

func (r *SessionRepo) GetByAccessFP(ctx context.Context, fp string) (*domain.Session, error) {
	return scanSession(r.pool.QueryRow(ctx, sessionSelectCols+" WHERE access_token_fp = $1 AND active", fp))
}

func (r *SessionRepo) GetByRefreshFP(ctx context.Context, fp string) (*domain.Session, error) {
	return scanSession(r.pool.QueryRow(ctx, sessionSelectCols+" WHERE refresh_token_fp = $1 AND active", fp))
}

// Rotate atomically swaps the token fingerprints and extends expiry on
// refresh, failing if the presented refresh fingerprint is stale -- this
// is what makes a refresh token single-use, mirroring the teacher's
// RotateRefreshToken compare-and-swap in session_service.go.
func (r *SessionRepo) Rotate(ctx context.Context, id uuid.UUID, oldRefreshFP, newAccessFP, newRefreshFP string, expiresAt, refreshExpiresAt time.Time, riskScore float64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions SET access_token_fp = $3, refresh_token_fp = $4,
			expires_at = $5, refresh_expires_at = $6, last_activity = now(),
			risk_score_at_issuance = $7
		WHERE id = $1 AND refresh_token_fp = $2 AND active
	`, id, oldRefreshFP, newAccessFP, newRefreshFP, expiresAt, refreshExpiresAt, riskScore)
	if err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SessionRepo) TouchActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET last_activity = $2 WHERE id = $1 AND active`, id, at)
	if err != nil {
		return fmt.Errorf("touch session activity: %w", err)
	}
	return nil
}

func (r *SessionRepo) Terminate(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("terminate session: %w", err)
	}
	return nil
}

func (r *SessionRepo) TerminateAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET active = FALSE WHERE user_id = $1 AND active`, userID)
	if err != nil {
		return fmt.Errorf("terminate user sessions: %w", err)
	}
	return nil
}

// DeleteExpired purges sessions whose refresh window closed before cutoff,
// run periodically from cmd/worker.
func (r *SessionRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE refresh_expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
