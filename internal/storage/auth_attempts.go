package storage

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardline/authcore/internal/domain"
)

// AuthAttemptRepo is an append-only log of credential evaluations, used by
// the risk engine's behavioral/temporal factors and by security review.
type AuthAttemptRepo struct {
	pool *pgxpool.Pool
}

func NewAuthAttemptRepo(pool *pgxpool.Pool) *AuthAttemptRepo { return &AuthAttemptRepo{pool: pool} }

func (r *AuthAttemptRepo) Record(ctx context.Context, a *domain.AuthAttempt) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO auth_attempts (id, ts, user_id, email, ip, user_agent,
			device_fingerprint, success, failure_reason, risk_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.Timestamp, a.UserID, a.Email, ipOrNil(a.IP), a.UserAgent,
		a.DeviceFingerprint, a.Success, nullString(a.FailureReason), a.RiskScore)
	if err != nil {
		return fmt.Errorf("record auth attempt: %w", err)
	}
	return nil
}

// UpdateOutcome finalizes a provisional attempt row written at the start
// of an authentication flow (step 2 of the orchestrator's algorithm) with
// the actual outcome, so a crash between the provisional write and the
// final result still leaves a durable, if momentarily inaccurate, record.
func (r *AuthAttemptRepo) UpdateOutcome(ctx context.Context, id uuid.UUID, success bool, failureReason string, riskScore float64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE auth_attempts SET success = $2, failure_reason = $3, risk_score = $4
		WHERE id = $1
	`, id, success, nullString(failureReason), riskScore)
	if err != nil {
		return fmt.Errorf("update attempt outcome: %w", err)
	}
	return nil
}

const attemptSelectCols = `
	SELECT id, ts, user_id, email, ip, user_agent, device_fingerprint,
		success, COALESCE(failure_reason, ''), risk_score
	FROM auth_attempts`

// RecentByEmail returns attempts for email within the lookback window,
// most recent first, bounded by limit. Feeds the risk engine's behavioral
// factor (recent-failure density) and temporal factor (attempt velocity).
func (r *AuthAttemptRepo) RecentByEmail(ctx context.Context, email string, since time.Time, limit int) ([]domain.AuthAttempt, error) {
	rows, err := r.pool.Query(ctx, attemptSelectCols+`
		WHERE email = $1 AND ts >= $2 ORDER BY ts DESC LIMIT $3
	`, email, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent attempts by email: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// RecentByIP mirrors RecentByEmail but keyed by source IP. The login risk
// factors do not read it; their network factor is left at zero.
func (r *AuthAttemptRepo) RecentByIP(ctx context.Context, ip string, since time.Time, limit int) ([]domain.AuthAttempt, error) {
	rows, err := r.pool.Query(ctx, attemptSelectCols+`
		WHERE ip = $1 AND ts >= $2 ORDER BY ts DESC LIMIT $3
	`, ip, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent attempts by ip: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func scanAttempts(rows pgx.Rows) ([]domain.AuthAttempt, error) {
	var out []domain.AuthAttempt
	for rows.Next() {
		var a domain.AuthAttempt
		var ip *net.IP
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.UserID, &a.Email, &ip, &a.UserAgent,
			&a.DeviceFingerprint, &a.Success, &a.FailureReason, &a.RiskScore); err != nil {
			return nil, fmt.Errorf("scan auth attempt: %w", err)
		}
		if ip != nil {
			a.IP = *ip
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate auth attempts: %w", err)
	}
	return out, nil
}
