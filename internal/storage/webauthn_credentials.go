package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardline/authcore/internal/domain"
)

// WebAuthnCredRepo persists enrolled authenticators, backing the
// webauthn_credentials table the migration already creates alongside
// users. A user's credential list is loaded here rather than joined into
// UserRepo's select because only the WebAuthn ceremonies need it.
type WebAuthnCredRepo struct {
	pool *pgxpool.Pool
}

func NewWebAuthnCredRepo(pool *pgxpool.Pool) *WebAuthnCredRepo { return &WebAuthnCredRepo{pool: pool} }

func (r *WebAuthnCredRepo) Create(ctx context.Context, userID uuid.UUID, c *domain.WebAuthnCredential) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO webauthn_credentials (id, user_id, public_key, sign_count, nickname, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, userID, c.PublicKey, c.SignCount, nullString(c.Nickname), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert webauthn credential: %w", err)
	}
	return nil
}

func (r *WebAuthnCredRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.WebAuthnCredential, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, public_key, sign_count, COALESCE(nickname, ''), created_at
		FROM webauthn_credentials WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list webauthn credentials: %w", err)
	}
	defer rows.Close()

	var creds []domain.WebAuthnCredential
	for rows.Next() {
		var c domain.WebAuthnCredential
		if err := rows.Scan(&c.ID, &c.PublicKey, &c.SignCount, &c.Nickname, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webauthn credential: %w", err)
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webauthn credentials: %w", err)
	}
	return creds, nil
}

// UpdateSignCount bumps the stored signature counter after a successful
// assertion, the one piece of per-credential state that changes on login.
func (r *WebAuthnCredRepo) UpdateSignCount(ctx context.Context, credentialID string, signCount uint32) error {
	tag, err := r.pool.Exec(ctx, `UPDATE webauthn_credentials SET sign_count = $2 WHERE id = $1`, credentialID, signCount)
	if err != nil {
		return fmt.Errorf("update webauthn sign count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
