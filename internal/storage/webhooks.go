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

// WebhookRepo is the subscriber registry for the event bus.
type WebhookRepo struct {
	pool *pgxpool.Pool
}

func NewWebhookRepo(pool *pgxpool.Pool) *WebhookRepo { return &WebhookRepo{pool: pool} }

func (r *WebhookRepo) Create(ctx context.Context, w *domain.Webhook) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO webhooks (id, owner_user_id, target_url, secret, event_patterns,
			active, consecutive_failures, auto_disable_threshold,
			retry_initial_delay_ms, retry_multiplier, retry_max_delay_ms, retry_max_attempts,
			timeout_ms, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, w.ID, w.OwnerUserID, w.TargetURL, w.Secret, w.EventPatterns, w.Active,
		w.ConsecutiveFailures, w.AutoDisableThreshold,
		w.Retry.InitialDelay.Milliseconds(), w.Retry.Multiplier, w.Retry.MaxDelay.Milliseconds(),
		w.Retry.MaxAttempts, w.Timeout.Milliseconds(), w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

const webhookSelectCols = `
	SELECT id, owner_user_id, target_url, secret, event_patterns, active,
		consecutive_failures, auto_disable_threshold, retry_initial_delay_ms,
		retry_multiplier, retry_max_delay_ms, retry_max_attempts, timeout_ms,
		created_at, updated_at
	FROM webhooks`

func scanWebhook(row pgx.Row) (*domain.Webhook, error) {
	var w domain.Webhook
	var initialMS, maxMS, timeoutMS int64
	err := row.Scan(&w.ID, &w.OwnerUserID, &w.TargetURL, &w.Secret, &w.EventPatterns, &w.Active,
		&w.ConsecutiveFailures, &w.AutoDisableThreshold, &initialMS,
		&w.Retry.Multiplier, &maxMS, &w.Retry.MaxAttempts, &timeoutMS,
		&w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan webhook: %w", err)
	}
	w.Retry.InitialDelay = time.Duration(initialMS) * time.Millisecond
	w.Retry.MaxDelay = time.Duration(maxMS) * time.Millisecond
	w.Timeout = time.Duration(timeoutMS) * time.Millisecond
	return &w, nil
}

func (r *WebhookRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Webhook, error) {
	return scanWebhook(r.pool.QueryRow(ctx, webhookSelectCols+" WHERE id = $1", id))
}

func (r *WebhookRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Webhook, error) {
	rows, err := r.pool.Query(ctx, webhookSelectCols+" WHERE owner_user_id = $1 ORDER BY created_at", ownerID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()
	var out []domain.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// ListActive returns every active webhook, used by the dispatcher fan-out.
// Filtering by event type against each webhook's patterns
// happens in Go via Webhook.Matches; this query only narrows by active flag
// to keep the SQL simple and index-friendly.
func (r *WebhookRepo) ListActive(ctx context.Context) ([]domain.Webhook, error) {
	rows, err := r.pool.Query(ctx, webhookSelectCols+" WHERE active")
	if err != nil {
		return nil, fmt.Errorf("list active webhooks: %w", err)
	}
	defer rows.Close()
	var out []domain.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (r *WebhookRepo) Update(ctx context.Context, w *domain.Webhook) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhooks SET target_url = $2, secret = $3, event_patterns = $4,
			active = $5, updated_at = now()
		WHERE id = $1
	`, w.ID, w.TargetURL, w.Secret, w.EventPatterns, w.Active)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordDeliveryOutcome adjusts the consecutive-failure streak and, once it
// crosses AutoDisableThreshold, flips active to false. Returns the new
// streak and whether this call is what tripped auto-disable.
func (r *WebhookRepo) RecordDeliveryOutcome(ctx context.Context, id uuid.UUID, success bool) (streak int, justDisabled bool, err error) {
	if success {
		if err := r.pool.QueryRow(ctx, `
			UPDATE webhooks SET consecutive_failures = 0, updated_at = now()
			WHERE id = $1 RETURNING consecutive_failures
		`, id).Scan(&streak); err != nil {
			return 0, false, fmt.Errorf("reset webhook failure streak: %w", err)
		}
		return streak, false, nil
	}

	var threshold int
	err = r.pool.QueryRow(ctx, `
		UPDATE webhooks SET consecutive_failures = consecutive_failures + 1,
			active = (consecutive_failures + 1) < auto_disable_threshold,
			updated_at = now()
		WHERE id = $1
		RETURNING consecutive_failures, auto_disable_threshold
	`, id).Scan(&streak, &threshold)
	if err != nil {
		return 0, false, fmt.Errorf("record webhook failure: %w", err)
	}
	return streak, streak == threshold, nil
}

func (r *WebhookRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}
