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

// DeliveryRepo tracks per-(webhook, event) delivery attempts, including the
// ones still pending retry, which doubles as the dead-letter view once an
// attempt exhausts its retry budget without ever reaching DeliverySuccess.
type DeliveryRepo struct {
	pool *pgxpool.Pool
}

func NewDeliveryRepo(pool *pgxpool.Pool) *DeliveryRepo { return &DeliveryRepo{pool: pool} }

func (r *DeliveryRepo) Create(ctx context.Context, d *domain.DeliveryAttempt) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO delivery_attempts (id, webhook_id, event_id, status, http_status,
			response_snippet, attempt_number, scheduled_for, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, d.ID, d.WebhookID, d.EventID, string(d.Status), nullInt(d.HTTPStatus),
		nullString(d.ResponseSnippet), d.AttemptNumber, d.ScheduledFor, d.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert delivery attempt: %w", err)
	}
	return nil
}

func (r *DeliveryRepo) MarkComplete(ctx context.Context, id uuid.UUID, status domain.DeliveryStatus, httpStatus int, snippet string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE delivery_attempts SET status = $2, http_status = $3,
			response_snippet = $4, completed_at = $5
		WHERE id = $1
	`, id, string(status), nullInt(httpStatus), nullString(snippet), at)
	if err != nil {
		return fmt.Errorf("mark delivery complete: %w", err)
	}
	return nil
}

const deliverySelectCols = `
	SELECT id, webhook_id, event_id, status, COALESCE(http_status, 0),
		COALESCE(response_snippet, ''), attempt_number, scheduled_for, completed_at
	FROM delivery_attempts`

func scanDelivery(row pgx.Row) (*domain.DeliveryAttempt, error) {
	var d domain.DeliveryAttempt
	var status string
	err := row.Scan(&d.ID, &d.WebhookID, &d.EventID, &status, &d.HTTPStatus,
		&d.ResponseSnippet, &d.AttemptNumber, &d.ScheduledFor, &d.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan delivery attempt: %w", err)
	}
	d.Status = domain.DeliveryStatus(status)
	return &d, nil
}

// DuePending returns pending deliveries scheduled at or before now, the
// queue the webhook worker pool drains.
func (r *DeliveryRepo) DuePending(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryAttempt, error) {
	rows, err := r.pool.Query(ctx, deliverySelectCols+`
		WHERE status = 'pending' AND scheduled_for <= $1
		ORDER BY scheduled_for
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due deliveries: %w", err)
	}
	defer rows.Close()
	var out []domain.DeliveryAttempt
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ListByWebhook returns every delivery attempt recorded for a webhook, most
// recent first, for the subscriber-facing delivery history endpoint.
func (r *DeliveryRepo) ListByWebhook(ctx context.Context, webhookID uuid.UUID, limit int) ([]domain.DeliveryAttempt, error) {
	rows, err := r.pool.Query(ctx, deliverySelectCols+`
		WHERE webhook_id = $1
		ORDER BY scheduled_for DESC
		LIMIT $2
	`, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries for webhook: %w", err)
	}
	defer rows.Close()
	var out []domain.DeliveryAttempt
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// DeadLettered returns failed deliveries that exhausted their retry budget,
// retained for DLQRetention before the janitor purges them.
func (r *DeliveryRepo) DeadLettered(ctx context.Context, webhookID uuid.UUID) ([]domain.DeliveryAttempt, error) {
	rows, err := r.pool.Query(ctx, deliverySelectCols+`
		WHERE webhook_id = $1 AND status IN ('failed', 'timeout')
			AND NOT EXISTS (
				SELECT 1 FROM delivery_attempts later
				WHERE later.webhook_id = delivery_attempts.webhook_id
					AND later.event_id = delivery_attempts.event_id
					AND later.attempt_number > delivery_attempts.attempt_number)
		ORDER BY scheduled_for DESC
	`, webhookID)
	if err != nil {
		return nil, fmt.Errorf("query dead-lettered deliveries: %w", err)
	}
	defer rows.Close()
	var out []domain.DeliveryAttempt
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *DeliveryRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM delivery_attempts WHERE scheduled_for < $1 AND status != 'pending'`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old deliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullInt(i int) *int {
	if i == 0 {
		return nil
	}
	return &i
}
