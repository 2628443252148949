package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardline/authcore/internal/domain"
)

// EventRepo persists the append-only event log. Records are written before
// any side effect fires (webhook dispatch, websocket push), so the log is
// never missing an event that a subscriber actually saw.
type EventRepo struct {
	pool *pgxpool.Pool
}

func NewEventRepo(pool *pgxpool.Pool) *EventRepo { return &EventRepo{pool: pool} }

func (r *EventRepo) Create(ctx context.Context, e *domain.EventRecord) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO event_records (id, type, ts, subject_user_id, correlation_id, payload, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.Type, e.Timestamp, e.SubjectUserID, e.CorrelationID, payload, metadata)
	if err != nil {
		return fmt.Errorf("insert event record: %w", err)
	}
	return nil
}

const eventSelectCols = `
	SELECT id, type, ts, subject_user_id, correlation_id, payload, metadata
	FROM event_records`

func scanEvent(row pgx.Row) (*domain.EventRecord, error) {
	var e domain.EventRecord
	var payload, metadata []byte
	err := row.Scan(&e.ID, &e.Type, &e.Timestamp, &e.SubjectUserID, &e.CorrelationID, &payload, &metadata)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan event record: %w", err)
	}
	if err := json.Unmarshal(payload, &e.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal event payload: %w", err)
	}
	if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal event metadata: %w", err)
	}
	return &e, nil
}

func (r *EventRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.EventRecord, error) {
	return scanEvent(r.pool.QueryRow(ctx, eventSelectCols+" WHERE id = $1", id))
}
