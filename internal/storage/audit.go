package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardline/authcore/internal/domain"
)

// AuditRepo is the durable, out-of-process forwarding target for the
// audit log (C9). It is append-only: there is no Update or Delete here.
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo { return &AuditRepo{pool: pool} }

func (r *AuditRepo) Create(ctx context.Context, a *domain.AuditRecord) error {
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_log (id, ts, correlation_id, event_type, actor, resource,
			outcome, reason, body_hash, risk_score, risk_level, device_hash, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, a.ID, a.Timestamp, a.CorrelationID, a.EventType, a.Actor, a.Resource,
		a.Outcome, nullString(a.Reason), nullString(a.BodyHash), a.RiskScore,
		nullString(a.RiskLevel), nullString(a.DeviceHash), metadata)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}
