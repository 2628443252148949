package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditRecord is one append-only security log entry (C9). Redaction of
// sensitive fields happens before a record is constructed; by the time it
// reaches storage it is safe to persist and display.
type AuditRecord struct {
	ID            uuid.UUID
	Timestamp     time.Time
	CorrelationID string
	EventType     string
	Actor         string // "user:<uuid>", "system", or "anonymous"
	Resource      string
	Outcome       string // "success" or "failure"
	Reason        string
	BodyHash      string
	RiskScore     *float64
	RiskLevel     string
	DeviceHash    string
	Metadata      map[string]any
}
