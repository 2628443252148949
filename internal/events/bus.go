// Package events implements the event bus and webhook delivery pipeline
// (C8): append-only persistence before any side effect, HMAC-signed
// webhook fan-out with bounded concurrency and exponential backoff, a
// dead-letter view for exhausted deliveries, and a real-time push channel.
// The websocket hub is grounded on the teacher-adjacent
// nerrad567/gray-logic-stack Hub (internal/api/websocket.go): snapshot the
// client list under the hub lock, release it, then send per-client
// without holding two locks at once.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wardline/authcore/internal/domain"
	"github.com/wardline/authcore/internal/storage"
)

// Publish records eventType with payload as an EventRecord before
// triggering any side effect, then fans it out to the websocket hub and
// hands it to the dispatcher for webhook delivery. Persistence failure
// aborts the publish -- the spec's ordering guarantee (log before POST)
// would be meaningless if the log write were allowed to fail silently.
type Bus struct {
	events     *storage.EventRepo
	dispatcher *Dispatcher
	hub        *Hub
	logger     *slog.Logger
}

func NewBus(events *storage.EventRepo, dispatcher *Dispatcher, hub *Hub, logger *slog.Logger) *Bus {
	return &Bus{events: events, dispatcher: dispatcher, hub: hub, logger: logger}
}

func (b *Bus) Publish(ctx context.Context, eventType string, subjectUserID *uuid.UUID, correlationID string, payload map[string]any) error {
	record := &domain.EventRecord{
		ID:            uuid.New(),
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		SubjectUserID: subjectUserID,
		CorrelationID: correlationID,
		Payload:       payload,
		Metadata:      map[string]any{},
	}

	if err := b.events.Create(ctx, record); err != nil {
		return fmt.Errorf("persist event record: %w", err)
	}

	if b.hub != nil {
		b.hub.Broadcast(record)
	}
	if b.dispatcher != nil {
		b.dispatcher.Enqueue(ctx, record)
	}

	return nil
}
