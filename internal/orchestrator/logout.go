package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/wardline/authcore/internal/audit"
	"github.com/wardline/authcore/internal/domain"
	"github.com/wardline/authcore/internal/session"
)

// Logout terminates a session. It is idempotent: logging out a session
// that is already gone is not an error.
func (o *Orchestrator) Logout(ctx context.Context, sessionID uuid.UUID, accessFP, correlationID string) error {
	sess, err := o.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load session for logout: %w", err)
	}

	if err := o.sessions.Terminate(ctx, accessFP, sessionID); err != nil {
		return fmt.Errorf("terminate session: %w", err)
	}

	if o.bus != nil {
		_ = o.bus.Publish(ctx, domain.EventLogout, &sess.UserID, correlationID, map[string]any{
			"session_id": sess.ID.String(),
		})
	}
	if o.audit != nil {
		o.audit.Log(ctx, audit.Entry{
			CorrelationID: correlationID,
			EventType:     domain.EventLogout,
			Actor:         sess.UserID.String(),
			Resource:      sess.ID.String(),
			Outcome:       "success",
		})
	}
	return nil
}
