package middleware

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions with
// keys set by other packages.
type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	SessionIDKey contextKey = "session_id"
)

// GetUserID safely extracts the authenticated user ID from context.
func GetUserID(ctx context.Context) (uuid.UUID, error) {
	val := ctx.Value(UserIDKey)
	if val == nil {
		return uuid.Nil, fmt.Errorf("user_id not found in context")
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil, fmt.Errorf("user_id has wrong type: %T", val)
	}
	return id, nil
}

// GetSessionID safely extracts the authenticated session ID from context.
func GetSessionID(ctx context.Context) (uuid.UUID, error) {
	val := ctx.Value(SessionIDKey)
	if val == nil {
		return uuid.Nil, fmt.Errorf("session_id not found in context")
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil, fmt.Errorf("session_id has wrong type: %T", val)
	}
	return id, nil
}
