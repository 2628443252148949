package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wardline/authcore/internal/domain"
)

func TestFastSessionStore_PutGetRoundTrip(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewFastSessionStore(client)
	ctx := context.Background()

	fs := &domain.FastSession{
		SessionID:    uuid.New(),
		UserID:       uuid.New(),
		ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second).UTC(),
		RiskScore:    12.5,
		Active:       true,
		LastActivity: time.Now().Truncate(time.Second).UTC(),
	}

	require.NoError(t, store.Put(ctx, "fp-1", fs, time.Hour))

	got, err := store.Get(ctx, "fp-1")
	require.NoError(t, err)
	require.Equal(t, fs.SessionID, got.SessionID)
	require.Equal(t, fs.UserID, got.UserID)
	require.True(t, got.Active)
	require.Equal(t, fs.RiskScore, got.RiskScore)
}

func TestFastSessionStore_GetMiss(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewFastSessionStore(client)

	_, err := store.Get(context.Background(), "never-put")
	require.ErrorIs(t, err, ErrMiss)
}

func TestFastSessionStore_TouchActivity(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewFastSessionStore(client)
	ctx := context.Background()

	original := time.Now().Add(-time.Hour).Truncate(time.Second).UTC()
	fs := &domain.FastSession{SessionID: uuid.New(), UserID: uuid.New(), Active: true, LastActivity: original}
	require.NoError(t, store.Put(ctx, "fp-2", fs, time.Hour))

	newTime := time.Now().Truncate(time.Second).UTC()
	require.NoError(t, store.TouchActivity(ctx, "fp-2", newTime, time.Hour))

	got, err := store.Get(ctx, "fp-2")
	require.NoError(t, err)
	require.Equal(t, newTime, got.LastActivity)
}

func TestFastSessionStore_Invalidate(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewFastSessionStore(client)
	ctx := context.Background()

	fs := &domain.FastSession{SessionID: uuid.New(), UserID: uuid.New(), Active: true}
	require.NoError(t, store.Put(ctx, "fp-3", fs, time.Hour))
	require.NoError(t, store.Invalidate(ctx, "fp-3"))

	_, err := store.Get(ctx, "fp-3")
	require.ErrorIs(t, err, ErrMiss)
}

func TestFastSessionStore_InvalidateBySessionID_MismatchIsNoop(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewFastSessionStore(client)
	ctx := context.Background()

	sessionID := uuid.New()
	fs := &domain.FastSession{SessionID: sessionID, UserID: uuid.New(), Active: true}
	require.NoError(t, store.Put(ctx, "fp-4", fs, time.Hour))

	require.NoError(t, store.InvalidateBySessionID(ctx, "fp-4", uuid.New()))

	got, err := store.Get(ctx, "fp-4")
	require.NoError(t, err)
	require.Equal(t, sessionID, got.SessionID)
}

func TestFastSessionStore_InvalidateAllForUser(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewFastSessionStore(client)
	ctx := context.Background()

	userID := uuid.New()
	otherUserID := uuid.New()

	require.NoError(t, store.Put(ctx, "fp-user-1", &domain.FastSession{SessionID: uuid.New(), UserID: userID, Active: true}, time.Hour))
	require.NoError(t, store.Put(ctx, "fp-user-2", &domain.FastSession{SessionID: uuid.New(), UserID: userID, Active: true}, time.Hour))
	require.NoError(t, store.Put(ctx, "fp-other", &domain.FastSession{SessionID: uuid.New(), UserID: otherUserID, Active: true}, time.Hour))

	require.NoError(t, store.InvalidateAllForUser(ctx, userID))

	_, err := store.Get(ctx, "fp-user-1")
	require.ErrorIs(t, err, ErrMiss)
	_, err = store.Get(ctx, "fp-user-2")
	require.ErrorIs(t, err, ErrMiss)

	got, err := store.Get(ctx, "fp-other")
	require.NoError(t, err)
	require.Equal(t, otherUserID, got.UserID)
}

func TestFastSessionStore_InvalidateAllForUser_NoEntriesIsNoop(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewFastSessionStore(client)

	require.NoError(t, store.InvalidateAllForUser(context.Background(), uuid.New()))
}

func TestFastSessionStore_InvalidateBySessionID_Match(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewFastSessionStore(client)
	ctx := context.Background()

	sessionID := uuid.New()
	fs := &domain.FastSession{SessionID: sessionID, UserID: uuid.New(), Active: true}
	require.NoError(t, store.Put(ctx, "fp-5", fs, time.Hour))

	require.NoError(t, store.InvalidateBySessionID(ctx, "fp-5", sessionID))

	_, err := store.Get(ctx, "fp-5")
	require.ErrorIs(t, err, ErrMiss)
}
