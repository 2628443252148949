package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOAuthStateStore_PutConsumeRoundTrip(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewOAuthStateStore(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "state-1", "google", "nonce-1"))

	provider, nonce, err := store.Consume(ctx, "state-1")
	require.NoError(t, err)
	require.Equal(t, "google", provider)
	require.Equal(t, "nonce-1", nonce)
}

func TestOAuthStateStore_ConsumeIsOneTime(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewOAuthStateStore(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "state-2", "google", "nonce-2"))
	_, _, err := store.Consume(ctx, "state-2")
	require.NoError(t, err)

	_, _, err = store.Consume(ctx, "state-2")
	require.ErrorIs(t, err, ErrStateMiss)
}

func TestOAuthStateStore_ConsumeUnknownState(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewOAuthStateStore(client, time.Minute)

	_, _, err := store.Consume(context.Background(), "never-issued")
	require.ErrorIs(t, err, ErrStateMiss)
}

func TestOAuthStateStore_ExpiresByTTL(t *testing.T) {
	client, mr := newTestRedis(t)
	store := NewOAuthStateStore(client, time.Second)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "state-3", "google", "nonce-3"))
	mr.FastForward(2 * time.Second)

	_, _, err := store.Consume(ctx, "state-3")
	require.ErrorIs(t, err, ErrStateMiss)
}
