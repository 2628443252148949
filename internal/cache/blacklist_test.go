package cache

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestBlacklist_IsRevoked_Unset(t *testing.T) {
	client, _ := newTestRedis(t)
	bl := NewBlacklist(client, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.False(t, bl.IsRevoked("some-jti"))
}

func TestBlacklist_RevokeThenIsRevoked(t *testing.T) {
	client, _ := newTestRedis(t)
	bl := NewBlacklist(client, slog.New(slog.NewTextHandler(io.Discard, nil)))

	bl.Revoke("jti-1", time.Now().Add(time.Minute))
	require.True(t, bl.IsRevoked("jti-1"))
}

func TestBlacklist_RevokePastExpiryIsNoop(t *testing.T) {
	client, _ := newTestRedis(t)
	bl := NewBlacklist(client, slog.New(slog.NewTextHandler(io.Discard, nil)))

	bl.Revoke("jti-expired", time.Now().Add(-time.Minute))
	require.False(t, bl.IsRevoked("jti-expired"))
}

func TestBlacklist_SelfPrunesOnTTLExpiry(t *testing.T) {
	client, mr := newTestRedis(t)
	bl := NewBlacklist(client, slog.New(slog.NewTextHandler(io.Discard, nil)))

	bl.Revoke("jti-short", time.Now().Add(time.Second))
	require.True(t, bl.IsRevoked("jti-short"))

	mr.FastForward(2 * time.Second)
	require.False(t, bl.IsRevoked("jti-short"))
}

func TestBlacklist_IsRevoked_FailsOpenOnOutage(t *testing.T) {
	client, mr := newTestRedis(t)
	bl := NewBlacklist(client, slog.New(slog.NewTextHandler(io.Discard, nil)))

	mr.Close()
	require.False(t, bl.IsRevoked("jti-unreachable"))
}
