package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wardline/authcore/internal/domain"
)

func TestWebAuthnCredRepo_CreateAndListByUser(t *testing.T) {
	pool := newTestPool(t)
	users := NewUserRepo(pool)
	creds := NewWebAuthnCredRepo(pool)
	ctx := context.Background()

	u := newTestUser("webauthn-" + uuid.NewString() + "@example.com")
	require.NoError(t, users.Create(ctx, u))

	cred := &domain.WebAuthnCredential{
		ID:        uuid.NewString() + ":raw-credential-id",
		PublicKey: []byte{0x01, 0x02, 0x03},
		SignCount: 0,
		Nickname:  "yubikey",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, creds.Create(ctx, u.ID, cred))

	list, err := creds.ListByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, cred.ID, list[0].ID)
	require.Equal(t, cred.Nickname, list[0].Nickname)
	require.Equal(t, uint32(0), list[0].SignCount)
}

func TestWebAuthnCredRepo_UpdateSignCount(t *testing.T) {
	pool := newTestPool(t)
	users := NewUserRepo(pool)
	creds := NewWebAuthnCredRepo(pool)
	ctx := context.Background()

	u := newTestUser("webauthn2-" + uuid.NewString() + "@example.com")
	require.NoError(t, users.Create(ctx, u))

	cred := &domain.WebAuthnCredential{
		ID:        uuid.NewString() + ":raw-credential-id",
		PublicKey: []byte{0xaa},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, creds.Create(ctx, u.ID, cred))
	require.NoError(t, creds.UpdateSignCount(ctx, cred.ID, 7))

	list, err := creds.ListByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, uint32(7), list[0].SignCount)
}

func TestWebAuthnCredRepo_UpdateSignCountNotFoundReturnsErrNotFound(t *testing.T) {
	pool := newTestPool(t)
	creds := NewWebAuthnCredRepo(pool)

	err := creds.UpdateSignCount(context.Background(), "nonexistent-id", 1)
	require.ErrorIs(t, err, ErrNotFound)
}
