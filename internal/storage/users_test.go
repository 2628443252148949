package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wardline/authcore/internal/domain"
)

func newTestUser(email string) *domain.User {
	now := time.Now().UTC()
	return &domain.User{
		ID:        uuid.New(),
		Email:     email,
		Roles:     []string{"member"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestUserRepo_CreateAndGetByEmail(t *testing.T) {
	pool := newTestPool(t)
	repo := NewUserRepo(pool)
	ctx := context.Background()

	u := newTestUser("alice-" + uuid.NewString() + "@example.com")
	require.NoError(t, repo.Create(ctx, u))

	got, err := repo.GetByEmail(ctx, u.Email)
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Equal(t, u.Email, got.Email)
}

func TestUserRepo_GetByIDNotFoundReturnsErrNotFound(t *testing.T) {
	pool := newTestPool(t)
	repo := NewUserRepo(pool)

	_, err := repo.GetByID(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepo_IncrementFailedAttemptsIsAtomicAndCumulative(t *testing.T) {
	pool := newTestPool(t)
	repo := NewUserRepo(pool)
	ctx := context.Background()

	u := newTestUser("bob-" + uuid.NewString() + "@example.com")
	require.NoError(t, repo.Create(ctx, u))

	count1, err := repo.IncrementFailedAttempts(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count1)

	count2, err := repo.IncrementFailedAttempts(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 2, count2)
}

func TestUserRepo_SetLockedUntilPersists(t *testing.T) {
	pool := newTestPool(t)
	repo := NewUserRepo(pool)
	ctx := context.Background()

	u := newTestUser("carol-" + uuid.NewString() + "@example.com")
	require.NoError(t, repo.Create(ctx, u))

	until := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.SetLockedUntil(ctx, u.ID, until))

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LockedUntil)
	require.WithinDuration(t, until, *got.LockedUntil, time.Second)
}

func TestUserRepo_RecordLoginSuccessResetsLockoutState(t *testing.T) {
	pool := newTestPool(t)
	repo := NewUserRepo(pool)
	ctx := context.Background()

	u := newTestUser("dave-" + uuid.NewString() + "@example.com")
	require.NoError(t, repo.Create(ctx, u))
	_, err := repo.IncrementFailedAttempts(ctx, u.ID)
	require.NoError(t, err)
	require.NoError(t, repo.SetLockedUntil(ctx, u.ID, time.Now().Add(time.Hour)))

	require.NoError(t, repo.RecordLoginSuccess(ctx, u.ID, time.Now().UTC(), nil, 12.5))

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.FailedLoginAttempts)
	require.Nil(t, got.LockedUntil)
	require.Equal(t, 12.5, got.RiskScore)
}

func TestUserRepo_UpdateProfilePersistsMFAAndBackupCodes(t *testing.T) {
	pool := newTestPool(t)
	repo := NewUserRepo(pool)
	ctx := context.Background()

	u := newTestUser("erin-" + uuid.NewString() + "@example.com")
	require.NoError(t, repo.Create(ctx, u))

	u.MFAEnabled = true
	u.TOTPSecret = "JBSWY3DPEHPK3PXP"
	u.BackupCodeHashes = []string{"hash1", "hash2"}
	require.NoError(t, repo.UpdateProfile(ctx, u))

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, got.MFAEnabled)
	require.Equal(t, "JBSWY3DPEHPK3PXP", got.TOTPSecret)
	require.ElementsMatch(t, []string{"hash1", "hash2"}, got.BackupCodeHashes)
}

func TestUserRepo_UpdateProfileNotFoundReturnsErrNotFound(t *testing.T) {
	pool := newTestPool(t)
	repo := NewUserRepo(pool)

	ghost := newTestUser("ghost@example.com")
	err := repo.UpdateProfile(context.Background(), ghost)
	require.ErrorIs(t, err, ErrNotFound)
}
