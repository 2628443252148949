package creds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wardline/authcore/internal/auth"
)

func TestNormalizeEmail_LowercasesAndTrims(t *testing.T) {
	require.Equal(t, "user@example.com", NormalizeEmail("  User@Example.COM  "))
}

func newLockoutStore() *Store {
	return New(nil, nil, 5, time.Minute, time.Hour)
}

func TestLockExpiryAfter_NoLockBelowThreshold(t *testing.T) {
	s := newLockoutStore()
	now := time.Now()
	require.Nil(t, s.lockExpiryAfter(1, now))
	require.Nil(t, s.lockExpiryAfter(4, now))
}

func TestLockExpiryAfter_LocksAtThresholdForOneBaseDelay(t *testing.T) {
	s := newLockoutStore()
	now := time.Now()
	until := s.lockExpiryAfter(5, now)
	require.NotNil(t, until)
	require.Equal(t, now.Add(time.Minute), *until)
}

func TestLockExpiryAfter_GrowsExponentiallyPastThreshold(t *testing.T) {
	s := newLockoutStore()
	now := time.Now()

	at6 := s.lockExpiryAfter(6, now)
	at7 := s.lockExpiryAfter(7, now)
	require.Equal(t, now.Add(2*time.Minute), *at6)
	require.Equal(t, now.Add(4*time.Minute), *at7)
}

func TestLockExpiryAfter_CapsAtMaxDelay(t *testing.T) {
	s := newLockoutStore()
	now := time.Now()
	until := s.lockExpiryAfter(50, now)
	require.NotNil(t, until)
	require.Equal(t, now.Add(time.Hour), *until)
}

func TestLockExpiryAfter_ExponentClampedAtTenSteps(t *testing.T) {
	s := New(nil, nil, 5, time.Second, 365*24*time.Hour)
	now := time.Now()
	at15 := s.lockExpiryAfter(15, now) // exponent 10
	at25 := s.lockExpiryAfter(25, now) // exponent would be 20, clamped to 10
	require.Equal(t, *at15, *at25)
}

func TestHashPassword_RoundTripsThroughConfiguredHasher(t *testing.T) {
	s := New(nil, auth.NewBcryptHasher(), 5, time.Minute, time.Hour)
	hash, err := s.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	require.NoError(t, s.hasher.Compare(hash, "correct horse battery staple"))
	require.Error(t, s.hasher.Compare(hash, "wrong password"))
}
