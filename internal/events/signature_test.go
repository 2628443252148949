package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSign_IsDeterministicForSameInputs(t *testing.T) {
	body := []byte(`{"event":"authentication.login.success"}`)
	require.Equal(t, Sign("secret", 1000, body), Sign("secret", 1000, body))
}

func TestSign_ChangesWithSecretTimestampOrBody(t *testing.T) {
	body := []byte(`{"event":"authentication.login.success"}`)
	base := Sign("secret", 1000, body)

	require.NotEqual(t, base, Sign("other-secret", 1000, body))
	require.NotEqual(t, base, Sign("secret", 1001, body))
	require.NotEqual(t, base, Sign("secret", 1000, []byte(`{"event":"tampered"}`)))
}

func TestSign_HasVersionPrefix(t *testing.T) {
	sig := Sign("secret", 1000, []byte("body"))
	require.Contains(t, sig, "v1=")
}

func TestVerifySignature_AcceptsMatchingSignature(t *testing.T) {
	body := []byte(`{"event":"authentication.mfa.webauthn_enrolled"}`)
	sig := Sign("secret", 1700000000, body)
	require.True(t, VerifySignature("secret", 1700000000, body, sig))
}

func TestVerifySignature_RejectsWrongSecret(t *testing.T) {
	body := []byte(`{"event":"x"}`)
	sig := Sign("secret", 1700000000, body)
	require.False(t, VerifySignature("wrong-secret", 1700000000, body, sig))
}

func TestVerifySignature_RejectsTamperedBody(t *testing.T) {
	body := []byte(`{"event":"x"}`)
	sig := Sign("secret", 1700000000, body)
	require.False(t, VerifySignature("secret", 1700000000, []byte(`{"event":"y"}`), sig))
}

func TestVerifySignature_RejectsWrongTimestamp(t *testing.T) {
	body := []byte(`{"event":"x"}`)
	sig := Sign("secret", 1700000000, body)
	require.False(t, VerifySignature("secret", 1700000001, body, sig))
}

func TestVerifySignature_RejectsGarbageSignature(t *testing.T) {
	require.False(t, VerifySignature("secret", 1700000000, []byte("body"), "not-a-signature"))
}
