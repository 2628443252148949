package mfa

import (
	"regexp"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func TestGenerateTOTPSecret_ReturnsKeyAndQRCodeForAccount(t *testing.T) {
	m := New(nil, "authcore", nil, nil)
	key, png, err := m.GenerateTOTPSecret("user@example.com")
	require.NoError(t, err)
	require.NotNil(t, key)
	require.Equal(t, "authcore", key.Issuer())
	require.Equal(t, "user@example.com", key.AccountName())
	require.NotEmpty(t, png)
	// PNG magic bytes.
	require.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestValidateTOTP_AcceptsCurrentCodeRejectsGarbage(t *testing.T) {
	m := New(nil, "authcore", nil, nil)
	key, _, err := m.GenerateTOTPSecret("user@example.com")
	require.NoError(t, err)

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)
	require.True(t, m.ValidateTOTP(code, key.Secret()))

	require.False(t, m.ValidateTOTP("000000", key.Secret()+"tampered"))
}

func TestGenerateBackupCodes_ProducesExpectedCountAndFormat(t *testing.T) {
	m := New(nil, "authcore", nil, nil)
	codes, err := m.GenerateBackupCodes(10)
	require.NoError(t, err)
	require.Len(t, codes, 10)

	pattern := regexp.MustCompile(`^[ABCDEFGHJKLMNPQRSTUVWXYZ23456789]{4}-[ABCDEFGHJKLMNPQRSTUVWXYZ23456789]{4}$`)
	seen := make(map[string]bool)
	for _, c := range codes {
		require.Regexp(t, pattern, c)
		require.False(t, seen[c], "backup codes must not repeat within a batch")
		seen[c] = true
	}
}

func TestGenerateBackupCodes_ExcludesAmbiguousCharacters(t *testing.T) {
	m := New(nil, "authcore", nil, nil)
	codes, err := m.GenerateBackupCodes(50)
	require.NoError(t, err)

	for _, c := range codes {
		require.NotContains(t, c, "I")
		require.NotContains(t, c, "O")
		require.NotContains(t, c, "0")
		require.NotContains(t, c, "1")
	}
}

func TestHashOTP_IsDeterministicAndHex(t *testing.T) {
	require.Equal(t, hashOTP("123456"), hashOTP("123456"))
	require.NotEqual(t, hashOTP("123456"), hashOTP("654321"))
	require.Len(t, hashOTP("123456"), 64) // sha256 hex digest
}
