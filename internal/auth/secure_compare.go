package auth

import "crypto/subtle"

// SecureCompareTokens performs a constant-time comparison of two token
// strings. Always examines every byte regardless of where they first
// differ, so it does not leak position through response timing.
func SecureCompareTokens(provided, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// SecureCompareBytes is the byte-slice form, used for HMAC signatures.
func SecureCompareBytes(provided, expected []byte) bool {
	return subtle.ConstantTimeCompare(provided, expected) == 1
}
