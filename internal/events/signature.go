package events

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Sign computes the webhook signature: hmac_sha256(secret, timestamp + "." + body),
// returned as the "v1=<hex>" value for the X-Webhook-Signature header.
func Sign(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", timestamp)))
	mac.Write(body)
	return "v1=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the signature and compares it in constant
// time, for consumers validating an inbound webhook (e.g. integration
// tests standing in for a subscriber).
func VerifySignature(secret string, timestamp int64, body []byte, provided string) bool {
	expected := Sign(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(provided))
}
