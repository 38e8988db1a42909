// Package tracking implements open and click tracking: opaque tracking
// identifiers, HMAC signatures binding a token to a lead, content-addressed
// link hashes, the Redis correlation store, and the inbound HTTP endpoints.
package tracking

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// NewTrackingID returns a 32-hex-char random token (128 bits of entropy).
// Collision probability is negligible at expected send volumes.
func NewTrackingID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Sign computes hex(HMAC-SHA256(trackingID ":" leadID)). The signature binds
// open/click attribution to a specific lead, so a leaked tracking URL cannot
// be replayed against a different lead's record.
func Sign(trackingID, leadID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(trackingID + ":" + leadID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a tracking signature in constant time, which closes the
// timing side-channel an attacker could otherwise use to guess signatures
// byte by byte.
func Verify(trackingID, leadID, signature, secret string) bool {
	expected := Sign(trackingID, leadID, secret)
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	exp, _ := hex.DecodeString(expected)
	return hmac.Equal(sig, exp)
}

// LinkHash returns a stable hex digest of a URL. Repeated links within one
// send reuse the same tracking URL because the key is content-addressed.
func LinkHash(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}
