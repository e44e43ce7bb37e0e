package utils // package utils provides helper functions for hashing and random identifiers

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // SHA‑256 hashing for caller fingerprints
	"encoding/hex"  // hex encoding functions
)

// RandomHex returns a hex‑encoded string generated from n bytes of
// cryptographically secure random data.  It is used for client ids and
// client secrets.  If the random number generator fails, an error is
// returned.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Fingerprint returns the SHA‑256 hex digest of the joined parts.  It
// identifies anonymous callers (IP + user agent) without storing either.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
