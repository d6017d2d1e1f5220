// Package sha256 names content by its SHA-256 digest.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hex returns the full hex digest of data.
func Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns the first n hex characters of the digest. n is clamped
// to the digest length.
func Fingerprint(data []byte, n int) string {
	full := Hex(data)
	if n <= 0 || n > len(full) {
		return full
	}
	return full[:n]
}
