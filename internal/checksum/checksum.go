// Package checksum provides content digests used by the update engine
// to compare live files against target and base images.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumString returns the digest of a string payload.
func SumString(s string) string {
	return Sum([]byte(s))
}
