// Package fingerprint hashes text for change detection and posting identity.
// It is not a security primitive.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Of returns the hex-encoded SHA-256 of the UTF-8 bytes of s.
func Of(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
