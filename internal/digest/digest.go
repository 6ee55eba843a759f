// Package digest computes the fixed message digest used for hashed passwords and hints.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
)

// Size is the length in characters of a hex digest.
const Size = sha256.Size * 2

// Hex returns the lowercase hexadecimal SHA-256 digest of s.
func Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Bytes is Hex for a byte slice, for search loops that hash a reused buffer
// without converting it to a string first.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Valid reports whether s looks like a digest produced by Hex.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
