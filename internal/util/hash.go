package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashKey returns the hex sha256 of its parts joined with a NUL separator.
// Used for cache keys and derived document identifiers.
func HashKey(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h[:])
}

// ShortHash returns the first 16 hex characters of HashKey, enough for
// human-readable derived identifiers.
func ShortHash(parts ...string) string {
	return HashKey(parts...)[:16]
}
