package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashKey joins the parts with a NUL separator and returns the hex SHA-256,
// for use as a stable cache key.
func HashKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}
