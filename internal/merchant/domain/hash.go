package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashAPISecret hashes the raw API secret using the same strategy as
// credential creation.
func HashAPISecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
