package common

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ContentHash returns the hex SHA-256 of content after whitespace normalization,
// so re-wrapped or re-indented text hashes the same.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(NormalizeWhitespace(content)))
	return hex.EncodeToString(sum[:])
}

// NormalizeWhitespace collapses runs of whitespace and trims the ends.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
