// Package hash derives stable short keys for scripts and content.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// KeyLength is the number of hex characters in a script key.
const KeyLength = 12

// Hasher provides extensible hashing functionality
type Hasher struct{}

// Default returns the SHA-256 hasher.
func Default() Hasher { return Hasher{} }

// Hash computes a hex-encoded hash of the input data
func (Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString computes a hash of a string
func (h Hasher) HashString(s string) string {
	return h.Hash([]byte(s))
}

// HashFields hashes fields in order, joined by a separator that cannot occur
// in a namespace or name line.
func (h Hasher) HashFields(fields ...string) string {
	return h.HashString(strings.Join(fields, "\n"))
}

// ScriptKey is the URL-safe key of the script namespace/name. Identity is
// case-insensitive, so the key is too.
func ScriptKey(namespace, name string) string {
	return Default().HashFields(strings.ToLower(namespace), strings.ToLower(name))[:KeyLength]
}
