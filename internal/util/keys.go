package util

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// MaxKeyLen bounds storage keys. Longer user keys (typically full URLs) are hashed.
const MaxKeyLen = 200

// StorageKey namespaces key as "<ns>:<key>". When the result would exceed MaxKeyLen
// it becomes "<ns>:h:<blake3-256 hex of key>".
func StorageKey(ns, key string) string {
	if len(ns)+1+len(key) <= MaxKeyLen {
		return ns + ":" + key
	}
	return ns + ":h:" + Hash(key)
}

// Hash returns the hex blake3-256 digest of s.
func Hash(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ShortHash returns the first 16 hex chars of Hash(s). Used for log redaction.
func ShortHash(s string) string {
	return Hash(s)[:16]
}
