package storage

import (
	"crypto/sha256"
	"encoding/hex"
)

// Store keeps the raw bytes of every ingested document, addressed by their
// sha256 digest. Backends are idempotent: putting the same digest twice is a
// no-op, and whichever copy lands stays byte-identical to the input.
type Store interface {
	Put(digest string, raw []byte) error
	Get(digest string) ([]byte, error)
	Exists(digest string) (bool, error)
	Close() error
}

// Sum returns the lowercase hex sha256 of raw. It is the only digest the
// rest of the system knows about.
func Sum(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
