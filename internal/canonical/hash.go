package canonical

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashVersion identifies the canonical encoding rules plus digest algorithm
// in force. A change to either requires a new version; records keep the
// version they were written with and are never re-hashed.
const HashVersion = 1

// Hash computes the lowercase hex SHA-256 digest of the canonical encoding
// of p, along with the hash version that produced it. It is pure: no I/O,
// no clock, no randomness.
func Hash(p *Prescription) (string, int) {
	sum := sha256.Sum256(Encode(p))
	return hex.EncodeToString(sum[:]), HashVersion
}
