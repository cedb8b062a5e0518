package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SASLength is the number of hex characters in a short auth string.
// 24 bits: short enough to read aloud, long enough that an active
// collision attempt is conspicuous within a single session.
const SASLength = 6

// DeriveShortAuthString computes the 6-character uppercase-hex comparison
// code for an unordered pair of fingerprints. The pair is canonicalized
// by lexicographic sort before hashing so both devices compute the same
// code no matter which side initiated: DeriveShortAuthString(a, b) ==
// DeriveShortAuthString(b, a). Inputs are hashed as UTF-8 bytes; the
// digest is SHA-256. Deterministic across processes and platforms.
func DeriveShortAuthString(a, b string) string {
	if b < a {
		a, b = b, a
	}
	sum := sha256.Sum256([]byte(a + b))
	return strings.ToUpper(hex.EncodeToString(sum[:])[:SASLength])
}
