// Package fingerprint computes the dedup keys and short correlation IDs
// used throughout the storage layer.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// Uniq computes the natural dedup key for a fact/triple term-set: the
// SHA-256 hex digest of the lowercased, alphanumeric-only concatenation of
// its defining terms. Two calls with equivalent terms (modulo case and
// punctuation) collide on purpose.
func Uniq(terms ...string) string {
	var b strings.Builder
	for _, t := range terms {
		for _, r := range strings.ToLower(t) {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				b.WriteRune(r)
			}
		}
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ShortID derives a 5 hex-character correlation id from a longer
// identifier (a uuid, typically) for compact log lines.
func ShortID(id string) string {
	sum := blake3.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])[:5]
}
