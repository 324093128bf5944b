package storage

import (
	"crypto/sha256"
	"encoding/hex"
)

// TruncateBytes caps in at maxBytes. When truncation happens it also returns
// the original length and the sha256 of the full content so the artifact can
// reference what was cut.
func TruncateBytes(in []byte, maxBytes int) ([]byte, bool, int, string) {
	if maxBytes <= 0 || len(in) <= maxBytes {
		return in, false, len(in), ""
	}
	sum := sha256.Sum256(in)
	return in[:maxBytes], true, len(in), hex.EncodeToString(sum[:])
}
