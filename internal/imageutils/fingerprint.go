package imageutils

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the SHA-256 hex digest of the payload. It is the
// content fingerprint used for change detection: an unchanged digest means
// the expensive embedding step can be skipped.
func Fingerprint(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
