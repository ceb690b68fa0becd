package patch

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/text/unicode/norm"
)

// fingerprintLen is the number of hex characters kept from the full digest.
// 12 characters (48 bits) is plenty for log correlation.
const fingerprintLen = 12

// Fingerprint returns a short stable identifier for a content snapshot,
// suitable for log lines and traces where logging the content itself would
// be noisy or sensitive. Content is NFC-normalized before hashing so the
// same visible text yields the same fingerprint regardless of Unicode
// composition. Fingerprints identify content in diagnostics only; they are
// never used to compare or mutate the content being synchronized.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(norm.NFC.String(content)))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}
