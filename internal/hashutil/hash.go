// Package hashutil provides the content hashing used everywhere identity or
// integrity matters: attachments are addressed by SHA256Bytes, artifact
// integrity fields by CanonicalJSON.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SHA256Bytes returns the lowercase hex sha256 of raw bytes.
func SHA256Bytes(value []byte) string {
	sum := sha256.Sum256(value)
	return hex.EncodeToString(sum[:])
}

// SHA256Text returns the lowercase hex sha256 of a string.
func SHA256Text(value string) string {
	return SHA256Bytes([]byte(value))
}

// CanonicalJSON hashes the canonical JSON encoding of v. encoding/json
// emits map keys in sorted order, so equal values hash equally regardless
// of construction order.
func CanonicalJSON(v any) (string, error) {
	blob, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal hash input: %w", err)
	}
	return SHA256Bytes(blob), nil
}
