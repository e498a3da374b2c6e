package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DigestPrefix tags digests rendered as strings, such as receipt ids and params hashes.
const DigestPrefix = "sha256:"

func DigestBytes(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// DigestWithPrefix renders the SHA-256 of data as "sha256:<hex>".
func DigestWithPrefix(data []byte) string {
	return DigestPrefix + hex.EncodeToString(DigestBytes(data))
}

// ParseDigest decodes a "sha256:<hex>" string back to its raw bytes.
func ParseDigest(s string) ([]byte, error) {
	hexPart, ok := strings.CutPrefix(s, DigestPrefix)
	if !ok {
		return nil, fmt.Errorf("digest %q: missing %s prefix", s, DigestPrefix)
	}
	raw, err := hex.DecodeString(hexPart)
	if err != nil {
		return nil, fmt.Errorf("digest %q: %w", s, err)
	}
	if len(raw) != sha256.Size {
		return nil, ErrInvalidDigestLen
	}
	return raw, nil
}
