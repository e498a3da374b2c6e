package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// LoadEd25519PrivateKey reads a signing key file. The file holds either a
// 32-byte seed or a 64-byte private key, as text tagged "hex:" or "base64:",
// as untagged hex or base64, or as raw bytes.
func LoadEd25519PrivateKey(path string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	// #nosec G304 -- path is operator-configured.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	key, err := decodeKey(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	var priv ed25519.PrivateKey
	switch len(key) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(key)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(key)
	default:
		return nil, nil, fmt.Errorf("%s: key is %d bytes, want %d or %d", path, len(key), ed25519.SeedSize, ed25519.PrivateKeySize)
	}
	return priv, priv.Public().(ed25519.PublicKey), nil
}

// LoadOrCreateSigner loads the key at path, writing a fresh hex-encoded seed
// there first when the file does not exist. created reports the latter.
func LoadOrCreateSigner(path, keyID string) (signer *Signer, created bool, err error) {
	if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
		seed := make([]byte, ed25519.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			return nil, false, err
		}
		if err := os.WriteFile(path, []byte("hex:"+hex.EncodeToString(seed)+"\n"), 0o600); err != nil {
			return nil, false, err
		}
		created = true
	}
	priv, _, err := LoadEd25519PrivateKey(path)
	if err != nil {
		return nil, false, err
	}
	return NewSigner(keyID, priv), created, nil
}

func decodeKey(raw []byte) ([]byte, error) {
	text := strings.TrimSpace(string(raw))
	if rest, ok := strings.CutPrefix(text, "hex:"); ok {
		return hex.DecodeString(rest)
	}
	if rest, ok := strings.CutPrefix(text, "base64:"); ok {
		return base64.StdEncoding.DecodeString(rest)
	}
	if out, err := hex.DecodeString(text); err == nil && len(out) > 0 {
		return out, nil
	}
	if n := len(raw); n == ed25519.SeedSize || n == ed25519.PrivateKeySize {
		return raw, nil
	}
	if text == "" {
		return nil, errors.New("empty key file")
	}
	if out, err := base64.StdEncoding.DecodeString(text); err == nil {
		return out, nil
	}
	return nil, errors.New("unrecognized key encoding")
}
