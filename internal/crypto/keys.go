package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
)

// KeyPairFromSeed derives an Ed25519 keypair from a 32-byte seed.
func KeyPairFromSeed(seed []byte) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, nil, ErrInvalidSeedSize
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return priv, priv.Public().(ed25519.PublicKey), nil
}

// KeyIDFor derives a short stable identifier for a public key.
func KeyIDFor(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "ed25519:" + hex.EncodeToString(sum[:8])
}

// Signer signs receipt digests with a single Ed25519 key.
type Signer struct {
	keyID string
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
}

// NewSigner wraps a private key. An empty keyID is derived from the public key.
func NewSigner(keyID string, priv ed25519.PrivateKey) *Signer {
	pub := priv.Public().(ed25519.PublicKey)
	if keyID == "" {
		keyID = KeyIDFor(pub)
	}
	return &Signer{keyID: keyID, priv: priv, pub: pub}
}

func NewSignerFromSeed(keyID string, seed []byte) (*Signer, error) {
	priv, _, err := KeyPairFromSeed(seed)
	if err != nil {
		return nil, err
	}
	return NewSigner(keyID, priv), nil
}

func (s *Signer) KeyID() string {
	return s.keyID
}

func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.pub
}

// Sign signs a SHA-256 digest. Anything else is refused so receipts never
// carry signatures over raw bodies.
func (s *Signer) Sign(digest []byte) ([]byte, error) {
	if len(digest) != sha256.Size {
		return nil, ErrInvalidDigestLen
	}
	return ed25519.Sign(s.priv, digest), nil
}

// VerifyEd25519 checks sig over a SHA-256 digest.
func VerifyEd25519(pub ed25519.PublicKey, digest, sig []byte) (bool, error) {
	if len(digest) != sha256.Size {
		return false, ErrInvalidDigestLen
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, ErrInvalidPublicKey
	}
	return ed25519.Verify(pub, digest, sig), nil
}
