// Package signing produces manifest signatures.
//
// The device does not have to verify them; when it does, the signed message
// binds the manifest header to the ciphertext digest and the AEAD tag.
package signing

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"golang.org/x/crypto/ed25519"
)

// SignatureSize is the length of every signature a Signer returns.
const SignatureSize = 64

// Signer signs a message. Implementations must return exactly SignatureSize bytes.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
}

// Ed25519 signs with an Ed25519 private key.
type Ed25519 struct {
	key ed25519.PrivateKey
}

// NewEd25519FromSeed builds a signer from a 32-byte seed.
func NewEd25519FromSeed(seed []byte) (*Ed25519, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Ed25519{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// GenerateEd25519 creates a signer with a fresh random key.
func GenerateEd25519() (*Ed25519, error) {
	_, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &Ed25519{key: sk}, nil
}

// LoadEd25519 reads a hex-encoded 32-byte seed from path. Surrounding
// whitespace is ignored.
func LoadEd25519(path string) (*Ed25519, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}

	seed, err := hex.DecodeString(string(bytes.TrimSpace(b)))
	if err != nil {
		return nil, fmt.Errorf("decode signing key %s: %w", path, err)
	}
	return NewEd25519FromSeed(seed)
}

func (s *Ed25519) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.key, msg), nil
}

// PublicKey returns the verification key to provision on the device.
func (s *Ed25519) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// Seed returns the private seed, the form LoadEd25519 reads.
func (s *Ed25519) Seed() []byte {
	return s.key.Seed()
}

// Verify checks sig over msg against a public key.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return len(pub) == ed25519.PublicKeySize && ed25519.Verify(pub, msg, sig)
}
