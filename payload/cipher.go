package payload

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the nonce length for every supported suite.
const NonceSize = 12

// ErrAuthentication is returned by Decrypt when the tag does not verify.
var ErrAuthentication = errors.New("payload authentication failed")

// Suite selects the authenticated stream construction used for the payload.
type Suite int

const (
	// SuiteAESGCM is AES-GCM, the construction the device bootloader decrypts
	SuiteAESGCM Suite = iota

	// SuiteChaCha20Poly1305 is ChaCha20-Poly1305 for devices without AES hardware
	SuiteChaCha20Poly1305
)

func (s Suite) String() string {
	switch s {
	case SuiteAESGCM:
		return "aes-gcm"
	case SuiteChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return fmt.Sprintf("suite(%d)", int(s))
	}
}

// ParseSuite maps a configuration name to a Suite.
func ParseSuite(name string) (Suite, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "aes-gcm", "aes-256-gcm", "aesgcm":
		return SuiteAESGCM, nil
	case "chacha20-poly1305", "chacha20poly1305", "chacha":
		return SuiteChaCha20Poly1305, nil
	default:
		return 0, fmt.Errorf("unknown cipher suite %q", name)
	}
}

// Sealed is the output of Encrypt.
type Sealed struct {
	// Ciphertext has exactly the length of the plaintext
	Ciphertext []byte

	// Tag is the authentication tag computed over the ciphertext
	Tag []byte
}

// Encrypt encrypts plaintext under key and nonce. The ciphertext keeps the
// plaintext length; the tag is returned separately because the wire protocol
// has no slot for it.
//
// The same key and nonce must never be reused for different plaintexts.
func Encrypt(suite Suite, key, nonce, plaintext []byte) (*Sealed, error) {
	aead, err := newAEAD(suite, key, nonce)
	if err != nil {
		return nil, err
	}

	out := aead.Seal(nil, nonce, plaintext, nil)
	n := len(out) - aead.Overhead()

	return &Sealed{
		Ciphertext: out[:n:n],
		Tag:        out[n:],
	}, nil
}

// Decrypt reverses Encrypt. When tag is nil only the keystream is applied, which
// is what a device that never receives the tag can do; otherwise the tag is
// verified first and ErrAuthentication returned on mismatch.
func Decrypt(suite Suite, key, nonce, ciphertext, tag []byte) ([]byte, error) {
	aead, err := newAEAD(suite, key, nonce)
	if err != nil {
		return nil, err
	}

	if tag != nil {
		sealed := make([]byte, 0, len(ciphertext)+len(tag))
		sealed = append(sealed, ciphertext...)
		sealed = append(sealed, tag...)
		pt, err := aead.Open(nil, nonce, sealed, nil)
		if err != nil {
			return nil, ErrAuthentication
		}
		return pt, nil
	}

	return keystreamXOR(suite, key, nonce, ciphertext)
}

// keystreamXOR recovers plaintext without the tag. Encrypting a zero block with
// the same parameters yields the keystream, so XOR undoes the stream cipher.
func keystreamXOR(suite Suite, key, nonce, ciphertext []byte) ([]byte, error) {
	zero := make([]byte, len(ciphertext))
	ks, err := Encrypt(suite, key, nonce, zero)
	if err != nil {
		return nil, err
	}

	pt := make([]byte, len(ciphertext))
	subtle.XORBytes(pt, ciphertext, ks.Ciphertext)
	return pt, nil
}

func newAEAD(suite Suite, key, nonce []byte) (cipher.AEAD, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("nonce must be exactly %d bytes, got %d", NonceSize, len(nonce))
	}

	switch suite {
	case SuiteAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("create block cipher: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("create GCM AEAD: %w", err)
		}
		return aead, nil
	case SuiteChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("create ChaCha20-Poly1305 AEAD: %w", err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("unsupported cipher suite %s", suite)
	}
}

// KeySizes returns the key lengths accepted by the suite.
func (s Suite) KeySizes() []int {
	switch s {
	case SuiteAESGCM:
		return []int{16, 24, 32}
	case SuiteChaCha20Poly1305:
		return []int{chacha20poly1305.KeySize}
	default:
		return nil
	}
}
