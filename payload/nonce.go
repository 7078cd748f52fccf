package payload

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ReferenceNonce is the fixed nonce the reference bootloader expects.
// Reusing it across images under one key leaks the XOR of the plaintexts.
var ReferenceNonce = []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x00, 0x11, 0x22, 0x33, 0x44, 0x55}

const nonceInfo = "go-ota payload nonce v1"

// DeriveNonce derives a nonce from the key and the manifest version with
// HKDF-SHA256. The device sees the version in the manifest and can derive the
// same nonce; because it refuses to install a version twice, every accepted
// image under a key gets a distinct nonce.
func DeriveNonce(key []byte, version uint32) ([]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("key is required to derive a nonce")
	}

	info := make([]byte, len(nonceInfo)+4)
	copy(info, nonceInfo)
	binary.LittleEndian.PutUint32(info[len(nonceInfo):], version)

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, nil, info), nonce); err != nil {
		return nil, fmt.Errorf("derive nonce: %w", err)
	}
	return nonce, nil
}

// RandomNonce returns a fresh random nonce. The caller is responsible for
// getting it to the device out of band.
func RandomNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}
