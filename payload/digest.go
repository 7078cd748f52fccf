package payload

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// DigestSize is the output size of every supported digest algorithm.
const DigestSize = 32

// DigestAlgorithm selects the hash used for the final verification unit.
type DigestAlgorithm int

const (
	// DigestSHA256 is SHA-256, computed by the device bootloader
	DigestSHA256 DigestAlgorithm = iota

	// DigestBLAKE2b256 is BLAKE2b with a 256-bit output
	DigestBLAKE2b256
)

func (a DigestAlgorithm) String() string {
	switch a {
	case DigestSHA256:
		return "sha256"
	case DigestBLAKE2b256:
		return "blake2b-256"
	default:
		return fmt.Sprintf("digest(%d)", int(a))
	}
}

// ParseDigestAlgorithm maps a configuration name to a DigestAlgorithm.
func ParseDigestAlgorithm(name string) (DigestAlgorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sha256", "sha-256":
		return DigestSHA256, nil
	case "blake2b", "blake2b-256", "blake2b256":
		return DigestBLAKE2b256, nil
	default:
		return 0, fmt.Errorf("unknown digest algorithm %q", name)
	}
}

// Digest hashes data. It is a pure function of alg and data.
func Digest(alg DigestAlgorithm, data []byte) [DigestSize]byte {
	switch alg {
	case DigestBLAKE2b256:
		return blake2b.Sum256(data)
	default:
		return sha256.Sum256(data)
	}
}
