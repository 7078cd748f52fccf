package protocol

import "fmt"

// UnitKind identifies one of the three transmissible unit types.
type UnitKind int

const (
	// UnitManifest is the 76-byte manifest sent first
	UnitManifest UnitKind = iota

	// UnitChunk is one slice of the ciphertext payload
	UnitChunk

	// UnitDigest is the 32-byte hash-verification unit sent last
	UnitDigest
)

func (k UnitKind) String() string {
	switch k {
	case UnitManifest:
		return "manifest"
	case UnitChunk:
		return "chunk"
	case UnitDigest:
		return "digest"
	default:
		return fmt.Sprintf("unit(%d)", int(k))
	}
}

// Manifest is the fixed-layout header describing the upcoming payload.
// A Manifest is built once per session and must not be modified after encoding.
type Manifest struct {
	// Version is the firmware version; the device only accepts newer versions
	Version uint32

	// PayloadSize is the byte length of the ciphertext payload
	PayloadSize uint32

	// TargetAddress is the flash offset the device writes the payload to
	TargetAddress uint32

	// Signature is the signature block, all-zero when no signer is configured
	Signature [SignatureSize]byte
}
