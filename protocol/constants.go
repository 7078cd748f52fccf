package protocol

// ProtocolVersion is the version of the OTA wire protocol implemented by this library.
const ProtocolVersion = "1.0"

// Acknowledgment sentinels sent by the device after every unit.
const (
	// Ack is the single-byte response for an accepted unit (0x79)
	Ack = 0x79

	// Nack is the single-byte response for a rejected unit (0x1F)
	Nack = 0x1F
)

// Manifest layout constants.
const (
	// SignatureSize is the size of the manifest signature block
	SignatureSize = 64

	// ManifestHeaderSize is the size of the integer fields preceding the signature:
	// VERSION(4) + PAYLOAD_SIZE(4) + TARGET_ADDRESS(4)
	ManifestHeaderSize = 12

	// ManifestSize is the exact encoded size of a manifest unit
	ManifestSize = ManifestHeaderSize + SignatureSize
)

// Field offsets within an encoded manifest.
const (
	offsetVersion       = 0
	offsetPayloadSize   = 4
	offsetTargetAddress = 8
	offsetSignature     = ManifestHeaderSize
)

// DigestSize is the size of the final hash-verification unit.
const DigestSize = 32

// DefaultChunkSize is the default number of ciphertext bytes per chunk unit.
// It matches the device receive buffer.
const DefaultChunkSize = 256

// MaxChunkSize bounds the configurable chunk size.
const MaxChunkSize = 65536

// DefaultVersion is the manifest version used when none is configured.
const DefaultVersion = 1

// Semantic version packing limits for ParseVersion.
const (
	maxMajor      = 0xFFFF
	maxMinorPatch = 0xFF
)
