package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// NewManifest constructs a manifest for a payload of payloadSize bytes destined
// for targetAddress. Values wider than the 32-bit wire fields are rejected with a
// *FieldOverflowError rather than truncated.
//
// Example:
//
//	m, err := protocol.NewManifest(1, len(ciphertext), 0x08008000)
func NewManifest(version uint32, payloadSize int, targetAddress uint64) (*Manifest, error) {
	if payloadSize < 0 {
		return nil, fmt.Errorf("payload size %d is negative: %w", payloadSize, ErrFieldOverflow)
	}
	if uint64(payloadSize) > math.MaxUint32 {
		return nil, &FieldOverflowError{Field: "payload size", Value: uint64(payloadSize)}
	}
	if targetAddress > math.MaxUint32 {
		return nil, &FieldOverflowError{Field: "target address", Value: targetAddress}
	}

	return &Manifest{
		Version:       version,
		PayloadSize:   uint32(payloadSize),
		TargetAddress: uint32(targetAddress),
	}, nil
}

// MarshalBinary encodes the manifest unit.
//
// Frame structure (little-endian):
//
//	[VERSION(4)][PAYLOAD_SIZE(4)][TARGET_ADDRESS(4)][SIGNATURE(64)]
//
// The result is always ManifestSize bytes.
func (m *Manifest) MarshalBinary() ([]byte, error) {
	frame := make([]byte, ManifestSize)
	m.putHeader(frame)
	copy(frame[offsetSignature:], m.Signature[:])
	return frame, nil
}

// ParseManifest decodes a manifest unit. The device performs the equivalent
// decode; the sender only needs it for tests and simulation.
func ParseManifest(frame []byte) (*Manifest, error) {
	if len(frame) != ManifestSize {
		return nil, fmt.Errorf("invalid manifest length: got %d bytes, expected %d", len(frame), ManifestSize)
	}

	m := &Manifest{
		Version:       binary.LittleEndian.Uint32(frame[offsetVersion:]),
		PayloadSize:   binary.LittleEndian.Uint32(frame[offsetPayloadSize:]),
		TargetAddress: binary.LittleEndian.Uint32(frame[offsetTargetAddress:]),
	}
	copy(m.Signature[:], frame[offsetSignature:])

	return m, nil
}

// SigningMessage returns the bytes a signing collaborator signs:
//
//	[VERSION(4)][PAYLOAD_SIZE(4)][TARGET_ADDRESS(4)][DIGEST(32)][TAG(N)]
//
// Binding the AEAD tag here lets a verifying device detect a tampered payload
// even though the tag itself never travels on the wire.
func (m *Manifest) SigningMessage(digest, tag []byte) []byte {
	msg := make([]byte, ManifestHeaderSize, ManifestHeaderSize+len(digest)+len(tag))
	m.putHeader(msg)
	msg = append(msg, digest...)
	msg = append(msg, tag...)
	return msg
}

// SetSignature copies sig into the signature block.
func (m *Manifest) SetSignature(sig []byte) error {
	if len(sig) != SignatureSize {
		return fmt.Errorf("signature must be exactly %d bytes, got %d", SignatureSize, len(sig))
	}
	copy(m.Signature[:], sig)
	return nil
}

// Signed reports whether the signature block carries anything but zeros.
func (m *Manifest) Signed() bool {
	for _, b := range m.Signature {
		if b != 0 {
			return true
		}
	}
	return false
}

func (m *Manifest) putHeader(b []byte) {
	binary.LittleEndian.PutUint32(b[offsetVersion:], m.Version)
	binary.LittleEndian.PutUint32(b[offsetPayloadSize:], m.PayloadSize)
	binary.LittleEndian.PutUint32(b[offsetTargetAddress:], m.TargetAddress)
}
