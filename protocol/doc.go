// Package protocol implements the framing of the serial OTA update protocol.
//
// This package encodes and decodes the manifest unit and defines the wire
// constants shared by the sender and the device.
//
// # Protocol Overview
//
// A session is a strict sequence of units, each answered by a single byte:
//
//	Manifest: [VERSION(4)][PAYLOAD_SIZE(4)][TARGET_ADDRESS(4)][SIGNATURE(64)]
//	Chunk:    [CIPHERTEXT(<= chunk size)]
//	Digest:   [HASH(32)]
//	Response: [ACK(0x79) | NACK(0x1F)]
//
// Where:
//   - All integers are little-endian
//   - Chunks carry no header; boundaries follow from the chunk size and PAYLOAD_SIZE
//   - Any response other than ACK, or no response at all, rejects the unit
//
// # Building a Manifest
//
//	m, err := protocol.NewManifest(protocol.DefaultVersion, len(ciphertext), 0x08008000)
//	if err != nil {
//	    return err // errors.Is(err, protocol.ErrFieldOverflow)
//	}
//	frame, _ := m.MarshalBinary() // always ManifestSize bytes
//
// # Versions
//
// ParseVersion accepts integers and semantic versions:
//
//	v, _ := protocol.ParseVersion("1.4.2") // 0x00010402
package protocol
