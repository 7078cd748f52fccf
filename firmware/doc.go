// Package firmware loads firmware images from raw binary and Intel HEX files.
//
// # Intel HEX Format
//
// Each line is a record, hex-encoded after a leading ':'.
//
// Record Format:
//
//	[Count(2)][Address(4)][Type(2)][Data(2*Count)][Checksum(2)]
//
// Example record:
//
//	:0400000001020304F2
//	  04 = Byte count
//	  0000 = Address offset (big-endian)
//	  00 = Record type (data)
//	  01020304 = Data
//	  F2 = Checksum (2's complement of the byte sum)
//
// Supported record types are 00 (data), 01 (end of file), 02 (extended
// segment address), 03 (start segment address), 04 (extended linear address)
// and 05 (start linear address). Gaps between data records are filled with
// 0xFF, the value of erased flash.
//
// # Usage
//
//	img, err := firmware.Load("app.hex")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("Base address: 0x%08X\n", img.BaseAddress)
//	fmt.Printf("Size: %d bytes\n", img.Size())
//
// Raw binaries carry no address; Image.Address returns the caller's default:
//
//	addr := img.Address(0x08008000)
//
// # Error Handling
//
// Parse errors include the line number and say what failed:
//   - Malformed records and invalid hex encoding
//   - Checksum mismatches
//   - Unknown record types
//   - Missing end-of-file record
//   - Overlapping data records
package firmware
