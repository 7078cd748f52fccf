package firmware

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Constants for Intel HEX parsing.
const (
	// MinimumRecordLength is the shortest record in hex characters after ':':
	// count(2) + address(4) + type(2) + checksum(2)
	MinimumRecordLength = 10

	// RecordHeaderSize is count + address + type in bytes
	RecordHeaderSize = 4

	// MaxImageSize bounds the span between the lowest and highest address
	MaxImageSize = 16 << 20

	// Fill is the value of erased flash, used for gaps
	Fill = 0xFF
)

// Intel HEX record types.
const (
	recordData                   = 0x00
	recordEOF                    = 0x01
	recordExtendedSegmentAddress = 0x02
	recordStartSegmentAddress    = 0x03
	recordExtendedLinearAddress  = 0x04
	recordStartLinearAddress     = 0x05
)

// Load reads a firmware image from the given file path. Files ending in .hex
// or .ihex are parsed as Intel HEX; anything else is taken as raw binary.
//
// Example:
//
//	img, err := firmware.Load("app.hex")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d bytes at 0x%08X\n", img.Size(), img.BaseAddress)
func Load(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex":
		return ParseHex(f)
	default:
		return ParseRaw(f)
	}
}

// ParseRaw reads a flat binary image from r.
func ParseRaw(r io.Reader) (*Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	return &Image{Data: data, Format: FormatRaw}, nil
}

type segment struct {
	addr uint32
	data []byte
}

// ParseHex parses an Intel HEX file from any io.Reader.
// Data records are placed at their absolute address; the result spans from
// the lowest to the highest address with gaps filled with 0xFF.
//
// Example:
//
//	img, err := firmware.ParseHex(strings.NewReader(hexContent))
func ParseHex(r io.Reader) (*Image, error) {
	scanner := bufio.NewScanner(r)

	img := &Image{Format: FormatIntelHex}
	var (
		segments []segment
		upper    uint32
		sawEOF   bool
	)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines
		if line == "" {
			continue
		}
		if sawEOF {
			return nil, fmt.Errorf("line %d: record after end-of-file record", lineNum)
		}

		rec, err := parseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		switch rec.kind {
		case recordData:
			if len(rec.data) > 0 {
				segments = append(segments, segment{addr: upper + uint32(rec.offset), data: rec.data})
			}
		case recordEOF:
			sawEOF = true
		case recordExtendedSegmentAddress:
			if len(rec.data) != 2 {
				return nil, fmt.Errorf("line %d: extended segment address needs 2 bytes, got %d", lineNum, len(rec.data))
			}
			upper = (uint32(rec.data[0])<<8 | uint32(rec.data[1])) << 4
		case recordExtendedLinearAddress:
			if len(rec.data) != 2 {
				return nil, fmt.Errorf("line %d: extended linear address needs 2 bytes, got %d", lineNum, len(rec.data))
			}
			upper = (uint32(rec.data[0])<<8 | uint32(rec.data[1])) << 16
		case recordStartSegmentAddress, recordStartLinearAddress:
			if len(rec.data) != 4 {
				return nil, fmt.Errorf("line %d: start address needs 4 bytes, got %d", lineNum, len(rec.data))
			}
			entry := uint32(rec.data[0])<<24 | uint32(rec.data[1])<<16 | uint32(rec.data[2])<<8 | uint32(rec.data[3])
			if rec.kind == recordStartSegmentAddress {
				// CS:IP
				entry = (entry>>16)<<4 + entry&0xFFFF
			}
			img.Entry, img.HasEntry = entry, true
		default:
			return nil, fmt.Errorf("line %d: unknown record type 0x%02X", lineNum, rec.kind)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if !sawEOF {
		return nil, fmt.Errorf("missing end-of-file record")
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("no data records found in file")
	}

	data, base, err := flatten(segments)
	if err != nil {
		return nil, err
	}
	img.Data, img.BaseAddress, img.HasAddress = data, base, true

	return img, nil
}

type record struct {
	kind   byte
	offset uint16
	data   []byte
}

// parseRecord parses a single Intel HEX record.
//
// Record format:
//
//	:[Count(1 byte)][Address(2 bytes)][Type(1 byte)][Data(Count bytes)][Checksum(1 byte)]
//
// All values are hex-encoded. Address is big-endian.
//
// Example: ":0400000001020304F2"
//
//	Count: 0x04
//	Address: 0x0000
//	Type: 0x00 (data)
//	Data: [0x01, 0x02, 0x03, 0x04]
//	Checksum: 0xF2
func parseRecord(line string) (*record, error) {
	if line[0] != ':' {
		return nil, fmt.Errorf("record must start with ':'")
	}
	line = line[1:]

	if len(line) < MinimumRecordLength {
		return nil, fmt.Errorf("record too short: got %d characters, minimum is %d", len(line), MinimumRecordLength)
	}

	raw, err := hex.DecodeString(line)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}

	count := int(raw[0])
	expectedLen := RecordHeaderSize + count + 1
	if len(raw) != expectedLen {
		return nil, fmt.Errorf("data length mismatch: got %d bytes, expected %d (header=%d + data=%d + checksum=1)",
			len(raw), expectedLen, RecordHeaderSize, count)
	}

	checksum := raw[len(raw)-1]
	calculatedChecksum := calculateRecordChecksum(raw[:len(raw)-1])
	if checksum != calculatedChecksum {
		return nil, fmt.Errorf("checksum mismatch: got 0x%02X, expected 0x%02X",
			checksum, calculatedChecksum)
	}

	return &record{
		kind:   raw[3],
		offset: uint16(raw[1])<<8 | uint16(raw[2]),
		data:   bytes.Clone(raw[RecordHeaderSize : RecordHeaderSize+count]),
	}, nil
}

// flatten lays the segments out in one buffer starting at the lowest address.
func flatten(segments []segment) ([]byte, uint32, error) {
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].addr < segments[j].addr
	})

	base := segments[0].addr
	end := uint64(base)
	for _, s := range segments {
		if uint64(s.addr) < end {
			return nil, 0, fmt.Errorf("overlapping data at 0x%08X", s.addr)
		}
		end = uint64(s.addr) + uint64(len(s.data))
	}

	span := end - uint64(base)
	if span > MaxImageSize {
		return nil, 0, fmt.Errorf("image spans %d bytes from 0x%08X, limit is %d", span, base, MaxImageSize)
	}

	data := bytes.Repeat([]byte{Fill}, int(span))
	for _, s := range segments {
		copy(data[s.addr-base:], s.data)
	}
	return data, base, nil
}

// calculateRecordChecksum computes the 8-bit record checksum.
// Uses basic summation with 2's complement.
func calculateRecordChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum + 1 // 2's complement
}
