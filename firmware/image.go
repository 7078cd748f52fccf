package firmware

import "fmt"

// Format identifies the file format an image was loaded from.
type Format int

const (
	// FormatRaw is a flat binary: the file contents are the image
	FormatRaw Format = iota

	// FormatIntelHex is an Intel HEX file
	FormatIntelHex
)

func (f Format) String() string {
	switch f {
	case FormatRaw:
		return "raw"
	case FormatIntelHex:
		return "ihex"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Image represents a firmware image ready to send.
type Image struct {
	// Data is the contiguous image; gaps in sparse sources are 0xFF
	Data []byte

	// BaseAddress is the load address of Data[0] when HasAddress is set
	BaseAddress uint32

	// HasAddress reports whether the source carried a load address
	HasAddress bool

	// Entry is the start address from a type 03 or 05 record
	Entry    uint32
	HasEntry bool

	Format Format
}

// Size returns the image length in bytes.
func (img *Image) Size() int {
	return len(img.Data)
}

// Address returns the load address, or fallback when the source had none.
func (img *Image) Address(fallback uint64) uint64 {
	if img.HasAddress {
		return uint64(img.BaseAddress)
	}
	return fallback
}
