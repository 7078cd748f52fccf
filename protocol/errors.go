package protocol

import (
	"errors"
	"fmt"
)

// ErrFieldOverflow is returned when a value does not fit its 32-bit manifest field.
var ErrFieldOverflow = errors.New("manifest field overflow")

// FieldOverflowError describes which manifest field could not be encoded.
type FieldOverflowError struct {
	// Field is the manifest field name
	Field string

	// Value is the rejected value
	Value uint64
}

func (e *FieldOverflowError) Error() string {
	return fmt.Sprintf("%s 0x%X does not fit in 32 bits", e.Field, e.Value)
}

// Unwrap allows errors.Is(err, ErrFieldOverflow).
func (e *FieldOverflowError) Unwrap() error {
	return ErrFieldOverflow
}

// ResponseName returns a human-readable name for a response byte.
func ResponseName(b byte) string {
	switch b {
	case Ack:
		return "ack"
	case Nack:
		return "nack"
	default:
		return fmt.Sprintf("unexpected response 0x%02X", b)
	}
}
