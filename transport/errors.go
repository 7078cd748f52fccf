package transport

import (
	"errors"
	"fmt"

	"github.com/moffa90/go-ota/protocol"
)

// ErrRejected matches every RejectedError with errors.Is.
var ErrRejected = errors.New("unit rejected by device")

// ChannelError indicates the channel itself failed. It is never retried.
type ChannelError struct {
	// Op is the failing operation: "open", "write", "read", "set timeout"
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// RejectedError indicates a unit was not acknowledged within the attempt limit.
type RejectedError struct {
	Kind protocol.UnitKind

	// Index is the chunk index; zero for manifest and digest units
	Index int

	// Offset is the payload offset of the chunk
	Offset int

	Attempts int

	// LastResponse is the byte received on the final attempt, if any
	LastResponse byte

	// TimedOut is true when the final attempt got no response at all
	TimedOut bool
}

func (e *RejectedError) Error() string {
	last := protocol.ResponseName(e.LastResponse)
	if e.TimedOut {
		last = "no response"
	}

	if e.Kind == protocol.UnitChunk {
		return fmt.Sprintf("chunk %d at offset %d rejected after %d attempts (last: %s)",
			e.Index, e.Offset, e.Attempts, last)
	}
	return fmt.Sprintf("%s rejected after %d attempts (last: %s)", e.Kind, e.Attempts, last)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}
