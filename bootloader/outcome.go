package bootloader

import (
	"fmt"
	"time"
)

// Status is the terminal result of a session.
type Status int

const (
	StatusSuccess Status = iota
	StatusManifestRejected
	StatusChunkFailed
	StatusVerificationFailed

	// StatusAborted covers configuration and channel failures, where the
	// device never rendered a verdict
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusManifestRejected:
		return "manifest rejected"
	case StatusChunkFailed:
		return "chunk failed"
	case StatusVerificationFailed:
		return "verification failed"
	case StatusAborted:
		return "aborted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Stage is a point in the session state machine.
type Stage int

const (
	StageStart Stage = iota
	StageManifestSent
	StagePayloadSent
	StageVerified
	StageAborted
)

func (s Stage) String() string {
	switch s {
	case StageStart:
		return "start"
	case StageManifestSent:
		return "manifest sent"
	case StagePayloadSent:
		return "payload sent"
	case StageVerified:
		return "verified"
	case StageAborted:
		return "aborted"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Outcome describes how a session ended.
type Outcome struct {
	Status Status

	// Stage is StageVerified on success and StageAborted otherwise
	Stage Stage

	// FailedAt is the last stage reached before an abort
	FailedAt Stage

	// Offset and Index locate the failed chunk for StatusChunkFailed
	Offset int
	Index  int

	// BytesSent counts payload bytes the device accepted
	BytesSent int

	// Digest is the ciphertext digest sent as the final unit
	Digest [32]byte

	Elapsed time.Duration
}

// OK reports whether the session succeeded.
func (o Outcome) OK() bool {
	return o.Status == StatusSuccess
}

func (o Outcome) String() string {
	switch o.Status {
	case StatusSuccess:
		return fmt.Sprintf("success (%d bytes in %s)", o.BytesSent, o.Elapsed.Round(time.Millisecond))
	case StatusChunkFailed:
		return fmt.Sprintf("chunk failed at offset %d (chunk %d)", o.Offset, o.Index)
	default:
		return fmt.Sprintf("%s after %s", o.Status, o.FailedAt)
	}
}
