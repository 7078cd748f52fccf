package bootloader

import (
	"errors"
	"fmt"

	"github.com/moffa90/go-ota/protocol"
)

// ErrVerificationFailed matches every VerificationError with errors.Is.
var ErrVerificationFailed = errors.New("firmware verification failed")

// ConfigError indicates the session could not start because of its inputs.
type ConfigError struct {
	// Field names the offending setting or input
	Field string

	Reason string

	// Err is the underlying cause, if any
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// VerificationError indicates the device did not accept the final digest.
type VerificationError struct {
	Attempts     int
	LastResponse byte
	TimedOut     bool

	// Err is the transport rejection
	Err error
}

func (e *VerificationError) Error() string {
	last := protocol.ResponseName(e.LastResponse)
	if e.TimedOut {
		last = "no response"
	}
	return fmt.Sprintf("firmware verification failed: digest not accepted after %d attempts (last: %s)",
		e.Attempts, last)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

func (e *VerificationError) Is(target error) bool {
	return target == ErrVerificationFailed
}
