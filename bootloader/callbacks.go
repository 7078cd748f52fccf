package bootloader

import "time"

// Progress phases.
const (
	PhaseManifest  = "manifest"
	PhasePayload   = "payload"
	PhaseVerifying = "verifying"
	PhaseComplete  = "complete"
)

// Progress contains information about the transfer progress.
// Passed to ProgressCallback during a session.
type Progress struct {
	// Phase describes the current operation phase:
	//   "manifest"  - Sending the manifest
	//   "payload"   - Streaming ciphertext chunks
	//   "verifying" - Waiting for the device to accept the digest
	//   "complete"  - Session finished successfully
	Phase string

	// Chunk is the number of chunks accepted so far
	Chunk int

	// TotalChunks is the number of chunks in the payload
	TotalChunks int

	// BytesSent is the number of payload bytes accepted so far
	BytesSent int

	// TotalBytes is the payload size
	TotalBytes int

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// ElapsedTime is the time elapsed since the session started
	ElapsedTime time.Duration
}

// ProgressCallback is called during a session to report progress.
// Implementations should return quickly; the transfer waits for them.
//
// Example:
//
//	prog := bootloader.New(open,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] %.1f%% - chunk %d/%d\n",
//	            p.Phase, p.Percentage, p.Chunk, p.TotalChunks)
//	    }),
//	)
type ProgressCallback func(Progress)

// Logger is an optional logging interface that can be provided to the programmer.
// *slog.Logger satisfies it.
//
// Example:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
//	prog := bootloader.New(open, bootloader.WithLogger(logger))
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...any)

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...any)

	// Warn logs a warning with optional key-value pairs
	Warn(msg string, keysAndValues ...any)

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...any)
}
