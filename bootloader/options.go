package bootloader

import (
	"time"

	"github.com/moffa90/go-ota/payload"
	"github.com/moffa90/go-ota/protocol"
	"github.com/moffa90/go-ota/signing"
	"github.com/moffa90/go-ota/transport"
)

// Config holds the programmer configuration. It is fixed once New returns.
type Config struct {
	// ProgressCallback is called during a session to report progress (optional)
	ProgressCallback ProgressCallback

	// Logger is used for logging operations (optional)
	Logger Logger

	// ReadTimeout bounds the wait for each response byte
	ReadTimeout time.Duration

	// ChunkSize is the number of ciphertext bytes per chunk unit
	ChunkSize int

	// MaxAttempts is the number of transmissions per unit before giving up
	MaxAttempts int

	// Key is the symmetric payload key
	Key []byte

	// Nonce is the payload nonce; nil selects payload.ReferenceNonce
	Nonce []byte

	// DeriveNonce derives the nonce from Key and Version instead of using Nonce
	DeriveNonce bool

	Suite  payload.Suite
	Digest payload.DigestAlgorithm

	// Version is the manifest version field
	Version uint32

	// Signer fills the manifest signature (optional)
	Signer signing.Signer

	// SettleDelay is waited after opening the channel, before the manifest
	SettleDelay time.Duration

	// RetryVerification applies MaxAttempts to the digest unit as well;
	// when false the digest is sent exactly once
	RetryVerification bool
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		ReadTimeout:       transport.DefaultReadTimeout,
		ChunkSize:         protocol.DefaultChunkSize,
		MaxAttempts:       transport.DefaultMaxAttempts,
		Suite:             payload.SuiteAESGCM,
		Digest:            payload.DigestSHA256,
		Version:           protocol.DefaultVersion,
		RetryVerification: true,
	}
}

// Option is a functional option for configuring the Programmer.
type Option func(*Config)

// WithProgressCallback sets a callback function to track transfer progress.
//
// Example:
//
//	prog := bootloader.New(open,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for the programmer operations.
//
// Example:
//
//	prog := bootloader.New(open, bootloader.WithLogger(slog.Default()))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithReadTimeout sets how long to wait for each response byte.
// Default is 1 second.
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.ReadTimeout = timeout
	}
}

// WithChunkSize sets the chunk size in bytes. Default is 256, the device
// receive buffer. Values outside 1..65536 make Program fail with a ConfigError.
//
// Example:
//
//	prog := bootloader.New(open, bootloader.WithChunkSize(128))
func WithChunkSize(size int) Option {
	return func(c *Config) {
		c.ChunkSize = size
	}
}

// WithMaxAttempts sets how many times a unit is sent before the session fails.
// Default is 3.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		c.MaxAttempts = n
	}
}

// WithKey sets the payload encryption key.
func WithKey(key []byte) Option {
	return func(c *Config) {
		c.Key = key
	}
}

// WithNonce sets a fixed payload nonce. Without this option the reference
// nonce is used. Either way a warning is logged on every session, since a
// fixed nonce repeats across images.
func WithNonce(nonce []byte) Option {
	return func(c *Config) {
		c.Nonce = nonce
		c.DeriveNonce = false
	}
}

// WithDerivedNonce derives the nonce from the key and the manifest version.
// The device must derive it the same way.
func WithDerivedNonce() Option {
	return func(c *Config) {
		c.DeriveNonce = true
	}
}

// WithSuite selects the payload cipher. Default is AES-GCM.
func WithSuite(s payload.Suite) Option {
	return func(c *Config) {
		c.Suite = s
	}
}

// WithDigestAlgorithm selects the verification digest. Default is SHA-256.
func WithDigestAlgorithm(alg payload.DigestAlgorithm) Option {
	return func(c *Config) {
		c.Digest = alg
	}
}

// WithVersion sets the manifest version. Default is 1.
//
// Example:
//
//	v, _ := protocol.ParseVersion("1.4.2")
//	prog := bootloader.New(open, bootloader.WithVersion(v))
func WithVersion(v uint32) Option {
	return func(c *Config) {
		c.Version = v
	}
}

// WithSigner signs the manifest. The signature covers the manifest header,
// the ciphertext digest and the AEAD tag.
func WithSigner(s signing.Signer) Option {
	return func(c *Config) {
		c.Signer = s
	}
}

// WithSettleDelay waits after opening the channel so a device that resets on
// open can reach its bootloader.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Config) {
		c.SettleDelay = d
	}
}

// WithRetryVerification controls whether the digest unit is retried like any
// other unit. Default is true; false sends it once.
func WithRetryVerification(retry bool) Option {
	return func(c *Config) {
		c.RetryVerification = retry
	}
}
