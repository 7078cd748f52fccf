// Package config reads the otaflash configuration file.
package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/moffa90/go-ota/bootloader"
	"github.com/moffa90/go-ota/payload"
	"github.com/moffa90/go-ota/protocol"
	"github.com/moffa90/go-ota/signing"
	"github.com/moffa90/go-ota/transport"
)

// Defaults for settings the library leaves to the caller.
const (
	DefaultBaud        = 115200
	DefaultAddress     = "0x08008000"
	DefaultSettleDelay = 2 * time.Second
)

// Config is the otaflash configuration. Zero values mean "use the default".
type Config struct {
	// Port is a serial device path or tcp://host:port
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`

	// DSCP marks TCP traffic; ignored for serial ports
	DSCP int `yaml:"dscp"`

	// Address is the target flash address, decimal or 0x-prefixed hex
	Address string `yaml:"address"`

	ChunkSize   int           `yaml:"chunk_size"`
	Retries     int           `yaml:"retries"`
	Timeout     time.Duration `yaml:"timeout"`
	SettleDelay time.Duration `yaml:"settle_delay"`

	// Key and Nonce are hex encoded
	Key         string `yaml:"key"`
	Nonce       string `yaml:"nonce"`
	DeriveNonce bool   `yaml:"derive_nonce"`

	Suite   string `yaml:"suite"`
	Digest  string `yaml:"digest"`
	Version string `yaml:"version"`

	// SignKey is the path of a hex Ed25519 seed file
	SignKey string `yaml:"sign_key"`

	// RetryVerification defaults to true
	RetryVerification *bool `yaml:"retry_verification"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Baud:        DefaultBaud,
		Address:     DefaultAddress,
		ChunkSize:   protocol.DefaultChunkSize,
		Retries:     transport.DefaultMaxAttempts,
		Timeout:     transport.DefaultReadTimeout,
		SettleDelay: DefaultSettleDelay,
	}
}

// Load reads a YAML file over the defaults. Unknown keys are an error.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field without touching the filesystem or the port.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("baud rate %d must be positive", c.Baud)
	}
	if c.DSCP < 0 || c.DSCP > 63 {
		return fmt.Errorf("dscp %d is outside 0..63", c.DSCP)
	}
	if _, err := c.TargetAddress(); err != nil {
		return err
	}
	if c.ChunkSize < 1 || c.ChunkSize > protocol.MaxChunkSize {
		return fmt.Errorf("chunk size %d is outside 1..%d", c.ChunkSize, protocol.MaxChunkSize)
	}
	if c.Retries < 1 {
		return fmt.Errorf("retries %d must be at least 1", c.Retries)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout %s must be positive", c.Timeout)
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("settle delay %s must not be negative", c.SettleDelay)
	}

	if c.Key == "" {
		return errors.New("key is required")
	}
	if _, err := hex.DecodeString(c.Key); err != nil {
		return fmt.Errorf("key: %w", err)
	}
	if c.Nonce != "" {
		if c.DeriveNonce {
			return errors.New("nonce and derive_nonce are mutually exclusive")
		}
		n, err := hex.DecodeString(c.Nonce)
		if err != nil {
			return fmt.Errorf("nonce: %w", err)
		}
		if len(n) != payload.NonceSize {
			return fmt.Errorf("nonce must be %d bytes, got %d", payload.NonceSize, len(n))
		}
	}

	if _, err := payload.ParseSuite(c.Suite); err != nil {
		return err
	}
	if _, err := payload.ParseDigestAlgorithm(c.Digest); err != nil {
		return err
	}
	if c.Version != "" {
		if _, err := protocol.ParseVersion(c.Version); err != nil {
			return fmt.Errorf("version: %w", err)
		}
	}
	return nil
}

// TargetAddress parses Address.
func (c *Config) TargetAddress() (uint64, error) {
	s := c.Address
	if s == "" {
		s = DefaultAddress
	}
	addr, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("address %q: %w", c.Address, err)
	}
	return addr, nil
}

// Open returns the channel opener for Port.
func (c *Config) Open() transport.OpenFunc {
	if c.DSCP > 0 {
		if addr, ok := strings.CutPrefix(c.Port, "tcp://"); ok {
			return transport.TCP(addr, c.DSCP)
		}
	}
	return transport.Open(c.Port, c.Baud)
}

// Options translates the configuration into programmer options. Validate
// should be called first.
func (c *Config) Options() ([]bootloader.Option, error) {
	key, err := hex.DecodeString(c.Key)
	if err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}
	suite, err := payload.ParseSuite(c.Suite)
	if err != nil {
		return nil, err
	}
	digest, err := payload.ParseDigestAlgorithm(c.Digest)
	if err != nil {
		return nil, err
	}

	opts := []bootloader.Option{
		bootloader.WithKey(key),
		bootloader.WithSuite(suite),
		bootloader.WithDigestAlgorithm(digest),
		bootloader.WithChunkSize(c.ChunkSize),
		bootloader.WithMaxAttempts(c.Retries),
		bootloader.WithReadTimeout(c.Timeout),
		bootloader.WithSettleDelay(c.SettleDelay),
	}

	if c.Version != "" {
		v, err := protocol.ParseVersion(c.Version)
		if err != nil {
			return nil, fmt.Errorf("version: %w", err)
		}
		opts = append(opts, bootloader.WithVersion(v))
	}

	switch {
	case c.DeriveNonce:
		opts = append(opts, bootloader.WithDerivedNonce())
	case c.Nonce != "":
		n, err := hex.DecodeString(c.Nonce)
		if err != nil {
			return nil, fmt.Errorf("nonce: %w", err)
		}
		opts = append(opts, bootloader.WithNonce(n))
	}

	if c.SignKey != "" {
		signer, err := signing.LoadEd25519(c.SignKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, bootloader.WithSigner(signer))
	}

	if c.RetryVerification != nil {
		opts = append(opts, bootloader.WithRetryVerification(*c.RetryVerification))
	}

	return opts, nil
}
