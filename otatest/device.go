// Package otatest provides an in-memory device that speaks the OTA wire
// protocol, for testing senders without hardware.
package otatest

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/moffa90/go-ota/payload"
	"github.com/moffa90/go-ota/protocol"
)

// ErrClosed is returned by I/O on a closed Device.
var ErrClosed = errors.New("device closed")

// Response selects how a faulted unit is answered.
type Response int

const (
	// RespondNack answers with the NACK byte
	RespondNack Response = iota

	// RespondSilence answers with nothing, as if the unit was lost
	RespondSilence

	// RespondGarbage answers with a byte that is neither ACK nor NACK
	RespondGarbage
)

// GarbageByte is the response sent for RespondGarbage.
const GarbageByte = 0xEE

// Fault makes the device refuse the unit at sequence position Unit the first
// Times it is received. Position 0 is the manifest, 1..n are chunks and n+1
// is the digest.
type Fault struct {
	Unit     int
	Response Response
	Times    int
}

// Option configures a Device.
type Option func(*Device)

// WithSuite sets the cipher the device decrypts with.
func WithSuite(s payload.Suite) Option {
	return func(d *Device) { d.suite = s }
}

// WithDigestAlgorithm sets the digest the device verifies.
func WithDigestAlgorithm(alg payload.DigestAlgorithm) Option {
	return func(d *Device) { d.digestAlg = alg }
}

// WithNonce sets a fixed nonce. The default is payload.ReferenceNonce.
func WithNonce(n []byte) Option {
	return func(d *Device) { d.nonce = n }
}

// WithDerivedNonce makes the device derive its nonce from the key and the
// manifest version.
func WithDerivedNonce() Option {
	return func(d *Device) { d.derive = true }
}

// WithChunkSize sets the device receive buffer. Default is 256.
func WithChunkSize(n int) Option {
	return func(d *Device) { d.chunkSize = n }
}

// WithInstalledVersion makes the device refuse manifests whose version is
// not greater than v.
func WithInstalledVersion(v uint32) Option {
	return func(d *Device) {
		d.installed = v
		d.hasInstalled = true
	}
}

// WithFault injects a fault. It may be given more than once.
func WithFault(f Fault) Option {
	return func(d *Device) { d.faults = append(d.faults, f) }
}

type phase int

const (
	awaitManifest phase = iota
	awaitChunk
	awaitDigest
	done
)

// Device simulates the bootloader side of a transfer. It implements
// transport.Channel.
type Device struct {
	mu sync.Mutex

	key          []byte
	nonce        []byte
	derive       bool
	suite        payload.Suite
	digestAlg    payload.DigestAlgorithm
	chunkSize    int
	installed    uint32
	hasInstalled bool
	faults       []Fault

	phase      phase
	seq        int
	seen       map[int]int
	pending    []byte
	responses  []byte
	manifest   *protocol.Manifest
	keystream  []byte
	ciphertext []byte
	flash      []byte
	verified   bool

	units   [][]byte
	timeout time.Duration
	resets  int
	closes  int
}

// NewDevice creates a device holding the given payload key.
func NewDevice(key []byte, opts ...Option) *Device {
	d := &Device{
		key:       key,
		nonce:     payload.ReferenceNonce,
		suite:     payload.SuiteAESGCM,
		digestAlg: payload.DigestSHA256,
		chunkSize: protocol.DefaultChunkSize,
		seen:      make(map[int]int),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Write feeds bytes to the device. Units may arrive split across any number
// of writes; each complete unit produces at most one response byte.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closes > 0 {
		return 0, ErrClosed
	}

	d.pending = append(d.pending, p...)
	for d.phase != done {
		size := d.expected()
		if len(d.pending) < size {
			break
		}
		unit := bytes.Clone(d.pending[:size])
		d.pending = d.pending[size:]
		d.units = append(d.units, unit)
		d.receive(unit)
	}
	return len(p), nil
}

// Read returns the next queued response byte, or (0, nil) when there is none,
// as a serial port does when its read timeout expires.
func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closes > 0 {
		return 0, ErrClosed
	}
	if len(d.responses) == 0 || len(p) == 0 {
		return 0, nil
	}
	n := copy(p, d.responses)
	d.responses = d.responses[n:]
	return n, nil
}

func (d *Device) SetReadTimeout(t time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeout = t
	return nil
}

// ResetInputBuffer drops queued responses.
func (d *Device) ResetInputBuffer() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses = nil
	d.resets++
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

// expected returns the size of the next unit.
func (d *Device) expected() int {
	switch d.phase {
	case awaitManifest:
		return protocol.ManifestSize
	case awaitChunk:
		return min(d.chunkSize, int(d.manifest.PayloadSize)-len(d.ciphertext))
	default:
		return protocol.DigestSize
	}
}

func (d *Device) receive(unit []byte) {
	d.seen[d.seq]++
	if f, ok := d.fault(d.seq, d.seen[d.seq]); ok {
		d.respondFault(f)
		return
	}

	var accept bool
	switch d.phase {
	case awaitManifest:
		accept = d.acceptManifest(unit)
	case awaitChunk:
		accept = d.acceptChunk(unit)
	case awaitDigest:
		accept = d.acceptDigest(unit)
	}

	if !accept {
		d.responses = append(d.responses, protocol.Nack)
		return
	}
	d.responses = append(d.responses, protocol.Ack)
	d.seq++
}

func (d *Device) fault(seq, count int) (Fault, bool) {
	for _, f := range d.faults {
		if f.Unit == seq && count <= f.Times {
			return f, true
		}
	}
	return Fault{}, false
}

func (d *Device) respondFault(f Fault) {
	switch f.Response {
	case RespondNack:
		d.responses = append(d.responses, protocol.Nack)
	case RespondGarbage:
		d.responses = append(d.responses, GarbageByte)
	}
}

func (d *Device) acceptManifest(unit []byte) bool {
	m, err := protocol.ParseManifest(unit)
	if err != nil || m.PayloadSize == 0 {
		return false
	}
	if d.hasInstalled && m.Version <= d.installed {
		return false
	}

	nonce := d.nonce
	if d.derive {
		if nonce, err = payload.DeriveNonce(d.key, m.Version); err != nil {
			return false
		}
	}

	// Decrypting zeros yields the keystream; chunks are XORed against it.
	ks, err := payload.Decrypt(d.suite, d.key, nonce, make([]byte, m.PayloadSize), nil)
	if err != nil {
		return false
	}

	d.manifest = m
	d.keystream = ks
	d.flash = make([]byte, 0, m.PayloadSize)
	d.phase = awaitChunk
	return true
}

func (d *Device) acceptChunk(unit []byte) bool {
	off := len(d.ciphertext)
	d.ciphertext = append(d.ciphertext, unit...)
	for i, b := range unit {
		d.flash = append(d.flash, b^d.keystream[off+i])
	}

	if len(d.ciphertext) == int(d.manifest.PayloadSize) {
		d.phase = awaitDigest
	}
	return true
}

func (d *Device) acceptDigest(unit []byte) bool {
	want := payload.Digest(d.digestAlg, d.ciphertext)
	if !bytes.Equal(unit, want[:]) {
		return false
	}
	d.verified = true
	d.phase = done
	return true
}

// Manifest returns the accepted manifest, or nil.
func (d *Device) Manifest() *protocol.Manifest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.manifest
}

// Flash returns the decrypted image and the address it was written to.
func (d *Device) Flash() (addr uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.manifest == nil {
		return 0, nil
	}
	return d.manifest.TargetAddress, bytes.Clone(d.flash)
}

// Verified reports whether the device accepted the digest.
func (d *Device) Verified() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.verified
}

// Units returns every complete unit received, retransmissions included.
func (d *Device) Units() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneUnits(d.units)
}

// Closes returns how many times Close was called.
func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// Resets returns how many times the input buffer was reset.
func (d *Device) Resets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

// ReadTimeout returns the timeout last set by the sender.
func (d *Device) ReadTimeout() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timeout
}

func (d *Device) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("otatest.Device{units: %d, received: %d, verified: %t}",
		len(d.units), len(d.ciphertext), d.verified)
}

func cloneUnits(units [][]byte) [][]byte {
	out := make([][]byte, len(units))
	for i, u := range units {
		out[i] = bytes.Clone(u)
	}
	return out
}
