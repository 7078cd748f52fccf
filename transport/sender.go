package transport

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/moffa90/go-ota/protocol"
)

// Default sender settings.
const (
	DefaultMaxAttempts = 3
	DefaultReadTimeout = time.Second
)

// Unit is one framed transmission answered by a single response byte.
type Unit struct {
	Kind   protocol.UnitKind
	Index  int
	Offset int
	Data   []byte
}

// ManifestUnit wraps an encoded manifest.
func ManifestUnit(b []byte) Unit {
	return Unit{Kind: protocol.UnitManifest, Data: b}
}

// ChunkUnit wraps a payload chunk.
func ChunkUnit(c Chunk) Unit {
	return Unit{Kind: protocol.UnitChunk, Index: c.Index, Offset: c.Offset, Data: c.Data}
}

// DigestUnit wraps the final verification digest.
func DigestUnit(b []byte) Unit {
	return Unit{Kind: protocol.UnitDigest, Data: b}
}

// State is the position of the Sender in its per-unit state machine.
type State int

const (
	StateIdle State = iota
	StateSendingUnit
	StateAwaitingAck
	StateAcked
	StateNacked
	StateTimedOut
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSendingUnit:
		return "sending"
	case StateAwaitingAck:
		return "awaiting-ack"
	case StateAcked:
		return "acked"
	case StateNacked:
		return "nacked"
	case StateTimedOut:
		return "timed-out"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateHook observes every state transition. Attempt counts from 1.
type StateHook func(u Unit, s State, attempt int)

// Progress reports stream delivery after each accepted chunk.
type Progress struct {
	BytesSent   int
	TotalBytes  int
	Chunk       int
	TotalChunks int
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithMaxAttempts sets how many times a unit is transmitted before it is
// reported as rejected. Values below 1 are ignored.
func WithMaxAttempts(n int) SenderOption {
	return func(s *Sender) {
		if n >= 1 {
			s.maxAttempts = n
		}
	}
}

// WithReadTimeout sets how long to wait for each response byte.
func WithReadTimeout(d time.Duration) SenderOption {
	return func(s *Sender) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// WithStateHook installs an observer for state transitions.
func WithStateHook(h StateHook) SenderOption {
	return func(s *Sender) {
		s.hook = h
	}
}

// Sender delivers units over a channel, one blocking round trip at a time.
// It is not safe for concurrent use.
type Sender struct {
	ch          Channel
	maxAttempts int
	readTimeout time.Duration
	hook        StateHook

	state   State
	armed   bool
	respBuf [1]byte
}

// NewSender creates a Sender on an open channel. The Sender does not own the
// channel and never closes it.
func NewSender(ch Channel, opts ...SenderOption) *Sender {
	s := &Sender{
		ch:          ch,
		maxAttempts: DefaultMaxAttempts,
		readTimeout: DefaultReadTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the state reached by the last transition.
func (s *Sender) State() State {
	return s.state
}

// MaxAttempts returns the configured attempt limit.
func (s *Sender) MaxAttempts() int {
	return s.maxAttempts
}

// Send transmits u until it is acknowledged or the attempt limit is reached.
// Every attempt writes the same bytes. A channel failure ends the exchange
// immediately with a *ChannelError; exhausting the attempts returns a
// *RejectedError.
func (s *Sender) Send(ctx context.Context, u Unit) error {
	return s.send(ctx, u, s.maxAttempts)
}

// SendOnce transmits u exactly once.
func (s *Sender) SendOnce(ctx context.Context, u Unit) error {
	return s.send(ctx, u, 1)
}

// Stream delivers payload as consecutive chunks of chunkSize bytes, stopping
// at the first chunk that is not accepted. fn, if non-nil, is called after
// every accepted chunk.
func (s *Sender) Stream(ctx context.Context, payload []byte, chunkSize int, fn func(Progress)) error {
	chunks := Split(payload, chunkSize)

	sent := 0
	for _, c := range chunks {
		if err := s.Send(ctx, ChunkUnit(c)); err != nil {
			return err
		}

		sent += len(c.Data)
		if fn != nil {
			fn(Progress{
				BytesSent:   sent,
				TotalBytes:  len(payload),
				Chunk:       c.Index + 1,
				TotalChunks: len(chunks),
			})
		}
	}
	return nil
}

func (s *Sender) send(ctx context.Context, u Unit, attempts int) error {
	if err := s.arm(); err != nil {
		return err
	}

	var (
		last     byte
		timedOut bool
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if attempt > 1 {
			if err := s.resetInput(); err != nil {
				s.enter(u, StateFailed, attempt)
				return &ChannelError{Op: "reset input", Err: err}
			}
		}

		s.enter(u, StateSendingUnit, attempt)
		if err := s.writeAll(u.Data); err != nil {
			s.enter(u, StateFailed, attempt)
			return &ChannelError{Op: "write", Err: err}
		}

		s.enter(u, StateAwaitingAck, attempt)
		b, ok, err := s.readResponse()
		if err != nil {
			s.enter(u, StateFailed, attempt)
			return &ChannelError{Op: "read", Err: err}
		}

		switch {
		case !ok:
			last, timedOut = 0, true
			s.enter(u, StateTimedOut, attempt)
		case b == protocol.Ack:
			s.enter(u, StateAcked, attempt)
			return nil
		default:
			last, timedOut = b, false
			s.enter(u, StateNacked, attempt)
		}
	}

	s.enter(u, StateFailed, attempts)
	return &RejectedError{
		Kind:         u.Kind,
		Index:        u.Index,
		Offset:       u.Offset,
		Attempts:     attempts,
		LastResponse: last,
		TimedOut:     timedOut,
	}
}

// arm applies the read timeout once per Sender.
func (s *Sender) arm() error {
	if s.armed {
		return nil
	}
	if err := s.ch.SetReadTimeout(s.readTimeout); err != nil {
		return &ChannelError{Op: "set timeout", Err: err}
	}
	s.armed = true
	return nil
}

func (s *Sender) writeAll(b []byte) error {
	for len(b) > 0 {
		n, err := s.ch.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}

// readResponse reads one byte. ok is false when nothing arrived in time.
func (s *Sender) readResponse() (b byte, ok bool, err error) {
	n, err := s.ch.Read(s.respBuf[:])
	if err != nil {
		return 0, false, err
	}
	if n == 0 {
		return 0, false, nil
	}
	return s.respBuf[0], true, nil
}

func (s *Sender) resetInput() error {
	if r, ok := s.ch.(InputResetter); ok {
		return r.ResetInputBuffer()
	}
	return nil
}

func (s *Sender) enter(u Unit, st State, attempt int) {
	s.state = st
	if s.hook != nil {
		s.hook(u, st, attempt)
	}
}
