package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/moffa90/go-ota/protocol"
)

// silence is a scripted read that returns no data, as a timed-out port does.
const silence = -1

// scriptChannel answers each read with the next scripted response byte.
type scriptChannel struct {
	responses []int
	writes    [][]byte
	maxWrite  int

	timeout  time.Duration
	resets   int
	closed   int
	writeErr error
	readErr  error
	tmoErr   error
}

func (c *scriptChannel) Write(p []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	n := len(p)
	if c.maxWrite > 0 && n > c.maxWrite {
		n = c.maxWrite
	}
	c.writes = append(c.writes, bytes.Clone(p[:n]))
	return n, nil
}

func (c *scriptChannel) Read(p []byte) (int, error) {
	if c.readErr != nil {
		return 0, c.readErr
	}
	if len(c.responses) == 0 {
		return 0, nil
	}
	r := c.responses[0]
	c.responses = c.responses[1:]
	if r == silence {
		return 0, nil
	}
	p[0] = byte(r)
	return 1, nil
}

func (c *scriptChannel) SetReadTimeout(t time.Duration) error {
	if c.tmoErr != nil {
		return c.tmoErr
	}
	c.timeout = t
	return nil
}

func (c *scriptChannel) ResetInputBuffer() error {
	c.resets++
	return nil
}

func (c *scriptChannel) Close() error {
	c.closed++
	return nil
}

func acks(n int) []int {
	r := make([]int, n)
	for i := range r {
		r[i] = protocol.Ack
	}
	return r
}

func TestSplit(t *testing.T) {
	sizes := []int{1, 2, 7, 16, 255, 256, 257}
	lengths := []int{0, 1, 2, 255, 256, 257, 511, 512, 513, 1000, 4096}

	for _, size := range sizes {
		for _, l := range lengths {
			t.Run(fmt.Sprintf("L=%d/C=%d", l, size), func(t *testing.T) {
				payload := make([]byte, l)
				for i := range payload {
					payload[i] = byte(i * 7)
				}

				chunks := Split(payload, size)

				want := (l + size - 1) / size
				if len(chunks) != want {
					t.Fatalf("got %d chunks, want %d", len(chunks), want)
				}

				var joined []byte
				for i, c := range chunks {
					if c.Index != i {
						t.Errorf("chunk %d has index %d", i, c.Index)
					}
					if c.Offset != i*size {
						t.Errorf("chunk %d offset = %d, want %d", i, c.Offset, i*size)
					}
					if len(c.Data) > size {
						t.Errorf("chunk %d is %d bytes, limit %d", i, len(c.Data), size)
					}
					if i < len(chunks)-1 && len(c.Data) != size {
						t.Errorf("non-final chunk %d is %d bytes", i, len(c.Data))
					}
					joined = append(joined, c.Data...)
				}

				if !bytes.Equal(joined, payload) {
					t.Error("chunks do not reassemble the payload")
				}
			})
		}
	}
}

func TestSplitPanicsOnZeroSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for zero chunk size")
		}
	}()
	Split([]byte{1}, 0)
}

func TestSendAck(t *testing.T) {
	ch := &scriptChannel{responses: acks(1)}
	s := NewSender(ch, WithReadTimeout(250*time.Millisecond))

	if err := s.Send(context.Background(), ManifestUnit([]byte{1, 2, 3})); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(ch.writes) != 1 {
		t.Errorf("wrote %d times, want 1", len(ch.writes))
	}
	if ch.timeout != 250*time.Millisecond {
		t.Errorf("read timeout = %v", ch.timeout)
	}
	if s.State() != StateAcked {
		t.Errorf("State() = %v, want acked", s.State())
	}
	if s.MaxAttempts() != DefaultMaxAttempts {
		t.Errorf("MaxAttempts() = %d, want %d", s.MaxAttempts(), DefaultMaxAttempts)
	}
}

func TestSendRetransmitsIdenticalBytes(t *testing.T) {
	tests := []struct {
		name      string
		responses []int
		writes    int
		resets    int
	}{
		{"nack then ack", []int{protocol.Nack, protocol.Ack}, 2, 1},
		{"silence then ack", []int{silence, protocol.Ack}, 2, 1},
		{"garbage then ack", []int{0x00, protocol.Ack}, 2, 1},
		{"two failures then ack", []int{protocol.Nack, silence, protocol.Ack}, 3, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &scriptChannel{responses: tt.responses}
			s := NewSender(ch)
			data := []byte("chunk data")

			err := s.Send(context.Background(), ChunkUnit(Chunk{Index: 2, Offset: 512, Data: data}))
			if err != nil {
				t.Fatalf("Send() error = %v", err)
			}

			if len(ch.writes) != tt.writes {
				t.Fatalf("wrote %d times, want %d", len(ch.writes), tt.writes)
			}
			for i, w := range ch.writes {
				if !bytes.Equal(w, data) {
					t.Errorf("write %d = %q, want %q", i, w, data)
				}
			}
			if ch.resets != tt.resets {
				t.Errorf("input reset %d times, want %d", ch.resets, tt.resets)
			}
		})
	}
}

func TestSendRetryCeiling(t *testing.T) {
	tests := []struct {
		name         string
		attempts     int
		responses    []int
		wantLast     byte
		wantTimedOut bool
	}{
		{"three nacks", 3, []int{protocol.Nack, protocol.Nack, protocol.Nack}, protocol.Nack, false},
		{"silence", 3, []int{silence, silence, silence}, 0, true},
		{"ends in garbage", 2, []int{silence, 0x42}, 0x42, false},
		{"single attempt", 1, []int{protocol.Nack}, protocol.Nack, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// One extra ACK proves nothing is sent after the ceiling.
			ch := &scriptChannel{responses: append(tt.responses, protocol.Ack)}
			s := NewSender(ch, WithMaxAttempts(tt.attempts))
			if s.MaxAttempts() != tt.attempts {
				t.Fatalf("MaxAttempts() = %d, want %d", s.MaxAttempts(), tt.attempts)
			}

			err := s.Send(context.Background(), ChunkUnit(Chunk{Index: 3, Offset: 768, Data: []byte{9}}))
			if !errors.Is(err, ErrRejected) {
				t.Fatalf("Send() error = %v, want ErrRejected", err)
			}

			var rej *RejectedError
			if !errors.As(err, &rej) {
				t.Fatalf("error is %T, want *RejectedError", err)
			}
			want := &RejectedError{
				Kind:         protocol.UnitChunk,
				Index:        3,
				Offset:       768,
				Attempts:     tt.attempts,
				LastResponse: tt.wantLast,
				TimedOut:     tt.wantTimedOut,
			}
			if diff := cmp.Diff(want, rej); diff != "" {
				t.Errorf("RejectedError mismatch (-want +got):\n%s", diff)
			}

			if len(ch.writes) != tt.attempts {
				t.Errorf("wrote %d times, want %d", len(ch.writes), tt.attempts)
			}
			if s.State() != StateFailed {
				t.Errorf("State() = %v, want failed", s.State())
			}
		})
	}
}

func TestSendOnce(t *testing.T) {
	ch := &scriptChannel{responses: []int{protocol.Nack, protocol.Ack}}
	s := NewSender(ch)

	err := s.SendOnce(context.Background(), DigestUnit(make([]byte, protocol.DigestSize)))
	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("SendOnce() error = %v, want *RejectedError", err)
	}
	if rej.Attempts != 1 || rej.Kind != protocol.UnitDigest {
		t.Errorf("got %+v", rej)
	}
	if len(ch.writes) != 1 {
		t.Errorf("wrote %d times, want 1", len(ch.writes))
	}
}

func TestSendChannelErrors(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name   string
		ch     *scriptChannel
		wantOp string
	}{
		{"write", &scriptChannel{writeErr: boom}, "write"},
		{"read", &scriptChannel{readErr: boom}, "read"},
		{"timeout", &scriptChannel{tmoErr: boom}, "set timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSender(tt.ch)
			err := s.Send(context.Background(), ManifestUnit([]byte{1}))

			var chErr *ChannelError
			if !errors.As(err, &chErr) {
				t.Fatalf("Send() error = %v, want *ChannelError", err)
			}
			if chErr.Op != tt.wantOp {
				t.Errorf("Op = %q, want %q", chErr.Op, tt.wantOp)
			}
			if !errors.Is(err, boom) {
				t.Error("ChannelError does not unwrap to the cause")
			}
			if errors.Is(err, ErrRejected) {
				t.Error("channel failure reported as rejection")
			}
		})
	}
}

func TestSendShortWrites(t *testing.T) {
	ch := &scriptChannel{responses: acks(1), maxWrite: 3}
	s := NewSender(ch)
	data := []byte("0123456789")

	if err := s.Send(context.Background(), ManifestUnit(data)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if got := bytes.Join(ch.writes, nil); !bytes.Equal(got, data) {
		t.Errorf("wire bytes = %q, want %q", got, data)
	}
	if len(ch.writes) != 4 {
		t.Errorf("wrote %d times, want 4", len(ch.writes))
	}
}

func TestSendCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := &scriptChannel{responses: acks(1)}
	err := NewSender(ch).Send(ctx, ManifestUnit([]byte{1}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Send() error = %v, want context.Canceled", err)
	}
	if len(ch.writes) != 0 {
		t.Error("wrote after cancellation")
	}
}

func TestStateHook(t *testing.T) {
	type step struct {
		State   State
		Attempt int
	}

	ch := &scriptChannel{responses: []int{protocol.Nack, silence, protocol.Ack}}
	var got []step
	s := NewSender(ch, WithStateHook(func(u Unit, st State, attempt int) {
		got = append(got, step{st, attempt})
	}))

	if err := s.Send(context.Background(), ManifestUnit([]byte{1})); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	want := []step{
		{StateSendingUnit, 1}, {StateAwaitingAck, 1}, {StateNacked, 1},
		{StateSendingUnit, 2}, {StateAwaitingAck, 2}, {StateTimedOut, 2},
		{StateSendingUnit, 3}, {StateAwaitingAck, 3}, {StateAcked, 3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestStream(t *testing.T) {
	payload := make([]byte, 1000)
	ch := &scriptChannel{responses: acks(4)}
	s := NewSender(ch)

	var progress []Progress
	err := s.Stream(context.Background(), payload, 256, func(p Progress) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var sizes []int
	for _, w := range ch.writes {
		sizes = append(sizes, len(w))
	}
	if diff := cmp.Diff([]int{256, 256, 256, 232}, sizes); diff != "" {
		t.Errorf("chunk sizes mismatch (-want +got):\n%s", diff)
	}

	last := progress[len(progress)-1]
	if diff := cmp.Diff(Progress{BytesSent: 1000, TotalBytes: 1000, Chunk: 4, TotalChunks: 4}, last); diff != "" {
		t.Errorf("final progress mismatch (-want +got):\n%s", diff)
	}
}

func TestStreamStopsAtFailedChunk(t *testing.T) {
	payload := make([]byte, 1000)
	ch := &scriptChannel{responses: []int{
		protocol.Ack, protocol.Ack,
		protocol.Nack, protocol.Nack, protocol.Nack,
		protocol.Ack, protocol.Ack,
	}}
	s := NewSender(ch)

	err := s.Stream(context.Background(), payload, 256, nil)

	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("Stream() error = %v, want *RejectedError", err)
	}
	if rej.Index != 2 || rej.Offset != 512 {
		t.Errorf("rejected chunk %d at offset %d, want chunk 2 at 512", rej.Index, rej.Offset)
	}
	if len(ch.writes) != 5 {
		t.Errorf("wrote %d units, want 5 (nothing after the failed chunk)", len(ch.writes))
	}
}

func TestStateString(t *testing.T) {
	if got := StateAwaitingAck.String(); got != "awaiting-ack" {
		t.Errorf("String() = %q", got)
	}
	if got := State(99).String(); got != "state(99)" {
		t.Errorf("String() = %q", got)
	}
}

func TestRejectedErrorMessage(t *testing.T) {
	err := &RejectedError{Kind: protocol.UnitChunk, Index: 2, Offset: 512, Attempts: 3, LastResponse: protocol.Nack}
	want := "chunk 2 at offset 512 rejected after 3 attempts (last: nack)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	err = &RejectedError{Kind: protocol.UnitManifest, Attempts: 1, TimedOut: true}
	want = "manifest rejected after 1 attempts (last: no response)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestOpenDispatch(t *testing.T) {
	// A closed local port makes the TCP path fail fast without hardware.
	_, err := Open("tcp://127.0.0.1:1", 0)()
	if err == nil {
		t.Skip("something is listening on 127.0.0.1:1")
	}
	if want := "dial 127.0.0.1:1"; !bytes.Contains([]byte(err.Error()), []byte(want)) {
		t.Errorf("error = %v, want it to mention %q", err, want)
	}
}

// dialLoopback connects a tcpChannel to a local listener and returns the
// accepted server side.
func dialLoopback(t *testing.T) (Channel, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no loopback listener: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	ch, err := TCP(ln.Addr().String(), 0)()
	if err != nil {
		t.Fatalf("TCP() error = %v", err)
	}
	peer, ok := <-accepted
	if !ok {
		ch.Close()
		t.Fatal("accept failed")
	}
	t.Cleanup(func() {
		ch.Close()
		peer.Close()
	})
	return ch, peer
}

func TestTCPChannelSilentPeer(t *testing.T) {
	ch, _ := dialLoopback(t)

	if err := ch.SetReadTimeout(20 * time.Millisecond); err != nil {
		t.Fatalf("SetReadTimeout() error = %v", err)
	}

	start := time.Now()
	n, err := ch.Read(make([]byte, 1))
	if n != 0 || err != nil {
		t.Fatalf("Read() = (%d, %v), want (0, nil) on timeout", n, err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Read() returned after %v, before the timeout", elapsed)
	}
}

func TestTCPChannelResetDiscardsLateReplies(t *testing.T) {
	ch, peer := dialLoopback(t)

	if _, err := peer.Write([]byte{protocol.Nack, protocol.Nack}); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	// Let the bytes reach the client's receive buffer.
	time.Sleep(20 * time.Millisecond)

	r, ok := ch.(InputResetter)
	if !ok {
		t.Fatalf("%T does not implement InputResetter", ch)
	}
	if err := r.ResetInputBuffer(); err != nil {
		t.Fatalf("ResetInputBuffer() error = %v", err)
	}

	if err := ch.SetReadTimeout(20 * time.Millisecond); err != nil {
		t.Fatalf("SetReadTimeout() error = %v", err)
	}
	n, err := ch.Read(make([]byte, 1))
	if n != 0 || err != nil {
		t.Errorf("Read() after reset = (%d, %v), want (0, nil)", n, err)
	}

	// Fresh replies still get through.
	if _, err := peer.Write([]byte{protocol.Ack}); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	if err := ch.SetReadTimeout(time.Second); err != nil {
		t.Fatalf("SetReadTimeout() error = %v", err)
	}
	buf := make([]byte, 1)
	if n, err := ch.Read(buf); n != 1 || err != nil || buf[0] != protocol.Ack {
		t.Errorf("Read() = (%d, %v, 0x%02X), want the ACK", n, err, buf[0])
	}
}
