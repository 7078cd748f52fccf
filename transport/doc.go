// Package transport delivers protocol units over a byte channel and collects
// the device's one-byte verdict for each.
//
// # Channels
//
// A Channel is any duplex byte stream with a bounded read. Serial ports opened
// with go.bug.st/serial satisfy it directly; TCP wraps a serial-over-TCP bridge:
//
//	open := transport.Open("/dev/ttyUSB0", 115200)
//	open := transport.Open("tcp://10.0.0.7:4001", 0)
//
// # Sending
//
// A Sender writes a unit, reads exactly one response byte and retransmits the
// identical bytes on NACK, on any unexpected byte, or on silence:
//
//	s := transport.NewSender(ch, transport.WithMaxAttempts(3))
//	if err := s.Send(ctx, transport.ManifestUnit(b)); err != nil {
//	    var rej *transport.RejectedError
//	    if errors.As(err, &rej) {
//	        // the device refused the manifest
//	    }
//	}
//
// Stream splits a payload into chunks and sends them in order, stopping at
// the first chunk the device does not accept.
package transport
