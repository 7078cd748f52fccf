package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"go.bug.st/serial"
	"golang.org/x/net/ipv4"
)

// DialTimeout bounds how long TCP waits for the bridge to accept a connection.
const DialTimeout = 5 * time.Second

// Channel is a duplex byte stream to the device.
//
// A read that sees no data within the configured timeout returns (0, nil),
// which is how go.bug.st/serial ports behave.
type Channel interface {
	io.ReadWriter

	// SetReadTimeout bounds how long a single Read waits for data
	SetReadTimeout(t time.Duration) error

	// Close releases the channel
	Close() error
}

// InputResetter is implemented by channels that can discard bytes received but
// not yet read.
type InputResetter interface {
	ResetInputBuffer() error
}

// OpenFunc opens a channel. A session calls it once at start.
type OpenFunc func() (Channel, error)

// Serial returns an OpenFunc for a serial port at the given baud rate, 8N1.
//
// Example:
//
//	prog := bootloader.New(transport.Serial("/dev/ttyUSB0", 115200))
func Serial(name string, baud int) OpenFunc {
	return func() (Channel, error) {
		mode := &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		port, err := serial.Open(name, mode)
		if err != nil {
			return nil, fmt.Errorf("open serial port %s: %w", name, err)
		}
		return port, nil
	}
}

// TCP returns an OpenFunc for a raw serial-over-TCP bridge such as ser2net.
// A non-zero dscp marks outgoing packets with that DSCP value.
func TCP(addr string, dscp int) OpenFunc {
	return func() (Channel, error) {
		conn, err := net.DialTimeout("tcp", addr, DialTimeout)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}

		// Units are small and strictly request/response.
		if tc, ok := conn.(*net.TCPConn); ok {
			if err := tc.SetNoDelay(true); err != nil {
				conn.Close()
				return nil, fmt.Errorf("set TCP_NODELAY: %w", err)
			}
		}

		if dscp > 0 {
			// DSCP occupies the upper six bits of the TOS byte.
			if err := ipv4.NewConn(conn).SetTOS(dscp << 2); err != nil {
				conn.Close()
				return nil, fmt.Errorf("set DSCP %d: %w", dscp, err)
			}
		}

		return &tcpChannel{conn: conn}, nil
	}
}

// Open picks Serial or TCP from the identifier: "tcp://host:port" dials a
// bridge, anything else is a serial device path.
func Open(ident string, baud int) OpenFunc {
	if addr, ok := strings.CutPrefix(ident, "tcp://"); ok {
		return TCP(addr, 0)
	}
	return Serial(ident, baud)
}

// Ports lists the serial ports present on the host.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}

// tcpChannel adapts a net.Conn to the Channel timeout contract.
type tcpChannel struct {
	conn    net.Conn
	timeout time.Duration
}

func (c *tcpChannel) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}

	n, err := c.conn.Read(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}

func (c *tcpChannel) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

func (c *tcpChannel) SetReadTimeout(t time.Duration) error {
	c.timeout = t
	return nil
}

// ResetInputBuffer discards whatever the bridge has already delivered.
func (c *tcpChannel) ResetInputBuffer() error {
	if err := c.drain(); err != nil {
		_ = c.conn.SetReadDeadline(time.Time{})
		return err
	}
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return fmt.Errorf("clear read deadline: %w", err)
	}
	return nil
}

func (c *tcpChannel) drain() error {
	buf := make([]byte, 256)
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
			return err
		}
		n, err := c.conn.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil
			}
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func (c *tcpChannel) Close() error {
	return c.conn.Close()
}
