package modem

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=modem

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"i4.energy/across/bg95ctl/at"
)

// maxLineLength bounds a single response line. HTTP bodies are read line by
// line, so this is generous.
const maxLineLength = 64 * 1024

// Port represents an established, bidirectional byte stream to a modem.
//
// A Port is assumed to be already connected and ready for use. Read must
// honour the timeout set with SetReadTimeout and return (0, nil) when it
// elapses without data, as go.bug.st/serial ports do. Typical
// implementations include serial ports, websocket bridges, or in-memory
// fakes used for testing.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Transport is the line-oriented view of a Port used by the Engine.
//
// Every read is bounded by an explicit timeout; there is no blocking read
// without a deadline. Once closed, every call fails with ErrClosed.
type Transport interface {
	// WriteLine writes text followed by a carriage return.
	WriteLine(text string) error
	// Write writes p verbatim, without any framing.
	Write(p []byte) error
	// ReadLine returns the next line with its terminator and surrounding
	// whitespace stripped. It fails with ErrReadTimeout when no complete
	// line arrives within timeout.
	ReadLine(timeout time.Duration) (string, error)
	// Close closes the underlying Port.
	Close() error
}

// Dialer opens a Port to a modem.
//
// Dialer abstracts how the modem connection is created (for example, via a
// serial port, a websocket bridge, or a test double) and is intended to be
// used during modem construction only. Once a Port is obtained, the Dialer
// is no longer needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Port. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the port cannot be
	// established.
	Dial(ctx context.Context) (Port, error)
}

type lineTransport struct {
	port   Port
	buf    []byte
	chunk  []byte
	closed bool
}

// NewTransport frames the byte stream of port into lines.
func NewTransport(port Port) Transport {
	return &lineTransport{
		port:  port,
		chunk: make([]byte, 512),
	}
}

func (t *lineTransport) WriteLine(text string) error {
	return t.Write([]byte(strings.TrimSpace(text) + at.CR))
}

func (t *lineTransport) Write(p []byte) error {
	if t.closed {
		return ErrClosed
	}
	n, err := t.port.Write(p)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if n != len(p) {
		return fmt.Errorf("write %d of %d bytes: %w", n, len(p), ErrShortWrite)
	}
	return nil
}

func (t *lineTransport) ReadLine(timeout time.Duration) (string, error) {
	if t.closed {
		return "", ErrClosed
	}

	deadline := time.Now().Add(timeout)
	for {
		if line, ok := t.next(); ok {
			return line, nil
		}
		if len(t.buf) > maxLineLength {
			t.buf = t.buf[:0]
			return "", ErrLineTooLong
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ErrReadTimeout
		}
		if err := t.port.SetReadTimeout(remaining); err != nil {
			return "", fmt.Errorf("set read timeout: %w", err)
		}

		n, err := t.port.Read(t.chunk)
		if err != nil {
			return "", fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			return "", ErrReadTimeout
		}
		t.buf = append(t.buf, t.chunk[:n]...)
	}
}

// next pops one complete line off the buffer.
func (t *lineTransport) next() (string, bool) {
	if bytes.IndexByte(t.buf, '\n') < 0 {
		return "", false
	}
	advance, token, _ := at.Splitter(t.buf, false)
	line := strings.TrimSpace(string(token))
	t.buf = t.buf[advance:]
	return line, true
}

func (t *lineTransport) Close() error {
	if t.closed {
		return ErrClosed
	}
	t.closed = true
	return t.port.Close()
}
