package serial

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// maxLineLength bounds the buffer kept while waiting for a delimiter. A
// device spewing bytes without ever sending one has its backlog dropped.
const maxLineLength = 64 * 1024

// Port is the part of a serial port the line reader needs. A Read that
// returns (0, nil) means no data arrived within the read timeout.
type Port interface {
	Read(p []byte) (int, error)
	Close() error
}

// Conn is an open line-oriented connection to one device.
type Conn interface {
	// ReadLines blocks, calling onLine for every complete line in arrival
	// order. It returns nil after Close and an error wrapping
	// ErrConnectionLost when the device fails or goes away.
	ReadLines(onLine func(line string)) error
	Close() error
}

// LineReader splits the byte stream of a Port into delimiter terminated
// lines. A trailing carriage return is stripped from each line.
type LineReader struct {
	port  Port
	delim []byte

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func NewLineReader(port Port, delimiter string) *LineReader {
	if delimiter == "" {
		delimiter = "\n"
	}
	return &LineReader{port: port, delim: []byte(delimiter)}
}

func (r *LineReader) ReadLines(onLine func(line string)) error {
	buf := make([]byte, 4096)
	var pending []byte

	for {
		n, err := r.port.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				idx := bytes.Index(pending, r.delim)
				if idx < 0 {
					break
				}
				line := string(pending[:idx])
				pending = pending[idx+len(r.delim):]
				onLine(strings.TrimSuffix(line, "\r"))
			}
			if len(pending) == 0 || len(pending) > maxLineLength {
				pending = nil
			}
		}

		if err != nil {
			if r.closed.Load() {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}
		if n == 0 && r.closed.Load() {
			return nil
		}
	}
}

// Close unblocks ReadLines. Calling it more than once is harmless.
func (r *LineReader) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.closeErr = r.port.Close()
	})
	return r.closeErr
}
