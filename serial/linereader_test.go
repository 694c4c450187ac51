package serial

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

type chunk struct {
	data string
	err  error
}

// chanPort replays chunks and fails reads once closed.
type chanPort struct {
	reads  chan chunk
	closed chan struct{}
	once   sync.Once
	rest   string
	closes int
	mu     sync.Mutex
}

func newChanPort(chunks ...chunk) *chanPort {
	p := &chanPort{
		reads:  make(chan chunk, len(chunks)+8),
		closed: make(chan struct{}),
	}
	for _, c := range chunks {
		p.reads <- c
	}
	return p
}

func (p *chanPort) Read(b []byte) (int, error) {
	if p.rest != "" {
		n := copy(b, p.rest)
		p.rest = p.rest[n:]
		return n, nil
	}

	select {
	case c := <-p.reads:
		n := copy(b, c.data)
		if n < len(c.data) {
			p.rest = c.data[n:]
			return n, nil
		}
		return n, c.err
	case <-p.closed:
		return 0, errors.New("port closed")
	}
}

func (p *chanPort) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	p.once.Do(func() { close(p.closed) })
	return nil
}

func collect(r *LineReader) ([]string, error) {
	var lines []string
	err := r.ReadLines(func(line string) { lines = append(lines, line) })
	return lines, err
}

func TestLineReader_SplitsAcrossReads(t *testing.T) {
	port := newChanPort(
		chunk{data: "10"},
		chunk{data: "0\n20"},
		chunk{data: "0\r\n300\n4"},
		chunk{err: io.EOF},
	)
	r := NewLineReader(port, "\n")

	lines, err := collect(r)
	if !errors.Is(err, ErrConnectionLost) {
		t.Errorf("expected ErrConnectionLost, got %v", err)
	}
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected cause to be kept, got %v", err)
	}

	want := []string{"100", "200", "300"}
	if strings.Join(lines, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, lines)
	}
}

func TestLineReader_EmptyReadIsNotLoss(t *testing.T) {
	port := newChanPort(
		chunk{},
		chunk{},
		chunk{data: "512\n"},
		chunk{},
	)
	r := NewLineReader(port, "")

	got := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- r.ReadLines(func(line string) { got <- line })
	}()

	select {
	case line := <-got:
		if line != "512" {
			t.Errorf("expected 512, got %q", line)
		}
	case <-time.After(time.Second):
		t.Fatal("line not delivered")
	}

	select {
	case err := <-done:
		t.Fatalf("empty reads must not end the reader, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil after Close, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reader did not stop after Close")
	}
}

func TestLineReader_CustomDelimiter(t *testing.T) {
	port := newChanPort(chunk{data: "1;2;;3"}, chunk{err: io.ErrUnexpectedEOF})
	r := NewLineReader(port, ";")

	lines, err := collect(r)
	if !errors.Is(err, ErrConnectionLost) {
		t.Errorf("expected ErrConnectionLost, got %v", err)
	}
	if strings.Join(lines, "|") != "1|2|" {
		t.Errorf("unexpected lines %q", lines)
	}
}

func TestLineReader_CloseIdempotent(t *testing.T) {
	port := newChanPort()
	r := NewLineReader(port, "\n")

	for i := 0; i < 3; i++ {
		if err := r.Close(); err != nil {
			t.Fatal(err)
		}
	}
	if port.closes != 1 {
		t.Errorf("expected port to be closed once, got %d", port.closes)
	}

	lines, err := collect(r)
	if err != nil || len(lines) != 0 {
		t.Errorf("closed reader should return nil immediately, got %v %v", lines, err)
	}
}

func TestLineReader_DropsOverlongBacklog(t *testing.T) {
	junk := strings.Repeat("x", maxLineLength+1)
	port := newChanPort(chunk{data: junk}, chunk{data: "7\n"}, chunk{err: io.EOF})
	r := NewLineReader(port, "\n")

	// the junk arrives over several 4096 byte reads
	lines, _ := collect(r)
	if len(lines) == 0 || lines[len(lines)-1] != "7" {
		t.Fatalf("expected trailing line 7, got %d lines", len(lines))
	}
	if len(lines[len(lines)-1]) > maxLineLength {
		t.Error("backlog should have been dropped")
	}
}

func TestIsDisconnect(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{io.EOF, true},
		{ErrConnectionLost, true},
		{errors.New("read /dev/ttyUSB0: input/output error"), true},
		{errors.New("open /dev/ttyUSB0: permission denied"), false},
	}
	for _, c := range cases {
		if got := IsDisconnect(c.err); got != c.want {
			t.Errorf("IsDisconnect(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
