package serial

import (
	"fmt"
	"time"

	gobug "go.bug.st/serial"
)

// Transport opens real serial ports as line connections.
type Transport struct {
	// ReadTimeout bounds each blocking read so an idle device is told apart
	// from a lost one. Zero blocks until data or an error.
	ReadTimeout time.Duration
	Delimiter   string
}

// Dial opens path at baudRate, 8N1.
func (t Transport) Dial(path string, baudRate int) (Conn, error) {
	port, err := gobug.Open(path, &gobug.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   gobug.NoParity,
		StopBits: gobug.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if t.ReadTimeout > 0 {
		if err := port.SetReadTimeout(t.ReadTimeout); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
		}
	}

	return NewLineReader(port, t.Delimiter), nil
}
