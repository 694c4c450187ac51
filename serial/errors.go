package serial

import (
	"errors"
	"io"
	"strings"

	gobug "go.bug.st/serial"
)

var (
	// ErrNotFound is returned by Resolve when no attached port reports the
	// requested serial number.
	ErrNotFound = errors.New("no serial port with matching serial number")

	// ErrConnectionLost is wrapped by ReadLines when the port fails or the
	// peer goes away. It is never returned for a read that simply had no
	// data yet.
	ErrConnectionLost = errors.New("serial connection lost")
)

// IsDisconnect reports whether err means the device went away, as opposed
// to a configuration or permission problem.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionLost) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}

	if code, ok := portErrorCode(err); ok {
		switch code {
		case gobug.PortNotFound, gobug.PortClosed, gobug.InvalidSerialPort:
			return true
		default:
			return false
		}
	}

	// OS level errors that the serial library passes through unwrapped
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "input/output error") ||
		strings.Contains(msg, "no such device") ||
		strings.Contains(msg, "device not configured") ||
		strings.Contains(msg, "broken pipe")
}

// portErrorCode extracts the code of a go.bug.st PortError. The library
// returns both pointer and value forms.
func portErrorCode(err error) (gobug.PortErrorCode, bool) {
	var ptr *gobug.PortError
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Code(), true
	}
	var val gobug.PortError
	if errors.As(err, &val) {
		return val.Code(), true
	}
	return 0, false
}
