package session

import (
	"github.com/projectqai/sonar/dispatch"
)

type State int

const (
	StateIdle State = iota
	StateSearching
	StateConnecting
	StateConnected
	StateClosing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// StateChange is passed to watchers on every transition.
type StateChange struct {
	Device dispatch.Device
	From   State
	To     State
	// Err is the reason for leaving Connected, nil when stop was requested.
	Err error
}
