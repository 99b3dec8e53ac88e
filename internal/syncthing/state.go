package syncthing

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of the supervised process.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

var (
	// ErrInvalidTransition is returned when the transition table does not
	// allow moving from the current state to the requested one.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInvalidState is returned by operations that are not valid in the
	// current lifecycle state.
	ErrInvalidState = errors.New("operation not valid in current state")
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// allowedTransition reports whether next may follow cur. Same-state requests
// are handled by the caller before this is consulted.
func allowedTransition(cur, next State) bool {
	switch cur {
	case StateStopped:
		return next == StateStarting
	case StateStarting:
		return next == StateRunning || next == StateStopped
	case StateRunning:
		return next == StateStopping || next == StateStopped
	case StateStopping:
		return next == StateStopped
	default:
		return false
	}
}

// watchersActive reports whether the event and connection watchers should be
// polling in state s.
func watchersActive(s State) bool {
	return s == StateStarting || s == StateRunning
}
