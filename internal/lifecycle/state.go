package lifecycle

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrGuildBusy is returned when a guild already has a session in a
	// different channel, or one that is disconnecting.
	ErrGuildBusy = errors.New("lifecycle: guild already has an active session")

	// ErrNoSession is returned when a guild has no connected session.
	ErrNoSession = errors.New("lifecycle: no active session")

	// ErrInvalidTransition is returned for a state change the machine does
	// not allow.
	ErrInvalidTransition = errors.New("lifecycle: invalid state transition")

	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("lifecycle: manager closed")

	// ErrSessionRemoved is returned by a connect that was overtaken by a
	// forced removal of its session.
	ErrSessionRemoved = errors.New("lifecycle: session removed while connecting")
)

// State is the connection status of a session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

// String returns the lower-case state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CanTransition reports whether the machine allows s → to. Connecting may
// fall back to Disconnected when the connect fails; every other edge moves
// forward around the cycle.
func (s State) CanTransition(to State) bool {
	switch s {
	case Disconnected:
		return to == Connecting
	case Connecting:
		return to == Connected || to == Disconnected
	case Connected:
		return to == Disconnecting
	case Disconnecting:
		return to == Disconnected
	}
	return false
}

// Transition describes one state change, as passed to the hook registered
// with [WithTransitionHook].
type Transition struct {
	SessionID string
	GuildID   string
	ChannelID string
	From      State
	To        State
	At        time.Time
}
