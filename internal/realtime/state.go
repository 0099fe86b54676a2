package realtime

import "time"

// ConnectionState is the Manager's view of its channel.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	// StateDegraded means a channel is up over the polling transport.
	StateDegraded
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Online reports whether a channel is up.
func (s ConnectionState) Online() bool {
	return s == StateConnected || s == StateDegraded
}

// EventConnectionState is dispatched through the Router on every transition.
const EventConnectionState = "connection_state"

// StateChange is the payload of EventConnectionState.
type StateChange struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Transport string    `json:"transport,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}
