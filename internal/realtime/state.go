package realtime

import "encoding/json"

// State is the lifecycle state of a Manager's session.
type State int

const (
	StateIdle         State = iota // no socket, no timers
	StateConnecting                // handshake in flight
	StateConnected                 // socket open, heartbeat running
	StateReconnecting              // waiting on the backoff timer
	StateDisconnected              // server closed normally; no retry
	StateFailed                    // reconnect ceiling reached; terminal
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateReconnecting: "reconnecting",
	StateDisconnected: "disconnected",
	StateFailed:       "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Terminal reports whether the state requires an explicit Open to leave.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateFailed
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
