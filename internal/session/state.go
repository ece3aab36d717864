package session

// State is the room-membership state machine:
// Idle -> Connecting -> Connected -> Idle. Connecting may fall back to
// Idle with a reported error. Reconnecting to the same room is the
// caller's business, not the manager's.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}
