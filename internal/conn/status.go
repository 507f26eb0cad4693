package conn

// Status is the lifecycle state of the device websocket. It is derived from
// socket events only.
type Status int

const (
	Connecting Status = iota
	Open
	Closed
	Errored
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen for this socket.
func (s Status) Terminal() bool {
	return s == Closed || s == Errored
}

// EventKind discriminates manager events.
type EventKind int

const (
	// EventStatus reports a status transition.
	EventStatus EventKind = iota
	// EventFrame carries one inbound text frame.
	EventFrame
)

// Event is delivered on Manager.Events in the order things happened on the
// socket: the Open transition precedes every frame, and the terminal
// transition follows the last one.
type Event struct {
	Kind   EventKind
	Status Status // set for EventStatus
	Frame  string // set for EventFrame
	Err    error  // cause of an Errored transition, if known
}
