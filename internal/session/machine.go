// Package session tracks whether the device accepted the user's password.
package session

import (
	"sync"

	"github.com/HerbHall/canconfig/internal/codec"
	"github.com/HerbHall/canconfig/internal/conn"
	"go.uber.org/zap"
)

// State is the authentication state of the current connection.
type State int

const (
	Unauthenticated State = iota
	Authenticated
)

func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// ChangeFunc is called after every state change with the new state.
type ChangeFunc func(State)

// Machine is the only writer of the session state. Both states are steady;
// there is no timeout. The state only gates what the UI shows, it does not
// block sends.
type Machine struct {
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	onChange ChangeFunc
}

// NewMachine returns a machine in the Unauthenticated state. onChange may be nil.
func NewMachine(logger *zap.Logger, onChange ChangeFunc) *Machine {
	return &Machine{
		logger:   logger,
		state:    Unauthenticated,
		onChange: onChange,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// HandleNotification applies a decoded device frame. Only the password
// sentinels affect the state; everything else is ignored.
func (m *Machine) HandleNotification(n codec.Notification) State {
	switch n.Kind {
	case codec.PasswordAccepted:
		return m.set(Authenticated, "password accepted")
	case codec.PasswordRejected:
		return m.set(Unauthenticated, "password rejected")
	default:
		return m.State()
	}
}

// HandleStatus resets the session when the socket reaches Closed or Errored;
// a new connection has to authenticate again.
func (m *Machine) HandleStatus(s conn.Status) State {
	if s.Terminal() {
		return m.set(Unauthenticated, "connection "+s.String())
	}
	return m.State()
}

func (m *Machine) set(next State, reason string) State {
	m.mu.Lock()
	prev := m.state
	m.state = next
	cb := m.onChange
	m.mu.Unlock()

	if prev == next {
		return next
	}
	m.logger.Info("session state changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", next),
		zap.String("reason", reason),
	)
	if cb != nil {
		cb(next)
	}
	return next
}
