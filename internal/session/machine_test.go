package session

import (
	"testing"

	"github.com/HerbHall/canconfig/internal/codec"
	"github.com/HerbHall/canconfig/internal/conn"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type recorder struct {
	states []State
}

func (r *recorder) record(s State) { r.states = append(r.states, s) }

func note(kind codec.NotificationKind) codec.Notification {
	return codec.Notification{Kind: kind}
}

func TestNewMachine_StartsUnauthenticated(t *testing.T) {
	m := NewMachine(zap.NewNop(), nil)
	assert.Equal(t, Unauthenticated, m.State())
}

func TestMachine_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		steps   []codec.NotificationKind
		want    State
		changes []State
	}{
		{
			name:    "accepted",
			steps:   []codec.NotificationKind{codec.PasswordAccepted},
			want:    Authenticated,
			changes: []State{Authenticated},
		},
		{
			name:    "accepted then rejected",
			steps:   []codec.NotificationKind{codec.PasswordAccepted, codec.PasswordRejected},
			want:    Unauthenticated,
			changes: []State{Authenticated, Unauthenticated},
		},
		{
			name:    "rejected while unauthenticated is a no-op",
			steps:   []codec.NotificationKind{codec.PasswordRejected, codec.PasswordRejected, codec.PasswordRejected},
			want:    Unauthenticated,
			changes: nil,
		},
		{
			name:    "ack and unrecognized are ignored",
			steps:   []codec.NotificationKind{codec.SendAck, codec.Unrecognized, codec.PasswordAccepted, codec.SendAck},
			want:    Authenticated,
			changes: []State{Authenticated},
		},
		{
			name:    "revisitable",
			steps:   []codec.NotificationKind{codec.PasswordAccepted, codec.PasswordRejected, codec.PasswordAccepted},
			want:    Authenticated,
			changes: []State{Authenticated, Unauthenticated, Authenticated},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			m := NewMachine(zap.NewNop(), rec.record)
			for _, k := range tt.steps {
				m.HandleNotification(note(k))
			}
			assert.Equal(t, tt.want, m.State())
			assert.Equal(t, tt.changes, rec.states)
		})
	}
}

func TestMachine_DisconnectResets(t *testing.T) {
	for _, status := range []conn.Status{conn.Closed, conn.Errored} {
		t.Run(status.String(), func(t *testing.T) {
			rec := &recorder{}
			m := NewMachine(zap.NewNop(), rec.record)
			m.HandleNotification(note(codec.PasswordAccepted))

			got := m.HandleStatus(status)

			assert.Equal(t, Unauthenticated, got)
			assert.Equal(t, Unauthenticated, m.State())
			assert.Equal(t, []State{Authenticated, Unauthenticated}, rec.states)
		})
	}
}

func TestMachine_NonTerminalStatusKeepsState(t *testing.T) {
	m := NewMachine(zap.NewNop(), nil)
	m.HandleNotification(note(codec.PasswordAccepted))

	assert.Equal(t, Authenticated, m.HandleStatus(conn.Open))
	assert.Equal(t, Authenticated, m.HandleStatus(conn.Connecting))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "authenticated", Authenticated.String())
	assert.Equal(t, "unauthenticated", Unauthenticated.String())
}
