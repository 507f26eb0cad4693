package conn

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/HerbHall/canconfig/internal/testutil"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const waitTimeout = 5 * time.Second

func nextEvent(t *testing.T, m *Manager) Event {
	t.Helper()
	select {
	case ev, ok := <-m.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("no event received")
		return Event{}
	}
}

func waitStatus(t *testing.T, m *Manager, want Status) {
	t.Helper()
	for {
		ev := nextEvent(t, m)
		if ev.Kind == EventStatus {
			require.Equal(t, want, ev.Status, "unexpected status transition")
			return
		}
	}
}

func TestNew_StartsConnecting(t *testing.T) {
	m := New(DefaultConfig(), zap.NewNop())
	assert.Equal(t, Connecting, m.Status())
	assert.Equal(t, "ws://127.0.0.1/ws_echo", m.URL())
}

func TestTrySend_BeforeOpenFailsWithoutWrite(t *testing.T) {
	peer := testutil.NewPeer(t, nil)
	m := New(Config{URL: peer.URL()}, zaptest.NewLogger(t))

	err := m.TrySend(context.Background(), "PW-1234")
	require.ErrorIs(t, err, ErrNotOpen)
	assert.Empty(t, peer.Frames())
	assert.Equal(t, Connecting, m.Status())
}

func TestTrySend_BeforeOpenNeverDials(t *testing.T) {
	dialed := false
	m := New(DefaultConfig(), zap.NewNop())
	m.dial = func(context.Context, string, *websocket.DialOptions) (*websocket.Conn, *http.Response, error) {
		dialed = true
		return nil, nil, errors.New("unreachable")
	}

	assert.ErrorIs(t, m.TrySend(context.Background(), "x"), ErrNotOpen)
	assert.False(t, dialed)
}

func TestManager_OpenSendReceive(t *testing.T) {
	peer := testutil.NewPeer(t, testutil.PasswordReplies("1234"))
	m := New(Config{URL: peer.URL()}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	waitStatus(t, m, Open)
	assert.Equal(t, Open, m.Status())

	require.NoError(t, m.TrySend(ctx, "PW-1234"))
	assert.Equal(t, "PW-1234", peer.Next(t, waitTimeout))

	ev := nextEvent(t, m)
	assert.Equal(t, EventFrame, ev.Kind)
	assert.Equal(t, "PW correct\x00", ev.Frame)
}

func TestManager_FramesArriveInOrder(t *testing.T) {
	peer := testutil.NewPeer(t, nil)
	m := New(Config{URL: peer.URL()}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	waitStatus(t, m, Open)
	peer.WaitAccepted(t, waitTimeout)

	want := []string{"one", "two", "three", "send successful\x00", "five"}
	for _, f := range want {
		require.NoError(t, peer.Push(ctx, f))
	}

	var got []string
	for len(got) < len(want) {
		ev := nextEvent(t, m)
		require.Equal(t, EventFrame, ev.Kind)
		got = append(got, ev.Frame)
	}
	assert.Equal(t, want, got)
}

func TestManager_PeerCloseIsTerminal(t *testing.T) {
	peer := testutil.NewPeer(t, nil)
	m := New(Config{URL: peer.URL()}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	waitStatus(t, m, Open)
	peer.WaitAccepted(t, waitTimeout)

	peer.CloseClient(websocket.StatusNormalClosure)
	waitStatus(t, m, Closed)

	_, ok := <-m.Events()
	assert.False(t, ok, "events channel should close after terminal status")
	assert.Equal(t, Closed, m.Status())
	assert.ErrorIs(t, m.TrySend(ctx, "late"), ErrNotOpen)

	// A closed manager cannot be restarted.
	m.Start(ctx)
	assert.Equal(t, Closed, m.Status())
}

func TestManager_DialFailureErrors(t *testing.T) {
	m := New(DefaultConfig(), zap.NewNop())
	dialErr := errors.New("connection refused")
	m.dial = func(context.Context, string, *websocket.DialOptions) (*websocket.Conn, *http.Response, error) {
		return nil, nil, dialErr
	}

	m.Start(context.Background())
	ev := nextEvent(t, m)
	assert.Equal(t, EventStatus, ev.Kind)
	assert.Equal(t, Errored, ev.Status)
	assert.ErrorIs(t, ev.Err, dialErr)
	assert.Equal(t, Errored, m.Status())
}

func TestManager_DroppedConnectionErrors(t *testing.T) {
	peer := testutil.NewPeer(t, nil)
	m := New(Config{URL: peer.URL()}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	waitStatus(t, m, Open)
	peer.WaitAccepted(t, waitTimeout)

	peer.DropClient()
	waitStatus(t, m, Errored)
	assert.Equal(t, Errored, m.Status())
}

func TestManager_CloseBeforeStart(t *testing.T) {
	m := New(DefaultConfig(), zap.NewNop())
	require.NoError(t, m.Close())
	assert.Equal(t, Closed, m.Status())

	ev := nextEvent(t, m)
	assert.Equal(t, Closed, ev.Status)
	require.NoError(t, m.Close())
}

func TestManager_LocalClose(t *testing.T) {
	peer := testutil.NewPeer(t, nil)
	m := New(Config{URL: peer.URL()}, zap.NewNop())

	m.Start(context.Background())
	waitStatus(t, m, Open)

	require.NoError(t, m.Close())
	waitStatus(t, m, Closed)
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status   Status
		want     string
		terminal bool
	}{
		{Connecting, "connecting", false},
		{Open, "open", false},
		{Closed, "closed", true},
		{Errored, "errored", true},
		{Status(42), "unknown", false},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
			assert.Equal(t, tt.terminal, tt.status.Terminal())
		})
	}
}
