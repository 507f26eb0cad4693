package testutil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/canconfig/internal/codec"
	"github.com/coder/websocket"
)

// ReplyFunc returns the frames a Peer sends back for one received frame.
type ReplyFunc func(frame string) []string

// Peer is a scripted websocket endpoint standing in for the device.
// It accepts one client at a time, records every text frame it receives and
// answers with whatever its ReplyFunc returns.
type Peer struct {
	server *httptest.Server
	reply  ReplyFunc

	mu       sync.Mutex
	frames   []string
	conn     *websocket.Conn
	received chan string
	accepted chan struct{}
}

// NewPeer starts a peer. A nil reply answers nothing. The server is shut down
// when the test ends.
func NewPeer(t testing.TB, reply ReplyFunc) *Peer {
	t.Helper()

	p := &Peer{
		reply:    reply,
		received: make(chan string, 64),
		accepted: make(chan struct{}, 1),
	}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(func() {
		p.mu.Lock()
		c := p.conn
		p.mu.Unlock()
		if c != nil {
			_ = c.CloseNow()
		}
		p.server.Close()
	})
	return p
}

// URL returns the ws:// address of the peer.
func (p *Peer) URL() string {
	return "ws" + strings.TrimPrefix(p.server.URL, "http") + "/ws_echo"
}

// Frames returns every frame received so far, in arrival order.
func (p *Peer) Frames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.frames))
	copy(out, p.frames)
	return out
}

// WaitAccepted blocks until a client connects or the timeout elapses.
func (p *Peer) WaitAccepted(t testing.TB, timeout time.Duration) {
	t.Helper()
	select {
	case <-p.accepted:
	case <-time.After(timeout):
		t.Fatal("peer: no client connected")
	}
}

// Next returns the next received frame or fails the test after timeout.
func (p *Peer) Next(t testing.TB, timeout time.Duration) string {
	t.Helper()
	select {
	case f := <-p.received:
		return f
	case <-time.After(timeout):
		t.Fatal("peer: no frame received")
		return ""
	}
}

// Push sends an unsolicited text frame to the connected client.
func (p *Peer) Push(ctx context.Context, frame string) error {
	p.mu.Lock()
	c := p.conn
	p.mu.Unlock()
	if c == nil {
		return errors.New("peer: no client connected")
	}
	return c.Write(ctx, websocket.MessageText, []byte(frame))
}

// CloseClient closes the current client connection with the given status.
func (p *Peer) CloseClient(code websocket.StatusCode) {
	p.mu.Lock()
	c := p.conn
	p.mu.Unlock()
	if c != nil {
		_ = c.Close(code, "")
	}
}

// DropClient tears the TCP connection down without a close handshake.
func (p *Peer) DropClient() {
	p.mu.Lock()
	c := p.conn
	p.mu.Unlock()
	if c != nil {
		_ = c.CloseNow()
	}
}

func (p *Peer) handle(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.conn = c
	p.mu.Unlock()
	select {
	case p.accepted <- struct{}{}:
	default:
	}

	ctx := r.Context()
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		frame := string(data)
		p.mu.Lock()
		p.frames = append(p.frames, frame)
		p.mu.Unlock()
		select {
		case p.received <- frame:
		default:
		}

		if p.reply == nil {
			continue
		}
		for _, out := range p.reply(frame) {
			if err := c.Write(ctx, websocket.MessageText, []byte(out)); err != nil {
				return
			}
		}
	}
}

// PasswordReplies answers password frames like the device does: the correct
// sentinel when the password matches, the false sentinel otherwise.
func PasswordReplies(password string) ReplyFunc {
	return func(frame string) []string {
		pw, ok := strings.CutPrefix(frame, codec.PasswordPrefix)
		if !ok {
			return nil
		}
		if pw == password {
			return []string{codec.SentinelPasswordCorrect}
		}
		return []string{codec.SentinelPasswordFalse}
	}
}

// EchoRecognized answers a config frame with a fresh config frame carrying
// only the keys the device recognises, followed by the send acknowledgment.
func EchoRecognized(frame string) []string {
	req, err := codec.DecodeRequest(frame)
	if err != nil {
		return nil
	}
	update, ok := req.(codec.ConfigUpdate)
	if !ok {
		return nil
	}
	echo, err := codec.EncodeConfig(update.Config)
	if err != nil {
		return nil
	}
	return []string{echo, codec.SentinelSendSuccess}
}
