package device

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// clientConn is one connected configuration client.
type clientConn struct {
	id     string
	ip     string
	conn   *websocket.Conn
	send   chan any // string frames go out as text, anything else as JSON
	logger *zap.Logger

	mu            sync.Mutex
	authenticated bool
}

func (s *clientConn) setAuthenticated(on bool) {
	s.mu.Lock()
	s.authenticated = on
	s.mu.Unlock()
}

func (s *clientConn) isAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// hub tracks connected sessions.
type hub struct {
	mu       sync.RWMutex
	sessions map[*clientConn]struct{}
	logger   *zap.Logger
}

func newHub(logger *zap.Logger) *hub {
	return &hub{
		sessions: make(map[*clientConn]struct{}),
		logger:   logger,
	}
}

func (h *hub) register(s *clientConn) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("conn_id", s.id), zap.String("remote_ip", s.ip))
}

// unregister removes s and closes its send channel.
func (h *hub) unregister(s *clientConn) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; ok {
		delete(h.sessions, s)
		close(s.send)
	}
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("conn_id", s.id))
}

// reply queues a frame for s. A full buffer drops the frame.
func (h *hub) reply(s *clientConn, msg any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.sessions[s]; !ok {
		return
	}
	select {
	case s.send <- msg:
	default:
		h.logger.Warn("client send buffer full, dropping frame", zap.String("conn_id", s.id))
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// closeAll closes every session with a going-away status.
func (h *hub) closeAll() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.sessions))
	for s := range h.sessions {
		conns = append(conns, s.conn)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "device shutting down")
	}
}

// writePump drains the send channel onto the socket.
func (s *clientConn) writePump(ctx context.Context, timeout time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, timeout)
			var err error
			if text, isText := msg.(string); isText {
				err = s.conn.Write(writeCtx, websocket.MessageText, []byte(text))
			} else {
				err = wsjson.Write(writeCtx, s.conn, msg)
			}
			cancel()
			if err != nil {
				s.logger.Debug("websocket write error", zap.Error(err))
				return
			}
		}
	}
}
