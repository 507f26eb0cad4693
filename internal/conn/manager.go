// Package conn owns the single websocket connection to the device.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// ErrNotOpen is returned by TrySend when the socket is not in the Open state.
var ErrNotOpen = errors.New("websocket is not open")

// Config holds connection parameters.
type Config struct {
	URL          string        `mapstructure:"url"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ReadLimit caps inbound frame size in bytes. Zero keeps the library default.
	ReadLimit int64 `mapstructure:"read_limit"`
}

// DefaultConfig returns the connection defaults.
func DefaultConfig() Config {
	return Config{
		URL:          "ws://127.0.0.1/ws_echo",
		DialTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

type dialFunc func(ctx context.Context, url string, opts *websocket.DialOptions) (*websocket.Conn, *http.Response, error)

// Manager establishes and monitors one websocket connection. It is the only
// writer of the connection status and the only holder of the socket. Once
// the status is Closed or Errored the manager stays there; a new Manager is
// needed to connect again.
type Manager struct {
	cfg    Config
	logger *zap.Logger
	dial   dialFunc

	mu      sync.RWMutex
	status  Status
	conn    *websocket.Conn
	cancel  context.CancelFunc
	started bool
	closing bool

	events chan Event
}

// New creates a manager in the Connecting state. Nothing is dialled until Start.
func New(cfg Config, logger *zap.Logger) *Manager {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultConfig().DialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
		dial:   websocket.Dial,
		status: Connecting,
		events: make(chan Event, 256),
	}
}

// Events returns the ordered stream of status transitions and inbound frames.
// The channel is closed after the terminal status event.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// URL returns the configured endpoint.
func (m *Manager) URL() string {
	return m.cfg.URL
}

// Start dials the endpoint and pumps inbound frames in the background until
// the socket closes or ctx is cancelled. Calling Start twice is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started || m.status.Terminal() {
		m.mu.Unlock()
		return
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	go m.run(ctx)
}

// Close shuts the connection down with a normal closure. The status becomes
// Closed once the read loop observes it.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closing = true
	c := m.conn
	cancel := m.cancel
	idle := !m.started
	m.started = true
	m.mu.Unlock()

	if idle {
		m.transition(context.Background(), Closed, nil)
		close(m.events)
		return nil
	}

	if c != nil {
		if err := c.Close(websocket.StatusNormalClosure, ""); err != nil {
			m.logger.Debug("websocket close", zap.Error(err))
		}
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// TrySend writes payload as a text frame. It fails with ErrNotOpen, without
// touching the network, unless the status is Open. Success means the local
// transport accepted the frame, not that the device acknowledged it.
func (m *Manager) TrySend(ctx context.Context, payload string) error {
	m.mu.RLock()
	status := m.status
	c := m.conn
	m.mu.RUnlock()

	if status != Open || c == nil {
		m.logger.Error("websocket is not open, dropping frame",
			zap.Stringer("status", status),
			zap.Int("len", len(payload)),
		)
		return ErrNotOpen
	}

	writeCtx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()
	if err := c.Write(writeCtx, websocket.MessageText, []byte(payload)); err != nil {
		m.logger.Warn("websocket write failed", zap.Int("len", len(payload)), zap.Error(err))
		return fmt.Errorf("write frame: %w", err)
	}
	m.logger.Debug("frame sent", zap.Int("len", len(payload)))
	return nil
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.events)

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	c, _, err := m.dial(dialCtx, m.cfg.URL, nil)
	cancel()
	if err != nil {
		if m.isClosing() {
			m.transition(ctx, Closed, nil)
			return
		}
		m.logger.Warn("websocket dial failed", zap.String("url", m.cfg.URL), zap.Error(err))
		m.transition(ctx, Errored, err)
		return
	}
	if m.cfg.ReadLimit > 0 {
		c.SetReadLimit(m.cfg.ReadLimit)
	}

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		_ = c.Close(websocket.StatusNormalClosure, "")
		m.transition(ctx, Closed, nil)
		return
	}
	m.conn = c
	m.mu.Unlock()

	m.logger.Info("websocket open", zap.String("url", m.cfg.URL))
	m.transition(ctx, Open, nil)

	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			m.finish(ctx, c, err)
			return
		}
		if typ != websocket.MessageText {
			m.logger.Debug("ignoring binary frame", zap.Int("len", len(data)))
			continue
		}
		m.emit(ctx, Event{Kind: EventFrame, Frame: string(data)})
	}
}

// finish records the terminal status after the read loop ends.
func (m *Manager) finish(ctx context.Context, c *websocket.Conn, readErr error) {
	m.mu.Lock()
	closing := m.closing
	m.conn = nil
	m.mu.Unlock()

	code := websocket.CloseStatus(readErr)
	switch {
	case closing, ctx.Err() != nil:
		_ = c.Close(websocket.StatusNormalClosure, "")
		m.transition(ctx, Closed, nil)
	case code != -1:
		m.logger.Info("websocket closed by peer",
			zap.Int("code", int(code)),
		)
		m.transition(ctx, Closed, nil)
	default:
		m.logger.Warn("websocket error", zap.Error(readErr))
		_ = c.CloseNow()
		m.transition(ctx, Errored, readErr)
	}
}

func (m *Manager) isClosing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closing
}

// transition updates the status and emits it. Terminal states are sticky.
func (m *Manager) transition(ctx context.Context, next Status, cause error) {
	m.mu.Lock()
	if m.status.Terminal() || m.status == next {
		m.mu.Unlock()
		return
	}
	prev := m.status
	m.status = next
	m.mu.Unlock()

	m.logger.Debug("connection status changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", next),
	)
	m.emit(ctx, Event{Kind: EventStatus, Status: next, Err: cause})
}

func (m *Manager) emit(ctx context.Context, ev Event) {
	select {
	case m.events <- ev:
	case <-ctx.Done():
		// Terminal transitions must still reach a consumer that is draining.
		if ev.Kind == EventStatus && ev.Status.Terminal() {
			select {
			case m.events <- ev:
			default:
			}
		}
	}
}
