// Package client wires the connection manager, codec, session state machine
// and UI reflector into one event loop. Every socket event, user action and
// timer callback is handled to completion on that loop, one at a time.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/HerbHall/canconfig/internal/codec"
	"github.com/HerbHall/canconfig/internal/conn"
	"github.com/HerbHall/canconfig/internal/event"
	"github.com/HerbHall/canconfig/internal/session"
	"github.com/HerbHall/canconfig/internal/ui"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Topics published on the bus.
const (
	TopicConnStatus   = "conn.status"         // payload conn.Status
	TopicAuthState    = "session.state"       // payload session.State
	TopicNotification = "device.notification" // payload codec.Notification
	TopicFrameSent    = "frame.sent"          // payload codec.OutboundKind
	TopicSendFailed   = "frame.send_failed"   // payload SendFailure
)

// SendFailure describes an outbound request that never reached the transport.
type SendFailure struct {
	Kind codec.OutboundKind
	Err  error
}

// Recorder receives counters from the client. metrics.Client implements it.
type Recorder interface {
	FrameSent(kind string)
	FrameReceived(kind string)
	SendFailed(reason string)
	ConnectionStatus(code int)
	Authenticated(on bool)
}

type nopRecorder struct{}

func (nopRecorder) FrameSent(string)     {}
func (nopRecorder) FrameReceived(string) {}
func (nopRecorder) SendFailed(string)    {}
func (nopRecorder) ConnectionStatus(int) {}
func (nopRecorder) Authenticated(bool)   {}

// Config holds client settings.
type Config struct {
	Conn     conn.Config
	AckFlash time.Duration
}

// Page is what the client needs from the page: somewhere to render and a
// form to read user input from.
type Page interface {
	ui.Surface
	ui.Form
}

// Client is one configuration session against one device.
type Client struct {
	id        string
	logger    *zap.Logger
	manager   *conn.Manager
	session   *session.Machine
	reflector *ui.Reflector
	form      ui.Form
	bus       *event.Bus
	metrics   Recorder

	// status is the connection status the loop last finished handling.
	// It moves only after the session has seen the same event, so Closed is
	// never observed together with Authenticated.
	mu     sync.RWMutex
	status conn.Status

	actions chan func(context.Context)
	done    chan struct{}
	runOnce sync.Once
}

// New creates a client. bus and rec may be nil.
func New(cfg Config, page Page, bus *event.Bus, rec Recorder, logger *zap.Logger) *Client {
	id := uuid.NewString()
	logger = logger.With(zap.String("session_id", id))
	if bus == nil {
		bus = event.NewBus(logger.Named("event"))
	}
	if rec == nil {
		rec = nopRecorder{}
	}

	c := &Client{
		id:      id,
		logger:  logger,
		manager: conn.New(cfg.Conn, logger.Named("conn")),
		form:    page,
		bus:     bus,
		metrics: rec,
		actions: make(chan func(context.Context), 64),
		done:    make(chan struct{}),
	}
	c.status = c.manager.Status()
	c.reflector = ui.NewReflector(page, c.schedule, cfg.AckFlash, logger.Named("ui"))
	c.session = session.NewMachine(logger.Named("session"), c.authChanged)
	return c
}

// ID returns the session identifier used in log entries.
func (c *Client) ID() string { return c.id }

// Status returns the connection status as processed by the event loop.
func (c *Client) Status() conn.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// AuthState returns the session authentication state.
func (c *Client) AuthState() session.State { return c.session.State() }

// Bus returns the bus the client publishes on.
func (c *Client) Bus() *event.Bus { return c.bus }

// Run connects and processes events until ctx is cancelled. The loop keeps
// serving user actions after the socket closes; only a new Client reconnects.
func (c *Client) Run(ctx context.Context) error {
	started := false
	c.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("client already ran")
	}
	defer close(c.done)

	c.logger.Info("connecting to device", zap.String("url", c.manager.URL()))
	c.reflector.ConnectionChanged(c.Status())
	c.manager.Start(ctx)

	events := c.manager.Events()
	for {
		select {
		case <-ctx.Done():
			_ = c.manager.Close()
			c.logger.Info("client stopped")
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handleConnEvent(ctx, ev)
		case fn := <-c.actions:
			fn(ctx)
		}
	}
}

// SubmitPassword sends the password field's content.
func (c *Client) SubmitPassword() {
	c.call(func(ctx context.Context) {
		c.send(ctx, codec.PasswordSubmission{Password: c.form.Value(ui.IDPassword)})
	})
}

// SendValues sends the configuration currently entered in the form.
func (c *Client) SendValues() {
	c.call(func(ctx context.Context) {
		c.send(ctx, codec.ConfigUpdate{Config: ui.SnapshotConfig(c.form)})
	})
}

// FetchValues asks the device for its stored configuration.
func (c *Client) FetchValues() {
	c.call(func(ctx context.Context) {
		c.send(ctx, codec.FetchRequest{})
	})
}

// ToggleDHCP reflects the DHCP checkbox onto the address fields. It is local
// to the page and sends nothing.
func (c *Client) ToggleDHCP() {
	c.call(func(context.Context) {
		c.reflector.DHCPToggled(c.form.Checked(ui.IDDHCP))
	})
}

// call runs fn on the event loop and waits for it. It returns false if the
// loop is not running.
func (c *Client) call(fn func(context.Context)) bool {
	finished := make(chan struct{})
	select {
	case c.actions <- func(ctx context.Context) { fn(ctx); close(finished) }:
	case <-c.done:
		return false
	}
	select {
	case <-finished:
		return true
	case <-c.done:
		return false
	}
}

// schedule is the reflector's timer: fn runs on the event loop after d.
func (c *Client) schedule(d time.Duration, fn func()) {
	time.AfterFunc(d, func() {
		select {
		case c.actions <- func(context.Context) { fn() }:
		case <-c.done:
		}
	})
}

func (c *Client) send(ctx context.Context, req codec.Outbound) {
	frame, err := codec.Encode(req)
	if err != nil {
		c.logger.Error("encode request failed", zap.String("kind", string(req.Kind())), zap.Error(err))
		return
	}

	if err := c.manager.TrySend(ctx, frame); err != nil {
		reason := "transport"
		if errors.Is(err, conn.ErrNotOpen) {
			reason = "not_open"
		}
		c.metrics.SendFailed(reason)
		c.bus.Publish(ctx, TopicSendFailed, SendFailure{Kind: req.Kind(), Err: err})
		return
	}
	c.metrics.FrameSent(string(req.Kind()))
	c.bus.Publish(ctx, TopicFrameSent, req.Kind())
}

func (c *Client) handleConnEvent(ctx context.Context, ev conn.Event) {
	switch ev.Kind {
	case conn.EventStatus:
		c.logger.Info("connection status", zap.Stringer("status", ev.Status))
		c.metrics.ConnectionStatus(int(ev.Status))
		c.reflector.ConnectionChanged(ev.Status)
		c.bus.Publish(ctx, TopicConnStatus, ev.Status)
		c.session.HandleStatus(ev.Status)
		c.mu.Lock()
		c.status = ev.Status
		c.mu.Unlock()
	case conn.EventFrame:
		n := codec.DecodeNotification(ev.Frame)
		c.metrics.FrameReceived(n.Kind.String())
		switch n.Kind {
		case codec.SendAck:
			c.reflector.SendAcknowledged()
		case codec.PasswordAccepted, codec.PasswordRejected:
			c.session.HandleNotification(n)
		default:
			c.logger.Debug("ignoring unrecognized frame", zap.Int("len", len(n.Raw)))
		}
		c.bus.Publish(ctx, TopicNotification, n)
	}
}

// authChanged runs on the event loop whenever the session state changes.
func (c *Client) authChanged(s session.State) {
	c.reflector.AuthChanged(s)
	c.metrics.Authenticated(s == session.Authenticated)
	c.bus.Publish(context.Background(), TopicAuthState, s)
}
