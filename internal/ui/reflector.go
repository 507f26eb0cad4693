package ui

import (
	"time"

	"github.com/HerbHall/canconfig/internal/conn"
	"github.com/HerbHall/canconfig/internal/session"
	"go.uber.org/zap"
)

// Rendering constants.
const (
	ClassOn  = "on"
	ClassOff = "off"

	TextConnected    = "Connected"
	TextDisconnected = "Disconnected"

	ColorAck      = "green"
	ColorLocked   = "#CCCCCC"
	ColorEditable = "white"
)

// DefaultAckFlash is how long the send button stays highlighted after the
// device acknowledges a configuration update.
const DefaultAckFlash = 3 * time.Second

// Scheduler runs fn once after d. The client passes one that posts fn back
// onto its event loop.
type Scheduler func(d time.Duration, fn func())

// Reflector renders connection and session state onto a Surface. It never
// reads the page back.
type Reflector struct {
	surface  Surface
	schedule Scheduler
	flash    time.Duration
	logger   *zap.Logger
}

// NewReflector creates a reflector. A nil schedule falls back to
// time.AfterFunc; a non-positive flash uses DefaultAckFlash.
func NewReflector(surface Surface, schedule Scheduler, flash time.Duration, logger *zap.Logger) *Reflector {
	if schedule == nil {
		schedule = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	}
	if flash <= 0 {
		flash = DefaultAckFlash
	}
	return &Reflector{
		surface:  surface,
		schedule: schedule,
		flash:    flash,
		logger:   logger,
	}
}

// ConnectionChanged toggles the indicator. Only Open renders as connected;
// Connecting looks the same as disconnected.
func (r *Reflector) ConnectionChanged(s conn.Status) {
	if s == conn.Open {
		r.surface.SetClass(IDConnectionStatus, ClassOn, ClassOff)
		r.surface.SetText(IDConnectionText, TextConnected)
		return
	}
	r.surface.SetClass(IDConnectionStatus, ClassOff, ClassOn)
	r.surface.SetText(IDConnectionText, TextDisconnected)
}

// AuthChanged shows the password-gated panel while authenticated.
func (r *Reflector) AuthChanged(s session.State) {
	r.surface.SetVisible(IDPasswordItems, s == session.Authenticated)
}

// SendAcknowledged flashes the send button and schedules its reset. Flashes
// are not cancelled: two acks in quick succession race, and the earlier
// reset may clear the later highlight.
func (r *Reflector) SendAcknowledged() {
	r.surface.SetBackground(IDSendButton, ColorAck)
	r.schedule(r.flash, func() {
		r.surface.SetBackground(IDSendButton, "")
	})
	r.logger.Debug("send acknowledged", zap.Duration("flash", r.flash))
}

// DHCPToggled locks the address fields while DHCP is enabled.
func (r *Reflector) DHCPToggled(enabled bool) {
	color := ColorEditable
	if enabled {
		color = ColorLocked
	}
	for _, id := range []string{IDIP4Address, IDNetMask} {
		r.surface.SetDisabled(id, enabled)
		r.surface.SetBackground(id, color)
	}
}
