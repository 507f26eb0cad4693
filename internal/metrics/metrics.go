// Package metrics defines the Prometheus collectors for the configuration
// client and the device emulator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "canconfig"

// Client holds the collectors updated by the configuration client.
type Client struct {
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	sendFailures   *prometheus.CounterVec
	connStatus     prometheus.Gauge
	authenticated  prometheus.Gauge
}

// NewClient creates the client collectors and registers them on reg.
func NewClient(reg prometheus.Registerer) *Client {
	m := &Client{
		framesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_sent_total",
				Help:      "Frames handed to the websocket, by request kind.",
			},
			[]string{"kind"},
		),
		framesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_received_total",
				Help:      "Frames received from the device, by decoded kind.",
			},
			[]string{"kind"},
		),
		sendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "send_failures_total",
				Help:      "Sends that did not reach the transport, by reason.",
			},
			[]string{"reason"},
		),
		connStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_status",
			Help:      "Websocket status: 0 connecting, 1 open, 2 closed, 3 errored.",
		}),
		authenticated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_authenticated",
			Help:      "1 while the device has accepted the password.",
		}),
	}
	reg.MustRegister(m.framesSent, m.framesReceived, m.sendFailures, m.connStatus, m.authenticated)
	return m
}

func (m *Client) FrameSent(kind string)     { m.framesSent.WithLabelValues(kind).Inc() }
func (m *Client) FrameReceived(kind string) { m.framesReceived.WithLabelValues(kind).Inc() }
func (m *Client) SendFailed(reason string)  { m.sendFailures.WithLabelValues(reason).Inc() }
func (m *Client) ConnectionStatus(code int) { m.connStatus.Set(float64(code)) }

func (m *Client) Authenticated(on bool) {
	if on {
		m.authenticated.Set(1)
		return
	}
	m.authenticated.Set(0)
}

// Device holds the collectors updated by the device emulator.
type Device struct {
	requests    *prometheus.CounterVec
	passwords   *prometheus.CounterVec
	connections prometheus.Gauge
}

// NewDevice creates the emulator collectors and registers them on reg.
func NewDevice(reg prometheus.Registerer) *Device {
	m := &Device{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "device",
				Name:      "requests_total",
				Help:      "Frames received by the emulator, by request kind.",
			},
			[]string{"kind"},
		),
		passwords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "device",
				Name:      "password_attempts_total",
				Help:      "Password submissions, by result.",
			},
			[]string{"result"},
		),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
	}
	reg.MustRegister(m.requests, m.passwords, m.connections)
	return m
}

func (m *Device) Request(kind string)           { m.requests.WithLabelValues(kind).Inc() }
func (m *Device) PasswordAttempt(result string) { m.passwords.WithLabelValues(result).Inc() }
func (m *Device) Connected()                    { m.connections.Inc() }
func (m *Device) Disconnected()                 { m.connections.Dec() }

// Handler exposes the collectors gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
