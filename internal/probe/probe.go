// Package probe checks that the device answers ICMP echo before the client
// opens its websocket.
package probe

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"
)

// Config holds probe settings.
type Config struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Count   int           `mapstructure:"count"`
}

// DefaultConfig returns the probe defaults.
func DefaultConfig() Config {
	return Config{Timeout: 2 * time.Second, Count: 3}
}

// Result is the outcome of one probe.
type Result struct {
	Host     string
	Addr     string
	Alive    bool
	RTT      time.Duration
	Sent     int
	Received int
	TTL      int
}

// Pinger sends ICMP echo requests.
type Pinger struct {
	cfg    Config
	logger *zap.Logger
}

// NewPinger creates a pinger. Non-positive settings fall back to the defaults.
func NewPinger(cfg Config, logger *zap.Logger) *Pinger {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Count <= 0 {
		cfg.Count = def.Count
	}
	return &Pinger{cfg: cfg, logger: logger}
}

// Ping probes host. An unreachable host is not an error; Alive reports it.
func (p *Pinger) Ping(ctx context.Context, host string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{Host: host}, err
	}

	pinger, err := probing.NewPinger(host)
	if err != nil {
		return Result{Host: host}, fmt.Errorf("resolve %q: %w", host, err)
	}
	pinger.Count = p.cfg.Count
	pinger.Timeout = p.cfg.Timeout
	// Unprivileged UDP pings on Linux and macOS; Windows needs raw sockets.
	pinger.SetPrivileged(runtime.GOOS == "windows")

	var ttl int
	pinger.OnRecv = func(pkt *probing.Packet) {
		if ttl == 0 {
			ttl = pkt.TTL
		}
	}

	done := make(chan error, 1)
	go func() { done <- pinger.Run() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return Result{Host: host}, ctx.Err()
	}
	if err != nil {
		return Result{Host: host}, fmt.Errorf("ping %q: %w", host, err)
	}

	stats := pinger.Statistics()
	res := Result{
		Host:     host,
		Addr:     stats.IPAddr.String(),
		Alive:    stats.PacketsRecv > 0,
		RTT:      stats.AvgRtt,
		Sent:     stats.PacketsSent,
		Received: stats.PacketsRecv,
		TTL:      ttl,
	}
	p.logger.Debug("probe finished",
		zap.String("host", host),
		zap.Bool("alive", res.Alive),
		zap.Duration("rtt", res.RTT),
		zap.Int("received", res.Received),
	)
	return res, nil
}

// HostFromURL returns the host part of a websocket URL without the port.
func HostFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	if host, _, err := net.SplitHostPort(u.Host); err == nil {
		return host, nil
	}
	return u.Host, nil
}
