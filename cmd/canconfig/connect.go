package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/HerbHall/canconfig/internal/client"
	"github.com/HerbHall/canconfig/internal/codec"
	"github.com/HerbHall/canconfig/internal/config"
	"github.com/HerbHall/canconfig/internal/event"
	"github.com/HerbHall/canconfig/internal/metrics"
	"github.com/HerbHall/canconfig/internal/probe"
	"github.com/HerbHall/canconfig/internal/ui"
	"github.com/HerbHall/canconfig/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func runConnect(args []string) int {
	fs := flag.NewFlagSet("connect", flag.ContinueOnError)
	url := fs.String("url", "", "device websocket URL (overrides device.url)")
	s, logger, ok := setup(fs, args)
	if !ok {
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if *url != "" {
		s.Device.URL = *url
		if err := s.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "invalid -url: %v\n", err)
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("canconfig starting", zap.String("version", version.Short()))

	if s.Device.Preflight {
		preflight(ctx, s, logger)
	}

	var rec client.Recorder
	if s.Metrics.Listen != "" {
		reg := prometheus.NewRegistry()
		rec = metrics.NewClient(reg)
		srv := serveMetrics(s.Metrics.Listen, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	out := &syncWriter{w: os.Stdout}
	page := ui.NewDefaultPage()
	page.Watch(func(c ui.Change) { fmt.Fprintf(out, "  %s\n", c) })

	bus := event.NewBus(logger.Named("event"))
	bus.Subscribe(client.TopicNotification, func(_ context.Context, ev event.Event) {
		if n, ok := ev.Payload.(codec.Notification); ok && n.Kind == codec.Unrecognized {
			fmt.Fprintf(out, "  device: %s\n", n.Raw)
		}
	})

	c := client.New(s.Client(), page, bus, rec, logger)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	fmt.Fprintf(out, "connecting to %s; type \"help\" for commands\n", s.Device.URL)
	r := &repl{actions: c, page: page, out: out}
	lines := readLines(os.Stdin)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			quit, err := r.exec(line)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				break loop
			}
		}
	}

	stop()
	if err := <-done; err != nil {
		logger.Error("client error", zap.Error(err))
		return 1
	}
	return 0
}

func preflight(ctx context.Context, s config.Settings, logger *zap.Logger) {
	host := s.Device.Host
	if host == "" {
		var err error
		if host, err = probe.HostFromURL(s.Device.URL); err != nil {
			logger.Warn("preflight skipped", zap.Error(err))
			return
		}
	}
	res, err := probe.NewPinger(s.Probe, logger.Named("probe")).Ping(ctx, host)
	switch {
	case err != nil:
		logger.Warn("preflight ping failed", zap.String("host", host), zap.Error(err))
	case !res.Alive:
		logger.Warn("device did not answer ping", zap.String("host", host))
	default:
		logger.Info("device reachable", zap.String("host", host), zap.Duration("rtt", res.RTT))
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return srv
}

// readLines delivers stdin lines until EOF. The reader goroutine is
// abandoned on exit.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

// syncWriter serializes writes from the REPL and the event loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
