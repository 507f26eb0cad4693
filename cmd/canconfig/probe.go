package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/HerbHall/canconfig/internal/probe"
)

func runProbe(args []string) int {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	s, logger, ok := setup(fs, args)
	if !ok {
		return 1
	}
	defer func() { _ = logger.Sync() }()

	host := fs.Arg(0)
	if host == "" {
		host = s.Device.Host
	}
	if host == "" {
		var err error
		if host, err = probe.HostFromURL(s.Device.URL); err != nil {
			fmt.Fprintf(os.Stderr, "probe: %v\n", err)
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := probe.NewPinger(s.Probe, logger.Named("probe")).Ping(ctx, host)
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe: %v\n", err)
		return 1
	}
	if !res.Alive {
		fmt.Printf("%s (%s): no reply, %d sent\n", res.Host, res.Addr, res.Sent)
		return 1
	}
	fmt.Printf("%s (%s): %d/%d replies, avg rtt %s, ttl %d\n",
		res.Host, res.Addr, res.Received, res.Sent, res.RTT, res.TTL)
	return 0
}
