package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HerbHall/canconfig/internal/device"
	"github.com/HerbHall/canconfig/internal/store"
	"github.com/HerbHall/canconfig/internal/version"
	"go.uber.org/zap"
)

func runEmulate(args []string) int {
	fs := flag.NewFlagSet("emulate", flag.ContinueOnError)
	listen := fs.String("listen", "", "listen address (overrides emulator.listen)")
	s, logger, ok := setup(fs, args)
	if !ok {
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if *listen != "" {
		s.Emulator.Listen = *listen
	}

	db, err := store.New(s.Emulator.Database)
	if err != nil {
		logger.Error("failed to open database", zap.Error(err))
		return 1
	}
	defer db.Close()

	if err := db.CheckVersion(context.Background(), version.Short()); err != nil {
		if errors.Is(err, store.ErrNewerSchema) {
			fmt.Fprintf(os.Stderr, "%v\nupgrade canconfig or use another emulator.database\n", err)
		} else {
			logger.Error("schema version check failed", zap.Error(err))
		}
		return 1
	}
	logger.Info("database initialized", zap.String("path", s.Emulator.Database))

	dev, err := device.New(s.Emulator, db, logger.Named("device"))
	if err != nil {
		logger.Error("failed to create emulator", zap.Error(err))
		return 1
	}

	errCh := make(chan error, 1)
	go func() { errCh <- dev.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("emulator stopped", zap.Error(err))
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := dev.Shutdown(shutdownCtx); err != nil {
		logger.Error("emulator shutdown error", zap.Error(err))
		return 1
	}
	logger.Info("emulator stopped")
	return 0
}
