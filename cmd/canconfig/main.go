// Command canconfig configures the IP settings and CAN channels of a CAN
// gateway over its websocket, and can emulate the gateway for testing.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/HerbHall/canconfig/internal/config"
	"github.com/HerbHall/canconfig/internal/version"
	"go.uber.org/zap"
)

const usage = `usage: canconfig <command> [flags]

commands:
  connect   open an interactive session against a device
  emulate   run a device emulator
  probe     ping the device
  version   print version information
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "connect":
		os.Exit(runConnect(os.Args[2:]))
	case "emulate":
		os.Exit(runEmulate(os.Args[2:]))
	case "probe":
		os.Exit(runProbe(os.Args[2:]))
	case "version", "-version", "--version":
		fmt.Println(version.Info())
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

// setup parses the shared -config flag, loads settings and builds the logger.
// The caller must Sync the logger.
func setup(fs *flag.FlagSet, args []string) (config.Settings, *zap.Logger, bool) {
	configPath := fs.String("config", "", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return config.Settings{}, nil, false
	}

	v, s, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return config.Settings{}, nil, false
	}

	logger, err := config.NewLogger(s.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return config.Settings{}, nil, false
	}

	if f := v.ConfigFileUsed(); f != "" {
		logger.Debug("configuration loaded", zap.String("source", f))
	} else {
		logger.Debug("no configuration file found, using defaults")
	}
	return s, logger, true
}
