package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger from the logging settings. Level is one of
// debug, info, warn, error; format is console or json.
func NewLogger(s LoggingSettings) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(s.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", s.Level, err)
	}

	var cfg zap.Config
	switch s.Format {
	case "console", "":
		cfg = zap.NewDevelopmentConfig()
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q: must be \"json\" or \"console\"", s.Format)
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	// The REPL owns stdout.
	cfg.OutputPaths = []string{"stderr"}

	return cfg.Build()
}
