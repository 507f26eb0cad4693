// Package config loads canconfig settings from file, environment and
// defaults using Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/HerbHall/canconfig/internal/client"
	"github.com/HerbHall/canconfig/internal/conn"
	"github.com/HerbHall/canconfig/internal/device"
	"github.com/HerbHall/canconfig/internal/probe"
	"github.com/spf13/viper"
)

// Settings is the fully resolved configuration.
type Settings struct {
	Device   DeviceSettings  `mapstructure:"device"`
	UI       UISettings      `mapstructure:"ui"`
	Logging  LoggingSettings `mapstructure:"logging"`
	Metrics  MetricsSettings `mapstructure:"metrics"`
	Emulator device.Config   `mapstructure:"emulator"`
	Probe    probe.Config    `mapstructure:"probe"`
}

// DeviceSettings describes the device the client connects to.
type DeviceSettings struct {
	conn.Config `mapstructure:",squash"`
	// Host is pinged before connecting when Preflight is set. Empty means
	// the host part of URL.
	Host      string `mapstructure:"host"`
	Preflight bool   `mapstructure:"preflight"`
}

// UISettings controls rendering.
type UISettings struct {
	AckFlash time.Duration `mapstructure:"ack_flash"`
}

// LoggingSettings selects the zap configuration.
type LoggingSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsSettings controls the client's Prometheus listener. An empty
// Listen disables it.
type MetricsSettings struct {
	Listen string `mapstructure:"listen"`
}

// Client returns the settings the configuration client runs with.
func (s Settings) Client() client.Config {
	return client.Config{Conn: s.Device.Config, AckFlash: s.UI.AckFlash}
}

// Validate checks values Viper cannot type-check.
func (s Settings) Validate() error {
	u, err := url.Parse(s.Device.URL)
	if err != nil {
		return fmt.Errorf("device.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("device.url: scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("device.url: missing host")
	}
	if !strings.HasPrefix(s.Emulator.Path, "/") {
		return fmt.Errorf("emulator.path: must start with /, got %q", s.Emulator.Path)
	}
	return nil
}

// Load reads configuration from configPath (or canconfig.yaml in the usual
// places), overlays CANCONFIG_* environment variables and unmarshals the
// result. A missing config file is not an error.
func Load(configPath string) (*viper.Viper, Settings, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		// An explicitly named file must exist.
		if _, err := os.Stat(configPath); err != nil {
			return nil, Settings{}, fmt.Errorf("reading config: %w", err)
		}
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("canconfig")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/canconfig")
	}

	// CANCONFIG_DEVICE_URL=ws://10.0.0.7/ws_echo
	v.SetEnvPrefix("CANCONFIG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, Settings{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, Settings{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, Settings{}, err
	}
	return v, s, nil
}

func setDefaults(v *viper.Viper) {
	dc := conn.DefaultConfig()
	v.SetDefault("device.url", dc.URL)
	v.SetDefault("device.host", "")
	v.SetDefault("device.preflight", false)
	v.SetDefault("device.dial_timeout", dc.DialTimeout)
	v.SetDefault("device.write_timeout", dc.WriteTimeout)
	v.SetDefault("device.read_limit", 0)

	v.SetDefault("ui.ack_flash", "3s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("metrics.listen", "")

	ec := device.DefaultConfig()
	v.SetDefault("emulator.listen", ec.Listen)
	v.SetDefault("emulator.path", ec.Path)
	v.SetDefault("emulator.password", ec.Password)
	v.SetDefault("emulator.database", ec.Database)
	v.SetDefault("emulator.password_rate", ec.PasswordRate)
	v.SetDefault("emulator.password_burst", ec.PasswordBurst)
	v.SetDefault("emulator.require_auth", ec.RequireAuth)
	v.SetDefault("emulator.read_limit", ec.ReadLimit)
	v.SetDefault("emulator.write_timeout", ec.WriteTimeout)

	pc := probe.DefaultConfig()
	v.SetDefault("probe.timeout", pc.Timeout)
	v.SetDefault("probe.count", pc.Count)
}
