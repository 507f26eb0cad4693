package testutil

import (
	"fmt"
	"strings"

	"github.com/HerbHall/canconfig/internal/codec"
)

// NewDeviceConfig returns a DeviceConfig with the firmware's default layout
// (static address, four channels per CAN interface, all disabled).
// Override individual fields with options.
func NewDeviceConfig(opts ...func(*codec.DeviceConfig)) codec.DeviceConfig {
	cfg := codec.DeviceConfig{
		DHCPEnabled: false,
		IP4Address:  "192.168.1.100",
		NetMask:     "255.255.255.0",
		CAN1:        make(map[string]bool),
		CAN2:        make(map[string]bool),
	}
	for i := 0; i < 4; i++ {
		cfg.CAN1[fmt.Sprintf("%s_%d", codec.CAN1Prefix, i)] = false
		cfg.CAN2[fmt.Sprintf("%s_%d", codec.CAN2Prefix, i)] = false
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithDHCP sets the DHCP flag.
func WithDHCP(on bool) func(*codec.DeviceConfig) {
	return func(c *codec.DeviceConfig) { c.DHCPEnabled = on }
}

// WithAddress sets the static address and netmask.
func WithAddress(ip, mask string) func(*codec.DeviceConfig) {
	return func(c *codec.DeviceConfig) {
		c.IP4Address = ip
		c.NetMask = mask
	}
}

// WithChannel enables or disables one CAN checkbox by full identifier.
// The map is chosen by the identifier prefix.
func WithChannel(id string, on bool) func(*codec.DeviceConfig) {
	return func(c *codec.DeviceConfig) {
		if strings.HasPrefix(id, codec.CAN2Prefix) {
			c.CAN2[id] = on
			return
		}
		c.CAN1[id] = on
	}
}
