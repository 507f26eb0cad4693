// Package codec converts between the configuration client's in-memory values
// and the text frames exchanged with the device over its websocket.
//
// The device discriminates frame kinds by shape: password frames carry the
// "PW-" prefix, everything else is a JSON object. Replies from the device are
// fixed sentinel strings terminated by a single NUL byte.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Element identifiers used as JSON keys on the wire.
const (
	KeyDHCP       = "DHCP"
	KeyIP4Address = "IP4Address"
	KeyNetMask    = "NetMask"

	// CAN checkbox identifiers start with one of these prefixes, for example
	// "isEnabled_CAN_1_0".
	CAN1Prefix = "isEnabled_CAN_1"
	CAN2Prefix = "isEnabled_CAN_2"
)

// PasswordPrefix tags a password submission frame.
const PasswordPrefix = "PW-"

// DHCP checkbox value strings.
const (
	DHCPOn  = "on"
	DHCPOff = "off"
)

// Sentinel replies sent by the device. The trailing NUL is part of the
// sentinel and must match exactly.
const (
	SentinelSendSuccess     = "send successful\x00"
	SentinelPasswordCorrect = "PW correct\x00"
	SentinelPasswordFalse   = "PW false\x00"
)

const fetchAction = "fetch"

var (
	// ErrNotConfig is returned when a JSON frame carries no configuration keys.
	ErrNotConfig = errors.New("frame is not a configuration update")
	// ErrInvalidField is returned when a known key carries a value of the wrong type.
	ErrInvalidField = errors.New("invalid configuration field")
)

// DeviceConfig is a snapshot of the device settings taken from the form at
// send time. CAN maps are keyed by the full checkbox identifier.
type DeviceConfig struct {
	DHCPEnabled bool
	IP4Address  string
	NetMask     string
	CAN1        map[string]bool
	CAN2        map[string]bool
}

// DHCPValue returns the checkbox value string sent for the DHCP flag.
func (c DeviceConfig) DHCPValue() string {
	if c.DHCPEnabled {
		return DHCPOn
	}
	return DHCPOff
}

// ChannelIDs returns every CAN checkbox identifier in the snapshot, sorted.
func (c DeviceConfig) ChannelIDs() []string {
	ids := make([]string, 0, len(c.CAN1)+len(c.CAN2))
	for id := range c.CAN1 {
		ids = append(ids, id)
	}
	for id := range c.CAN2 {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Equal reports whether two snapshots carry the same values.
func (c DeviceConfig) Equal(o DeviceConfig) bool {
	return c.DHCPEnabled == o.DHCPEnabled &&
		c.IP4Address == o.IP4Address &&
		c.NetMask == o.NetMask &&
		equalChannels(c.CAN1, o.CAN1) &&
		equalChannels(c.CAN2, o.CAN2)
}

func equalChannels(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

// EncodeConfig renders cfg as the JSON object the device expects: string
// values for the DHCP, address and netmask keys, numeric 1/0 per CAN checkbox.
func EncodeConfig(cfg DeviceConfig) (string, error) {
	data, err := json.Marshal(ConfigFields(cfg))
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(data), nil
}

// ConfigFields returns the flat key/value object a config frame carries:
// the DHCP string, both address strings and one 1/0 integer per channel.
func ConfigFields(cfg DeviceConfig) map[string]any {
	obj := make(map[string]any, 3+len(cfg.CAN1)+len(cfg.CAN2))
	obj[KeyDHCP] = cfg.DHCPValue()
	obj[KeyIP4Address] = cfg.IP4Address
	obj[KeyNetMask] = cfg.NetMask
	for id, on := range cfg.CAN1 {
		obj[id] = boolToBit(on)
	}
	for id, on := range cfg.CAN2 {
		obj[id] = boolToBit(on)
	}
	return obj
}

// EncodePasswordSubmission returns the password frame. The password is sent
// as-is after the prefix.
func EncodePasswordSubmission(password string) string {
	return PasswordPrefix + password
}

// EncodeFetchRequest returns the read-only fetch frame.
func EncodeFetchRequest() string {
	return `{"action":"fetch"}`
}

// DecodeNotification classifies a frame received from the device. It never
// fails; frames that match no sentinel come back as Unrecognized.
func DecodeNotification(raw string) Notification {
	switch raw {
	case SentinelSendSuccess:
		return Notification{Kind: SendAck, Raw: raw}
	case SentinelPasswordCorrect:
		return Notification{Kind: PasswordAccepted, Raw: raw}
	case SentinelPasswordFalse:
		return Notification{Kind: PasswordRejected, Raw: raw}
	default:
		return Notification{Kind: Unrecognized, Raw: raw}
	}
}

// DecodeRequest classifies a frame sent by the client. It is the device-side
// counterpart of the Encode functions.
func DecodeRequest(raw string) (Outbound, error) {
	if pw, ok := strings.CutPrefix(raw, PasswordPrefix); ok {
		return PasswordSubmission{Password: pw}, nil
	}

	var probe struct {
		Action *string `json:"action"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if probe.Action != nil {
		if *probe.Action == fetchAction {
			return FetchRequest{}, nil
		}
		return nil, fmt.Errorf("unknown action %q: %w", *probe.Action, ErrNotConfig)
	}

	cfg, err := DecodeConfig([]byte(raw))
	if err != nil {
		return nil, err
	}
	return ConfigUpdate{Config: cfg}, nil
}

// DecodeConfig parses a configuration object. Unknown keys are ignored. A
// missing DHCP key decodes as disabled. At least one known key must be present.
func DecodeConfig(data []byte) (DeviceConfig, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return DeviceConfig{}, fmt.Errorf("decode config: %w", err)
	}

	cfg := DeviceConfig{
		CAN1: make(map[string]bool),
		CAN2: make(map[string]bool),
	}
	known := 0
	for key, val := range fields {
		switch {
		case key == KeyDHCP:
			s, err := stringField(key, val)
			if err != nil {
				return DeviceConfig{}, err
			}
			switch s {
			case DHCPOn:
				cfg.DHCPEnabled = true
			case DHCPOff, "":
				cfg.DHCPEnabled = false
			default:
				return DeviceConfig{}, fmt.Errorf("%s: value %q: %w", key, s, ErrInvalidField)
			}
		case key == KeyIP4Address:
			s, err := stringField(key, val)
			if err != nil {
				return DeviceConfig{}, err
			}
			cfg.IP4Address = s
		case key == KeyNetMask:
			s, err := stringField(key, val)
			if err != nil {
				return DeviceConfig{}, err
			}
			cfg.NetMask = s
		case strings.HasPrefix(key, CAN1Prefix):
			on, err := bitField(key, val)
			if err != nil {
				return DeviceConfig{}, err
			}
			cfg.CAN1[key] = on
		case strings.HasPrefix(key, CAN2Prefix):
			on, err := bitField(key, val)
			if err != nil {
				return DeviceConfig{}, err
			}
			cfg.CAN2[key] = on
		default:
			continue
		}
		known++
	}
	if known == 0 {
		return DeviceConfig{}, ErrNotConfig
	}
	return cfg, nil
}

func stringField(key string, val json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(val, &s); err != nil {
		return "", fmt.Errorf("%s: expected string: %w", key, ErrInvalidField)
	}
	return s, nil
}

func bitField(key string, val json.RawMessage) (bool, error) {
	var n int
	if err := json.Unmarshal(val, &n); err != nil {
		return false, fmt.Errorf("%s: expected number: %w", key, ErrInvalidField)
	}
	switch n {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%s: value %d: %w", key, n, ErrInvalidField)
	}
}

func boolToBit(b bool) int {
	if b {
		return 1
	}
	return 0
}
