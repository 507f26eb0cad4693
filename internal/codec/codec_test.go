package codec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeConfig_StaticAddress(t *testing.T) {
	cfg := DeviceConfig{
		DHCPEnabled: false,
		IP4Address:  "192.168.1.5",
		NetMask:     "255.255.255.0",
		CAN1:        map[string]bool{"isEnabled_CAN_1_0": true},
		CAN2:        map[string]bool{"isEnabled_CAN_2_0": false},
	}

	frame, err := EncodeConfig(cfg)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(frame), &got))

	assert.Equal(t, "192.168.1.5", got["IP4Address"])
	assert.Equal(t, "255.255.255.0", got["NetMask"])
	assert.Equal(t, "off", got["DHCP"])
	// JSON numbers decode as float64.
	assert.Equal(t, float64(1), got["isEnabled_CAN_1_0"])
	assert.Equal(t, float64(0), got["isEnabled_CAN_2_0"])
	assert.Len(t, got, 5)

	assert.Contains(t, frame, `"IP4Address":"192.168.1.5"`)
	assert.Contains(t, frame, `"NetMask":"255.255.255.0"`)
	assert.Contains(t, frame, `"isEnabled_CAN_1_0":1`)
	assert.Contains(t, frame, `"isEnabled_CAN_2_0":0`)
}

func TestEncodeConfig_NoChannels(t *testing.T) {
	frame, err := EncodeConfig(DeviceConfig{DHCPEnabled: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"DHCP":"on","IP4Address":"","NetMask":""}`, frame)
}

func TestEncodePasswordSubmission(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     string
	}{
		{name: "digits", password: "1234", want: "PW-1234"},
		{name: "empty", password: "", want: "PW-"},
		{name: "json lookalike", password: `{"a":1}`, want: `PW-{"a":1}`},
		{name: "spaces kept", password: " pw ", want: "PW- pw "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodePasswordSubmission(tt.password))
		})
	}
}

func TestEncodeFetchRequest(t *testing.T) {
	assert.JSONEq(t, `{"action":"fetch"}`, EncodeFetchRequest())
}

func TestEncode_Variants(t *testing.T) {
	frame, err := Encode(PasswordSubmission{Password: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "PW-abc", frame)

	frame, err = Encode(FetchRequest{})
	require.NoError(t, err)
	assert.Equal(t, EncodeFetchRequest(), frame)

	frame, err = Encode(ConfigUpdate{Config: DeviceConfig{IP4Address: "10.0.0.2"}})
	require.NoError(t, err)
	assert.Contains(t, frame, `"IP4Address":"10.0.0.2"`)

	_, err = Encode(nil)
	assert.Error(t, err)
}

func TestDecodeNotification(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want NotificationKind
	}{
		{name: "send ack", raw: "send successful\x00", want: SendAck},
		{name: "password correct", raw: "PW correct\x00", want: PasswordAccepted},
		{name: "password false", raw: "PW false\x00", want: PasswordRejected},
		{name: "ack without terminator", raw: "send successful", want: Unrecognized},
		{name: "correct without terminator", raw: "PW correct", want: Unrecognized},
		{name: "double terminator", raw: "PW false\x00\x00", want: Unrecognized},
		{name: "empty", raw: "", want: Unrecognized},
		{name: "config echo", raw: `{"DHCP":"on"}`, want: Unrecognized},
		{name: "invalid utf8", raw: "\xff\xfe\x00", want: Unrecognized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := DecodeNotification(tt.raw)
			assert.Equal(t, tt.want, n.Kind)
			assert.Equal(t, tt.raw, n.Raw)
		})
	}
}

func TestDecodeNotification_TotalOverArbitraryInput(t *testing.T) {
	inputs := []string{"\x00", "PW", "PW-1234", "send", "\x00send successful", "PW correct\x00 ", "🙂"}
	for i := 0; i < 256; i++ {
		inputs = append(inputs, string([]byte{byte(i)}), "PW false"+string([]byte{byte(i)}))
	}
	for _, raw := range inputs {
		assert.NotPanics(t, func() { _ = DecodeNotification(raw) }, "input %q", raw)
	}
}

func TestNotificationKind_String(t *testing.T) {
	assert.Equal(t, "send_ack", SendAck.String())
	assert.Equal(t, "password_accepted", PasswordAccepted.String())
	assert.Equal(t, "password_rejected", PasswordRejected.String())
	assert.Equal(t, "unrecognized", Unrecognized.String())
}

func TestDecodeRequest_RoundTrip(t *testing.T) {
	in := DeviceConfig{
		DHCPEnabled: true,
		IP4Address:  "192.0.2.1",
		NetMask:     "255.255.255.0",
		CAN1: map[string]bool{
			"isEnabled_CAN_1_0": true, "isEnabled_CAN_1_1": false,
			"isEnabled_CAN_1_2": false, "isEnabled_CAN_1_3": true,
		},
		CAN2: map[string]bool{
			"isEnabled_CAN_2_0": false, "isEnabled_CAN_2_1": true,
		},
	}

	frame, err := Encode(ConfigUpdate{Config: in})
	require.NoError(t, err)

	req, err := DecodeRequest(frame)
	require.NoError(t, err)
	update, ok := req.(ConfigUpdate)
	require.True(t, ok, "got %T", req)
	assert.True(t, in.Equal(update.Config), "round trip changed config: %+v", update.Config)
}

func TestDecodeRequest_Kinds(t *testing.T) {
	req, err := DecodeRequest("PW-secret")
	require.NoError(t, err)
	assert.Equal(t, PasswordSubmission{Password: "secret"}, req)

	req, err = DecodeRequest(`{"action":"fetch"}`)
	require.NoError(t, err)
	assert.Equal(t, KindFetchRequest, req.Kind())

	_, err = DecodeRequest(`{"action":"reboot"}`)
	assert.ErrorIs(t, err, ErrNotConfig)

	_, err = DecodeRequest("not json")
	assert.Error(t, err)
}

func TestDecodeConfig_FirmwareSample(t *testing.T) {
	sample := `{"DHCP":"on","IP4Address":"192.0.2.1","NetMask":"255.255.255.0","isEnabled_CAN_1_0":1,"isEnabled_CAN_1_1":0,"isEnabled_CAN_1_2":0,"isEnabled_CAN_1_3":0,"isEnabled_CAN_2_0":0,"isEnabled_CAN_2_1":0,"isEnabled_CAN_2_2":0,"isEnabled_CAN_2_3":0}`

	cfg, err := DecodeConfig([]byte(sample))
	require.NoError(t, err)
	assert.True(t, cfg.DHCPEnabled)
	assert.Equal(t, "192.0.2.1", cfg.IP4Address)
	assert.Len(t, cfg.CAN1, 4)
	assert.Len(t, cfg.CAN2, 4)
	assert.True(t, cfg.CAN1["isEnabled_CAN_1_0"])
	assert.False(t, cfg.CAN2["isEnabled_CAN_2_3"])
}

func TestDecodeConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "no known keys", raw: `{"foo":"bar"}`},
		{name: "ip not string", raw: `{"IP4Address":5}`},
		{name: "channel not number", raw: `{"isEnabled_CAN_1_0":"1"}`},
		{name: "channel out of range", raw: `{"isEnabled_CAN_2_0":2}`},
		{name: "bad dhcp value", raw: `{"DHCP":"maybe"}`},
		{name: "array", raw: `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeConfig([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestDeviceConfig_ChannelIDs(t *testing.T) {
	cfg := DeviceConfig{
		CAN1: map[string]bool{"isEnabled_CAN_1_1": true, "isEnabled_CAN_1_0": false},
		CAN2: map[string]bool{"isEnabled_CAN_2_0": true},
	}
	assert.Equal(t, []string{"isEnabled_CAN_1_0", "isEnabled_CAN_1_1", "isEnabled_CAN_2_0"}, cfg.ChannelIDs())
}
