package main

import (
	"bytes"
	"testing"

	"github.com/HerbHall/canconfig/internal/ui"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordedActions struct {
	calls []string
	page  *ui.Page
	r     *ui.Reflector
}

func (a *recordedActions) SubmitPassword() { a.calls = append(a.calls, "password") }
func (a *recordedActions) SendValues()     { a.calls = append(a.calls, "send") }
func (a *recordedActions) FetchValues()    { a.calls = append(a.calls, "fetch") }

func (a *recordedActions) ToggleDHCP() {
	a.calls = append(a.calls, "dhcp")
	a.r.DHCPToggled(a.page.Checked(ui.IDDHCP))
}

func newTestREPL(t *testing.T) (*repl, *recordedActions, *bytes.Buffer) {
	t.Helper()
	page := ui.NewDefaultPage()
	acts := &recordedActions{page: page, r: ui.NewReflector(page, nil, 0, zaptest.NewLogger(t))}
	out := &bytes.Buffer{}
	return &repl{actions: acts, page: page, out: out}, acts, out
}

func TestREPL_Commands(t *testing.T) {
	r, acts, _ := newTestREPL(t)

	for _, line := range []string{
		"password 1234",
		"ip 10.0.0.5",
		"netmask 255.0.0.0",
		"can 1_2 on",
		"CAN 2_0 1",
		"send",
		"fetch",
		"",
	} {
		quit, err := r.exec(line)
		require.NoError(t, err, line)
		assert.False(t, quit, line)
	}

	assert.Equal(t, []string{"password", "send", "fetch"}, acts.calls)
	assert.Equal(t, "1234", r.page.Value(ui.IDPassword))

	cfg := ui.SnapshotConfig(r.page)
	assert.Equal(t, "10.0.0.5", cfg.IP4Address)
	assert.Equal(t, "255.0.0.0", cfg.NetMask)
	assert.True(t, cfg.CAN1["isEnabled_CAN_1_2"])
	assert.True(t, cfg.CAN2["isEnabled_CAN_2_0"])
}

func TestREPL_DHCPLocksAddress(t *testing.T) {
	r, acts, _ := newTestREPL(t)

	_, err := r.exec("dhcp on")
	require.NoError(t, err)
	assert.Equal(t, []string{"dhcp"}, acts.calls)

	_, err = r.exec("ip 10.0.0.1")
	assert.ErrorContains(t, err, "locked")

	_, err = r.exec("dhcp off")
	require.NoError(t, err)
	_, err = r.exec("ip 10.0.0.1")
	assert.NoError(t, err)
}

func TestREPL_Errors(t *testing.T) {
	r, acts, _ := newTestREPL(t)

	for _, line := range []string{
		"password",
		"dhcp maybe",
		"can 3_0 on",
		"can 1_0",
		"ip",
		"reboot",
	} {
		_, err := r.exec(line)
		assert.Error(t, err, line)
	}
	assert.Empty(t, acts.calls)
}

func TestREPL_QuitAndShow(t *testing.T) {
	r, _, out := newTestREPL(t)

	_, err := r.exec("show")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "connection: Disconnected")
	assert.Contains(t, out.String(), "authenticated: false")
	assert.Contains(t, out.String(), "1_0: off")

	out.Reset()
	_, err = r.exec("can 2_3 on")
	require.NoError(t, err)
	_, err = r.exec("show")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "2_3: on")
	assert.Contains(t, out.String(), "2_2: off")

	quit, err := r.exec("quit")
	require.NoError(t, err)
	assert.True(t, quit)
}
