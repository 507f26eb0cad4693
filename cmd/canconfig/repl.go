package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/HerbHall/canconfig/internal/ui"
)

// actions are the page's buttons and toggles.
type actions interface {
	SubmitPassword()
	SendValues()
	FetchValues()
	ToggleDHCP()
}

// repl maps typed commands onto page edits and button presses.
type repl struct {
	actions actions
	page    *ui.Page
	out     io.Writer
}

const replHelp = `commands:
  password <pw>         submit the device password
  dhcp on|off           toggle DHCP
  ip <address>          set the static IPv4 address
  netmask <mask>        set the netmask
  can <n>_<ch> on|off   toggle a CAN channel, e.g. "can 1_2 on"
  send                  send the current values
  fetch                 ask the device for its values
  show                  print the page
  quit                  exit
`

// exec runs one command line. quit reports that the session should end.
func (r *repl) exec(line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help", "?":
		fmt.Fprint(r.out, replHelp)
	case "quit", "exit":
		return true, nil
	case "password", "pw":
		if len(args) != 1 {
			return false, errors.New("usage: password <pw>")
		}
		r.page.Input(ui.IDPassword, args[0])
		r.actions.SubmitPassword()
	case "dhcp":
		on, err := onOff(args)
		if err != nil {
			return false, errors.New("usage: dhcp on|off")
		}
		r.page.Check(ui.IDDHCP, on)
		r.actions.ToggleDHCP()
	case "ip", "netmask":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: %s <value>", cmd)
		}
		id := ui.IDIP4Address
		if cmd == "netmask" {
			id = ui.IDNetMask
		}
		if el, ok := r.page.Get(id); ok && el.Disabled {
			return false, fmt.Errorf("%s is locked while DHCP is on", cmd)
		}
		r.page.Input(id, args[0])
	case "can":
		if len(args) != 2 {
			return false, errors.New("usage: can <n>_<ch> on|off")
		}
		on, err := onOff(args[1:])
		if err != nil {
			return false, errors.New("usage: can <n>_<ch> on|off")
		}
		id := "isEnabled_CAN_" + args[0]
		if _, ok := r.page.Get(id); !ok {
			return false, fmt.Errorf("no channel %q", args[0])
		}
		r.page.Check(id, on)
	case "send":
		r.actions.SendValues()
	case "fetch":
		r.actions.FetchValues()
	case "show":
		r.show()
	default:
		return false, fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return false, nil
}

func (r *repl) show() {
	text := func(id string) string {
		el, _ := r.page.Get(id)
		return el.Text
	}
	panel, _ := r.page.Get(ui.IDPasswordItems)
	cfg := ui.SnapshotConfig(r.page)

	fmt.Fprintf(r.out, "connection: %s\n", text(ui.IDConnectionText))
	fmt.Fprintf(r.out, "authenticated: %t\n", panel.Visible)
	fmt.Fprintf(r.out, "dhcp: %s\n", cfg.DHCPValue())
	fmt.Fprintf(r.out, "ip: %s\nnetmask: %s\n", cfg.IP4Address, cfg.NetMask)
	for _, id := range cfg.ChannelIDs() {
		on := cfg.CAN1[id] || cfg.CAN2[id]
		fmt.Fprintf(r.out, "%s: %s\n", strings.TrimPrefix(id, "isEnabled_CAN_"), onOffString(on))
	}
}

func onOffString(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func onOff(args []string) (bool, error) {
	if len(args) != 1 {
		return false, errors.New("expected on or off")
	}
	switch strings.ToLower(args[0]) {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", args[0])
}
