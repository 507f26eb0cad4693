// Package ui models the configuration page as a set of addressable elements
// and projects connection and session state onto them.
package ui

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/HerbHall/canconfig/internal/codec"
)

// Element identifiers on the configuration page.
const (
	IDPassword         = "userPassword"
	IDDHCP             = codec.KeyDHCP
	IDIP4Address       = codec.KeyIP4Address
	IDNetMask          = codec.KeyNetMask
	IDSendButton       = "sendButton"
	IDConnectionStatus = "connectionStatus"
	IDConnectionText   = "connectionText"
	IDPasswordItems    = "pwItems"
)

// Kind is the type of a page element.
type Kind int

const (
	KindText Kind = iota
	KindCheckbox
	KindButton
	KindIndicator
	KindLabel
	KindPanel
)

// Element is the observable state of one page element.
type Element struct {
	ID         string
	Kind       Kind
	Value      string
	Checked    bool
	Disabled   bool
	Visible    bool
	Background string
	Text       string
	Classes    []string
}

// HasClass reports whether the element carries class c.
func (e Element) HasClass(c string) bool {
	for _, have := range e.Classes {
		if have == c {
			return true
		}
	}
	return false
}

// Surface is the write side of the page. Writes to unknown identifiers are
// ignored.
type Surface interface {
	SetClass(id, add, remove string)
	SetText(id, text string)
	SetVisible(id string, visible bool)
	SetBackground(id, color string)
	SetDisabled(id string, disabled bool)
}

// Form is the read side of the page, used when a request is built from
// current user input.
type Form interface {
	Value(id string) string
	Checked(id string) bool
	// IDsWithPrefix returns the identifiers starting with prefix in
	// declaration order.
	IDsWithPrefix(prefix string) []string
}

// Change describes one attribute update on the page.
type Change struct {
	ID    string
	Attr  string
	Value string
}

func (c Change) String() string {
	return fmt.Sprintf("%s.%s = %q", c.ID, c.Attr, c.Value)
}

// Page is an in-memory page implementing both Surface and Form.
type Page struct {
	mu       sync.RWMutex
	elements map[string]*Element
	order    []string
	watchers []func(Change)
}

var (
	_ Surface = (*Page)(nil)
	_ Form    = (*Page)(nil)
)

// NewPage returns an empty page.
func NewPage() *Page {
	return &Page{elements: make(map[string]*Element)}
}

// NewDefaultPage declares the device's configuration page: password field,
// DHCP toggle, address fields, send button, connection indicator and four
// channel checkboxes per CAN interface. The password-gated panel starts
// hidden and the indicator starts off.
func NewDefaultPage() *Page {
	p := NewPage()
	p.Add(Element{ID: IDPassword, Kind: KindText, Visible: true})
	p.Add(Element{ID: IDConnectionStatus, Kind: KindIndicator, Visible: true, Classes: []string{ClassOff}})
	p.Add(Element{ID: IDConnectionText, Kind: KindLabel, Visible: true, Text: TextDisconnected})
	p.Add(Element{ID: IDPasswordItems, Kind: KindPanel, Visible: false})
	p.Add(Element{ID: IDDHCP, Kind: KindCheckbox, Visible: true, Value: codec.DHCPOn})
	p.Add(Element{ID: IDIP4Address, Kind: KindText, Visible: true, Background: ColorEditable})
	p.Add(Element{ID: IDNetMask, Kind: KindText, Visible: true, Background: ColorEditable})
	for _, prefix := range []string{codec.CAN1Prefix, codec.CAN2Prefix} {
		for i := 0; i < 4; i++ {
			p.Add(Element{ID: fmt.Sprintf("%s_%d", prefix, i), Kind: KindCheckbox, Visible: true})
		}
	}
	p.Add(Element{ID: IDSendButton, Kind: KindButton, Visible: true})
	return p
}

// Add declares an element. Declaring an existing identifier replaces it in place.
func (p *Page) Add(e Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.elements[e.ID]; !ok {
		p.order = append(p.order, e.ID)
	}
	e.Classes = append([]string(nil), e.Classes...)
	p.elements[e.ID] = &e
}

// Watch registers fn to be called after every attribute change.
func (p *Page) Watch(fn func(Change)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watchers = append(p.watchers, fn)
}

// Get returns a copy of the element and whether it exists.
func (p *Page) Get(id string) (Element, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.elements[id]
	if !ok {
		return Element{}, false
	}
	out := *e
	out.Classes = append([]string(nil), e.Classes...)
	return out, true
}

// IDs returns every identifier in declaration order.
func (p *Page) IDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.order...)
}

// Input simulates the user typing into a text field.
func (p *Page) Input(id, value string) {
	p.update(id, "value", value, func(e *Element) { e.Value = value })
}

// Check simulates the user toggling a checkbox.
func (p *Page) Check(id string, checked bool) {
	p.update(id, "checked", fmt.Sprint(checked), func(e *Element) { e.Checked = checked })
}

func (p *Page) Value(id string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if e, ok := p.elements[id]; ok {
		return e.Value
	}
	return ""
}

func (p *Page) Checked(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if e, ok := p.elements[id]; ok {
		return e.Checked
	}
	return false
}

func (p *Page) IDsWithPrefix(prefix string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var ids []string
	for _, id := range p.order {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (p *Page) SetClass(id, add, remove string) {
	p.update(id, "class", add, func(e *Element) {
		kept := e.Classes[:0]
		for _, c := range e.Classes {
			if c != remove && c != add {
				kept = append(kept, c)
			}
		}
		if add != "" {
			kept = append(kept, add)
		}
		e.Classes = kept
	})
}

func (p *Page) SetText(id, text string) {
	p.update(id, "text", text, func(e *Element) { e.Text = text })
}

func (p *Page) SetVisible(id string, visible bool) {
	p.update(id, "visible", fmt.Sprint(visible), func(e *Element) { e.Visible = visible })
}

func (p *Page) SetBackground(id, color string) {
	p.update(id, "background", color, func(e *Element) { e.Background = color })
}

func (p *Page) SetDisabled(id string, disabled bool) {
	p.update(id, "disabled", fmt.Sprint(disabled), func(e *Element) { e.Disabled = disabled })
}

func (p *Page) update(id, attr, value string, apply func(*Element)) {
	p.mu.Lock()
	e, ok := p.elements[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	apply(e)
	watchers := slices.Clone(p.watchers)
	p.mu.Unlock()

	ch := Change{ID: id, Attr: attr, Value: value}
	for _, w := range watchers {
		w(ch)
	}
}

// SnapshotConfig builds a DeviceConfig from the form as it is right now. CAN
// checkboxes are discovered by identifier prefix, so whatever checkboxes the
// page declares are the ones sent.
func SnapshotConfig(form Form) codec.DeviceConfig {
	cfg := codec.DeviceConfig{
		DHCPEnabled: form.Checked(IDDHCP),
		IP4Address:  form.Value(IDIP4Address),
		NetMask:     form.Value(IDNetMask),
		CAN1:        make(map[string]bool),
		CAN2:        make(map[string]bool),
	}
	for _, id := range form.IDsWithPrefix(codec.CAN1Prefix) {
		cfg.CAN1[id] = form.Checked(id)
	}
	for _, id := range form.IDsWithPrefix(codec.CAN2Prefix) {
		cfg.CAN2[id] = form.Checked(id)
	}
	return cfg
}
