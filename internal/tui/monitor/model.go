// Package monitor is the live terminal view of one context's effective
// configuration. It redraws whenever the configuration changes, whether the
// change came from this process or from another context on the host.
package monitor

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcus/portal/internal/portal"
)

// Source is the configuration the monitor displays.
type Source interface {
	Effective() portal.Config
	Override() portal.Config
	Load(ctx context.Context) (portal.Config, error)
	Subscribe(fn func(portal.Config)) (cancel func())
}

// Tab selects the main panel.
type Tab int

const (
	TabBranding Tab = iota
	TabLinks
	tabCount
)

// MinWidth is the minimum terminal width for proper display
const MinWidth = 40

// MinHeight is the minimum terminal height for proper display
const MinHeight = 12

// ChangedMsg carries a freshly read configuration.
type ChangedMsg struct {
	Effective portal.Config
	Override  portal.Config
	At        time.Time
}

// LoadedMsg reports the end of a reload from the server. The
// configurations are read after the load, whether or not it failed.
type LoadedMsg struct {
	Err       error
	Effective portal.Config
	Override  portal.Config
	At        time.Time
}

// Model is the Bubble Tea model of the monitor.
type Model struct {
	source  Source
	changed chan struct{}
	cancel  func()
	keys    keyMap
	help    help.Model

	// Window dimensions
	Width  int
	Height int

	Effective  portal.Config
	Override   portal.Config
	LastChange time.Time
	Changes    int

	ActiveTab Tab
	RoleIndex int
	Scroll    int
	Loading   bool
	Err       error

	ReloadTimeout time.Duration
}

// NewModel subscribes to src. Call Close when the program exits.
func NewModel(src Source) *Model {
	changed := make(chan struct{}, 1)
	cancel := src.Subscribe(func(portal.Config) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	return &Model{
		source:        src,
		changed:       changed,
		cancel:        cancel,
		keys:          defaultKeys(),
		help:          help.New(),
		Effective:     src.Effective(),
		Override:      src.Override(),
		LastChange:    time.Now(),
		ReloadTimeout: 10 * time.Second,
	}
}

// Close unsubscribes from the source.
func (m *Model) Close() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return m.waitForChange()
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case ChangedMsg:
		m.Effective = msg.Effective
		m.Override = msg.Override
		m.LastChange = msg.At
		m.Changes++
		return m, m.waitForChange()

	case LoadedMsg:
		m.Loading = false
		m.Err = msg.Err
		m.Effective = msg.Effective
		m.Override = msg.Override
		if msg.Err == nil {
			m.LastChange = msg.At
		}
		return m, nil
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.NextTab):
		m.ActiveTab = (m.ActiveTab + 1) % tabCount
		m.Scroll = 0
	case key.Matches(msg, m.keys.PrevTab):
		m.ActiveTab = (m.ActiveTab + tabCount - 1) % tabCount
		m.Scroll = 0
	case key.Matches(msg, m.keys.NextRole):
		m.RoleIndex = (m.RoleIndex + 1) % len(portal.Roles)
		m.Scroll = 0
	case key.Matches(msg, m.keys.PrevRole):
		m.RoleIndex = (m.RoleIndex + len(portal.Roles) - 1) % len(portal.Roles)
		m.Scroll = 0
	case key.Matches(msg, m.keys.Down):
		m.Scroll++
	case key.Matches(msg, m.keys.Up):
		if m.Scroll > 0 {
			m.Scroll--
		}
	case key.Matches(msg, m.keys.Reload):
		if m.Loading {
			return m, nil
		}
		m.Loading = true
		return m, m.reload()
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

// View implements tea.Model
func (m *Model) View() string {
	return m.renderView()
}

// Role returns the role shown on the links tab.
func (m *Model) Role() portal.Role {
	return portal.Roles[m.RoleIndex]
}

// waitForChange blocks until the source publishes, then reads it.
func (m *Model) waitForChange() tea.Cmd {
	changed, src := m.changed, m.source
	return func() tea.Msg {
		<-changed
		return ChangedMsg{Effective: src.Effective(), Override: src.Override(), At: time.Now()}
	}
}

// reload refetches the base configuration. A load does not publish, so
// the effective configuration is read here.
func (m *Model) reload() tea.Cmd {
	src, timeout := m.source, m.ReloadTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_, err := src.Load(ctx)
		return LoadedMsg{Err: err, Effective: src.Effective(), Override: src.Override(), At: time.Now()}
	}
}
