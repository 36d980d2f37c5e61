package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus/portal/internal/portal"
)

type fakeSource struct {
	mu        sync.Mutex
	effective portal.Config
	override  portal.Config
	loadErr   error
	loads     int
	observers []func(portal.Config)
}

func (f *fakeSource) Effective() portal.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.effective
}

func (f *fakeSource) Override() portal.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.override
}

func (f *fakeSource) Load(ctx context.Context) (portal.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.effective, f.loadErr
}

func (f *fakeSource) Subscribe(fn func(portal.Config)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, fn)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.observers = nil
	}
}

func (f *fakeSource) publish(effective, override portal.Config) {
	f.mu.Lock()
	f.effective, f.override = effective, override
	observers := append([]func(portal.Config){}, f.observers...)
	f.mu.Unlock()
	for _, fn := range observers {
		fn(effective)
	}
}

func mustParse(t *testing.T, doc string) portal.Config {
	t.Helper()
	cfg, err := portal.Parse([]byte(doc))
	require.NoError(t, err)
	return cfg
}

func newSource(t *testing.T) *fakeSource {
	return &fakeSource{effective: mustParse(t, `{
		"branding": {"title": "Academy", "colors": {"primary": "#112233", "secondary": "red"}},
		"links": {"staff": [{"title": "Mail", "url": "https://mail.example"}]}
	}`)}
}

func keyPress(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "shift+tab":
		return tea.KeyMsg{Type: tea.KeyShiftTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func sized(m *Model) *Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(*Model)
}

func TestNewModelReadsSource(t *testing.T) {
	src := newSource(t)
	m := NewModel(src)
	defer m.Close()

	assert.Equal(t, "Academy", m.Effective.TitleOrDefault())
	assert.Len(t, src.observers, 1)

	m.Close()
	assert.Empty(t, src.observers)
}

func TestChangeNotificationUpdatesModel(t *testing.T) {
	src := newSource(t)
	m := NewModel(src)
	defer m.Close()

	renamed := mustParse(t, `{"branding":{"title":"Renamed"}}`)
	override := mustParse(t, `{"branding":{"title":"Renamed"}}`)
	src.publish(renamed, override)
	// A second publish before the first is consumed coalesces.
	src.publish(renamed, override)

	msg := m.Init()()
	changed, ok := msg.(ChangedMsg)
	require.True(t, ok, "expected ChangedMsg, got %T", msg)
	assert.Equal(t, "Renamed", changed.Effective.TitleOrDefault())

	next, cmd := m.Update(changed)
	m = next.(*Model)
	assert.NotNil(t, cmd, "expected the model to keep waiting for changes")
	assert.Equal(t, 1, m.Changes)
	assert.True(t, HasDraft(m.Override))
	assert.Len(t, m.changed, 0)
}

func TestTabAndRoleNavigation(t *testing.T) {
	m := sized(NewModel(newSource(t)))
	defer m.Close()

	assert.Equal(t, TabBranding, m.ActiveTab)
	m.Update(keyPress("tab"))
	assert.Equal(t, TabLinks, m.ActiveTab)
	m.Update(keyPress("tab"))
	assert.Equal(t, TabBranding, m.ActiveTab)
	m.Update(keyPress("shift+tab"))
	assert.Equal(t, TabLinks, m.ActiveTab)

	assert.Equal(t, portal.RoleAnonymous, m.Role())
	m.Update(keyPress("h"))
	assert.Equal(t, portal.RoleStaff, m.Role())
	m.Update(keyPress("l"))
	assert.Equal(t, portal.RoleAnonymous, m.Role())

	m.Update(keyPress("j"))
	m.Update(keyPress("j"))
	m.Update(keyPress("k"))
	assert.Equal(t, 1, m.Scroll)
	m.Update(keyPress("l"))
	assert.Equal(t, 0, m.Scroll, "changing role resets scroll")
}

func TestQuit(t *testing.T) {
	m := NewModel(newSource(t))
	defer m.Close()
	_, cmd := m.Update(keyPress("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestReload(t *testing.T) {
	src := newSource(t)
	src.loadErr = errors.New("network down")
	m := sized(NewModel(src))
	defer m.Close()

	_, cmd := m.Update(keyPress("r"))
	require.NotNil(t, cmd)
	assert.True(t, m.Loading)

	_, again := m.Update(keyPress("r"))
	assert.Nil(t, again, "reload already in flight")

	msg := cmd().(LoadedMsg)
	assert.EqualError(t, msg.Err, "network down")
	m.Update(msg)
	assert.False(t, m.Loading)
	assert.Equal(t, 1, src.loads)
	assert.Contains(t, m.View(), "network down")
}

func TestViewBranding(t *testing.T) {
	src := newSource(t)
	src.override = mustParse(t, `{"branding":{"colors":{"secondary":"red"}}}`)
	m := sized(NewModel(src))
	defer m.Close()

	view := m.View()
	assert.Contains(t, view, "Academy")
	assert.Contains(t, view, "DRAFT")
	assert.Contains(t, view, "colors.primary")
	assert.Contains(t, view, "#ff0000")
	assert.Contains(t, view, "draft")
}

func TestViewLinks(t *testing.T) {
	m := sized(NewModel(newSource(t)))
	defer m.Close()
	m.Update(keyPress("tab"))
	m.Update(keyPress("h"))

	view := m.View()
	assert.Contains(t, view, "staff (1)")
	assert.Contains(t, view, "1. Mail")
	assert.Contains(t, view, "https://mail.example")
}

func TestViewCompact(t *testing.T) {
	m := NewModel(newSource(t))
	defer m.Close()
	assert.Equal(t, "Loading...", m.View())

	m.Update(tea.WindowSizeMsg{Width: 30, Height: 10})
	view := m.View()
	assert.True(t, strings.HasPrefix(view, "Academy (resize for full view)"))
	assert.Contains(t, view, "staff: 1")
}

func TestBrandingRows(t *testing.T) {
	effective := mustParse(t, `{"branding":{"title":"A","colors":{"b":"#000000","a":"#ffffff"},"transparency":{"card":0.5}}}`)
	override := mustParse(t, `{"branding":{"colors":{"a":"#ffffff"}}}`)

	rows := BrandingRows(effective, override)
	var labels []string
	for _, r := range rows {
		labels = append(labels, r.Label)
	}
	assert.Equal(t, []string{
		"title", "tagline", "statusMessage", "logo", "backgroundImage", "pageBackgroundImage",
		"colors.a", "colors.b", "transparency.card",
	}, labels)
	assert.True(t, rows[6].Draft)
	assert.False(t, rows[7].Draft)
	assert.Equal(t, "0.5", rows[8].Value)
}

func TestLinkRowsDraftedRole(t *testing.T) {
	effective := mustParse(t, `{"links":{"students":[{"title":"A","url":"u1"},{"title":"B","url":"u2"}]}}`)
	override := mustParse(t, `{"links":{"students":[{"title":"A","url":"u1"},{"title":"B","url":"u2"}]}}`)

	rows := LinkRows(effective, override, portal.RoleStudents)
	require.Len(t, rows, 2)
	assert.Equal(t, "2. B", rows[1].Label)
	assert.True(t, rows[0].Draft)
	assert.Empty(t, LinkRows(effective, override, portal.RoleStaff))
}
