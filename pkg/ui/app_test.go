package ui

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/launchpad/pkg/chat"
	"github.com/go-go-golems/launchpad/pkg/hostbridge"
	"github.com/go-go-golems/launchpad/pkg/update"
	"github.com/stretchr/testify/require"
)

type stubBridge struct {
	username string
	saved    []string
}

func (b *stubBridge) LoadChatUsername(context.Context) (string, error) { return b.username, nil }
func (b *stubBridge) SaveChatUsername(_ context.Context, n string) error {
	b.saved = append(b.saved, n)
	return nil
}
func (b *stubBridge) GetUserID(context.Context) (string, error) { return "u-1", nil }

type stubTransport struct {
	events  chan chat.InboundEvent
	emitted []chat.OutboundEvent
	closed  bool
}

func (t *stubTransport) Start(context.Context) error { return nil }
func (t *stubTransport) Events() <-chan chat.InboundEvent { return t.events }
func (t *stubTransport) Connected() bool { return true }
func (t *stubTransport) Close() error { t.closed = true; return nil }
func (t *stubTransport) Emit(_ context.Context, ev chat.OutboundEvent) error {
	t.emitted = append(t.emitted, ev)
	return nil
}

type stubHost struct {
	opened int
}

func (h *stubHost) CheckForUpdates(context.Context) (hostbridge.UpdateInfo, error) {
	return hostbridge.UpdateInfo{}, nil
}

func (h *stubHost) OpenDownloadPage(context.Context) error {
	h.opened++
	return nil
}

func newTestApp(t *testing.T, username string) (AppModel, *stubTransport, *update.Notifier, *stubHost) {
	t.Helper()
	tr := &stubTransport{events: make(chan chat.InboundEvent, 8)}
	s, err := chat.NewSession(&stubBridge{username: username}, tr, nil)
	require.NoError(t, err)
	host := &stubHost{}
	n, err := update.NewNotifier(host, nil, update.WithNotesRenderer(func(md string) (string, error) { return md, nil }))
	require.NoError(t, err)
	m, err := NewAppModel(context.Background(), Options{Session: s, Notifier: n})
	require.NoError(t, err)

	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	next, _ = next.(AppModel).Update(initMsg{})
	return next.(AppModel), tr, n, host
}

func step(t *testing.T, m AppModel, msg tea.Msg) (AppModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	am, ok := next.(AppModel)
	require.True(t, ok)
	return am, cmd
}

func typeText(t *testing.T, m AppModel, s string) AppModel {
	t.Helper()
	m, _ = step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return m
}

func TestAppModel_QueuesUntilAuthenticated(t *testing.T) {
	m, tr, _, _ := newTestApp(t, "bob")
	m, _ = step(t, m, transportEventMsg{ev: chat.Connected{}})

	m = typeText(t, m, "hello")
	require.Equal(t, "hello", m.input.Value())
	m, _ = step(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Empty(t, m.input.Value())
	require.Equal(t, 1, m.view.Queued)
	require.Contains(t, m.View(), "1 queued")

	m, _ = step(t, m, transportEventMsg{ev: chat.Authenticated{Username: "bob"}})
	require.Equal(t, []chat.OutboundEvent{
		chat.Authenticate{Username: "bob", UserID: "u-1"},
		chat.SendMessage{Message: "hello"},
	}, tr.emitted)
	require.Contains(t, m.View(), "Connected as bob")
}

func TestAppModel_AsksForUsername(t *testing.T) {
	m, _, _, _ := newTestApp(t, "")
	require.NotNil(t, m.usernameForm)
	require.Contains(t, m.View(), "Choose a chat username")
}

func TestAppModel_ModalBlocksInput(t *testing.T) {
	m, tr, n, host := newTestApp(t, "bob")

	info := hostbridge.UpdateInfo{UpdateAvailable: true, CurrentVersion: "1.0.0", NewVersion: "1.1.0"}
	m, _ = step(t, m, updatePopupMsg{info: info})
	m, _ = step(t, m, updatePopupMsg{info: info})

	view := m.View()
	require.Equal(t, 1, strings.Count(view, "NEW UPDATE AVAILABLE"))
	require.Contains(t, view, "1.0.0")
	require.Contains(t, view, "1.1.0")
	require.Contains(t, view, "This popup cannot be closed until you update the launcher")

	m = typeText(t, m, "sneaky")
	require.Empty(t, m.input.Value())

	m, cmd := step(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.Nil(t, cmd)
	require.False(t, m.quitting)
	require.False(t, tr.closed)

	m, _ = step(t, m, tea.MouseMsg{X: 0, Y: 0, Action: tea.MouseActionPress, Button: tea.MouseButtonRight})
	require.Equal(t, update.PhaseVisible, n.Phase())

	// tab moves focus off the button, enter then does nothing
	m, _ = step(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m, cmd = step(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Nil(t, cmd)
	require.Equal(t, update.PhaseVisible, n.Phase())

	m, _ = step(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m, cmd = step(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	require.Equal(t, update.PhaseAwaitingDownload, n.Phase())
	require.Contains(t, m.View(), "Opening download page...")

	m, _ = step(t, m, cmd())
	require.Equal(t, 1, host.opened)
	require.Equal(t, update.PhaseTerminal, n.Phase())
	require.Contains(t, m.View(), "Launcher closing...")

	m, cmd = step(t, m, TerminateMsg{})
	require.NotNil(t, cmd)
	require.True(t, m.quitting)
	require.True(t, tr.closed)
}

func TestAppModel_ClickOnButtonAcknowledges(t *testing.T) {
	m, _, n, _ := newTestApp(t, "bob")
	m, _ = step(t, m, updatePopupMsg{info: hostbridge.UpdateInfo{UpdateAvailable: true, CurrentVersion: "1.0.0", NewVersion: "1.1.0"}})

	l := layoutModal(n.Modal(), m.modalFocus, m.width, m.height)
	m, cmd := step(t, m, tea.MouseMsg{X: l.x, Y: l.y, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})
	require.Nil(t, cmd)
	require.Equal(t, update.PhaseVisible, n.Phase())

	_, cmd = step(t, m, tea.MouseMsg{X: l.buttonX0, Y: l.buttonY, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})
	require.NotNil(t, cmd)
	require.Equal(t, update.PhaseAwaitingDownload, n.Phase())
}

func TestAppModel_CounterWarnsNearLimit(t *testing.T) {
	m, _, _, _ := newTestApp(t, "bob")
	require.Contains(t, m.counter(), "0/500")

	m = typeText(t, m, strings.Repeat("a", 460))
	require.Contains(t, m.counter(), "460/500")
}

func TestLineRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := NewLineRenderer(&buf)
	ts := time.Date(2024, 1, 1, 12, 30, 0, 0, time.Local)

	r.Render(chat.View{State: chat.StateConnected, Lines: []chat.Line{
		{Seq: 1, Kind: chat.LineSystem, Severity: chat.SeverityInfo, Body: "Connected as bob", Timestamp: ts},
		{Seq: 2, Kind: chat.LineUser, Author: "amy", Body: "hi", Timestamp: ts},
	}, OnlineCount: 2})
	r.Render(chat.View{State: chat.StateConnected, Generation: 1, OnlineCount: 2, Lines: []chat.Line{
		{Seq: 3, Kind: chat.LineSystem, Severity: chat.SeverityWarning, Body: "Chat cleared by server", Timestamp: ts},
	}})

	require.Equal(t, strings.Join([]string{
		"[connected]",
		"12:30 * Connected as bob",
		"12:30 amy: hi",
		"(2 online)",
		"--- chat cleared ---",
		"12:30 ! Chat cleared by server",
		"",
	}, "\n"), buf.String())
}

func TestFormatModal(t *testing.T) {
	require.Empty(t, FormatModal(update.Modal{}))

	out := FormatModal(update.Modal{
		Visible:        true,
		Title:          update.Title,
		CurrentVersion: "1.0.0",
		NewVersion:     "1.1.0",
		Message:        update.Message,
		ButtonLabel:    update.LabelDownload,
		ButtonEnabled:  true,
		Footer:         update.Footer,
	})
	require.Contains(t, out, "Current Version: 1.0.0")
	require.Contains(t, out, "New Version:     1.1.0")
	require.Contains(t, out, "[ Download Update ]")
}
