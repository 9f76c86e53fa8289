package ui

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/launchpad/pkg/chat"
	"github.com/go-go-golems/launchpad/pkg/hostbridge"
	"github.com/go-go-golems/launchpad/pkg/inputgate"
	"github.com/go-go-golems/launchpad/pkg/update"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	inputHeight   = 3
	counterWarnAt = chat.MaxMessageLength * 9 / 10
)

// TerminateMsg asks the app to shut down, e.g. after the download page opened.
type TerminateMsg struct{}

type initMsg struct{}

type transportEventMsg struct {
	ev chat.InboundEvent
}

type updatePopupMsg struct {
	info hostbridge.UpdateInfo
}

type updateCheckedMsg struct {
	info hostbridge.UpdateInfo
}

type downloadResultMsg struct {
	err error
}

type clipboardResultMsg struct {
	err error
}

type Options struct {
	Session  *chat.Session
	Notifier *update.Notifier
	// Popups carries host-initiated update pushes onto the UI loop.
	Popups       <-chan hostbridge.UpdateInfo
	CheckOnStart bool
	Clipboard    func(string) error
}

// AppModel is the bubbletea model for the launcher chat. The session and the
// notifier are only mutated from Update.
type AppModel struct {
	ctx      context.Context
	session  *chat.Session
	notifier *update.Notifier
	gate     *inputgate.Gate
	popups   <-chan hostbridge.UpdateInfo
	clip     func(string) error

	checkOnStart bool

	width, height int
	viewport      viewport.Model
	input         textarea.Model
	view          chat.View
	status        string

	usernameForm  *huh.Form
	username      *string
	usernameError string

	modalFocus modalFocus
	quitting   bool
}

func NewAppModel(ctx context.Context, opts Options) (AppModel, error) {
	if opts.Session == nil {
		return AppModel{}, errors.New("ui: session is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	gate := inputgate.New()
	if opts.Notifier != nil {
		gate = opts.Notifier.Gate()
	}
	clip := opts.Clipboard
	if clip == nil {
		clip = func(string) error { return errors.New("clipboard not available") }
	}

	ta := textarea.New()
	ta.Placeholder = "Type a message..."
	ta.ShowLineNumbers = false
	ta.CharLimit = chat.MaxMessageLength
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	vp := viewport.New(80, 16)

	return AppModel{
		ctx:          ctx,
		session:      opts.Session,
		notifier:     opts.Notifier,
		gate:         gate,
		popups:       opts.Popups,
		clip:         clip,
		checkOnStart: opts.CheckOnStart,
		viewport:     vp,
		input:        ta,
		view:         opts.Session.View(),
		username:     new(string),
	}, nil
}

func waitForTransportEvent(ch <-chan chat.InboundEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return transportEventMsg{ev: ev}
	}
}

func waitForPopup(ch <-chan hostbridge.UpdateInfo) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		info, ok := <-ch
		if !ok {
			return nil
		}
		return updatePopupMsg{info: info}
	}
}

func (m AppModel) checkUpdates() tea.Cmd {
	if m.notifier == nil || !m.checkOnStart {
		return nil
	}
	n, ctx := m.notifier, m.ctx
	return func() tea.Msg {
		return updateCheckedMsg{info: n.CheckNow(ctx)}
	}
}

func (m AppModel) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		func() tea.Msg { return initMsg{} },
		waitForTransportEvent(m.session.Events()),
		waitForPopup(m.popups),
		m.checkUpdates(),
	)
}

func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch ev := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = ev.Width, ev.Height
		m.resize()
		return m, nil

	case initMsg:
		if err := m.session.Initialize(m.ctx); err != nil {
			log.Warn().Err(err).Str("component", "ui").Msg("chat initialization failed")
		}
		return m.afterSession(nil)

	case transportEventMsg:
		m.session.Handle(m.ctx, ev.ev)
		return m.afterSession(waitForTransportEvent(m.session.Events()))

	case updatePopupMsg:
		if m.notifier != nil && m.notifier.ShowModal(ev.info) {
			m.modalFocus = focusAcknowledge
			m.input.Blur()
		}
		return m, waitForPopup(m.popups)

	case updateCheckedMsg:
		if m.notifier != nil && m.notifier.Visible() {
			m.modalFocus = focusAcknowledge
			m.input.Blur()
		}
		return m, nil

	case downloadResultMsg:
		if m.notifier != nil {
			m.notifier.CompleteAcknowledge(ev.err)
		}
		return m, nil

	case clipboardResultMsg:
		if ev.err != nil {
			m.status = "Could not copy to clipboard"
		} else {
			m.status = "Copied last line to clipboard"
		}
		return m, nil

	case TerminateMsg:
		return m.quit()

	case tea.KeyMsg:
		if !m.gate.Allow(m.keyEvent(ev)) {
			return m, nil
		}
		if m.modalVisible() {
			return m.updateModalKey(ev)
		}

	case tea.MouseMsg:
		gev, onButton := m.mouseEvent(ev)
		if !m.gate.Allow(gev) {
			return m, nil
		}
		if m.modalVisible() {
			if onButton && gev.Kind == inputgate.KindClick {
				return m.acknowledge()
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	if m.usernameForm != nil {
		return m.updateUsernameForm(msg)
	}

	if key, ok := msg.(tea.KeyMsg); ok {
		return m.updateChatKey(key)
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m AppModel) modalVisible() bool {
	return m.notifier != nil && m.notifier.Visible()
}

// keyEvent describes a key press for the input gate. While the modal is up
// keyboard focus lives inside it.
func (m AppModel) keyEvent(k tea.KeyMsg) inputgate.Event {
	ev := inputgate.Event{Kind: inputgate.KindKey, Key: k.String()}
	if m.modalVisible() {
		ev.Scope = update.ModalScope
		if m.modalFocus == focusAcknowledge {
			ev.Control = update.AcknowledgeControl
		}
	}
	return ev
}

func (m AppModel) mouseEvent(ms tea.MouseMsg) (inputgate.Event, bool) {
	ev := inputgate.Event{Kind: inputgate.KindMouse}
	if ms.Action == tea.MouseActionPress {
		switch ms.Button {
		case tea.MouseButtonLeft:
			ev.Kind = inputgate.KindClick
		case tea.MouseButtonRight:
			ev.Kind = inputgate.KindContextMenu
		}
	}
	if !m.modalVisible() {
		return ev, false
	}
	l := layoutModal(m.notifier.Modal(), m.modalFocus, m.width, m.height)
	if !l.contains(ms.X, ms.Y) {
		return ev, false
	}
	ev.Scope = update.ModalScope
	onButton := l.onButton(ms.X, ms.Y)
	if onButton {
		ev.Control = update.AcknowledgeControl
	}
	return ev, onButton
}

func (m AppModel) updateModalKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "tab", "shift+tab":
		m.modalFocus = m.modalFocus.next()
		return m, nil
	case "enter", " ":
		if m.modalFocus == focusAcknowledge {
			return m.acknowledge()
		}
	}
	return m, nil
}

func (m AppModel) acknowledge() (tea.Model, tea.Cmd) {
	if !m.notifier.BeginAcknowledge() {
		return m, nil
	}
	n, ctx := m.notifier, m.ctx
	return m, func() tea.Msg {
		return downloadResultMsg{err: n.OpenDownloadPage(ctx)}
	}
}

func (m AppModel) updateChatKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "ctrl+c":
		return m.quit()
	case "enter":
		res := m.session.SendMessage(m.ctx, m.input.Value())
		if res.Accepted() {
			m.input.Reset()
		}
		return m.afterSession(nil)
	case "alt+enter":
		if utf8.RuneCountInString(m.input.Value()) < chat.MaxMessageLength {
			m.input.InsertString("\n")
		}
		return m, nil
	case "ctrl+r":
		if err := m.session.Reconnect(m.ctx); err != nil {
			log.Warn().Err(err).Str("component", "ui").Msg("reconnect failed")
		}
		return m.afterSession(nil)
	case "ctrl+y":
		last := m.lastLineText()
		if last == "" {
			return m, nil
		}
		clip := m.clip
		return m, func() tea.Msg { return clipboardResultMsg{err: clip(last)} }
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(k)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(k)
	return m, cmd
}

func (m AppModel) updateUsernameForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	fm, cmd := m.usernameForm.Update(msg)
	if f, ok := fm.(*huh.Form); ok {
		m.usernameForm = f
	}
	switch m.usernameForm.State {
	case huh.StateAborted:
		return m.quit()
	case huh.StateCompleted:
		m.usernameForm = nil
		if err := m.session.SubmitUsername(m.ctx, *m.username); err != nil {
			m.usernameError = err.Error()
			log.Debug().Err(err).Str("component", "ui").Msg("username rejected")
		} else {
			m.usernameError = ""
		}
		next, ncmd := m.afterSession(nil)
		return next, tea.Batch(cmd, ncmd)
	}
	return m, cmd
}

// afterSession syncs the model with the session after any session call.
func (m AppModel) afterSession(next tea.Cmd) (tea.Model, tea.Cmd) {
	m.view = m.session.View()
	m.refreshViewport()

	var cmds []tea.Cmd
	if next != nil {
		cmds = append(cmds, next)
	}
	if m.session.NeedsUsername() && m.usernameForm == nil {
		*m.username = ""
		m.usernameForm = newUsernameForm(m.username, m.width)
		cmds = append(cmds, m.usernameForm.Init())
		m.input.Blur()
	} else if !m.session.NeedsUsername() && !m.modalVisible() && !m.input.Focused() {
		cmds = append(cmds, m.input.Focus())
	}
	return m, tea.Batch(cmds...)
}

func newUsernameForm(value *string, width int) *huh.Form {
	input := huh.NewInput().
		Title("Choose a chat username").
		Description(fmt.Sprintf("%d-%d characters: letters, numbers, - and _", chat.MinUsernameLength, chat.MaxUsernameLength)).
		CharLimit(chat.MaxUsernameLength + 10).
		Validate(func(s string) error {
			_, err := chat.ValidateUsername(s)
			return err
		}).
		Value(value)
	form := huh.NewForm(huh.NewGroup(input)).WithTheme(huh.ThemeCharm()).WithShowHelp(true)
	if width > 0 {
		form = form.WithWidth(width)
	}
	return form
}

func (m AppModel) quit() (tea.Model, tea.Cmd) {
	if m.quitting {
		return m, nil
	}
	m.quitting = true
	if err := m.session.Dispose(); err != nil {
		log.Warn().Err(err).Str("component", "ui").Msg("closing chat session")
	}
	return m, tea.Quit
}

func (m *AppModel) resize() {
	w := m.width
	if w <= 0 {
		w = 80
	}
	m.input.SetWidth(w)
	// header, counter/help and the input area
	h := m.height - 1 - 2 - inputHeight - 1
	if h < 3 {
		h = 3
	}
	m.viewport.Width = w
	m.viewport.Height = h
	if m.usernameForm != nil {
		m.usernameForm = m.usernameForm.WithWidth(w)
	}
	m.refreshViewport()
}

func (m *AppModel) refreshViewport() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(renderLines(m.view.Lines, m.viewport.Width))
	if atBottom || m.viewport.TotalLineCount() <= m.viewport.Height {
		m.viewport.GotoBottom()
	}
}

func (m AppModel) lastLineText() string {
	if len(m.view.Lines) == 0 {
		return ""
	}
	l := m.view.Lines[len(m.view.Lines)-1]
	if l.Kind == chat.LineUser {
		return l.Author + ": " + l.Body
	}
	return l.Body
}

func renderLines(lines []chat.Line, width int) string {
	wrap := lipgloss.NewStyle()
	if width > 0 {
		wrap = wrap.Width(width)
	}
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(wrap.Render(renderLine(l)))
	}
	return b.String()
}

func renderLine(l chat.Line) string {
	ts := timestampStyle.Render(l.Timestamp.Local().Format("15:04"))
	if l.Kind == chat.LineUser {
		return ts + " " + authorStyle.Render(l.Author) + ": " + l.Body
	}
	style := infoStyle
	switch l.Severity {
	case chat.SeverityWarning:
		style = warningStyle
	case chat.SeverityError:
		style = errorStyle
	}
	return ts + " " + style.Render("* "+l.Body)
}

func (m AppModel) header() string {
	parts := []string{titleStyle.Render("launchpad chat"), stateBadge(string(m.view.State))}
	if m.view.Username != "" {
		parts = append(parts, mutedStyle.Render("as "+m.view.Username))
	}
	parts = append(parts, mutedStyle.Render(fmt.Sprintf("%d online", m.view.OnlineCount)))
	if m.view.Queued > 0 {
		parts = append(parts, warningStyle.Render(fmt.Sprintf("%d queued", m.view.Queued)))
	}
	return strings.Join(parts, " ")
}

func (m AppModel) counter() string {
	n := utf8.RuneCountInString(m.input.Value())
	text := fmt.Sprintf("%d/%d", n, chat.MaxMessageLength)
	if n > counterWarnAt {
		return warningStyle.Render(text)
	}
	return mutedStyle.Render(text)
}

func (m AppModel) help() string {
	keys := "enter send • alt+enter newline • ctrl+y copy • ctrl+c quit"
	if m.session.CanReconnect() {
		keys = "ctrl+r reconnect • " + keys
	}
	if m.status != "" {
		keys = m.status + " • " + keys
	}
	return helpStyle.Render(keys)
}

func (m AppModel) View() string {
	if m.quitting {
		return ""
	}
	if m.modalVisible() {
		return layoutModal(m.notifier.Modal(), m.modalFocus, m.width, m.height).placedContent
	}
	if m.usernameForm != nil {
		var b strings.Builder
		b.WriteString(m.header())
		b.WriteString("\n\n")
		b.WriteString(m.usernameForm.View())
		if m.usernameError != "" {
			b.WriteString("\n")
			b.WriteString(errorStyle.Render(m.usernameError))
		}
		return b.String()
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.header(),
		m.viewport.View(),
		m.input.View(),
		m.counter()+"  "+m.help(),
	)
}
