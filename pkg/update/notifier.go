// Package update shows the blocking "new version" modal. Once visible the
// modal never hides again: it ends either with the launcher shutting down or
// with the user retrying the download action.
package update

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/x/ansi"
	"github.com/go-go-golems/launchpad/pkg/hostbridge"
	"github.com/go-go-golems/launchpad/pkg/inputgate"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	ModalScope         = "update-modal"
	AcknowledgeControl = "acknowledge"

	Title         = "NEW UPDATE AVAILABLE"
	Message       = "A new version of the launcher is available.\nPlease download the latest version to continue using the launcher."
	Footer        = "This popup cannot be closed until you update the launcher"
	LabelDownload = "Download Update"
	LabelOpening  = "Opening download page..."
	LabelClosing  = "Launcher closing..."
)

var ErrNotVisible = errors.New("update modal is not visible")

type Phase int

const (
	PhaseHidden Phase = iota
	PhaseVisible
	PhaseAwaitingDownload
	PhaseTerminal
)

func (p Phase) String() string {
	switch p {
	case PhaseHidden:
		return "hidden"
	case PhaseVisible:
		return "visible"
	case PhaseAwaitingDownload:
		return "awaiting-download"
	case PhaseTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Host is the subset of the host bridge the notifier drives.
type Host interface {
	CheckForUpdates(ctx context.Context) (hostbridge.UpdateInfo, error)
	OpenDownloadPage(ctx context.Context) error
}

// PopupSource delivers host-initiated update pushes.
type PopupSource interface {
	OnUpdatePopup(fn func(hostbridge.UpdateInfo)) (cancel func())
}

// Modal is everything a surface needs to draw the update popup.
type Modal struct {
	Visible        bool
	Title          string
	CurrentVersion string
	NewVersion     string
	Message        string
	ButtonLabel    string
	ButtonEnabled  bool
	Footer         string
	Notes          string
	Error          string
	Terminal       bool
}

type NotesRenderer func(markdown string) (string, error)

// Notifier is driven from the UI loop; only Listen callbacks may arrive from
// other goroutines and they are handed to the caller-supplied deliver func.
type Notifier struct {
	host   Host
	gate   *inputgate.Gate
	render NotesRenderer

	mu      sync.Mutex
	phase   Phase
	info    hostbridge.UpdateInfo
	label   string
	lastErr error
	notes   string
}

type Option func(*Notifier)

// WithNotesRenderer replaces the markdown renderer used for release notes.
func WithNotesRenderer(r NotesRenderer) Option {
	return func(n *Notifier) { n.render = r }
}

func NewNotifier(host Host, gate *inputgate.Gate, opts ...Option) (*Notifier, error) {
	if host == nil {
		return nil, errors.New("update notifier: host is nil")
	}
	if gate == nil {
		gate = inputgate.New()
	}
	n := &Notifier{
		host:   host,
		gate:   gate,
		render: func(md string) (string, error) { return glamour.Render(md, "dark") },
		label:  LabelDownload,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

func (n *Notifier) Gate() *inputgate.Gate { return n.gate }

func (n *Notifier) Phase() Phase {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.phase
}

func (n *Notifier) Visible() bool {
	return n.Phase() != PhaseHidden
}

// CheckNow asks the host for update status and shows the modal when an update
// is available. Host errors count as "no update".
func (n *Notifier) CheckNow(ctx context.Context) hostbridge.UpdateInfo {
	info, err := n.host.CheckForUpdates(ctx)
	if err != nil {
		log.Warn().Err(err).Str("component", "update").Msg("update check failed, assuming no update")
		return hostbridge.UpdateInfo{CurrentVersion: info.CurrentVersion}
	}
	if info.UpdateAvailable {
		n.ShowModal(info)
	}
	return info
}

// ShowModal makes the modal visible and takes over input. It reports whether
// this call was the one that showed it.
func (n *Notifier) ShowModal(info hostbridge.UpdateInfo) bool {
	n.mu.Lock()
	if n.phase != PhaseHidden {
		n.mu.Unlock()
		return false
	}
	info.CurrentVersion = clean(info.CurrentVersion)
	info.NewVersion = clean(info.NewVersion)
	n.info = info
	n.phase = PhaseVisible
	n.label = LabelDownload
	n.notes = n.renderNotes(info.ReleaseNotes)
	n.mu.Unlock()

	if _, err := n.gate.Push(inputgate.Scope{Name: ModalScope, Filter: ModalFilter}); err != nil {
		log.Error().Err(err).Str("component", "update").Msg("could not block input for update modal")
	}
	log.Info().
		Str("component", "update").
		Str("current", info.CurrentVersion).
		Str("new", info.NewVersion).
		Msg("update modal shown")
	return true
}

func (n *Notifier) renderNotes(md string) string {
	md = clean(md)
	if md == "" || n.render == nil {
		return md
	}
	out, err := n.render(md)
	if err != nil {
		log.Debug().Err(err).Str("component", "update").Msg("release notes left unrendered")
		return md
	}
	return out
}

// BeginAcknowledge disables the download control. It returns false when the
// control is not currently actionable.
func (n *Notifier) BeginAcknowledge() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.phase != PhaseVisible {
		return false
	}
	n.phase = PhaseAwaitingDownload
	n.label = LabelOpening
	n.lastErr = nil
	return true
}

// CompleteAcknowledge records the outcome of the download action.
func (n *Notifier) CompleteAcknowledge(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.phase != PhaseAwaitingDownload {
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("component", "update").Msg("download page could not be opened")
		n.phase = PhaseVisible
		n.label = LabelDownload
		n.lastErr = err
		return
	}
	log.Info().Str("component", "update").Msg("download page opened, launcher closing")
	n.phase = PhaseTerminal
	n.label = LabelClosing
}

// Acknowledge runs the whole download action synchronously.
func (n *Notifier) Acknowledge(ctx context.Context) error {
	if !n.BeginAcknowledge() {
		if n.Phase() == PhaseHidden {
			return ErrNotVisible
		}
		return nil
	}
	err := n.host.OpenDownloadPage(ctx)
	n.CompleteAcknowledge(err)
	return err
}

// OpenDownloadPage exposes the host action so surfaces can run it off-loop
// between BeginAcknowledge and CompleteAcknowledge.
func (n *Notifier) OpenDownloadPage(ctx context.Context) error {
	return n.host.OpenDownloadPage(ctx)
}

func (n *Notifier) Modal() Modal {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.phase == PhaseHidden {
		return Modal{}
	}
	m := Modal{
		Visible:        true,
		Title:          Title,
		CurrentVersion: n.info.CurrentVersion,
		NewVersion:     n.info.NewVersion,
		Message:        Message,
		ButtonLabel:    n.label,
		ButtonEnabled:  n.phase == PhaseVisible,
		Footer:         Footer,
		Notes:          n.notes,
		Terminal:       n.phase == PhaseTerminal,
	}
	if n.lastErr != nil {
		m.Error = "Could not open the download page, please try again"
	}
	return m
}

// Listen routes host popup pushes to deliver. deliver is expected to hand the
// info to the UI loop, which then calls ShowModal.
func (n *Notifier) Listen(src PopupSource, deliver func(hostbridge.UpdateInfo)) func() {
	if src == nil || deliver == nil {
		return func() {}
	}
	return src.OnUpdatePopup(deliver)
}

// ModalFilter lets through what the modal itself handles: Enter and Space on
// the download control, Tab anywhere in the modal, and pointer events that
// land inside it.
func ModalFilter(ev inputgate.Event) bool {
	switch ev.Kind {
	case inputgate.KindKey:
		switch ev.Key {
		case "tab", "shift+tab":
			return true
		case "enter", " ", "space":
			return ev.Control == AcknowledgeControl
		default:
			return false
		}
	case inputgate.KindClick, inputgate.KindContextMenu, inputgate.KindMouse:
		return true
	default:
		return false
	}
}

// clean strips escape sequences and control characters from host text.
func clean(s string) string {
	return strings.Map(func(r rune) rune {
		if r != '\n' && unicode.IsControl(r) {
			return -1
		}
		return r
	}, ansi.Strip(s))
}
