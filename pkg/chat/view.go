package chat

import (
	"strings"
	"time"
	"unicode"

	"github.com/charmbracelet/x/ansi"
)

// State is the connection lifecycle of a Session.
type State string

const (
	StateIdle               State = "idle"
	StateCollectingUsername State = "collecting-username"
	StateConnecting         State = "connecting"
	StateConnected          State = "connected"
	StateDisconnected       State = "disconnected"
	StateFailed             State = "failed"
)

type LineKind string

const (
	LineSystem LineKind = "system"
	LineUser   LineKind = "user"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Line is one rendered chat entry. Seq increases monotonically per session
// and survives clears, so renderers can tell new lines apart.
type Line struct {
	Seq       uint64
	Kind      LineKind
	Severity  Severity
	Author    string
	Body      string
	Timestamp time.Time
}

// View is the complete presentation state of a chat session.
type View struct {
	State         State
	Username      string
	Authenticated bool
	OnlineCount   int
	Queued        int
	Lines         []Line
	// Generation is bumped every time the line list is wiped.
	Generation int
}

// Renderer receives the whole view after every state transition.
type Renderer interface {
	Render(View)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(View)

func (f RendererFunc) Render(v View) { f(v) }

// MultiRenderer fans a view out to several renderers in order.
type MultiRenderer []Renderer

func (m MultiRenderer) Render(v View) {
	for _, r := range m {
		if r != nil {
			r.Render(v)
		}
	}
}

// Sanitize removes terminal escape sequences and control characters from
// text that did not originate in this process.
func Sanitize(s string) string {
	s = ansi.Strip(s)
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func (v View) clone() View {
	out := v
	out.Lines = append([]Line(nil), v.Lines...)
	return out
}
