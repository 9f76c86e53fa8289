package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-go-golems/launchpad/pkg/chat"
	"github.com/go-go-golems/launchpad/pkg/update"
)

// LineRenderer writes chat changes as plain lines, for pipes and dumb
// terminals.
type LineRenderer struct {
	w      io.Writer
	differ chat.Differ
}

var _ chat.Renderer = &LineRenderer{}

func NewLineRenderer(w io.Writer) *LineRenderer {
	return &LineRenderer{w: w}
}

func (r *LineRenderer) Render(v chat.View) {
	for _, c := range r.differ.Next(v) {
		if s := FormatChange(c); s != "" {
			_, _ = fmt.Fprintln(r.w, s)
		}
	}
}

func FormatChange(c chat.Change) string {
	switch c.Kind {
	case chat.ChangeLineAdded:
		if c.Line == nil {
			return ""
		}
		return FormatLine(*c.Line)
	case chat.ChangeCleared:
		return "--- chat cleared ---"
	case chat.ChangeOnlineCount:
		return fmt.Sprintf("(%d online)", c.OnlineCount)
	case chat.ChangeState:
		return fmt.Sprintf("[%s]", c.State)
	default:
		return ""
	}
}

func FormatLine(l chat.Line) string {
	ts := l.Timestamp.Local().Format("15:04")
	if l.Kind == chat.LineUser {
		return fmt.Sprintf("%s %s: %s", ts, l.Author, l.Body)
	}
	prefix := "*"
	switch l.Severity {
	case chat.SeverityWarning:
		prefix = "!"
	case chat.SeverityError:
		prefix = "x"
	}
	return fmt.Sprintf("%s %s %s", ts, prefix, l.Body)
}

// FormatModal renders the update popup as text.
func FormatModal(m update.Modal) string {
	if !m.Visible {
		return ""
	}
	rule := strings.Repeat("=", 60)
	var b strings.Builder
	b.WriteString(rule + "\n")
	b.WriteString(m.Title + "\n\n")
	fmt.Fprintf(&b, "Current Version: %s\n", m.CurrentVersion)
	fmt.Fprintf(&b, "New Version:     %s\n\n", m.NewVersion)
	b.WriteString(m.Message + "\n")
	if notes := strings.TrimSpace(m.Notes); notes != "" {
		b.WriteString("\n" + notes + "\n")
	}
	if m.Error != "" {
		b.WriteString("\n" + m.Error + "\n")
	}
	if m.ButtonEnabled {
		fmt.Fprintf(&b, "\n[ %s ]  type \"download\" or press enter\n", m.ButtonLabel)
	} else {
		fmt.Fprintf(&b, "\n[ %s ]\n", m.ButtonLabel)
	}
	b.WriteString(m.Footer + "\n")
	b.WriteString(rule)
	return b.String()
}
