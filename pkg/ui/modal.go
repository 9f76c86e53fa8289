package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/launchpad/pkg/update"
)

const (
	maxModalWidth = 64
	maxNoteLines  = 8
)

type modalFocus int

const (
	focusAcknowledge modalFocus = iota
	focusNotes
)

func (f modalFocus) next() modalFocus {
	if f == focusAcknowledge {
		return focusNotes
	}
	return focusAcknowledge
}

// modalLayout is the rendered update popup and where it sits on screen.
type modalLayout struct {
	box           string
	x, y          int
	w, h          int
	buttonY       int
	buttonX0      int
	buttonX1      int
	screenW       int
	screenH       int
	placedContent string
}

func (l modalLayout) contains(x, y int) bool {
	return x >= l.x && x < l.x+l.w && y >= l.y && y < l.y+l.h
}

func (l modalLayout) onButton(x, y int) bool {
	return y == l.buttonY && x >= l.buttonX0 && x < l.buttonX1
}

func layoutModal(m update.Modal, focus modalFocus, width, height int) modalLayout {
	if width <= 0 {
		width = 80
	}
	if height <= 0 {
		height = 24
	}
	boxW := maxModalWidth
	if width-4 < boxW {
		boxW = width - 4
	}
	if boxW < 24 {
		boxW = 24
	}
	// border (2) and horizontal padding (4)
	inner := boxW - 6

	wrap := lipgloss.NewStyle().Width(inner)
	clip := lipgloss.NewStyle().MaxWidth(inner)

	var top []string
	top = append(top, modalTitleStyle.Render(m.Title))
	top = append(top,
		versionLabelStyle.Render("Current Version:")+m.CurrentVersion,
		versionLabelStyle.Render("New Version:")+versionNewStyle.Render(m.NewVersion),
		"",
		wrap.Render(m.Message),
	)
	if notes := strings.TrimSpace(m.Notes); notes != "" {
		lines := strings.Split(notes, "\n")
		if len(lines) > maxNoteLines {
			lines = append(lines[:maxNoteLines], mutedStyle.Render("…"))
		}
		for i, l := range lines {
			lines[i] = clip.Render(l)
		}
		noteBlock := strings.Join(lines, "\n")
		if focus == focusNotes {
			noteBlock = lipgloss.NewStyle().BorderLeft(true).BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("170")).Render(noteBlock)
		}
		top = append(top, "", noteBlock)
	}
	if m.Error != "" {
		top = append(top, "", errorStyle.Render(m.Error))
	}
	top = append(top, "")
	head := lipgloss.JoinVertical(lipgloss.Left, top...)

	style := buttonDisabledStyle
	if m.ButtonEnabled {
		style = buttonStyle
		if focus == focusAcknowledge {
			style = buttonFocusedStyle
		}
	}
	button := style.Render(m.ButtonLabel)
	footer := footerStyle.Render(wrap.Render(m.Footer))

	body := lipgloss.JoinVertical(lipgloss.Left, head, button, footer)
	box := modalStyle.Width(boxW - 2).Render(body)

	l := modalLayout{
		box:     box,
		w:       lipgloss.Width(box),
		h:       lipgloss.Height(box),
		screenW: width,
		screenH: height,
	}
	if width > l.w {
		l.x = (width - l.w) / 2
	}
	if height > l.h {
		l.y = (height - l.h) / 2
	}
	// border + top padding
	l.buttonY = l.y + 2 + lipgloss.Height(head)
	l.buttonX0 = l.x + 3
	l.buttonX1 = l.buttonX0 + lipgloss.Width(button)
	l.placedContent = lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, box)
	return l
}
