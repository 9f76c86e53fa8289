package ui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	badgeStyle     = lipgloss.NewStyle().Padding(0, 1).Bold(true)
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	authorStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	infoStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("118"))
	warningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)

	modalStyle          = lipgloss.NewStyle().Border(lipgloss.DoubleBorder()).BorderForeground(lipgloss.Color("170")).Padding(1, 2)
	modalTitleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170")).MarginBottom(1)
	versionLabelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Width(17)
	versionNewStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("118"))
	buttonStyle         = lipgloss.NewStyle().Padding(0, 3).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62"))
	buttonFocusedStyle  = buttonStyle.Background(lipgloss.Color("170")).Bold(true)
	buttonDisabledStyle = buttonStyle.Foreground(lipgloss.Color("245")).Background(lipgloss.Color("238"))
	footerStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true).MarginTop(1)
)

func stateBadge(state string) string {
	color := "241"
	switch state {
	case "connected":
		color = "28"
	case "connecting":
		color = "136"
	case "disconnected", "failed":
		color = "124"
	}
	return badgeStyle.Background(lipgloss.Color(color)).Foreground(lipgloss.Color("230")).Render(state)
}
