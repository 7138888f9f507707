package observe

import "github.com/charmbracelet/lipgloss"

// Palette mirrors the teacher's internal/tui/colors package: a small,
// named set of lipgloss colors reused across every rendered line
// instead of scattering literal hex strings through the view code.
var (
	colorPurple = lipgloss.Color("#bd93f9")
	colorGray   = lipgloss.Color("#6272a4")
	colorGreen  = lipgloss.Color("#50fa7b")
	colorRed    = lipgloss.Color("#ff5555")
	colorYellow = lipgloss.Color("#f1fa8c")
	colorWhite  = lipgloss.Color("#f8f8f2")
)

var (
	styleWaiting = lipgloss.NewStyle().Foreground(colorGray)
	styleRunning = lipgloss.NewStyle().Foreground(colorGreen)
	styleDone    = lipgloss.NewStyle().Foreground(colorPurple)
	styleFailed  = lipgloss.NewStyle().Foreground(colorRed)
	styleWarn    = lipgloss.NewStyle().Foreground(colorYellow)
	styleText    = lipgloss.NewStyle().Foreground(colorWhite)
)

func styleForResult(r string) lipgloss.Style {
	switch r {
	case "success":
		return styleDone
	case "failed":
		return styleFailed
	case "canceled", "skipped":
		return styleWarn
	default:
		return styleRunning
	}
}
