package ui

import (
	"charm.land/lipgloss/v2"

	"github.com/zhubert/nbq/internal/state"
)

// Color palette - Purple + Cyan/Teal theme
var (
	ColorPrimary   = lipgloss.Color("#7C3AED") // Purple
	ColorSecondary = lipgloss.Color("#06B6D4") // Cyan
	ColorMuted     = lipgloss.Color("#6B7280") // Gray
	ColorWarning   = lipgloss.Color("#F59E0B") // Amber
	ColorError     = lipgloss.Color("#EF4444") // Red
	ColorSuccess   = lipgloss.Color("#10B981") // Green
)

// Message styles
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorSecondary)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorError)
)

// Status styles
var (
	StatusQueuedStyle = lipgloss.NewStyle().
				Foreground(ColorMuted)

	StatusRunningStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorSecondary)

	StatusDoneStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	StatusFailedStyle = lipgloss.NewStyle().
				Foreground(ColorError)

	StatusCanceledStyle = lipgloss.NewStyle().
				Foreground(ColorWarning)
)

// StatusStyle returns the style for an item status.
func StatusStyle(s state.Status) lipgloss.Style {
	switch s {
	case state.StatusRunning:
		return StatusRunningStyle
	case state.StatusDone:
		return StatusDoneStyle
	case state.StatusFailed:
		return StatusFailedStyle
	case state.StatusCanceled:
		return StatusCanceledStyle
	default:
		return StatusQueuedStyle
	}
}
