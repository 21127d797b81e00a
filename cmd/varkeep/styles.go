// SPDX-License-Identifier: MPL-2.0

package cmd

import "github.com/charmbracelet/lipgloss"

// Palette for dark terminal backgrounds.
const (
	ColorPrimary   = lipgloss.Color("#7C3AED")
	ColorMuted     = lipgloss.Color("#6B7280")
	ColorSuccess   = lipgloss.Color("#10B981")
	ColorError     = lipgloss.Color("#EF4444")
	ColorWarning   = lipgloss.Color("#F59E0B")
	ColorHighlight = lipgloss.Color("#3B82F6")
)

var (
	// TitleStyle is for section headers.
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
	// SubtitleStyle is for secondary text such as paths.
	SubtitleStyle = lipgloss.NewStyle().Foreground(ColorMuted)
	SuccessStyle  = lipgloss.NewStyle().Foreground(ColorSuccess)
	ErrorStyle    = lipgloss.NewStyle().Bold(true).Foreground(ColorError)
	WarningStyle  = lipgloss.NewStyle().Foreground(ColorWarning)
	// UIDStyle renders package UIDs.
	UIDStyle = lipgloss.NewStyle().Foreground(ColorHighlight)
	// MatchStyle highlights fuzzy-matched characters.
	MatchStyle = lipgloss.NewStyle().Bold(true).Underline(true).Foreground(ColorHighlight)

	labelStyle = lipgloss.NewStyle().Foreground(ColorMuted).Width(14)
)

// badge renders a short state tag.
func badge(text string, style lipgloss.Style) string {
	return style.Render("[" + text + "]")
}
