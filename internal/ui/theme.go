package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/bamsammich/stash/internal/config"
)

// Catppuccin Mocha palette, overridable from the config file.
var (
	ColorGreen  = lipgloss.Color("#a6e3a1")
	ColorYellow = lipgloss.Color("#f9e2af")
	ColorRed    = lipgloss.Color("#f38ba8")
	ColorBlue   = lipgloss.Color("#89b4fa")
	ColorMuted  = lipgloss.Color("#5a6278")
)

// ApplyTheme overrides colors from a config ThemeConfig.
func ApplyTheme(tc config.ThemeConfig) {
	if tc.Green != nil {
		ColorGreen = lipgloss.Color(*tc.Green)
	}
	if tc.Yellow != nil {
		ColorYellow = lipgloss.Color(*tc.Yellow)
	}
	if tc.Red != nil {
		ColorRed = lipgloss.Color(*tc.Red)
	}
	if tc.Blue != nil {
		ColorBlue = lipgloss.Color(*tc.Blue)
	}
	if tc.Muted != nil {
		ColorMuted = lipgloss.Color(*tc.Muted)
	}
}

// labelStyle renders the leading verb of a report line. The zero value
// renders plain text.
type labelStyle struct {
	style *lipgloss.Style
}

func (l labelStyle) render(s string) string {
	if l.style == nil {
		return s
	}
	return l.style.Render(s)
}

type theme struct {
	done   labelStyle
	info   labelStyle
	muted  labelStyle
	warn   labelStyle
	failed labelStyle
}

// newTheme builds label styles from the current palette. Without color,
// every label is plain.
func newTheme(color bool) theme {
	if !color {
		return theme{}
	}
	styled := func(c lipgloss.Color, bold bool) labelStyle {
		s := lipgloss.NewStyle().Foreground(c).Bold(bold)
		return labelStyle{style: &s}
	}
	return theme{
		done:   styled(ColorGreen, false),
		info:   styled(ColorBlue, false),
		muted:  styled(ColorMuted, false),
		warn:   styled(ColorYellow, true),
		failed: styled(ColorRed, true),
	}
}
