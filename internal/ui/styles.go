// Package ui provides terminal styling for reef CLI output.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	ColorOK = lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	}
)

var (
	OKStyle     = lipgloss.NewStyle().Foreground(ColorOK)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

const (
	IconOK   = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
)

func init() {
	// Honor NO_COLOR and friends.
	if termenv.EnvNoColor() {
		plain := lipgloss.NewStyle()
		OKStyle = plain
		WarnStyle = plain
		FailStyle = plain
		MutedStyle = plain
		AccentStyle = plain
		HeaderStyle = lipgloss.NewStyle().Bold(true)
	}
}

func OK(s string) string     { return OKStyle.Render(s) }
func Warn(s string) string   { return WarnStyle.Render(s) }
func Fail(s string) string   { return FailStyle.Render(s) }
func Muted(s string) string  { return MutedStyle.Render(s) }
func Accent(s string) string { return AccentStyle.Render(s) }
func Header(s string) string { return HeaderStyle.Render(s) }
