// Package ui provides the shared terminal styling helpers for CLI output.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")) // blue
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))  // gray
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

// RenderPass renders success markers.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderFail renders failure markers.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderWarn renders warnings.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderAccent renders highlighted labels.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderMuted renders secondary detail.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderBold renders emphasized text.
func RenderBold(s string) string { return boldStyle.Render(s) }
