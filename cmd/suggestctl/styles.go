package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// colorsEnabled mirrors the teacher's colors.go auto-detection: colors are
// on only when stdout is a real terminal and the environment's color
// profile supports more than ASCII.
var colorsEnabled = isatty.IsTerminal(os.Stdout.Fd()) && termenv.ColorProfile() != termenv.Ascii

var (
	styleHeader = newStyle(lipgloss.Color("6")).Bold(true)
	styleOK     = newStyle(lipgloss.Color("2"))
	styleWarn   = newStyle(lipgloss.Color("3"))
	styleError  = newStyle(lipgloss.Color("1")).Bold(true)
	styleDim    = newStyle(lipgloss.Color("8"))
	styleBold   = lipgloss.NewStyle().Bold(true)
)

// newStyle returns a lipgloss.Style bound to fg, degrading to an unstyled
// passthrough when colorsEnabled is false so piped output stays plain text.
func newStyle(fg lipgloss.Color) lipgloss.Style {
	if !colorsEnabled {
		return lipgloss.NewStyle()
	}
	return lipgloss.NewStyle().Foreground(fg)
}
