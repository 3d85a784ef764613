package cli

import "github.com/charmbracelet/lipgloss"

var (
	colorGreen  = lipgloss.Color("#8ec07c")
	colorYellow = lipgloss.Color("#fabd2f")
	colorRed    = lipgloss.Color("#fb4934")
	colorDim    = lipgloss.Color("#928374")
	colorHeader = lipgloss.Color("#fe8019")
)

type styles struct {
	header lipgloss.Style
	ok     lipgloss.Style
	warn   lipgloss.Style
	fail   lipgloss.Style
	dim    lipgloss.Style
}

// newStyles binds styles to r so color is dropped when the output is not a
// terminal.
func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header: r.NewStyle().Foreground(colorHeader).Bold(true),
		ok:     r.NewStyle().Foreground(colorGreen),
		warn:   r.NewStyle().Foreground(colorYellow),
		fail:   r.NewStyle().Foreground(colorRed),
		dim:    r.NewStyle().Foreground(colorDim),
	}
}

func plainStyles() styles {
	s := lipgloss.NewStyle()
	return styles{header: s, ok: s, warn: s, fail: s, dim: s}
}
