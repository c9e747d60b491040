package output

import "github.com/charmbracelet/lipgloss"

// Color palette
const (
	ColorLime     = "154" // Primary accent
	ColorLimeDim  = "106" // Directories
	ColorWhite    = "255" // Paths
	ColorGray     = "245" // Labels
	ColorDarkGray = "238" // Secondary details
	ColorRed      = "196" // Errors
	ColorYellow   = "220" // Warnings
)

// Styles holds the lipgloss styles used by Writer and RenderTree.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Label   lipgloss.Style
	Path    lipgloss.Style
	Dir     lipgloss.Style
	Marker  lipgloss.Style
}

// DefaultStyles returns colored styles for terminals.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Path:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorWhite)),
		Dir:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLimeDim)),
		Marker:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime)),
	}
}

// NoColorStyles returns unstyled components for plain output.
func NoColorStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle(),
		Success: lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
		Dim:     lipgloss.NewStyle(),
		Label:   lipgloss.NewStyle(),
		Path:    lipgloss.NewStyle(),
		Dir:     lipgloss.NewStyle(),
		Marker:  lipgloss.NewStyle(),
	}
}

// GetStyles returns the appropriate styles based on color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
