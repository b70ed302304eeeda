package base

import "github.com/charmbracelet/lipgloss"

// ColorPalette defines a consistent color scheme
type ColorPalette struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Success   lipgloss.Color
	Warning   lipgloss.Color
	Error     lipgloss.Color
	Muted     lipgloss.Color
	Text      lipgloss.Color
	Control   lipgloss.Color
}

// DarkPalette is the default dark theme palette
var DarkPalette = ColorPalette{
	Primary:   lipgloss.Color("#7C3AED"), // Purple
	Secondary: lipgloss.Color("#06B6D4"), // Cyan
	Success:   lipgloss.Color("#10B981"), // Emerald
	Warning:   lipgloss.Color("#F59E0B"), // Amber
	Error:     lipgloss.Color("#EF4444"), // Red
	Muted:     lipgloss.Color("#475569"), // Slate
	Text:      lipgloss.Color("#CDD6F4"),
	Control:   lipgloss.Color("#F472B6"), // Pink
}

// LightPalette is the light theme palette
var LightPalette = ColorPalette{
	Primary:   lipgloss.Color("#5A56E0"),
	Secondary: lipgloss.Color("#0E7490"),
	Success:   lipgloss.Color("#02BA84"),
	Warning:   lipgloss.Color("#FF8C00"),
	Error:     lipgloss.Color("#FF5F56"),
	Muted:     lipgloss.Color("#9B9B9B"),
	Text:      lipgloss.Color("#1E1E2E"),
	Control:   lipgloss.Color("#BE185D"),
}

func adaptive(pick func(ColorPalette) lipgloss.Color) lipgloss.AdaptiveColor {
	return lipgloss.AdaptiveColor{
		Light: string(pick(LightPalette)),
		Dark:  string(pick(DarkPalette)),
	}
}

// Common adaptive colors used across the application
var (
	AdaptivePrimary   = adaptive(func(p ColorPalette) lipgloss.Color { return p.Primary })
	AdaptiveSecondary = adaptive(func(p ColorPalette) lipgloss.Color { return p.Secondary })
	AdaptiveSuccess   = adaptive(func(p ColorPalette) lipgloss.Color { return p.Success })
	AdaptiveWarning   = adaptive(func(p ColorPalette) lipgloss.Color { return p.Warning })
	AdaptiveError     = adaptive(func(p ColorPalette) lipgloss.Color { return p.Error })
	AdaptiveMuted     = adaptive(func(p ColorPalette) lipgloss.Color { return p.Muted })
	AdaptiveText      = adaptive(func(p ColorPalette) lipgloss.Color { return p.Text })
	AdaptiveControl   = adaptive(func(p ColorPalette) lipgloss.Color { return p.Control })
)

// ClassColor returns the colour used for bytes of class c.
func ClassColor(c ByteClass) lipgloss.AdaptiveColor {
	switch c {
	case ClassZero:
		return AdaptiveMuted
	case ClassPrintable:
		return AdaptiveText
	case ClassControl:
		return AdaptiveControl
	default:
		return AdaptiveWarning
	}
}
