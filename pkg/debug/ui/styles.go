package ui

import (
	"fmt"
	"strings"

	"litepage/pkg/ui/base"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
)

// Color palette - shared across all readers
var (
	PrimaryColor   = base.AdaptivePrimary
	SecondaryColor = base.AdaptiveSecondary
	SuccessColor   = base.AdaptiveSuccess
	WarningColor   = base.AdaptiveWarning
	ErrorColor     = base.AdaptiveError
	MutedColor     = base.AdaptiveMuted
	FgColor        = base.AdaptiveText
)

// Common styles
var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	HeaderStyle = lipgloss.NewStyle().
			Foreground(SecondaryColor).
			Bold(true).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(PrimaryColor).
			Padding(0, 1)

	LabelStyle = lipgloss.NewStyle().
			Foreground(SecondaryColor).
			Bold(true)

	ValueStyle = lipgloss.NewStyle().
			Foreground(FgColor)

	OffsetStyle = lipgloss.NewStyle().
			Foreground(SecondaryColor)

	HelpStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			MarginTop(1).
			Padding(0, 1)

	StatusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(PrimaryColor).
			Padding(0, 1).
			MarginTop(1)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true).
			Padding(1)

	WarningStyle = lipgloss.NewStyle().
			Foreground(WarningColor).
			Bold(true).
			Padding(0, 1)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(SuccessColor).
			Bold(true).
			Padding(0, 1)
)

// byteStyles colours a dump by byte class.
var byteStyles = map[base.ByteClass]lipgloss.Style{
	base.ClassZero:      lipgloss.NewStyle().Foreground(base.ClassColor(base.ClassZero)),
	base.ClassPrintable: lipgloss.NewStyle().Foreground(base.ClassColor(base.ClassPrintable)),
	base.ClassControl:   lipgloss.NewStyle().Foreground(base.ClassColor(base.ClassControl)),
	base.ClassHigh:      lipgloss.NewStyle().Foreground(base.ClassColor(base.ClassHigh)),
}

// Common key bindings
type CommonKeyMap struct {
	Up   key.Binding
	Down key.Binding
	Back key.Binding
	Quit key.Binding
}

var CommonKeys = CommonKeyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "scroll up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "scroll down"),
	),
	Back: key.NewBinding(
		key.WithKeys("esc", "backspace"),
		key.WithHelp("esc", "back"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// Navigation key bindings
type NavigationKeyMap struct {
	NextPage   key.Binding
	PrevPage   key.Binding
	FirstPage  key.Binding
	LastPage   key.Binding
	ToggleMode key.Binding
}

var NavigationKeys = NavigationKeyMap{
	NextPage: key.NewBinding(
		key.WithKeys("n", "pgdown", "right", "l"),
		key.WithHelp("n/→", "next page"),
	),
	PrevPage: key.NewBinding(
		key.WithKeys("p", "pgup", "left", "h"),
		key.WithHelp("p/←", "prev page"),
	),
	FirstPage: key.NewBinding(
		key.WithKeys("g", "home"),
		key.WithHelp("g/home", "first page"),
	),
	LastPage: key.NewBinding(
		key.WithKeys("G", "end"),
		key.WithHelp("G/end", "last page"),
	),
	ToggleMode: key.NewBinding(
		key.WithKeys("tab", "m"),
		key.WithHelp("tab", "data/log"),
	),
}

// RenderError renders an error message with instructions to quit
func RenderError(err error) string {
	return ErrorStyle.Render(lipgloss.JoinVertical(
		lipgloss.Left,
		"Error: "+err.Error(),
		"",
		"Press q to quit.",
	))
}

// RenderStatusBar renders a status bar with the given text
func RenderStatusBar(text string) string {
	return StatusBarStyle.Render(text)
}

// RenderTitle renders a title with an icon
func RenderTitle(icon, title string) string {
	return TitleStyle.Render(icon + "  " + title)
}

// RenderHeaderWithCount renders a header with optional count
func RenderHeaderWithCount(text string, count int) string {
	if count >= 0 {
		return HeaderStyle.Render(fmt.Sprintf(" %s (%d) ", text, count))
	}
	return HeaderStyle.Render(" " + text + " ")
}

// RenderField renders one "label: value" line padded to labelWidth.
func RenderField(label, value string, labelWidth int) string {
	return LabelStyle.Render(base.PadString(label+":", labelWidth)) + " " + ValueStyle.Render(value)
}

// RenderHexRow renders a dump row with every byte coloured by class.
func RenderHexRow(offset int, row []byte) string {
	var hex, ascii strings.Builder
	for i := 0; i < base.BytesPerRow; i++ {
		if i == base.BytesPerRow/2 {
			hex.WriteByte(' ')
		}
		if i >= len(row) {
			hex.WriteString("   ")
			continue
		}
		style := byteStyles[base.Classify(row[i])]
		hex.WriteString(style.Render(fmt.Sprintf("%02x", row[i])) + " ")
		ascii.WriteString(style.Render(string(base.Printable(row[i]))))
	}
	return OffsetStyle.Render(fmt.Sprintf("%08x", offset)) + "  " + hex.String() + " |" + ascii.String() + "|"
}

// RenderHexDump renders data as coloured dump rows, one per line.
func RenderHexDump(data []byte) string {
	var b strings.Builder
	for off := 0; off < len(data); off += base.BytesPerRow {
		end := min(off+base.BytesPerRow, len(data))
		b.WriteString(RenderHexRow(off, data[off:end]))
		b.WriteByte('\n')
	}
	return b.String()
}
