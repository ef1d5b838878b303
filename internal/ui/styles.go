package ui

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Color palette
var (
	Green = lipgloss.Color("10") // success
	Red   = lipgloss.Color("9")  // errors
	Grey  = lipgloss.Color("8")  // muted text
	White = lipgloss.Color("15") // headers
)

// Status indicators
const (
	SuccessIcon = "✓"
	FailIcon    = "✗"
	BulletIcon  = "●"
)

// Styles returns styled text helpers bound to a renderer
type Styles struct {
	renderer *lipgloss.Renderer

	Title   lipgloss.Style
	Muted   lipgloss.Style
	Error   lipgloss.Style
	Success lipgloss.Style
	Bold    lipgloss.Style
}

// NewStyles creates a new Styles instance for the given output
func NewStyles(output io.Writer) *Styles {
	r := lipgloss.NewRenderer(output)
	if profile, ok := colorOverride(os.LookupEnv); ok {
		r.SetColorProfile(profile)
	}

	return &Styles{
		renderer: r,
		Title:    r.NewStyle().Bold(true).Foreground(White),
		Muted:    r.NewStyle().Foreground(Grey),
		Error:    r.NewStyle().Foreground(Red),
		Success:  r.NewStyle().Foreground(Green),
		Bold:     r.NewStyle().Bold(true),
	}
}

// DefaultStyles returns styles for stdout
func DefaultStyles() *Styles {
	return NewStyles(os.Stdout)
}

// PersonaLabel renders a persona name in its catalog color. An empty color
// falls back to bold text.
func (s *Styles) PersonaLabel(name, color string) string {
	style := s.renderer.NewStyle().Bold(true)
	if color = strings.TrimSpace(color); color != "" {
		style = style.Foreground(lipgloss.Color(color))
	}
	return style.Render(name)
}

// Bullet renders a colored list marker.
func (s *Styles) Bullet(color string) string {
	if strings.TrimSpace(color) == "" {
		return s.Muted.Render(BulletIcon)
	}
	return s.renderer.NewStyle().Foreground(lipgloss.Color(color)).Render(BulletIcon)
}

// FormatResult returns a styled success/fail result
func (s *Styles) FormatResult(success bool, msg string) string {
	if success {
		return s.Success.Render(SuccessIcon+" ") + msg
	}
	return s.Error.Render(FailIcon+" ") + msg
}

// Truncate shortens a string to maxLen runes with ellipsis
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// colorOverride applies NO_COLOR and EDUIA_COLOR on top of terminal
// detection. EDUIA_COLOR=1 forces color even when output is piped.
func colorOverride(lookup func(string) (string, bool)) (termenv.Profile, bool) {
	if v, ok := lookup("NO_COLOR"); ok && v != "" {
		return termenv.Ascii, true
	}
	raw, ok := lookup("EDUIA_COLOR")
	if !ok || strings.TrimSpace(raw) == "" {
		return termenv.Ascii, false
	}
	if envBool(raw, false) {
		return termenv.ANSI256, true
	}
	return termenv.Ascii, true
}

// envBool parses 1/true/yes/on/y and 0/false/no/off/n. Anything else
// returns def.
func envBool(raw string, def bool) bool {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "1", "true", "yes", "on", "y":
		return true
	case "0", "false", "no", "off", "n":
		return false
	default:
		return def
	}
}
