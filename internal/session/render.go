package session

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Reply is what a routed turn hands back to the UI.
type Reply struct {
	Text  string
	IsErr bool
	Quit  bool
}

func textReply(text string) Reply { return Reply{Text: text} }
func errReply(text string) Reply  { return Reply{Text: text, IsErr: true} }

func cardReply(title, body string) Reply {
	return Reply{Text: RenderCard(title, body)}
}

var (
	accentColor = lipgloss.Color("#8BC34A")
	errColor    = lipgloss.Color("#e53935")
	mutedColor  = lipgloss.Color("#7f8c9a")

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Padding(0, 1)

	cardTitleStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	errCardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(errColor).
			Padding(0, 1)

	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)
)

// RenderCard frames a titled block for operator-facing output.
func RenderCard(title, body string) string {
	content := cardTitleStyle.Render(title) + "\n" + strings.TrimRight(body, "\n")
	return cardStyle.Render(content)
}

// RenderErrorCard frames a startup or command failure: a one-line
// summary plus optional next steps, never a stack trace.
func RenderErrorCard(summary string, steps ...string) string {
	var b strings.Builder
	b.WriteString(summary)
	for _, s := range steps {
		b.WriteString("\n  - " + s)
	}
	return errCardStyle.Render(b.String())
}

// Muted renders secondary status text.
func Muted(s string) string { return mutedStyle.Render(s) }
