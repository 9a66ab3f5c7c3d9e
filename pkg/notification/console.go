package notification

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/charmbracelet/lipgloss"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/logging"
)

type ConsoleConfig struct {
	// Output is "stdout" (default) or "stderr"
	Output string `yaml:"output,omitempty"`
	Border bool   `yaml:"border,omitempty"`
}

var (
	boldMarkup   = regexp.MustCompile(`\*([^*\n]+)\*`)
	italicMarkup = regexp.MustCompile(`_([^_\n]+)_`)
)

// ConsoleNotifier prints the report to a terminal, rendering the Markdown
// emphasis with lipgloss styles
type ConsoleNotifier struct {
	writer io.Writer
	logger logging.Logger

	bold   lipgloss.Style
	italic lipgloss.Style
	frame  lipgloss.Style
	border bool
}

func NewConsoleNotifier(config ConsoleConfig, logger logging.Logger) *ConsoleNotifier {
	writer := io.Writer(os.Stdout)
	if config.Output == "stderr" {
		writer = os.Stderr
	}
	return NewConsoleNotifierWithWriter(writer, config.Border, logger)
}

func NewConsoleNotifierWithWriter(writer io.Writer, border bool, logger logging.Logger) *ConsoleNotifier {
	renderer := lipgloss.NewRenderer(writer)
	return &ConsoleNotifier{
		writer: writer,
		logger: logger,
		bold:   renderer.NewStyle().Bold(true),
		italic: renderer.NewStyle().Italic(true).Foreground(lipgloss.Color("245")),
		frame: renderer.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1),
		border: border,
	}
}

func (n *ConsoleNotifier) Kind() string {
	return KindConsole
}

func (n *ConsoleNotifier) NewMessage() Message {
	return NewTextMessage()
}

func (n *ConsoleNotifier) Send(ctx context.Context, message Message) error {
	text := n.render(message.String())
	if _, err := fmt.Fprintln(n.writer, text); err != nil {
		return errors.NewIOError("failed to write console notification", err)
	}
	return nil
}

func (n *ConsoleNotifier) render(text string) string {
	text = boldMarkup.ReplaceAllStringFunc(text, func(s string) string {
		return n.bold.Render(s[1 : len(s)-1])
	})
	text = italicMarkup.ReplaceAllStringFunc(text, func(s string) string {
		return n.italic.Render(s[1 : len(s)-1])
	})
	if n.border {
		return n.frame.Render(text)
	}
	return text
}
