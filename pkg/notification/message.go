package notification

import "strings"

// Message is a text buffer owned by exactly one notifier
type Message interface {
	Append(text string)
	Clear()
	String() string
}

// TextMessage is a plain Markdown text buffer
type TextMessage struct {
	builder strings.Builder
}

func NewTextMessage() *TextMessage {
	return &TextMessage{}
}

func (m *TextMessage) Append(text string) {
	m.builder.WriteString(text)
}

func (m *TextMessage) Clear() {
	m.builder.Reset()
}

func (m *TextMessage) String() string {
	return m.builder.String()
}
