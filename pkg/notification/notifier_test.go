package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Kind(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		kind      string
		shouldErr bool
	}{
		{"console", Config{Console: &ConsoleConfig{}}, KindConsole, false},
		{"telegram", Config{Telegram: &TelegramConfig{Token: "t", ChatID: "c"}}, KindTelegram, false},
		{"email", Config{Email: &EmailConfig{SMTPHost: "h", From: "f", To: []string{"t"}}}, KindEmail, false},
		{"nats", Config{NATS: &NATSConfig{URL: "nats://localhost:4222"}}, KindNATS, false},
		{"none", Config{}, "", true},
		{"two", Config{Console: &ConsoleConfig{}, NATS: &NATSConfig{URL: "x"}}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, err := tt.config.Kind()
			if tt.shouldErr {
				assert.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)

			notifier, err := NewNotifier(tt.config, logging.NewNopLogger())
			require.NoError(t, err)
			assert.Equal(t, tt.kind, notifier.Kind())
		})
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"telegram_without_token", Config{Telegram: &TelegramConfig{ChatID: "c"}}},
		{"telegram_without_chat", Config{Telegram: &TelegramConfig{Token: "t"}}},
		{"email_without_host", Config{Email: &EmailConfig{From: "f", To: []string{"t"}}}},
		{"email_without_recipients", Config{Email: &EmailConfig{SMTPHost: "h", From: "f"}}},
		{"email_bad_port", Config{Email: &EmailConfig{SMTPHost: "h", SMTPPort: 99999, From: "f", To: []string{"t"}}}},
		{"nats_without_url", Config{NATS: &NATSConfig{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.config)
			assert.Error(t, err)
			assert.True(t, errors.IsValidationError(err))
		})
	}
}

func TestNewNotifiers(t *testing.T) {
	notifiers, err := NewNotifiers([]Config{
		{Console: &ConsoleConfig{}},
		{NATS: &NATSConfig{URL: "nats://localhost:4222"}},
	}, logging.NewNopLogger())
	require.NoError(t, err)
	require.Len(t, notifiers, 2)
	assert.Equal(t, KindConsole, notifiers[0].Kind())
	assert.Equal(t, KindNATS, notifiers[1].Kind())

	_, err = NewNotifiers([]Config{{Console: &ConsoleConfig{}}, {}}, logging.NewNopLogger())
	require.Error(t, err)
	var domainErr *errors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, 1, domainErr.Context["index"])
}

func TestConsoleNotifier_RendersPlainText(t *testing.T) {
	var buf bytes.Buffer
	notifier := NewConsoleNotifierWithWriter(&buf, false, logging.NewNopLogger())

	message := notifier.NewMessage()
	message.Append("🚀 *Proxmox VMs Startup Summary*\nDate: _05-Mar-2024_\n")

	require.NoError(t, notifier.Send(context.Background(), message))
	assert.Equal(t, "🚀 Proxmox VMs Startup Summary\nDate: 05-Mar-2024\n\n", buf.String())
}

func TestConsoleNotifier_Border(t *testing.T) {
	var buf bytes.Buffer
	notifier := NewConsoleNotifierWithWriter(&buf, true, logging.NewNopLogger())

	message := notifier.NewMessage()
	message.Append("*done*")

	require.NoError(t, notifier.Send(context.Background(), message))
	assert.Contains(t, buf.String(), "done")
	assert.Contains(t, buf.String(), "╭")
}

func TestTelegramNotifier_Send(t *testing.T) {
	var path, chatID, text, parseMode string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			_ = r.ParseForm()
		}
		chatID, text, parseMode = r.FormValue("chat_id"), r.FormValue("text"), r.FormValue("parse_mode")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":1709623800,"chat":{"id":-100,"type":"group"}}}`))
	}))
	defer server.Close()

	notifier, err := NewTelegramNotifier(TelegramConfig{Token: "123:abc", ChatID: "-100", APIURL: server.URL}, logging.NewNopLogger())
	require.NoError(t, err)

	message := notifier.NewMessage()
	message.Append("*hello*")
	require.NoError(t, notifier.Send(context.Background(), message))

	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "-100", chatID)
	assert.Equal(t, "*hello*", text)
	assert.Equal(t, "Markdown", parseMode)
}

func TestTelegramNotifier_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer server.Close()

	notifier, err := NewTelegramNotifier(TelegramConfig{Token: "secret-token", ChatID: "1", APIURL: server.URL}, logging.NewNopLogger())
	require.NoError(t, err)

	err = notifier.Send(context.Background(), notifier.NewMessage())
	require.Error(t, err)
	assert.True(t, errors.IsNetworkError(err))
	assert.Contains(t, err.Error(), "chat not found")
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestTelegramNotifier_UnreachableHidesToken(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	notifier, err := NewTelegramNotifier(TelegramConfig{Token: "secret-token", ChatID: "1", APIURL: url}, logging.NewNopLogger())
	require.NoError(t, err)

	err = notifier.Send(context.Background(), notifier.NewMessage())
	require.Error(t, err)
	assert.True(t, errors.IsNetworkError(err))
	assert.NotContains(t, err.Error(), "secret-token")
}

type fakePublisher struct {
	subject  string
	data     []byte
	flushed  bool
	closed   bool
	flushErr error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subject = subject
	f.data = data
	return nil
}

func (f *fakePublisher) FlushTimeout(timeout time.Duration) error {
	f.flushed = true
	return f.flushErr
}

func (f *fakePublisher) Close() {
	f.closed = true
}

func TestNATSNotifier_Send(t *testing.T) {
	notifier, err := NewNATSNotifier(NATSConfig{URL: "nats://broker:4222"}, logging.NewNopLogger())
	require.NoError(t, err)

	publisher := &fakePublisher{}
	var dialed string
	notifier.dial = func(url string) (natsPublisher, error) {
		dialed = url
		return publisher, nil
	}
	notifier.now = func() time.Time { return runStart }

	message := notifier.NewMessage()
	message.Append("report")
	require.NoError(t, notifier.Send(context.Background(), message))

	assert.Equal(t, "nats://broker:4222", dialed)
	assert.Equal(t, defaultNATSSubject, publisher.subject)
	assert.True(t, publisher.flushed)
	assert.True(t, publisher.closed)

	var event natsEvent
	require.NoError(t, json.Unmarshal(publisher.data, &event))
	assert.Equal(t, "hsu-pilot", event.Source)
	assert.Equal(t, "report", event.Text)
	assert.True(t, event.Timestamp.Equal(runStart))
}

func TestNATSNotifier_Failures(t *testing.T) {
	notifier, err := NewNATSNotifier(NATSConfig{URL: "nats://broker:4222", Subject: "lab.startup"}, logging.NewNopLogger())
	require.NoError(t, err)

	notifier.dial = func(url string) (natsPublisher, error) {
		return nil, assert.AnError
	}
	err = notifier.Send(context.Background(), notifier.NewMessage())
	require.Error(t, err)
	assert.True(t, errors.IsNetworkError(err))

	publisher := &fakePublisher{flushErr: assert.AnError}
	notifier.dial = func(url string) (natsPublisher, error) {
		return publisher, nil
	}
	err = notifier.Send(context.Background(), notifier.NewMessage())
	require.Error(t, err)
	assert.Equal(t, "lab.startup", publisher.subject)
	assert.True(t, publisher.closed)
}

func TestTextMessage(t *testing.T) {
	message := NewTextMessage()
	message.Append("a")
	message.Append("b")
	assert.Equal(t, "ab", message.String())
	message.Clear()
	assert.Equal(t, "", message.String())
}
