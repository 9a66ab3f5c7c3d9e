package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/logging"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const defaultTelegramAPI = "https://api.telegram.org"

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID string `yaml:"chat_id"`

	// APIURL overrides the Bot API endpoint
	APIURL string `yaml:"api_url,omitempty"`
}

func (c *TelegramConfig) validate() error {
	if c.Token == "" {
		return errors.NewValidationError("telegram token is required", nil)
	}
	if c.ChatID == "" {
		return errors.NewValidationError("telegram chat_id is required", nil)
	}
	return nil
}

// TelegramNotifier posts the report through the Telegram Bot API
type TelegramNotifier struct {
	config TelegramConfig
	logger logging.Logger
}

func NewTelegramNotifier(config TelegramConfig, logger logging.Logger) (*TelegramNotifier, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if config.APIURL == "" {
		config.APIURL = defaultTelegramAPI
	}
	return &TelegramNotifier{
		config: config,
		logger: logger,
	}, nil
}

func (n *TelegramNotifier) Kind() string {
	return KindTelegram
}

func (n *TelegramNotifier) NewMessage() Message {
	return NewTextMessage()
}

func (n *TelegramNotifier) Send(ctx context.Context, message Message) error {
	client, err := bot.New(n.config.Token,
		bot.WithServerURL(strings.TrimRight(n.config.APIURL, "/")),
		bot.WithSkipGetMe(),
	)
	if err != nil {
		return errors.NewValidationError("invalid telegram settings", n.redact(err))
	}

	_, err = client.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    n.config.ChatID,
		Text:      message.String(),
		ParseMode: models.ParseModeMarkdownV1,
	})
	if err != nil {
		return errors.NewNetworkError("telegram rejected message", n.redact(err)).
			WithContext("chat_id", n.config.ChatID)
	}

	n.logger.Debugf("Telegram notification sent, chat_id: %s", n.config.ChatID)
	return nil
}

// redact strips the bot token, which request URLs embed in transport errors
func (n *TelegramNotifier) redact(err error) error {
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), n.config.Token, "***"))
}
