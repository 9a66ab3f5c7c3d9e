package notification

import (
	"context"
	"fmt"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/logging"
)

const (
	KindConsole  = "console"
	KindTelegram = "telegram"
	KindEmail    = "email"
	KindNATS     = "nats"
)

// Notifier delivers a finished report to one channel
type Notifier interface {
	Kind() string
	NewMessage() Message
	Send(ctx context.Context, message Message) error
}

// Config selects one notifier; exactly one member must be set
type Config struct {
	Console  *ConsoleConfig  `yaml:"console,omitempty"`
	Telegram *TelegramConfig `yaml:"telegram,omitempty"`
	Email    *EmailConfig    `yaml:"email,omitempty"`
	NATS     *NATSConfig     `yaml:"nats,omitempty"`
}

// Kind returns the configured notifier kind
func (c Config) Kind() (string, error) {
	var kinds []string
	if c.Console != nil {
		kinds = append(kinds, KindConsole)
	}
	if c.Telegram != nil {
		kinds = append(kinds, KindTelegram)
	}
	if c.Email != nil {
		kinds = append(kinds, KindEmail)
	}
	if c.NATS != nil {
		kinds = append(kinds, KindNATS)
	}

	switch len(kinds) {
	case 0:
		return "", errors.NewValidationError("notification entry has no notifier configured", nil)
	case 1:
		return kinds[0], nil
	default:
		return "", errors.NewValidationError(fmt.Sprintf("notification entry configures several notifiers: %v", kinds), nil)
	}
}

type factoryFunc func(config Config, logger logging.Logger) (Notifier, error)

var factories = map[string]factoryFunc{
	KindConsole: func(config Config, logger logging.Logger) (Notifier, error) {
		return NewConsoleNotifier(*config.Console, logger), nil
	},
	KindTelegram: func(config Config, logger logging.Logger) (Notifier, error) {
		return NewTelegramNotifier(*config.Telegram, logger)
	},
	KindEmail: func(config Config, logger logging.Logger) (Notifier, error) {
		return NewEmailNotifier(*config.Email, logger)
	},
	KindNATS: func(config Config, logger logging.Logger) (Notifier, error) {
		return NewNATSNotifier(*config.NATS, logger)
	},
}

// ValidateConfig checks that config selects exactly one valid notifier
func ValidateConfig(config Config) error {
	kind, err := config.Kind()
	if err != nil {
		return err
	}
	switch kind {
	case KindTelegram:
		return config.Telegram.validate()
	case KindEmail:
		return config.Email.validate()
	case KindNATS:
		return config.NATS.validate()
	}
	return nil
}

// NewNotifier builds the notifier selected by config
func NewNotifier(config Config, logger logging.Logger) (Notifier, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	kind, _ := config.Kind()
	logger.Debugf("Creating notifier, kind: %s", kind)
	return factories[kind](config, logger)
}

// NewNotifiers builds one notifier per entry, in order
func NewNotifiers(configs []Config, logger logging.Logger) ([]Notifier, error) {
	notifiers := make([]Notifier, 0, len(configs))
	for i, config := range configs {
		notifier, err := NewNotifier(config, logger)
		if err != nil {
			if domainErr, ok := err.(*errors.DomainError); ok {
				return nil, domainErr.WithContext("index", i)
			}
			return nil, fmt.Errorf("notification %d: %w", i, err)
		}
		notifiers = append(notifiers, notifier)
	}
	return notifiers, nil
}
