package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/logging"
)

const (
	defaultNATSSubject = "hsu-pilot.startup"
	natsFlushTimeout   = 5 * time.Second
)

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject,omitempty"`
}

func (c *NATSConfig) validate() error {
	if c.URL == "" {
		return errors.NewValidationError("nats url is required", nil)
	}
	return nil
}

type natsPublisher interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

type natsDialFunc func(url string) (natsPublisher, error)

func dialNATS(url string) (natsPublisher, error) {
	return nats.Connect(url,
		nats.Name("hsu-pilot"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(2),
		nats.ReconnectWait(time.Second),
	)
}

// NATSNotifier publishes the report as one JSON event
type NATSNotifier struct {
	config NATSConfig
	dial   natsDialFunc
	now    func() time.Time
	logger logging.Logger
}

type natsEvent struct {
	Source    string    `json:"source"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func NewNATSNotifier(config NATSConfig, logger logging.Logger) (*NATSNotifier, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if config.Subject == "" {
		config.Subject = defaultNATSSubject
	}
	return &NATSNotifier{
		config: config,
		dial:   dialNATS,
		now:    time.Now,
		logger: logger,
	}, nil
}

func (n *NATSNotifier) Kind() string {
	return KindNATS
}

func (n *NATSNotifier) NewMessage() Message {
	return NewTextMessage()
}

func (n *NATSNotifier) Send(ctx context.Context, message Message) error {
	if err := ctx.Err(); err != nil {
		return errors.NewCancelledError("nats event not published", err)
	}

	payload, err := json.Marshal(natsEvent{
		Source:    "hsu-pilot",
		Text:      message.String(),
		Timestamp: n.now().UTC(),
	})
	if err != nil {
		return errors.NewInternalError("failed to encode nats event", err)
	}

	conn, err := n.dial(n.config.URL)
	if err != nil {
		return errors.NewNetworkError("failed to connect to nats", err).WithContext("url", n.config.URL)
	}
	defer conn.Close()

	if err := conn.Publish(n.config.Subject, payload); err != nil {
		return errors.NewNetworkError("failed to publish nats event", err).WithContext("subject", n.config.Subject)
	}

	timeout := natsFlushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if err := conn.FlushTimeout(timeout); err != nil {
		return errors.NewNetworkError("failed to flush nats event", err).WithContext("subject", n.config.Subject)
	}

	n.logger.Debugf("NATS notification published, subject: %s", n.config.Subject)
	return nil
}
