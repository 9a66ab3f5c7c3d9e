package notification

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/logging"

	"github.com/wneessen/go-mail"
)

const (
	defaultEmailSubject = "Proxmox VMs Startup"
	defaultSMTPPort     = 587
	smtpConnTimeout     = 30 * time.Second
)

type EmailConfig struct {
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port,omitempty"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	Username string   `yaml:"username,omitempty"`
	Password string   `yaml:"password,omitempty"`
	Subject  string   `yaml:"subject,omitempty"`
}

func (c *EmailConfig) validate() error {
	if c.SMTPHost == "" {
		return errors.NewValidationError("email smtp_host is required", nil)
	}
	if c.SMTPPort < 0 || c.SMTPPort > 65535 {
		return errors.NewValidationError("email smtp_port must be between 1 and 65535", nil).WithContext("smtp_port", c.SMTPPort)
	}
	if c.From == "" {
		return errors.NewValidationError("email from is required", nil)
	}
	if len(c.To) == 0 {
		return errors.NewValidationError("email needs at least one recipient", nil)
	}
	return nil
}

// mailClient is the part of *mail.Client the notifier uses
type mailClient interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// newMailClient configures an SMTP client for the relay in config
func newMailClient(config EmailConfig) (mailClient, error) {
	options := []mail.Option{
		mail.WithPort(config.SMTPPort),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(smtpConnTimeout),
	}
	if config.Username != "" {
		options = append(options,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(config.Username),
			mail.WithPassword(config.Password),
		)
	}
	client, err := mail.NewClient(config.SMTPHost, options...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// EmailNotifier mails the report over SMTP
type EmailNotifier struct {
	config    EmailConfig
	newClient func(EmailConfig) (mailClient, error)
	now       func() time.Time
	logger    logging.Logger
}

func NewEmailNotifier(config EmailConfig, logger logging.Logger) (*EmailNotifier, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if config.SMTPPort == 0 {
		config.SMTPPort = defaultSMTPPort
	}
	if config.Subject == "" {
		config.Subject = defaultEmailSubject
	}
	return &EmailNotifier{
		config:    config,
		newClient: newMailClient,
		now:       time.Now,
		logger:    logger,
	}, nil
}

func (n *EmailNotifier) Kind() string {
	return KindEmail
}

func (n *EmailNotifier) NewMessage() Message {
	return NewTextMessage()
}

func (n *EmailNotifier) Send(ctx context.Context, message Message) error {
	if err := ctx.Err(); err != nil {
		return errors.NewCancelledError("email not sent", err)
	}

	msg, err := n.compose(message.String())
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(n.config.SMTPHost, strconv.Itoa(n.config.SMTPPort))
	client, err := n.newClient(n.config)
	if err != nil {
		return errors.NewValidationError("invalid smtp settings", err).WithContext("smtp", addr)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return errors.NewCancelledError("email delivery interrupted", err).WithContext("smtp", addr)
		}
		return errors.NewNetworkError("failed to send email", err).WithContext("smtp", addr)
	}

	n.logger.Debugf("Email notification sent, smtp: %s, recipients: %d", addr, len(n.config.To))
	return nil
}

func (n *EmailNotifier) compose(body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(n.config.From); err != nil {
		return nil, errors.NewValidationError("invalid email sender: "+n.config.From, err)
	}
	if err := msg.To(n.config.To...); err != nil {
		return nil, errors.NewValidationError("invalid email recipient", err)
	}
	msg.Subject(n.config.Subject)
	msg.SetDateWithValue(n.now())
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}
