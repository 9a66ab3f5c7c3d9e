package proxmox

import (
	"fmt"
	"strings"
	"time"

	"github.com/core-tools/hsu-pilot/pkg/errors"
)

const (
	DefaultPort    = 8006
	DefaultRealm   = "pam"
	DefaultTimeout = 30 * time.Second
)

// Config holds the Proxmox VE API connection settings.
// Either Password or TokenName+TokenValue must be set.
type Config struct {
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port,omitempty"`
	User       string        `yaml:"user"`
	Realm      string        `yaml:"realm,omitempty"`
	Password   string        `yaml:"password,omitempty"`
	TokenName  string        `yaml:"token_name,omitempty"`
	TokenValue string        `yaml:"token_value,omitempty"`
	VerifySSL  bool          `yaml:"verify_ssl,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
}

// SetDefaults fills zero values with the API defaults
func (c *Config) SetDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Realm == "" {
		c.Realm = DefaultRealm
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
}

// UserID returns "user@realm"; a user that already carries a realm is kept as is
func (c Config) UserID() string {
	if strings.Contains(c.User, "@") {
		return c.User
	}
	return fmt.Sprintf("%s@%s", c.User, c.Realm)
}

func (c Config) usesToken() bool {
	return c.TokenName != ""
}

func (c Config) BaseURL() string {
	return fmt.Sprintf("https://%s:%d/api2/json", c.Host, c.Port)
}

// Validate checks the connection settings
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.NewValidationError("proxmox host is required", nil)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.NewValidationError("proxmox port must be between 1 and 65535", nil).WithContext("port", c.Port)
	}
	if c.User == "" {
		return errors.NewValidationError("proxmox user is required", nil)
	}
	if c.usesToken() {
		if c.TokenValue == "" {
			return errors.NewValidationError("proxmox token_value is required when token_name is set", nil)
		}
	} else if c.Password == "" {
		return errors.NewValidationError("proxmox password or api token is required", nil)
	}
	if c.Timeout < 0 {
		return errors.NewValidationError("proxmox timeout cannot be negative", nil)
	}
	return nil
}
