package pilot

import (
	"fmt"
	"os"
	"time"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/hypervisor/proxmox"
	"github.com/core-tools/hsu-pilot/pkg/machine"
	"github.com/core-tools/hsu-pilot/pkg/notification"
	"github.com/core-tools/hsu-pilot/pkg/orchestrator"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level configuration file structure
type Config struct {
	Proxmox       proxmox.Config        `yaml:"proxmox"`
	Settings      Settings              `yaml:"settings"`
	VMs           []MachineConfig       `yaml:"vms"`
	Notifications []notification.Config `yaml:"notifications,omitempty"`
}

// Settings represents run-level options
type Settings struct {
	LogLevel       string        `yaml:"log_level,omitempty"`
	MaxConcurrency int           `yaml:"max_concurrency,omitempty"`
	PollInterval   time.Duration `yaml:"poll_interval,omitempty"`
	StartTimeout   time.Duration `yaml:"start_timeout,omitempty"`
	MetricsFile    string        `yaml:"metrics_file,omitempty"`
	HistoryPath    string        `yaml:"history_path,omitempty"`

	// LockFile guards against overlapping sessions; empty selects a per-user default
	LockFile string `yaml:"lock_file,omitempty"`
}

// MachineConfig represents a single machine entry
type MachineConfig struct {
	ID           machine.ID                  `yaml:"vm_id"`
	Node         string                      `yaml:"node,omitempty"`
	Type         machine.Type                `yaml:"type,omitempty"`
	Name         string                      `yaml:"name,omitempty"`
	Enabled      *bool                       `yaml:"enabled,omitempty"` // Pointer to distinguish unset from false
	Dependencies []machine.ID                `yaml:"dependencies,omitempty"`
	HealthCheck  *machine.HealthCheckOptions `yaml:"healthcheck,omitempty"`
}

// IsEnabled reports the effective enabled flag
func (c MachineConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Spec converts the entry into a machine spec; node and type may still be empty
func (c MachineConfig) Spec() machine.Spec {
	spec := machine.Spec{
		ID:           c.ID,
		Type:         c.Type,
		Name:         c.Name,
		Node:         c.Node,
		Enabled:      c.IsEnabled(),
		Dependencies: append([]machine.ID(nil), c.Dependencies...),
	}
	if c.HealthCheck != nil {
		healthCheck := *c.HealthCheck
		spec.HealthCheck = &healthCheck
	}
	return spec
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	config, err := ParseConfig(data)
	if err != nil {
		if domainErr, ok := err.(*errors.DomainError); ok {
			return nil, domainErr.WithContext("filename", filename)
		}
		return nil, err
	}
	return config, nil
}

// ParseConfig parses YAML configuration and applies defaults
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err)
	}

	setConfigDefaults(&config)

	return &config, nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *Config) {
	config.Proxmox.SetDefaults()

	if config.Settings.LogLevel == "" {
		config.Settings.LogLevel = "info"
	}
	if config.Settings.MaxConcurrency == 0 {
		config.Settings.MaxConcurrency = orchestrator.DefaultMaxConcurrency
	}
	if config.Settings.PollInterval == 0 {
		config.Settings.PollInterval = orchestrator.DefaultPollInterval
	}
	if config.Settings.StartTimeout == 0 {
		config.Settings.StartTimeout = orchestrator.DefaultStartTimeout
	}

	for i := range config.VMs {
		vm := &config.VMs[i]

		if vm.Enabled == nil {
			enabled := true
			vm.Enabled = &enabled
		}
		if vm.HealthCheck != nil && vm.HealthCheck.ProbeTimeout == 0 {
			vm.HealthCheck.ProbeTimeout = defaultProbeTimeout(vm.HealthCheck.Timeout)
		}
	}
}

// defaultProbeTimeout never exceeds the overall health check timeout
func defaultProbeTimeout(timeout time.Duration) time.Duration {
	if timeout > 0 && timeout < machine.DefaultProbeTimeout {
		return timeout
	}
	return machine.DefaultProbeTimeout
}

// OrchestratorOptions returns the scheduler settings
func (c *Config) OrchestratorOptions() orchestrator.Options {
	return orchestrator.Options{
		MaxConcurrency: c.Settings.MaxConcurrency,
		PollInterval:   c.Settings.PollInterval,
		StartTimeout:   c.Settings.StartTimeout,
	}
}

// Specs converts all machine entries in configuration order
func (c *Config) Specs() []machine.Spec {
	specs := make([]machine.Spec, 0, len(c.VMs))
	for _, vm := range c.VMs {
		specs = append(specs, vm.Spec())
	}
	return specs
}

// ConfigSummary provides a high-level overview of configuration
type ConfigSummary struct {
	Host            string           `json:"host"`
	LogLevel        string           `json:"log_level"`
	MaxConcurrency  int              `json:"max_concurrency"`
	TotalMachines   int              `json:"total_machines"`
	EnabledMachines int              `json:"enabled_machines"`
	Notifiers       []string         `json:"notifiers"`
	Machines        []MachineSummary `json:"machines"`
}

// MachineSummary provides a summary of machine configuration
type MachineSummary struct {
	ID           machine.ID   `json:"vm_id"`
	Name         string       `json:"name,omitempty"`
	Enabled      bool         `json:"enabled"`
	Dependencies []machine.ID `json:"dependencies,omitempty"`
	HealthCheck  string       `json:"health_check,omitempty"`
}

// GetConfigSummary returns a human-readable summary of the configuration
func GetConfigSummary(config *Config) ConfigSummary {
	summary := ConfigSummary{
		Host:           config.Proxmox.Host,
		LogLevel:       config.Settings.LogLevel,
		MaxConcurrency: config.Settings.MaxConcurrency,
		Machines:       make([]MachineSummary, 0, len(config.VMs)),
	}

	for _, vm := range config.VMs {
		machineSummary := MachineSummary{
			ID:           vm.ID,
			Name:         vm.Name,
			Enabled:      vm.IsEnabled(),
			Dependencies: vm.Dependencies,
		}
		if vm.HealthCheck != nil {
			machineSummary.HealthCheck = fmt.Sprintf("%s %s", vm.HealthCheck.Method, vm.HealthCheck.Target)
		}
		if machineSummary.Enabled {
			summary.EnabledMachines++
		}
		summary.Machines = append(summary.Machines, machineSummary)
	}
	summary.TotalMachines = len(summary.Machines)

	for _, notifier := range config.Notifications {
		if kind, err := notifier.Kind(); err == nil {
			summary.Notifiers = append(summary.Notifiers, kind)
		}
	}

	return summary
}
