package pilot

import (
	"fmt"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/machine"
	"github.com/core-tools/hsu-pilot/pkg/monitoring"
	"github.com/core-tools/hsu-pilot/pkg/notification"
	"github.com/core-tools/hsu-pilot/pkg/orchestrator"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// ValidateConfig validates the entire configuration structure, including the
// dependency graph, so no machine is touched when it fails
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := config.Proxmox.Validate(); err != nil {
		return errors.NewValidationError("invalid proxmox configuration", err)
	}

	if err := validateSettings(&config.Settings); err != nil {
		return errors.NewValidationError("invalid settings", err)
	}

	if err := validateMachinesConfig(config.VMs); err != nil {
		return errors.NewValidationError("invalid vms configuration", err)
	}

	for i, notifier := range config.Notifications {
		if err := notification.ValidateConfig(notifier); err != nil {
			return errors.NewValidationError(
				fmt.Sprintf("invalid notification configuration at index %d", i),
				err,
			)
		}
	}

	return nil
}

func validateSettings(settings *Settings) error {
	valid := false
	for _, level := range validLogLevels {
		if settings.LogLevel == level {
			valid = true
			break
		}
	}
	if !valid {
		return errors.NewValidationError(
			fmt.Sprintf("invalid log level: %s", settings.LogLevel),
			nil,
		).WithContext("valid_levels", "debug, info, warn, error")
	}

	if settings.MaxConcurrency < 1 {
		return errors.NewValidationError(
			fmt.Sprintf("max_concurrency must be at least 1, got %d", settings.MaxConcurrency), nil)
	}
	if settings.PollInterval <= 0 {
		return errors.NewValidationError("poll_interval must be positive", nil)
	}
	if settings.StartTimeout <= 0 {
		return errors.NewValidationError("start_timeout must be positive", nil)
	}
	return nil
}

func validateMachinesConfig(vms []MachineConfig) error {
	if len(vms) == 0 {
		return errors.NewValidationError("no machines configured", nil)
	}

	for i, vm := range vms {
		if vm.ID <= 0 {
			return errors.NewValidationError(
				fmt.Sprintf("invalid vm_id at index %d: %d", i, vm.ID), nil)
		}
		if vm.Type != "" && !vm.Type.Valid() {
			return errors.NewValidationError(
				fmt.Sprintf("unsupported machine type at index %d: %s", i, vm.Type),
				nil,
			).WithContext("vm_id", vm.ID).WithContext("supported_types", "lxc, qemu")
		}
		if vm.HealthCheck != nil {
			if err := monitoring.ValidateHealthCheckOptions(*vm.HealthCheck); err != nil {
				return errors.NewValidationError(
					fmt.Sprintf("invalid healthcheck for machine at index %d", i),
					err,
				).WithContext("vm_id", vm.ID)
			}
		}
	}

	// duplicate ids, unknown dependencies and cycles
	specs := make([]machine.Spec, 0, len(vms))
	for _, vm := range vms {
		specs = append(specs, vm.Spec())
	}
	if _, err := orchestrator.BuildGraph(specs); err != nil {
		return err
	}
	return nil
}
