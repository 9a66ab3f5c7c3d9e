package monitoring

import (
	"net"
	"net/url"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/machine"
)

// ValidateHealthCheckOptions validates health check options
func ValidateHealthCheckOptions(options machine.HealthCheckOptions) error {
	if options.Target == "" {
		return errors.NewValidationError("health check target is required", nil).
			WithContext("method", options.Method)
	}

	switch options.Method {
	case machine.CheckMethodPing:
		if _, _, err := net.SplitHostPort(options.Target); err == nil {
			return errors.NewValidationError("ping target must be a host without port: "+options.Target, nil)
		}

	case machine.CheckMethodHTTP:
		u, err := url.Parse(options.Target)
		if err != nil {
			return errors.NewValidationError("invalid http health check url: "+options.Target, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.NewValidationError("http health check url must use http or https: "+options.Target, nil)
		}
		if u.Host == "" {
			return errors.NewValidationError("http health check url has no host: "+options.Target, nil)
		}

	case machine.CheckMethodTCP, machine.CheckMethodGRPC:
		if _, _, err := net.SplitHostPort(options.Target); err != nil {
			return errors.NewValidationError(string(options.Method)+" health check target must be host:port: "+options.Target, err)
		}

	default:
		return errors.NewValidationError("unsupported health check method: "+string(options.Method), nil).
			WithContext("target", options.Target)
	}

	if options.Timeout < 0 {
		return errors.NewValidationError("health check timeout cannot be negative", nil)
	}
	if options.ProbeTimeout < 0 {
		return errors.NewValidationError("health check probe timeout cannot be negative", nil)
	}
	if options.Timeout > 0 && options.ProbeTimeout > options.Timeout {
		return errors.NewValidationError("health check probe timeout must not exceed timeout", nil)
	}

	return nil
}
