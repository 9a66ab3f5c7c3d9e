package monitoring

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/logging"
	"github.com/core-tools/hsu-pilot/pkg/machine"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Validator runs a single liveness probe.
// A probe that cannot reach its target answers false; an error is returned
// only for options that should have been rejected when the configuration
// was loaded.
type Validator interface {
	Validate(ctx context.Context, options machine.HealthCheckOptions) (bool, error)
}

type probeFunc func(ctx context.Context, target string, timeout time.Duration) (bool, string)

// HostValidator probes hosts over the network
type HostValidator struct {
	logger     logging.Logger
	httpClient *http.Client
	pinger     Pinger
	probes     map[machine.CheckMethod]probeFunc
}

var _ Validator = (*HostValidator)(nil)

type ValidatorOption func(*HostValidator)

func WithPinger(pinger Pinger) ValidatorOption {
	return func(v *HostValidator) {
		v.pinger = pinger
	}
}

func WithHTTPClient(client *http.Client) ValidatorOption {
	return func(v *HostValidator) {
		v.httpClient = client
	}
}

func NewHostValidator(logger logging.Logger, opts ...ValidatorOption) *HostValidator {
	v := &HostValidator{
		logger:     logger,
		httpClient: &http.Client{},
		pinger:     NewICMPPinger(),
	}
	for _, opt := range opts {
		opt(v)
	}

	v.probes = map[machine.CheckMethod]probeFunc{
		machine.CheckMethodPing: v.checkPing,
		machine.CheckMethodHTTP: v.checkHTTP,
		machine.CheckMethodTCP:  v.checkTCP,
		machine.CheckMethodGRPC: v.checkGRPC,
	}
	return v
}

func (v *HostValidator) Validate(ctx context.Context, options machine.HealthCheckOptions) (bool, error) {
	probe, ok := v.probes[options.Method]
	if !ok {
		return false, errors.NewValidationError("unknown health check method: "+string(options.Method), nil).
			WithContext("target", options.Target)
	}

	timeout := options.ProbeTimeout
	if timeout <= 0 {
		timeout = machine.DefaultProbeTimeout
	}

	healthy, message := probe(ctx, options.Target, timeout)
	if healthy {
		v.logger.Debugf("Health check passed, method: %s, target: %s, message: %s", options.Method, options.Target, message)
	} else {
		v.logger.Debugf("Health check failed, method: %s, target: %s, message: %s", options.Method, options.Target, message)
	}
	return healthy, nil
}

func (v *HostValidator) checkPing(ctx context.Context, target string, timeout time.Duration) (bool, string) {
	rtt, err := v.pinger.Ping(ctx, target, timeout)
	if err != nil {
		return false, fmt.Sprintf("Ping failed: %v", err)
	}
	return true, fmt.Sprintf("Ping reply in %v", rtt)
}

func (v *HostValidator) checkHTTP(ctx context.Context, target string, timeout time.Duration) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, fmt.Sprintf("Failed to create HTTP request: %v", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return false, fmt.Sprintf("HTTP request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return true, fmt.Sprintf("HTTP health check passed: %s", resp.Status)
	}
	return false, fmt.Sprintf("HTTP health check failed: %s", resp.Status)
}

func (v *HostValidator) checkTCP(ctx context.Context, target string, timeout time.Duration) (bool, string) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return false, fmt.Sprintf("TCP connection failed: %v", err)
	}
	defer conn.Close()

	return true, fmt.Sprintf("TCP connection successful to %s", target)
}

func (v *HostValidator) checkGRPC(ctx context.Context, target string, timeout time.Duration) (bool, string) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return false, fmt.Sprintf("gRPC client creation failed: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return false, fmt.Sprintf("gRPC health check failed: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return false, fmt.Sprintf("gRPC health status: %s", resp.GetStatus())
	}
	return true, "gRPC health status: SERVING"
}
