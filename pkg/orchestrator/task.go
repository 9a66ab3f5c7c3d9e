package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/core-tools/hsu-pilot/pkg/logging"
	"github.com/core-tools/hsu-pilot/pkg/machine"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// startMachine drives one machine from ready to a terminal outcome. It runs
// on its own goroutine and holds a concurrency slot for its whole lifetime.
func (o *Orchestrator) startMachine(ctx context.Context, table *statusTable, node *Node) taskResult {
	spec := node.Spec
	result := taskResult{node: node}
	logger := logging.Named(o.logger, fmt.Sprintf("vm: %d , ", spec.ID))

	ctx, span := o.tracer.Start(ctx, "machine.start", trace.WithAttributes(
		attribute.Int("vm.id", int(spec.ID)),
		attribute.String("vm.type", string(spec.Type)),
		attribute.String("vm.node", spec.Node),
		attribute.String("vm.name", spec.Name),
	))
	defer func() {
		if result.err != nil && result.err != errAborted {
			span.RecordError(result.err)
			span.SetStatus(codes.Error, result.err.Error())
		} else if result.outcome != "" {
			span.SetAttributes(attribute.String("vm.outcome", string(result.outcome)))
		}
		span.End()
	}()

	if ctx.Err() != nil {
		result.err = errAborted
		return result
	}

	// Hypervisor calls are never interrupted halfway; cancellation is
	// observed between calls.
	callCtx := context.WithoutCancel(ctx)

	table.setPhase(spec.ID, PhaseChecking)
	result.startTime = time.Now()
	state, err := o.client.GetStatus(callCtx, spec)
	if err != nil {
		result.err = fmt.Errorf("failed to get status of machine %d (%s): %w", spec.ID, spec.DisplayName(), err)
		return result
	}
	if state == machine.RunStateRunning {
		logger.Infof("Machine already running, name: %s", spec.Name)
		result.outcome = machine.OutcomeAlreadyStarted
		return result
	}

	if ctx.Err() != nil {
		result.err = errAborted
		return result
	}

	logger.Infof("Starting machine, name: %s, type: %s, node: %s, state: %s", spec.Name, spec.Type, spec.Node, state)
	result.startTime = time.Now()
	if err := o.client.Start(callCtx, spec); err != nil {
		result.err = fmt.Errorf("failed to start machine %d (%s): %w", spec.ID, spec.DisplayName(), err)
		return result
	}
	table.setStartTime(spec.ID, result.startTime)
	table.setPhase(spec.ID, PhaseStarting)

	result.outcome, result.duration, result.err = o.awaitHealthy(ctx, logger, spec, result.startTime)
	if result.err == nil {
		logger.Infof("Machine startup finished, outcome: %s, duration: %v", result.outcome, result.duration)
	}
	return result
}

func (o *Orchestrator) startTimeout(spec machine.Spec) time.Duration {
	if spec.HealthCheck != nil && spec.HealthCheck.Timeout > 0 {
		return spec.HealthCheck.Timeout
	}
	return o.options.StartTimeout
}

// awaitHealthy probes right away and then every poll interval until the
// machine is healthy or its start timeout has elapsed
func (o *Orchestrator) awaitHealthy(ctx context.Context, logger logging.Logger, spec machine.Spec, start time.Time) (machine.Outcome, time.Duration, error) {
	deadline := start.Add(o.startTimeout(spec))
	timer := time.NewTimer(o.options.PollInterval)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		healthy, err := o.probe(ctx, spec)
		if err != nil {
			return "", 0, err
		}
		if ctx.Err() != nil {
			return "", 0, errAborted
		}

		now := time.Now()
		if healthy {
			return machine.OutcomeStarted, now.Sub(start), nil
		}
		if !now.Before(deadline) {
			logger.Warnf("Machine did not become healthy in time, attempts: %d, timeout: %v", attempt, o.startTimeout(spec))
			return machine.OutcomeTimeout, now.Sub(start), nil
		}

		wait := min(o.options.PollInterval, deadline.Sub(now))
		logger.Debugf("Machine not healthy yet, attempt: %d, next check in: %v", attempt, wait)
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return "", 0, errAborted
		case <-timer.C:
		}
	}
}

func (o *Orchestrator) probe(ctx context.Context, spec machine.Spec) (bool, error) {
	if spec.HealthCheck != nil {
		healthy, err := o.validator.Validate(ctx, *spec.HealthCheck)
		if err != nil {
			return false, fmt.Errorf("health check of machine %d (%s): %w", spec.ID, spec.DisplayName(), err)
		}
		return healthy, nil
	}

	state, err := o.client.GetStatus(context.WithoutCancel(ctx), spec)
	if err != nil {
		return false, fmt.Errorf("failed to poll status of machine %d (%s): %w", spec.ID, spec.DisplayName(), err)
	}
	return state == machine.RunStateRunning, nil
}
