package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/core-tools/hsu-pilot/pkg/logging"
	"github.com/core-tools/hsu-pilot/pkg/machine"
)

// ShutdownResult lists what a shutdown did per machine
type ShutdownResult struct {
	Stopped  []machine.Spec
	Skipped  []machine.Spec // disabled or not running
	TimedOut []machine.Spec // shutdown issued, still running after the timeout
}

// Shutdown stops the enabled machines of graph in reverse dependency order,
// waiting for each one to stop before moving on to its dependencies.
// Hypervisor errors abort the shutdown.
func (o *Orchestrator) Shutdown(ctx context.Context, graph *Graph) (*ShutdownResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.shutdown")
	defer span.End()

	order := graph.TopologicalOrder()
	result := &ShutdownResult{}

	o.logger.Infof("Starting shutdown, machines: %d", len(order))

	for i := len(order) - 1; i >= 0; i-- {
		spec := order[i].Spec
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("shutdown interrupted: %w", err)
		}

		if !spec.Enabled {
			result.Skipped = append(result.Skipped, spec)
			continue
		}

		logger := logging.Named(o.logger, fmt.Sprintf("vm: %d , ", spec.ID))
		state, err := o.client.GetStatus(ctx, spec)
		if err != nil {
			return result, fmt.Errorf("failed to get status of machine %d (%s): %w", spec.ID, spec.DisplayName(), err)
		}
		if state != machine.RunStateRunning {
			logger.Infof("Machine not running, skipping shutdown, state: %s", state)
			result.Skipped = append(result.Skipped, spec)
			continue
		}

		logger.Infof("Shutting down machine, name: %s", spec.Name)
		if err := o.client.Stop(ctx, spec); err != nil {
			return result, fmt.Errorf("failed to shut down machine %d (%s): %w", spec.ID, spec.DisplayName(), err)
		}

		stopped, err := o.awaitStopped(ctx, spec)
		if err != nil {
			return result, err
		}
		if stopped {
			result.Stopped = append(result.Stopped, spec)
		} else {
			logger.Warnf("Machine still running after shutdown timeout, timeout: %v", o.options.StartTimeout)
			result.TimedOut = append(result.TimedOut, spec)
		}
	}

	o.logger.Infof("Shutdown completed, stopped: %d, skipped: %d, timed_out: %d",
		len(result.Stopped), len(result.Skipped), len(result.TimedOut))
	return result, nil
}

func (o *Orchestrator) awaitStopped(ctx context.Context, spec machine.Spec) (bool, error) {
	deadline := time.Now().Add(o.options.StartTimeout)
	timer := time.NewTimer(o.options.PollInterval)
	defer timer.Stop()

	for {
		state, err := o.client.GetStatus(ctx, spec)
		if err != nil {
			return false, fmt.Errorf("failed to poll status of machine %d (%s): %w", spec.ID, spec.DisplayName(), err)
		}
		if state == machine.RunStateStopped {
			return true, nil
		}

		now := time.Now()
		if !now.Before(deadline) {
			return false, nil
		}

		timer.Reset(min(o.options.PollInterval, deadline.Sub(now)))
		select {
		case <-ctx.Done():
			return false, fmt.Errorf("shutdown interrupted: %w", ctx.Err())
		case <-timer.C:
		}
	}
}
