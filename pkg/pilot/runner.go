package pilot

import (
	"context"
	"sort"
	"time"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/history"
	"github.com/core-tools/hsu-pilot/pkg/hypervisor"
	"github.com/core-tools/hsu-pilot/pkg/hypervisor/proxmox"
	"github.com/core-tools/hsu-pilot/pkg/logging"
	"github.com/core-tools/hsu-pilot/pkg/machine"
	"github.com/core-tools/hsu-pilot/pkg/metrics"
	"github.com/core-tools/hsu-pilot/pkg/monitoring"
	"github.com/core-tools/hsu-pilot/pkg/notification"
	"github.com/core-tools/hsu-pilot/pkg/orchestrator"
)

const notificationTimeout = 30 * time.Second

// RunnerOptions overrides the collaborators built from configuration
type RunnerOptions struct {
	Client    hypervisor.Client
	Validator monitoring.Validator
	Notifiers []notification.Notifier
	History   *history.Store
	Metrics   *metrics.Collector
	Now       func() time.Time
}

// Runner wires configuration into one startup, listing or shutdown session
type Runner struct {
	config    *Config
	client    hypervisor.Client
	validator monitoring.Validator
	notifiers []notification.Notifier
	history   *history.Store
	metrics   *metrics.Collector
	now       func() time.Time
	logger    logging.Logger
}

func NewRunner(config *Config, options RunnerOptions, logger logging.Logger) (*Runner, error) {
	if config == nil {
		return nil, errors.NewValidationError("configuration cannot be nil", nil)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	r := &Runner{
		config:    config,
		client:    options.Client,
		validator: options.Validator,
		notifiers: options.Notifiers,
		history:   options.History,
		metrics:   options.Metrics,
		now:       options.Now,
		logger:    logger,
	}

	if r.client == nil {
		client, err := proxmox.NewClient(config.Proxmox, logging.Named(logger, "proxmox: "))
		if err != nil {
			return nil, errors.NewValidationError("failed to create proxmox client", err)
		}
		r.client = client
	}
	if r.validator == nil {
		r.validator = monitoring.NewHostValidator(logging.Named(logger, "healthcheck: "))
	}
	if r.notifiers == nil {
		notifiers, err := createNotifiers(config.Notifications, logger)
		if err != nil {
			return nil, err
		}
		r.notifiers = notifiers
	}
	if r.metrics == nil {
		r.metrics = metrics.NewCollector()
	}
	if r.now == nil {
		r.now = time.Now
	}

	return r, nil
}

// createNotifiers falls back to the console when nothing is configured
func createNotifiers(configs []notification.Config, logger logging.Logger) ([]notification.Notifier, error) {
	if len(configs) == 0 {
		configs = []notification.Config{{Console: &notification.ConsoleConfig{}}}
	}
	notifiers, err := notification.NewNotifiers(configs, logging.Named(logger, "notification: "))
	if err != nil {
		return nil, errors.NewValidationError("failed to create notifiers", err)
	}
	return notifiers, nil
}

// Run performs one startup session: resolve, orchestrate, record and notify.
// The returned error carries the run-level failure first, followed by any
// metrics, history or notification errors.
func (r *Runner) Run(ctx context.Context) (*orchestrator.RunResult, error) {
	startedAt := r.now()
	manager := notification.NewManager(r.notifiers, logging.Named(r.logger, "notification: "))
	manager.Start(startedAt)

	record := history.NewRunRecord(startedAt)
	r.logger.Infof("Starting session, run: %s, machines: %d", record.ID, len(r.config.VMs))

	result, runErr := r.execute(ctx, manager, record)
	finishedAt := r.now()

	collection := errors.NewErrorCollection()
	collection.Add(runErr)

	r.metrics.ObserveRun(finishedAt.Sub(startedAt), runErr != nil, finishedAt)
	if path := r.config.Settings.MetricsFile; path != "" {
		if err := r.metrics.WriteTextfile(path); err != nil {
			r.logger.Errorf("Failed to write metrics, path: %s, error: %v", path, err)
			collection.Add(err)
		}
	}

	detached := context.WithoutCancel(ctx)
	if r.history != nil {
		record.Duration = finishedAt.Sub(startedAt)
		if runErr != nil {
			record.FatalError = runErr.Error()
		}
		if err := r.history.Save(detached, record); err != nil {
			r.logger.Errorf("Failed to save run history, run: %s, error: %v", record.ID, err)
			collection.Add(err)
		}
	}

	sendCtx, cancel := context.WithTimeout(detached, notificationTimeout)
	defer cancel()
	collection.Add(manager.Send(sendCtx))

	r.logger.Infof("Session finished, run: %s, duration: %v, failed: %t", record.ID, finishedAt.Sub(startedAt), runErr != nil)
	return result, collection.ToError()
}

func (r *Runner) execute(ctx context.Context, manager *notification.Manager, record *history.RunRecord) (*orchestrator.RunResult, error) {
	graph, err := r.resolveGraph(ctx)
	if err != nil {
		manager.Fatal(err.Error())
		return nil, err
	}

	o := r.newOrchestrator(manager)
	o.AddListener(r.metrics)
	o.AddListener(record)

	return o.Run(ctx, graph)
}

func (r *Runner) resolveGraph(ctx context.Context) (*orchestrator.Graph, error) {
	specs, err := ResolveMachines(ctx, r.client, r.config.VMs, r.logger)
	if err != nil {
		return nil, err
	}
	return orchestrator.BuildGraph(specs)
}

func (r *Runner) newOrchestrator(reporter orchestrator.Reporter) *orchestrator.Orchestrator {
	return orchestrator.NewOrchestrator(
		r.config.OrchestratorOptions(),
		r.client,
		r.validator,
		reporter,
		logging.Named(r.logger, "orchestrator: "),
	)
}

// Stop shuts the configured machines down in reverse dependency order
func (r *Runner) Stop(ctx context.Context) (*orchestrator.ShutdownResult, error) {
	graph, err := r.resolveGraph(ctx)
	if err != nil {
		return nil, err
	}
	return r.newOrchestrator(nopReporter{}).Shutdown(ctx, graph)
}

// List returns the machines of one node, or of the whole cluster, ordered by id
func (r *Runner) List(ctx context.Context, node string) ([]machine.Info, error) {
	inventory, err := r.client.ListAll(ctx, node)
	if err != nil {
		return nil, err
	}
	infos := make([]machine.Info, 0, len(inventory))
	for _, info := range inventory {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos, nil
}

// Metrics exposes the collector fed by Run
func (r *Runner) Metrics() *metrics.Collector {
	return r.metrics
}

type nopReporter struct{}

func (nopReporter) AppendStatus(machine.StatusEvent) {}
func (nopReporter) Fatal(string)                     {}
