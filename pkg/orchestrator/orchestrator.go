package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/hypervisor"
	"github.com/core-tools/hsu-pilot/pkg/logging"
	"github.com/core-tools/hsu-pilot/pkg/machine"
	"github.com/core-tools/hsu-pilot/pkg/monitoring"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxConcurrency = 1
	DefaultPollInterval   = 5 * time.Second
	DefaultStartTimeout   = 2 * time.Minute

	tracerName = "github.com/core-tools/hsu-pilot/pkg/orchestrator"
)

type Options struct {
	// MaxConcurrency bounds the machines being started or polled at once
	MaxConcurrency int
	PollInterval   time.Duration

	// StartTimeout applies to machines whose health check sets no timeout
	StartTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = DefaultStartTimeout
	}
}

// Reporter receives the progress of a run. AppendStatus is called once per
// machine from a single goroutine; Fatal replaces everything reported so far.
type Reporter interface {
	AppendStatus(event machine.StatusEvent)
	Fatal(message string)
}

// StatusListener observes every terminal transition, including aborted machines
type StatusListener interface {
	OnStatus(event machine.StatusEvent)
}

// RunResult is the final state of a run
type RunResult struct {
	StartedAt time.Time
	Duration  time.Duration
	States    []MachineState        // configuration order
	Events    []machine.StatusEvent // emission order
}

// Counts returns the number of machines per outcome
func (r *RunResult) Counts() map[machine.Outcome]int {
	counts := make(map[machine.Outcome]int)
	for _, state := range r.States {
		if state.Final() {
			counts[state.Outcome]++
		}
	}
	return counts
}

// Aborted returns the machines cut short by a fatal error
func (r *RunResult) Aborted() []machine.Spec {
	var result []machine.Spec
	for _, state := range r.States {
		if state.Aborted {
			result = append(result, state.Spec)
		}
	}
	return result
}

type Orchestrator struct {
	options   Options
	client    hypervisor.Client
	validator monitoring.Validator
	reporter  Reporter
	logger    logging.Logger
	tracer    trace.Tracer

	mutex     sync.Mutex
	listeners []StatusListener
}

func NewOrchestrator(options Options, client hypervisor.Client, validator monitoring.Validator, reporter Reporter, logger logging.Logger) *Orchestrator {
	options.setDefaults()
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Orchestrator{
		options:   options,
		client:    client,
		validator: validator,
		reporter:  reporter,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
}

func (o *Orchestrator) AddListener(listener StatusListener) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.listeners = append(o.listeners, listener)
}

func (o *Orchestrator) SetTracer(tracer trace.Tracer) {
	o.tracer = tracer
}

func (o *Orchestrator) Options() Options {
	return o.options
}

// Run starts every machine of graph in dependency order and classifies each
// one. Per-machine failures are outcomes; the returned error is set only for
// run-level failures, after the reporter got its Fatal call.
func (o *Orchestrator) Run(ctx context.Context, graph *Graph) (*RunResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(
		attribute.Int("machines", graph.Len()),
		attribute.Int("max_concurrency", o.options.MaxConcurrency),
	))
	defer span.End()

	o.logger.Infof("Starting run, machines: %d, max_concurrency: %d, poll_interval: %v",
		graph.Len(), o.options.MaxConcurrency, o.options.PollInterval)

	startedAt := time.Now()
	r := newRun(ctx, o, graph)
	fatalErr := r.execute()

	result := &RunResult{
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
		States:    r.table.snapshot(),
		Events:    r.events,
	}

	if fatalErr != nil {
		span.RecordError(fatalErr)
		span.SetStatus(codes.Error, fatalErr.Error())
		o.logger.Errorf("Run failed, error: %v, aborted: %d", fatalErr, len(result.Aborted()))
		o.reporter.Fatal(fatalMessage(fatalErr, result.Aborted()))
		return result, fatalErr
	}

	o.logger.Infof("Run completed, duration: %v, outcomes: %v", result.Duration, result.Counts())
	return result, nil
}

func fatalMessage(err error, aborted []machine.Spec) string {
	message := err.Error()
	if len(aborted) == 0 {
		return message
	}
	names := make([]string, 0, len(aborted))
	for _, spec := range aborted {
		names = append(names, spec.DisplayName())
	}
	return fmt.Sprintf("%s\n\nNot started: %s", message, strings.Join(names, ", "))
}

func (o *Orchestrator) emit(event machine.StatusEvent) {
	if !event.Aborted {
		o.reporter.AppendStatus(event)
	}

	o.mutex.Lock()
	listeners := append([]StatusListener(nil), o.listeners...)
	o.mutex.Unlock()

	for _, listener := range listeners {
		listener.OnStatus(event)
	}
}

// errAborted is returned by tasks that stopped because the run was cancelled
var errAborted = errors.NewCancelledError("machine task aborted", nil)
