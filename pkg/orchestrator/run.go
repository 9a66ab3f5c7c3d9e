package orchestrator

import (
	"container/heap"
	"context"
	"time"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/machine"

	"golang.org/x/sync/semaphore"
)

type taskResult struct {
	node      *Node
	outcome   machine.Outcome
	startTime time.Time
	duration  time.Duration
	err       error
}

// run is the state of one Run call. Everything except table and the task
// goroutines is owned by the dispatcher goroutine.
type run struct {
	o      *Orchestrator
	graph  *Graph
	ctx    context.Context
	cancel context.CancelFunc
	parent context.Context

	table      *statusTable
	unresolved map[machine.ID]int
	ready      readyQueue
	slots      *semaphore.Weighted
	results    chan taskResult
	running    int
	events     []machine.StatusEvent
	fatalErr   error
}

func newRun(parent context.Context, o *Orchestrator, graph *Graph) *run {
	ctx, cancel := context.WithCancel(parent)
	r := &run{
		o:          o,
		graph:      graph,
		ctx:        ctx,
		cancel:     cancel,
		parent:     parent,
		table:      newStatusTable(graph),
		unresolved: make(map[machine.ID]int, graph.Len()),
		slots:      semaphore.NewWeighted(int64(o.options.MaxConcurrency)),
		results:    make(chan taskResult, graph.Len()),
	}
	for _, node := range graph.Nodes() {
		r.unresolved[node.Spec.ID] = len(node.Dependencies)
	}
	return r
}

func (r *run) execute() error {
	defer r.cancel()

	// Disabled machines resolve up front, whatever their dependencies do.
	for _, node := range r.graph.Nodes() {
		if !node.Spec.Enabled {
			r.o.logger.Infof("Machine disabled, id: %d, name: %s", node.Spec.ID, node.Spec.Name)
			r.resolve(node, machine.OutcomeDisabled, time.Now(), 0)
		}
	}
	for _, node := range r.graph.Nodes() {
		if len(node.Dependencies) == 0 {
			r.eligible(node)
		}
	}

	parentDone := r.parent.Done()
	for {
		if r.fatalErr == nil && r.parent.Err() != nil {
			parentDone = nil
			r.fail(errors.NewCancelledError("run cancelled", r.parent.Err()))
		}
		r.launchReady()
		if r.running == 0 {
			break
		}

		select {
		case result := <-r.results:
			r.complete(result)
		case <-parentDone:
			parentDone = nil
			r.fail(errors.NewCancelledError("run cancelled", r.parent.Err()))
		}
	}

	if r.fatalErr != nil {
		r.abortRemaining()
	}
	return r.fatalErr
}

// eligible is called once per machine, when its last dependency resolved
func (r *run) eligible(node *Node) {
	if _, final := r.table.outcome(node.Spec.ID); final {
		return
	}
	if !r.graph.DependenciesSatisfied(node.Spec.ID, r.table.outcome) {
		r.o.logger.Infof("Dependency not running, id: %d, name: %s", node.Spec.ID, node.Spec.Name)
		r.resolve(node, machine.OutcomeDependencyFailed, time.Now(), 0)
		return
	}
	r.table.setPhase(node.Spec.ID, PhaseReady)
	heap.Push(&r.ready, node)
}

func (r *run) launchReady() {
	for r.fatalErr == nil && r.ready.Len() > 0 && r.slots.TryAcquire(1) {
		node := heap.Pop(&r.ready).(*Node)
		r.running++
		go func() {
			r.results <- r.o.startMachine(r.ctx, r.table, node)
		}()
	}
}

func (r *run) complete(result taskResult) {
	r.running--
	r.slots.Release(1)

	switch {
	case result.err == errAborted:
		r.o.logger.Debugf("Machine task aborted, id: %d", result.node.Spec.ID)
	case result.err != nil:
		r.fail(result.err)
	default:
		r.resolve(result.node, result.outcome, result.startTime, result.duration)
	}
}

// resolve publishes a terminal outcome and releases dependents whose last
// dependency this was
func (r *run) resolve(node *Node, outcome machine.Outcome, start time.Time, duration time.Duration) {
	state, ok := r.table.finalize(node.Spec.ID, outcome, start, duration, false)
	if !ok {
		return
	}

	event := machine.StatusEvent{
		Machine:   state.Spec,
		Outcome:   outcome,
		StartTime: start,
		Duration:  duration,
	}
	r.events = append(r.events, event)
	r.o.emit(event)

	for _, dependent := range node.Dependents {
		r.unresolved[dependent.Spec.ID]--
		if r.unresolved[dependent.Spec.ID] == 0 {
			r.eligible(dependent)
		}
	}
}

func (r *run) fail(err error) {
	if r.fatalErr != nil {
		r.o.logger.Warnf("Additional error after fatal, error: %v", err)
		return
	}
	r.fatalErr = err
	r.cancel()
}

func (r *run) abortRemaining() {
	now := time.Now()
	for _, node := range r.graph.Nodes() {
		current, _ := r.table.get(node.Spec.ID)
		state, ok := r.table.finalize(node.Spec.ID, machine.OutcomeDependencyFailed, current.StartTime, 0, true)
		if !ok {
			continue
		}
		start := state.StartTime
		if start.IsZero() {
			start = now
		}
		event := machine.StatusEvent{
			Machine:   state.Spec,
			Outcome:   machine.OutcomeDependencyFailed,
			StartTime: start,
			Aborted:   true,
		}
		r.events = append(r.events, event)
		r.o.emit(event)
	}
}

// readyQueue orders eligible machines by configuration index
type readyQueue []*Node

func (q readyQueue) Len() int           { return len(q) }
func (q readyQueue) Less(i, j int) bool { return q[i].Index < q[j].Index }
func (q readyQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *readyQueue) Push(x any) {
	*q = append(*q, x.(*Node))
}

func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	node := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return node
}
