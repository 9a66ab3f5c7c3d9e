package orchestrator

import (
	"sync"
	"time"

	"github.com/core-tools/hsu-pilot/pkg/machine"
)

// Phase is the lifecycle position of a machine within a run
type Phase string

const (
	PhasePending        Phase = "pending"
	PhaseReady          Phase = "ready"    // dependencies satisfied, waiting for a slot
	PhaseChecking       Phase = "checking" // querying the current run-state
	PhaseStarting       Phase = "starting" // start issued, polling health
	PhaseSkipped        Phase = "skipped"
	PhaseBlocked        Phase = "blocked"
	PhaseRunning        Phase = "running"
	PhaseTimedOut       Phase = "timed_out"
	PhaseAlreadyRunning Phase = "already_running"
	PhaseAborted        Phase = "aborted"
)

func terminalPhase(outcome machine.Outcome, aborted bool) Phase {
	if aborted {
		return PhaseAborted
	}
	switch outcome {
	case machine.OutcomeStarted:
		return PhaseRunning
	case machine.OutcomeTimeout:
		return PhaseTimedOut
	case machine.OutcomeAlreadyStarted:
		return PhaseAlreadyRunning
	case machine.OutcomeDependencyFailed:
		return PhaseBlocked
	case machine.OutcomeDisabled:
		return PhaseSkipped
	default:
		return PhaseBlocked
	}
}

// MachineState is the runtime record of one machine
type MachineState struct {
	Spec      machine.Spec
	Phase     Phase
	StartTime time.Time
	Duration  time.Duration
	Outcome   machine.Outcome

	// Aborted marks machines cut short by a fatal run error; their Outcome is dependency_failed
	Aborted bool
}

func (s MachineState) Final() bool {
	return s.Outcome != ""
}

// statusTable publishes machine states across tasks
type statusTable struct {
	mutex  sync.Mutex
	order  []machine.ID
	states map[machine.ID]*MachineState
}

func newStatusTable(graph *Graph) *statusTable {
	t := &statusTable{
		order:  make([]machine.ID, 0, graph.Len()),
		states: make(map[machine.ID]*MachineState, graph.Len()),
	}
	for _, node := range graph.Nodes() {
		t.order = append(t.order, node.Spec.ID)
		t.states[node.Spec.ID] = &MachineState{Spec: node.Spec, Phase: PhasePending}
	}
	return t
}

func (t *statusTable) setPhase(id machine.ID, phase Phase) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if state := t.states[id]; state != nil && !state.Final() {
		state.Phase = phase
	}
}

func (t *statusTable) setStartTime(id machine.ID, start time.Time) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if state := t.states[id]; state != nil && !state.Final() {
		state.StartTime = start
	}
}

// finalize sets the outcome once; later calls are ignored and return false
func (t *statusTable) finalize(id machine.ID, outcome machine.Outcome, start time.Time, duration time.Duration, aborted bool) (MachineState, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	state := t.states[id]
	if state == nil || state.Final() {
		return MachineState{}, false
	}
	state.Outcome = outcome
	state.Phase = terminalPhase(outcome, aborted)
	state.StartTime = start
	state.Duration = duration
	state.Aborted = aborted
	return *state, true
}

func (t *statusTable) outcome(id machine.ID) (machine.Outcome, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	state := t.states[id]
	if state == nil || !state.Final() {
		return "", false
	}
	return state.Outcome, true
}

func (t *statusTable) get(id machine.ID) (MachineState, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	state := t.states[id]
	if state == nil {
		return MachineState{}, false
	}
	return *state, true
}

// snapshot returns copies of all states in configuration order
func (t *statusTable) snapshot() []MachineState {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	result := make([]MachineState, 0, len(t.order))
	for _, id := range t.order {
		result = append(result, *t.states[id])
	}
	return result
}
