package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/hypervisor"
	"github.com/core-tools/hsu-pilot/pkg/machine"

	"github.com/stretchr/testify/mock"
)

// MockClient is a testify mock of hypervisor.Client
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Start(ctx context.Context, spec machine.Spec) error {
	args := m.Called(ctx, spec)
	return args.Error(0)
}

func (m *MockClient) Stop(ctx context.Context, spec machine.Spec) error {
	args := m.Called(ctx, spec)
	return args.Error(0)
}

func (m *MockClient) GetStatus(ctx context.Context, spec machine.Spec) (machine.RunState, error) {
	args := m.Called(ctx, spec)
	return args.Get(0).(machine.RunState), args.Error(1)
}

func (m *MockClient) ListAll(ctx context.Context, node string) (map[machine.ID]machine.Info, error) {
	args := m.Called(ctx, node)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[machine.ID]machine.Info), args.Error(1)
}

var _ hypervisor.Client = (*MockClient)(nil)

// fakeMachine scripts how one machine behaves on the fake hypervisor
type fakeMachine struct {
	state machine.RunState

	// bootPolls is the number of status polls after Start before it reports running; -1 never boots
	bootPolls int
	startErr  error
	statusErr error
	startTime time.Duration
}

// fakeHypervisor is a scripted hypervisor.Client that records calls
type fakeHypervisor struct {
	mutex       sync.Mutex
	machines    map[machine.ID]*fakeMachine
	polls       map[machine.ID]int
	starts      []machine.ID
	stops       []machine.ID
	inFlight    int
	maxInFlight int
}

func newFakeHypervisor() *fakeHypervisor {
	return &fakeHypervisor{
		machines: make(map[machine.ID]*fakeMachine),
		polls:    make(map[machine.ID]int),
	}
}

func (f *fakeHypervisor) add(id machine.ID, m *fakeMachine) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if m.state == "" {
		m.state = machine.RunStateStopped
	}
	f.machines[id] = m
}

func (f *fakeHypervisor) Start(ctx context.Context, spec machine.Spec) error {
	f.mutex.Lock()
	m, ok := f.machines[spec.ID]
	if !ok {
		f.mutex.Unlock()
		return errors.NewNotFoundError("machine not found", nil).WithContext("vm_id", spec.ID)
	}
	f.starts = append(f.starts, spec.ID)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := m.startTime
	startErr := m.startErr
	f.mutex.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.inFlight--
	if startErr != nil {
		return startErr
	}
	if m.bootPolls == 0 {
		m.state = machine.RunStateRunning
	}
	return nil
}

func (f *fakeHypervisor) Stop(ctx context.Context, spec machine.Spec) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.stops = append(f.stops, spec.ID)
	if m, ok := f.machines[spec.ID]; ok {
		m.state = machine.RunStateStopped
	}
	return nil
}

func (f *fakeHypervisor) GetStatus(ctx context.Context, spec machine.Spec) (machine.RunState, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	m, ok := f.machines[spec.ID]
	if !ok {
		return machine.RunStateUnknown, errors.NewNotFoundError("machine not found", nil)
	}
	if m.statusErr != nil {
		return machine.RunStateUnknown, m.statusErr
	}
	if f.started(spec.ID) && m.state != machine.RunStateRunning && m.bootPolls > 0 {
		f.polls[spec.ID]++
		if f.polls[spec.ID] >= m.bootPolls {
			m.state = machine.RunStateRunning
		}
	}
	return m.state, nil
}

func (f *fakeHypervisor) ListAll(ctx context.Context, node string) (map[machine.ID]machine.Info, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	result := make(map[machine.ID]machine.Info, len(f.machines))
	for id, m := range f.machines {
		result[id] = machine.Info{ID: id, Node: node, State: m.state}
	}
	return result, nil
}

func (f *fakeHypervisor) started(id machine.ID) bool {
	for _, s := range f.starts {
		if s == id {
			return true
		}
	}
	return false
}

func (f *fakeHypervisor) startOrder() []machine.ID {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]machine.ID(nil), f.starts...)
}

func (f *fakeHypervisor) stopOrder() []machine.ID {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]machine.ID(nil), f.stops...)
}

func (f *fakeHypervisor) peakInFlight() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.maxInFlight
}

// fakeValidator answers health checks by target
type fakeValidator struct {
	mutex sync.Mutex
	// healthyAfter is the number of failed probes before a target answers; -1 never
	healthyAfter map[string]int
	calls        map[string]int
	err          error
}

func newFakeValidator() *fakeValidator {
	return &fakeValidator{healthyAfter: make(map[string]int), calls: make(map[string]int)}
}

func (f *fakeValidator) Validate(ctx context.Context, options machine.HealthCheckOptions) (bool, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.calls[options.Target]++
	after, ok := f.healthyAfter[options.Target]
	if !ok || after < 0 {
		return false, nil
	}
	return f.calls[options.Target] > after, nil
}

func (f *fakeValidator) callCount(target string) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.calls[target]
}

// recordingReporter keeps everything the orchestrator reports
type recordingReporter struct {
	mutex  sync.Mutex
	events []machine.StatusEvent
	fatals []string
}

func (r *recordingReporter) AppendStatus(event machine.StatusEvent) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingReporter) Fatal(message string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.fatals = append(r.fatals, message)
}

func (r *recordingReporter) outcomes() map[machine.ID]machine.Outcome {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	result := make(map[machine.ID]machine.Outcome, len(r.events))
	for _, event := range r.events {
		result[event.Machine.ID] = event.Outcome
	}
	return result
}

func (r *recordingReporter) order() []machine.ID {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	result := make([]machine.ID, 0, len(r.events))
	for _, event := range r.events {
		result = append(result, event.Machine.ID)
	}
	return result
}

type recordingListener struct {
	mutex  sync.Mutex
	events []machine.StatusEvent
}

func (l *recordingListener) OnStatus(event machine.StatusEvent) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.events = append(l.events, event)
}
