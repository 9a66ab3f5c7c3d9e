package pilot

import (
	"context"
	"sync"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/machine"
	"github.com/core-tools/hsu-pilot/pkg/notification"
)

// fakeCluster is an in-memory hypervisor whose machines boot on Start
type fakeCluster struct {
	mutex     sync.Mutex
	inventory map[machine.ID]machine.Info
	started   []machine.ID
	stopped   []machine.ID
	listErr   error
	listCalls int
}

func newFakeCluster(infos ...machine.Info) *fakeCluster {
	c := &fakeCluster{inventory: make(map[machine.ID]machine.Info)}
	for _, info := range infos {
		if info.State == "" {
			info.State = machine.RunStateStopped
		}
		c.inventory[info.ID] = info
	}
	return c
}

func (c *fakeCluster) Start(ctx context.Context, spec machine.Spec) error {
	return c.setState(spec.ID, machine.RunStateRunning, &c.started)
}

func (c *fakeCluster) Stop(ctx context.Context, spec machine.Spec) error {
	return c.setState(spec.ID, machine.RunStateStopped, &c.stopped)
}

func (c *fakeCluster) setState(id machine.ID, state machine.RunState, calls *[]machine.ID) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	info, ok := c.inventory[id]
	if !ok {
		return errors.NewNotFoundError("machine does not exist", nil)
	}
	info.State = state
	c.inventory[id] = info
	*calls = append(*calls, id)
	return nil
}

func (c *fakeCluster) GetStatus(ctx context.Context, spec machine.Spec) (machine.RunState, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	info, ok := c.inventory[spec.ID]
	if !ok {
		return machine.RunStateUnknown, errors.NewNotFoundError("machine does not exist", nil)
	}
	return info.State, nil
}

func (c *fakeCluster) ListAll(ctx context.Context, node string) (map[machine.ID]machine.Info, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.listCalls++
	if c.listErr != nil {
		return nil, c.listErr
	}
	result := make(map[machine.ID]machine.Info)
	for id, info := range c.inventory {
		if node == "" || info.Node == node {
			result[id] = info
		}
	}
	return result, nil
}

func (c *fakeCluster) startedIDs() []machine.ID {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]machine.ID(nil), c.started...)
}

func (c *fakeCluster) stoppedIDs() []machine.ID {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]machine.ID(nil), c.stopped...)
}

type staticValidator struct {
	healthy bool
}

func (v staticValidator) Validate(ctx context.Context, options machine.HealthCheckOptions) (bool, error) {
	return v.healthy, nil
}

// capturingNotifier records every delivered report
type capturingNotifier struct {
	mutex   sync.Mutex
	reports []string
	err     error
}

func (n *capturingNotifier) Kind() string {
	return "capture"
}

func (n *capturingNotifier) NewMessage() notification.Message {
	return notification.NewTextMessage()
}

func (n *capturingNotifier) Send(ctx context.Context, message notification.Message) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.reports = append(n.reports, message.String())
	return n.err
}

func (n *capturingNotifier) last() string {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	if len(n.reports) == 0 {
		return ""
	}
	return n.reports[len(n.reports)-1]
}
