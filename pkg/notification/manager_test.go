package notification

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/logging"
	"github.com/core-tools/hsu-pilot/pkg/machine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	kind    string
	sent    []string
	sendErr error
}

func (f *fakeNotifier) Kind() string {
	return f.kind
}

func (f *fakeNotifier) NewMessage() Message {
	return NewTextMessage()
}

func (f *fakeNotifier) Send(ctx context.Context, message Message) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, message.String())
	return nil
}

var runStart = time.Date(2024, time.March, 5, 7, 30, 0, 0, time.UTC)

func event(id machine.ID, name string, outcome machine.Outcome, duration time.Duration) machine.StatusEvent {
	return machine.StatusEvent{
		Machine:   machine.Spec{ID: id, Type: machine.TypeContainer, Name: name},
		Outcome:   outcome,
		StartTime: runStart.Add(5 * time.Second),
		Duration:  duration,
	}
}

func TestManager_StartHeader(t *testing.T) {
	manager := NewManager([]Notifier{&fakeNotifier{kind: "a"}}, logging.NewNopLogger())
	manager.Start(runStart)

	assert.Equal(t, "🚀 *Proxmox VMs Startup Summary*\nDate: _05-Mar-2024_\nTime: _07:30:00_\n\n", manager.Report(0))
}

func TestManager_StatusLine(t *testing.T) {
	manager := NewManager([]Notifier{&fakeNotifier{kind: "a"}}, logging.NewNopLogger())
	manager.AppendStatus(event(101, "router", machine.OutcomeStarted, 12*time.Second+700*time.Millisecond))

	expected := "1️⃣ *router*:\n" +
		"    - ID: 101 (lxc)\n" +
		"    - Start time: _07:30:05_\n" +
		"    - Duration: _12 seconds_\n" +
		"    - Status: ✅ Successfully started\n\n"
	assert.Equal(t, expected, manager.Report(0))
}

func TestManager_OutcomeMapping(t *testing.T) {
	tests := []struct {
		outcome  machine.Outcome
		icon     string
		status   string
		duration string
	}{
		{machine.OutcomeStarted, "✅", "Successfully started", "3 seconds"},
		{machine.OutcomeTimeout, "❌", "Timeout", "3 seconds"},
		{machine.OutcomeAlreadyStarted, "🔵", "No action needed", "Already running"},
		{machine.OutcomeDependencyFailed, "🚫", "Not started", "Dependency is not running"},
		{machine.OutcomeDisabled, "⚠️", "No action needed", "Disabled in settings"},
		{machine.Outcome("exploded"), "⏳", "unknown", "unknown"},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			manager := NewManager([]Notifier{&fakeNotifier{kind: "a"}}, logging.NewNopLogger())
			manager.AppendStatus(event(1, "vm", tt.outcome, 3*time.Second))

			report := manager.Report(0)
			assert.Contains(t, report, "    - Duration: _"+tt.duration+"_\n")
			assert.Contains(t, report, "    - Status: "+tt.icon+" "+tt.status+"\n")
		})
	}
}

func TestManager_NumberingIsContiguous(t *testing.T) {
	manager := NewManager([]Notifier{&fakeNotifier{kind: "a"}}, logging.NewNopLogger())
	manager.Start(runStart)
	for i := 1; i <= 12; i++ {
		manager.AppendStatus(event(machine.ID(i), fmt.Sprintf("vm-%d", i), machine.OutcomeStarted, time.Second))
	}

	report := manager.Report(0)
	assert.True(t, strings.Contains(report, "1️⃣ *vm-1*"))
	assert.True(t, strings.Contains(report, "9️⃣ *vm-9*"))
	assert.True(t, strings.Contains(report, "🔟 *vm-10*"))
	assert.True(t, strings.Contains(report, "#11 *vm-11*"))
	assert.True(t, strings.Contains(report, "#12 *vm-12*"))

	// a new run starts numbering from one again
	manager.Start(runStart)
	manager.AppendStatus(event(50, "again", machine.OutcomeDisabled, 0))
	assert.Contains(t, manager.Report(0), "1️⃣ *again*")
	assert.NotContains(t, manager.Report(0), "vm-1")
}

func TestManager_EachNotifierOwnsItsMessage(t *testing.T) {
	first := &fakeNotifier{kind: "first"}
	second := &fakeNotifier{kind: "second"}
	manager := NewManager([]Notifier{first, second}, logging.NewNopLogger())
	require.Equal(t, 2, manager.Len())

	manager.Start(runStart)
	manager.AppendStatus(event(1, "vm", machine.OutcomeStarted, time.Second))
	manager.AppendError("storage pool offline")

	require.NoError(t, manager.Send(context.Background()))
	require.Len(t, first.sent, 1)
	require.Len(t, second.sent, 1)
	assert.Equal(t, first.sent[0], second.sent[0])
	assert.Contains(t, first.sent[0], "🛑 *Failed*: storage pool offline")
}

func TestManager_FatalReplacesReport(t *testing.T) {
	notifier := &fakeNotifier{kind: "a"}
	manager := NewManager([]Notifier{notifier}, logging.NewNopLogger())
	manager.now = func() time.Time { return runStart.Add(time.Minute) }

	manager.Start(runStart)
	manager.AppendStatus(event(1, "router", machine.OutcomeStarted, time.Second))
	manager.Fatal("network: proxmox request failed: connection refused")

	require.NoError(t, manager.Send(context.Background()))
	require.Len(t, notifier.sent, 1)
	assert.Equal(t,
		"🛑 *Proxmox VMs Startup Failed*\nDate: _05-Mar-2024_\nTime: _07:31:00_\n\nnetwork: proxmox request failed: connection refused",
		notifier.sent[0])
	assert.NotContains(t, notifier.sent[0], "router")
}

func TestManager_SendAggregatesErrors(t *testing.T) {
	good := &fakeNotifier{kind: "good"}
	bad1 := &fakeNotifier{kind: "bad1", sendErr: errors.NewNetworkError("telegram down", nil)}
	bad2 := &fakeNotifier{kind: "bad2", sendErr: errors.NewNetworkError("smtp down", nil)}
	manager := NewManager([]Notifier{bad1, good, bad2}, logging.NewNopLogger())
	manager.Start(runStart)

	err := manager.Send(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors occurred")
	assert.Contains(t, err.Error(), "telegram down")
	assert.Contains(t, err.Error(), "smtp down")
	assert.Len(t, good.sent, 1, "one failing notifier does not stop the others")
}

func TestManager_NoNotifiers(t *testing.T) {
	manager := NewManager(nil, logging.NewNopLogger())
	manager.Start(runStart)
	manager.AppendStatus(event(1, "vm", machine.OutcomeStarted, time.Second))
	manager.Fatal("boom")

	assert.NoError(t, manager.Send(context.Background()))
	assert.Equal(t, "", manager.Report(0))
}
