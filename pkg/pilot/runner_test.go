package pilot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/history"
	"github.com/core-tools/hsu-pilot/pkg/machine"
	"github.com/core-tools/hsu-pilot/pkg/notification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runnerConfigYAML = `
proxmox:
  host: 192.168.1.10
  user: root
  password: secret
settings:
  poll_interval: 10ms
  start_timeout: 1s
vms:
  - vm_id: 100
  - vm_id: 101
    dependencies: [100]
    healthcheck:
      method: tcp
      target: 192.168.1.20:445
  - vm_id: 102
    enabled: false
    dependencies: [101]
`

var testNow = time.Date(2024, 5, 1, 7, 30, 0, 0, time.UTC)

type runnerFixture struct {
	config   *Config
	cluster  *fakeCluster
	notifier *capturingNotifier
	store    *history.Store
	runner   *Runner
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	config, err := ParseConfig([]byte(runnerConfigYAML))
	require.NoError(t, err)
	require.NoError(t, ValidateConfig(config))
	config.Settings.MetricsFile = filepath.Join(t.TempDir(), "pilot.prom")

	store, err := history.Open(history.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	f := &runnerFixture{
		config:   config,
		cluster:  testCluster(),
		notifier: &capturingNotifier{},
		store:    store,
	}
	f.runner, err = NewRunner(config, RunnerOptions{
		Client:    f.cluster,
		Validator: staticValidator{healthy: true},
		Notifiers: []notification.Notifier{f.notifier},
		History:   store,
		Now:       func() time.Time { return testNow },
	}, nil)
	require.NoError(t, err)
	return f
}

func TestRunner_Run(t *testing.T) {
	f := newRunnerFixture(t)

	result, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)

	counts := result.Counts()
	assert.Equal(t, 2, counts[machine.OutcomeStarted])
	assert.Equal(t, 1, counts[machine.OutcomeDisabled])
	assert.Equal(t, []machine.ID{100, 101}, f.cluster.startedIDs())

	report := f.notifier.last()
	assert.Contains(t, report, "🚀 *Proxmox VMs Startup Summary*\nDate: _01-May-2024_\nTime: _07:30:00_\n\n")
	assert.Contains(t, report, "*router*:\n    - ID: 100 (lxc)")
	assert.Contains(t, report, "*nas*:\n    - ID: 101 (qemu)")
	assert.Contains(t, report, "Successfully started")
	assert.Contains(t, report, "Disabled in settings")
	assert.Contains(t, report, "3️⃣")

	runs, err := f.store.Latest(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Empty(t, runs[0].FatalError)
	assert.Len(t, runs[0].Machines, 3)

	metricsText, err := os.ReadFile(f.config.Settings.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metricsText), `pilot_runs_total{result="success"} 1`)
	assert.Contains(t, string(metricsText), `pilot_machine_outcomes_total{aborted="false",outcome="started",type="lxc"} 1`)
}

func TestRunner_RunFatalBeforeStart(t *testing.T) {
	f := newRunnerFixture(t)
	f.cluster.listErr = errors.NewNetworkError("connection refused", nil)

	result, err := f.runner.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.IsNetworkError(err))
	assert.Empty(t, f.cluster.startedIDs())

	report := f.notifier.last()
	assert.NotContains(t, report, "Startup Summary")
	assert.Contains(t, report, "🛑 *Proxmox VMs Startup Failed*")
	assert.Contains(t, report, "connection refused")

	runs, err := f.store.Latest(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Contains(t, runs[0].FatalError, "connection refused")

	metricsText, err := os.ReadFile(f.config.Settings.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metricsText), `pilot_runs_total{result="fatal"} 1`)
}

func TestRunner_RunNotificationFailure(t *testing.T) {
	f := newRunnerFixture(t)
	f.notifier.err = errors.NewNetworkError("telegram unreachable", nil)

	result, err := f.runner.Run(context.Background())
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 2, result.Counts()[machine.OutcomeStarted])
	assert.Contains(t, err.Error(), "telegram unreachable")
}

func TestRunner_Stop(t *testing.T) {
	f := newRunnerFixture(t)
	for _, id := range []machine.ID{100, 101, 102} {
		info := f.cluster.inventory[id]
		info.State = machine.RunStateRunning
		f.cluster.inventory[id] = info
	}

	result, err := f.runner.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []machine.ID{101, 100}, f.cluster.stoppedIDs())
	assert.Len(t, result.Stopped, 2)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, machine.ID(102), result.Skipped[0].ID)
}

func TestRunner_List(t *testing.T) {
	f := newRunnerFixture(t)

	infos, err := f.runner.List(context.Background(), "pve2")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, machine.ID(101), infos[0].ID)
	assert.Equal(t, machine.ID(102), infos[1].ID)

	all, err := f.runner.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestNewRunner_FromConfig(t *testing.T) {
	config, err := ParseConfig([]byte(validConfigYAML))
	require.NoError(t, err)

	runner, err := NewRunner(config, RunnerOptions{}, nil)
	require.NoError(t, err)
	assert.Len(t, runner.notifiers, 2)
	assert.NotNil(t, runner.client)
	assert.NotNil(t, runner.Metrics())

	config.Notifications = nil
	runner, err = NewRunner(config, RunnerOptions{}, nil)
	require.NoError(t, err)
	require.Len(t, runner.notifiers, 1)
	assert.Equal(t, notification.KindConsole, runner.notifiers[0].Kind())

	config.Proxmox.Host = ""
	_, err = NewRunner(config, RunnerOptions{}, nil)
	assert.True(t, errors.IsValidationError(err))
}
