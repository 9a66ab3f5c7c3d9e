package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/machine"
)

const namespace = "pilot"

// Collector turns run events into Prometheus metrics. It is registered on
// its own registry so the textfile only carries pilot metrics.
type Collector struct {
	registry *prometheus.Registry

	machineOutcomes *prometheus.CounterVec
	startupDuration *prometheus.HistogramVec
	runs            *prometheus.CounterVec
	runDuration     prometheus.Gauge
	lastRun         prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		machineOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "machine_outcomes_total",
			Help:      "Machines classified per startup outcome.",
		}, []string{"outcome", "type", "aborted"}),
		startupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "machine_startup_seconds",
			Help:      "Time from start command to healthy or timeout.",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 120, 300, 600},
		}, []string{"outcome", "type"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Startup runs by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Duration of the most recent run.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the most recent run finished.",
		}),
	}
	c.registry.MustRegister(c.machineOutcomes, c.startupDuration, c.runs, c.runDuration, c.lastRun)
	return c
}

// OnStatus records one terminal machine transition
func (c *Collector) OnStatus(event machine.StatusEvent) {
	aborted := "false"
	if event.Aborted {
		aborted = "true"
	}
	c.machineOutcomes.WithLabelValues(string(event.Outcome), string(event.Machine.Type), aborted).Inc()

	if event.Outcome == machine.OutcomeStarted || event.Outcome == machine.OutcomeTimeout {
		c.startupDuration.WithLabelValues(string(event.Outcome), string(event.Machine.Type)).Observe(event.Duration.Seconds())
	}
}

// ObserveRun records the end of a run; failed marks a fatal abort
func (c *Collector) ObserveRun(duration time.Duration, failed bool, finishedAt time.Time) {
	result := "success"
	if failed {
		result = "fatal"
	}
	c.runs.WithLabelValues(result).Inc()
	c.runDuration.Set(duration.Seconds())
	c.lastRun.Set(float64(finishedAt.Unix()))
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WriteTextfile writes the metrics in the node_exporter textfile format
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return errors.NewIOError("failed to write metrics textfile", err).WithContext("path", path)
	}
	return nil
}
