package machine

import (
	"fmt"
	"strconv"
	"time"
)

// ID is the hypervisor-assigned machine number (Proxmox vmid)
type ID int

func (id ID) String() string {
	return strconv.Itoa(int(id))
}

type Type string

const (
	TypeContainer Type = "lxc"
	TypeVM        Type = "qemu"
)

func (t Type) Valid() bool {
	return t == TypeContainer || t == TypeVM
}

// RunState is the hypervisor's view of a machine
type RunState string

const (
	RunStateRunning RunState = "running"
	RunStateStopped RunState = "stopped"
	RunStatePaused  RunState = "paused"
	RunStateUnknown RunState = "unknown"
)

// ParseRunState maps the raw status string reported by the hypervisor
func ParseRunState(s string) RunState {
	switch RunState(s) {
	case RunStateRunning, RunStateStopped, RunStatePaused:
		return RunState(s)
	default:
		return RunStateUnknown
	}
}

type CheckMethod string

const (
	CheckMethodPing CheckMethod = "ping"
	CheckMethodHTTP CheckMethod = "http"
	CheckMethodTCP  CheckMethod = "tcp"
	CheckMethodGRPC CheckMethod = "grpc"
)

const DefaultProbeTimeout = 2 * time.Second

// HealthCheckOptions describes how to decide that a started machine is up.
// Timeout bounds the whole startup wait, ProbeTimeout a single attempt.
type HealthCheckOptions struct {
	Method       CheckMethod   `yaml:"method"`
	Target       string        `yaml:"target"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	ProbeTimeout time.Duration `yaml:"probe_timeout,omitempty"`
}

// Spec is a fully resolved machine entry
type Spec struct {
	ID           ID
	Type         Type
	Name         string
	Node         string
	Enabled      bool
	Dependencies []ID
	HealthCheck  *HealthCheckOptions
}

// DisplayName returns the name, falling back to the numeric id
func (s Spec) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("%s %d", s.Type, s.ID)
}

// Info is one entry of a hypervisor listing
type Info struct {
	ID    ID
	Type  Type
	Name  string
	Node  string
	State RunState
}

// Outcome is the terminal classification of a machine within one run
type Outcome string

const (
	OutcomeStarted          Outcome = "started"
	OutcomeTimeout          Outcome = "timeout"
	OutcomeAlreadyStarted   Outcome = "already_started"
	OutcomeDependencyFailed Outcome = "dependency_failed"
	OutcomeDisabled         Outcome = "disabled"
)

// AllOutcomes lists the outcomes in reporting order
var AllOutcomes = []Outcome{
	OutcomeStarted,
	OutcomeTimeout,
	OutcomeAlreadyStarted,
	OutcomeDependencyFailed,
	OutcomeDisabled,
}

// Satisfied reports whether a dependency with this outcome lets dependents proceed
func (o Outcome) Satisfied() bool {
	return o == OutcomeStarted || o == OutcomeAlreadyStarted
}

// StatusEvent is emitted once per machine when it reaches a terminal outcome.
// For machines that never went through a start, StartTime is the moment the
// outcome was resolved and Duration is 0.
type StatusEvent struct {
	Machine   Spec
	Outcome   Outcome
	StartTime time.Time
	Duration  time.Duration
	Aborted   bool
}
