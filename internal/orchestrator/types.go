package orchestrator

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/kemerova/argus/internal/gateway"
	"github.com/kemerova/argus/internal/hooks"
	"github.com/kemerova/argus/internal/scheduler"
)

// PhaseType tags a phase. It does not change how the phase runs.
type PhaseType string

const (
	PhasePlan     PhaseType = "plan"
	PhaseExecute  PhaseType = "execute"
	PhaseValidate PhaseType = "validate"
)

// Status is the state of a run or of one phase.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

const (
	DefaultPhaseTimeout       = 300 * time.Second
	DefaultConsensusThreshold = 0.75
	DefaultMaxTotalTime       = 30 * time.Minute

	// consensusAchievedThreshold applies to the mean of all phase scores.
	consensusAchievedThreshold = 0.75
)

// PhaseConfig describes one phase of a run.
type PhaseConfig struct {
	Name               string
	Type               PhaseType
	Timeout            time.Duration // zero means no phase deadline
	Parallel           bool
	ConsensusThreshold float64
	RequiredAgents     []string // empty means every registered agent
	QualityGates       []string
}

// PhaseResult is the outcome of one phase.
type PhaseResult struct {
	Phase         string
	Status        Status
	Responses     []gateway.Response
	Consensus     float64
	ExecutionTime time.Duration
	QualityGates  map[string]hooks.GateResult
	Metadata      map[string]any
}

// GatesPassed reports whether no quality gate failed.
func (p PhaseResult) GatesPassed() bool {
	for _, g := range p.QualityGates {
		if !g.OK() {
			return false
		}
	}
	return true
}

// Request is the whole input of one run.
type Request struct {
	Project      string
	Prompt       string
	Phases       []PhaseConfig
	Context      map[string]any
	MaxTotalTime time.Duration // zero means no run deadline
}

// Result accumulates the state of one run.
type Result struct {
	SessionID         string
	Project           string
	Status            Status
	Phases            []PhaseResult
	StartedAt         time.Time
	TotalTime         time.Duration
	ConsensusAchieved bool
	FinalOutput       string
	Metadata          map[string]any
}

func (r Result) clone() Result {
	out := r
	out.Phases = slices.Clone(r.Phases)
	out.Metadata = maps.Clone(r.Metadata)
	return out
}

// AgentCaller is the part of the gateway the orchestrator drives.
type AgentCaller interface {
	CallAgent(ctx context.Context, req gateway.Request) (gateway.Response, error)
	CallParallel(ctx context.Context, reqs []gateway.Request) []gateway.Response
	AgentConfigs() []gateway.AgentConfig
}

// Reporter produces the end-of-run contribution summary.
type Reporter interface {
	GenerateSessionSummary(ctx context.Context, sessionID string) (gateway.ContributionSummary, error)
}

// SessionArchive stores finished runs.
type SessionArchive interface {
	ArchiveSession(ctx context.Context, result Result) error
}

// TaskScheduler admits orchestration runs as background tasks.
type TaskScheduler interface {
	ScheduleOrchestration(name string, work scheduler.Work, timeout time.Duration, metadata map[string]any) string
}
