package events

import "time"

// Event is anything published on the bus.
type Event interface {
	EventType() string
	// SessionID is empty for events not tied to one orchestration run.
	SessionID() string
}

// Topics.
const (
	TopicSession = "session"
	TopicPhase   = "phase"
	TopicAgent   = "agent"
)

// Event types.
const (
	EventTypeOrchestrationStarted = "orchestration.started"
	EventTypeOrchestrationEnded   = "orchestration.ended"
	EventTypePhaseCompleted       = "phase.completed"
	EventTypeAgentCalled          = "agent.called"
	EventTypeCacheHit             = "agent.cache_hit"
)

// OrchestrationStartedEvent is published when a run registers its session.
type OrchestrationStartedEvent struct {
	Session     string
	Project     string
	TotalPhases int
	Timestamp   time.Time
}

func (e OrchestrationStartedEvent) EventType() string { return EventTypeOrchestrationStarted }
func (e OrchestrationStartedEvent) SessionID() string { return e.Session }

// OrchestrationEndedEvent is published once per run, whatever the outcome.
type OrchestrationEndedEvent struct {
	Session   string
	Status    string
	Elapsed   time.Duration
	Timestamp time.Time
}

func (e OrchestrationEndedEvent) EventType() string { return EventTypeOrchestrationEnded }
func (e OrchestrationEndedEvent) SessionID() string { return e.Session }

// PhaseCompletedEvent is published after every phase, including failed ones.
type PhaseCompletedEvent struct {
	Session   string
	Phase     string
	Consensus float64
	Timestamp time.Time
}

func (e PhaseCompletedEvent) EventType() string { return EventTypePhaseCompleted }
func (e PhaseCompletedEvent) SessionID() string { return e.Session }

// AgentCalledEvent reports one provider call.
type AgentCalledEvent struct {
	Agent     string
	Provider  string
	Latency   time.Duration
	Tokens    int
	Success   bool
	Timestamp time.Time
}

func (e AgentCalledEvent) EventType() string { return EventTypeAgentCalled }
func (e AgentCalledEvent) SessionID() string { return "" }

// CacheHitEvent reports a call served without reaching the provider.
type CacheHitEvent struct {
	Agent     string
	Phase     string
	Timestamp time.Time
}

func (e CacheHitEvent) EventType() string { return EventTypeCacheHit }
func (e CacheHitEvent) SessionID() string { return "" }
