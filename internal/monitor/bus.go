package monitor

import (
	"time"

	"github.com/kemerova/argus/internal/events"
)

// BusSink republishes observations as typed events.
type BusSink struct {
	bus *events.Bus
	now func() time.Time
}

// NewBusSink publishes onto bus.
func NewBusSink(bus *events.Bus) *BusSink {
	return &BusSink{bus: bus, now: time.Now}
}

func (b *BusSink) OrchestrationStarted(sessionID, project string, totalPhases int) {
	b.bus.Publish(events.TopicSession, events.OrchestrationStartedEvent{
		Session:     sessionID,
		Project:     project,
		TotalPhases: totalPhases,
		Timestamp:   b.now(),
	})
}

func (b *BusSink) OrchestrationEnded(sessionID, status string, elapsed time.Duration) {
	b.bus.Publish(events.TopicSession, events.OrchestrationEndedEvent{
		Session:   sessionID,
		Status:    status,
		Elapsed:   elapsed,
		Timestamp: b.now(),
	})
}

func (b *BusSink) PhaseCompleted(sessionID, phase string, consensus float64) {
	b.bus.Publish(events.TopicPhase, events.PhaseCompletedEvent{
		Session:   sessionID,
		Phase:     phase,
		Consensus: consensus,
		Timestamp: b.now(),
	})
}

func (b *BusSink) AgentCalled(agent, provider string, latency time.Duration, tokens int, success bool) {
	b.bus.Publish(events.TopicAgent, events.AgentCalledEvent{
		Agent:     agent,
		Provider:  provider,
		Latency:   latency,
		Tokens:    tokens,
		Success:   success,
		Timestamp: b.now(),
	})
}

func (b *BusSink) CacheHit(agent, phase string) {
	b.bus.Publish(events.TopicAgent, events.CacheHitEvent{
		Agent:     agent,
		Phase:     phase,
		Timestamp: b.now(),
	})
}
