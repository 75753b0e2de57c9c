// Package monitor defines the observability sink that the gateway and
// orchestrator report to, plus its Prometheus and event-bus implementations.
// Every Sink method is best-effort and must not block the caller.
package monitor

import "time"

// Sink receives orchestration and agent-call observations.
type Sink interface {
	OrchestrationStarted(sessionID, project string, totalPhases int)
	OrchestrationEnded(sessionID, status string, elapsed time.Duration)
	PhaseCompleted(sessionID, phase string, consensus float64)
	AgentCalled(agent, provider string, latency time.Duration, tokens int, success bool)
	CacheHit(agent, phase string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) OrchestrationStarted(string, string, int) {}
func (Nop) OrchestrationEnded(string, string, time.Duration) {}
func (Nop) PhaseCompleted(string, string, float64) {}
func (Nop) AgentCalled(string, string, time.Duration, int, bool) {}
func (Nop) CacheHit(string, string) {}

// Multi fans every observation out to each sink in order.
type Multi []Sink

func (m Multi) OrchestrationStarted(sessionID, project string, totalPhases int) {
	for _, s := range m {
		s.OrchestrationStarted(sessionID, project, totalPhases)
	}
}

func (m Multi) OrchestrationEnded(sessionID, status string, elapsed time.Duration) {
	for _, s := range m {
		s.OrchestrationEnded(sessionID, status, elapsed)
	}
}

func (m Multi) PhaseCompleted(sessionID, phase string, consensus float64) {
	for _, s := range m {
		s.PhaseCompleted(sessionID, phase, consensus)
	}
}

func (m Multi) AgentCalled(agent, provider string, latency time.Duration, tokens int, success bool) {
	for _, s := range m {
		s.AgentCalled(agent, provider, latency, tokens, success)
	}
}

func (m Multi) CacheHit(agent, phase string) {
	for _, s := range m {
		s.CacheHit(agent, phase)
	}
}

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}
