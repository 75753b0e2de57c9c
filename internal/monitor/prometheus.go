package monitor

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusSink records observations as Prometheus metrics.
//
// Metrics:
//   - argus_orchestrations_started_total{project}
//   - argus_orchestrations_total{status}
//   - argus_orchestration_duration_seconds{status}
//   - argus_orchestrations_active
//   - argus_phase_consensus{phase}
//   - argus_phases_completed_total{phase}
//   - argus_agent_calls_total{agent,provider,success}
//   - argus_agent_call_duration_seconds{agent,provider}
//   - argus_agent_tokens_total{agent,provider}
//   - argus_agent_cache_hits_total{agent}
type PrometheusSink struct {
	OrchestrationsStarted *prometheus.CounterVec
	OrchestrationsEnded   *prometheus.CounterVec
	OrchestrationDuration *prometheus.HistogramVec
	ActiveOrchestrations  prometheus.Gauge
	PhaseConsensus        *prometheus.HistogramVec
	PhasesCompleted       *prometheus.CounterVec
	AgentCalls            *prometheus.CounterVec
	AgentCallDuration     *prometheus.HistogramVec
	AgentTokens           *prometheus.CounterVec
	CacheHits             *prometheus.CounterVec

	mu     sync.Mutex
	active map[string]struct{}
}

// NewPrometheusSink registers the metrics on reg. Each registry can host
// only one sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	f := promauto.With(reg)
	return &PrometheusSink{
		OrchestrationsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "argus_orchestrations_started_total",
			Help: "Total number of orchestration runs started",
		}, []string{"project"}),
		OrchestrationsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "argus_orchestrations_total",
			Help: "Total number of orchestration runs finished, by final status",
		}, []string{"status"}),
		OrchestrationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "argus_orchestration_duration_seconds",
			Help:    "Wall-clock duration of orchestration runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"status"}),
		ActiveOrchestrations: f.NewGauge(prometheus.GaugeOpts{
			Name: "argus_orchestrations_active",
			Help: "Number of orchestration runs in progress",
		}),
		PhaseConsensus: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "argus_phase_consensus",
			Help:    "Consensus score reached by each phase",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"phase"}),
		PhasesCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "argus_phases_completed_total",
			Help: "Total number of phases executed",
		}, []string{"phase"}),
		AgentCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "argus_agent_calls_total",
			Help: "Total number of agent provider calls",
		}, []string{"agent", "provider", "success"}),
		AgentCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "argus_agent_call_duration_seconds",
			Help:    "Latency of successful agent provider calls",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"agent", "provider"}),
		AgentTokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "argus_agent_tokens_total",
			Help: "Tokens reported by agent providers",
		}, []string{"agent", "provider"}),
		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "argus_agent_cache_hits_total",
			Help: "Agent calls served from the response cache",
		}, []string{"agent"}),
		active: make(map[string]struct{}),
	}
}

func (p *PrometheusSink) OrchestrationStarted(sessionID, project string, _ int) {
	p.OrchestrationsStarted.WithLabelValues(project).Inc()

	p.mu.Lock()
	p.active[sessionID] = struct{}{}
	p.ActiveOrchestrations.Set(float64(len(p.active)))
	p.mu.Unlock()
}

func (p *PrometheusSink) OrchestrationEnded(sessionID, status string, elapsed time.Duration) {
	p.OrchestrationsEnded.WithLabelValues(status).Inc()
	p.OrchestrationDuration.WithLabelValues(status).Observe(elapsed.Seconds())

	p.mu.Lock()
	delete(p.active, sessionID)
	p.ActiveOrchestrations.Set(float64(len(p.active)))
	p.mu.Unlock()
}

func (p *PrometheusSink) PhaseCompleted(_, phase string, consensus float64) {
	p.PhasesCompleted.WithLabelValues(phase).Inc()
	p.PhaseConsensus.WithLabelValues(phase).Observe(consensus)
}

func (p *PrometheusSink) AgentCalled(agent, provider string, latency time.Duration, tokens int, success bool) {
	p.AgentCalls.WithLabelValues(agent, provider, strconv.FormatBool(success)).Inc()
	if !success {
		return
	}
	p.AgentCallDuration.WithLabelValues(agent, provider).Observe(latency.Seconds())
	p.AgentTokens.WithLabelValues(agent, provider).Add(float64(tokens))
}

func (p *PrometheusSink) CacheHit(agent, _ string) {
	p.CacheHits.WithLabelValues(agent).Inc()
}
