package config

import (
	"time"

	"github.com/kemerova/argus/internal/gateway"
	"github.com/kemerova/argus/internal/orchestrator"
	"github.com/kemerova/argus/internal/provider"
	"github.com/kemerova/argus/internal/scheduler"
)

// DefaultWorkflow is run when no workflow is named.
const DefaultWorkflow = "standard"

func threshold(v float64) *float64 { return &v }

// DefaultConfig returns the default configuration with built-in providers, agents, and workflows.
func DefaultConfig() *Config {
	resilient := ResilienceConfig{Enabled: true}
	phaseTimeout := Duration(orchestrator.DefaultPhaseTimeout)

	return &Config{
		Logging:   LoggingConfig{Level: "info", Format: "console"},
		Scheduler: scheduler.DefaultLimits(),
		Providers: map[string]ProviderConfig{
			"claude": {Type: ProviderCommand, Command: provider.ClaudeCLI(), Resilience: resilient},
			"codex":  {Type: ProviderCommand, Command: provider.CodexCLI(), Resilience: resilient},
			"goose":  {Type: ProviderCommand, Command: provider.GooseCLI(), Resilience: resilient},
			"static": {Type: ProviderStatic},
		},
		Agents: map[string]AgentConfig{
			"architect": {
				Role:     gateway.RoleLeadArchitect,
				Provider: "claude",
				Timeout:  Duration(2 * time.Minute),
			},
			"security": {
				Role:     gateway.RoleSecurityAnalyst,
				Provider: "claude",
				Timeout:  Duration(2 * time.Minute),
			},
			"reviewer": {
				Role:     gateway.RoleCodeReviewer,
				Provider: "codex",
				Timeout:  Duration(2 * time.Minute),
			},
			"performance": {
				Role:     gateway.RolePerformanceEngineer,
				Provider: "goose",
				Timeout:  Duration(2 * time.Minute),
			},
		},
		Workflows: map[string]WorkflowConfig{
			DefaultWorkflow: {
				Description:  "Plan, execute and validate with every agent.",
				MaxTotalTime: Duration(orchestrator.DefaultMaxTotalTime),
				Phases: []PhaseConfig{
					{
						Name:               "plan",
						Type:               string(orchestrator.PhasePlan),
						Timeout:            phaseTimeout,
						Parallel:           true,
						ConsensusThreshold: threshold(orchestrator.DefaultConsensusThreshold),
					},
					{
						Name:               "execute",
						Type:               string(orchestrator.PhaseExecute),
						After:              []string{"plan"},
						Timeout:            phaseTimeout,
						ConsensusThreshold: threshold(0.6),
						RequiredAgents:     []string{"architect", "performance"},
					},
					{
						Name:               "validate",
						Type:               string(orchestrator.PhaseValidate),
						After:              []string{"execute"},
						Timeout:            phaseTimeout,
						Parallel:           true,
						ConsensusThreshold: threshold(orchestrator.DefaultConsensusThreshold),
						RequiredAgents:     []string{"security", "reviewer"},
						QualityGates:       []string{"security_review"},
					},
				},
			},
		},
		Storage: StorageConfig{Path: ".argus/argus.db"},
	}
}
