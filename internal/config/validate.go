package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/kemerova/argus/internal/orchestrator"
)

// Validate reports every problem found in cfg.
func (c *Config) Validate() error {
	var errs []error

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if f := c.Logging.Format; f != "json" && f != "console" {
		errs = append(errs, fmt.Errorf("logging.format: must be json or console, got %q", f))
	}

	if c.Scheduler.MaxConcurrentTasks < 0 || c.Scheduler.MaxConcurrentOrchestrations < 0 {
		errs = append(errs, errors.New("scheduler: concurrency limits must not be negative"))
	}

	for _, name := range sortedKeys(c.Providers) {
		p := c.Providers[name]
		switch p.Type {
		case ProviderCommand:
			if p.Command.Binary == "" {
				errs = append(errs, fmt.Errorf("providers.%s: command.binary is required", name))
			}
		case ProviderStatic:
		default:
			errs = append(errs, fmt.Errorf("providers.%s: unknown type %q", name, p.Type))
		}
	}

	for _, name := range sortedKeys(c.Agents) {
		a := c.Agents[name]
		if _, ok := c.Providers[a.Provider]; !ok {
			errs = append(errs, fmt.Errorf("agents.%s: unknown provider %q", name, a.Provider))
		}
		if a.RateLimit < 0 {
			errs = append(errs, fmt.Errorf("agents.%s: rate_limit must not be negative", name))
		}
		if a.RequestsPerMinute < 0 {
			errs = append(errs, fmt.Errorf("agents.%s: requests_per_minute must not be negative", name))
		}
	}

	for _, name := range sortedKeys(c.Workflows) {
		w := c.Workflows[name]
		if len(w.Phases) == 0 {
			errs = append(errs, fmt.Errorf("workflows.%s: no phases", name))
			continue
		}
		for _, p := range w.Phases {
			if t := p.ConsensusThreshold; t != nil && (*t < 0 || *t > 1) {
				errs = append(errs, fmt.Errorf("workflows.%s.%s: consensus_threshold %.2f outside [0,1]", name, p.Name, *t))
			}
			if !slices.Contains([]string{"", string(orchestrator.PhasePlan), string(orchestrator.PhaseExecute), string(orchestrator.PhaseValidate)}, p.Type) {
				errs = append(errs, fmt.Errorf("workflows.%s.%s: unknown phase type %q", name, p.Name, p.Type))
			}
			for _, agent := range p.RequiredAgents {
				if _, ok := c.Agents[agent]; !ok {
					errs = append(errs, fmt.Errorf("workflows.%s.%s: unknown agent %q", name, p.Name, agent))
				}
			}
		}
		if _, err := w.Ordered(); err != nil {
			errs = append(errs, fmt.Errorf("workflows.%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// Workflow returns the named workflow.
func (c *Config) Workflow(name string) (WorkflowConfig, error) {
	w, ok := c.Workflows[name]
	if !ok {
		return WorkflowConfig{}, fmt.Errorf("unknown workflow %q (have %s)", name, strings.Join(sortedKeys(c.Workflows), ", "))
	}
	return w, nil
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
