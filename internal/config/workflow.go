package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gammazero/toposort"

	"github.com/kemerova/argus/internal/orchestrator"
)

// Ordered resolves the workflow into run order. Phases are grouped into
// stages: a phase's stage is one past the deepest phase in its After list.
// Stages run in sequence and declaration order is kept within a stage.
func (w WorkflowConfig) Ordered() ([]orchestrator.PhaseConfig, error) {
	index := make(map[string]int, len(w.Phases))
	for i, p := range w.Phases {
		if p.Name == "" {
			return nil, errors.New("phase without a name")
		}
		if _, dup := index[p.Name]; dup {
			return nil, fmt.Errorf("duplicate phase %q", p.Name)
		}
		index[p.Name] = i
	}

	var edges []toposort.Edge
	for _, p := range w.Phases {
		edges = append(edges, toposort.Edge{nil, p.Name})
		for _, dep := range p.After {
			if _, ok := index[dep]; !ok {
				return nil, fmt.Errorf("phase %q runs after unknown phase %q", p.Name, dep)
			}
			edges = append(edges, toposort.Edge{dep, p.Name})
		}
	}
	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("phase ordering contains a cycle: %w", err)
	}

	// Dependencies come first in sorted, so their stage is already known.
	stage := make(map[string]int, len(w.Phases))
	for _, v := range sorted {
		name, ok := v.(string)
		if !ok {
			continue
		}
		for _, dep := range w.Phases[index[name]].After {
			stage[name] = max(stage[name], stage[dep]+1)
		}
	}

	ordered := slices.Clone(w.Phases)
	slices.SortStableFunc(ordered, func(a, b PhaseConfig) int {
		return stage[a.Name] - stage[b.Name]
	})

	out := make([]orchestrator.PhaseConfig, 0, len(ordered))
	for _, p := range ordered {
		out = append(out, p.resolve())
	}
	return out, nil
}

func (p PhaseConfig) resolve() orchestrator.PhaseConfig {
	thr := orchestrator.DefaultConsensusThreshold
	if p.ConsensusThreshold != nil {
		thr = *p.ConsensusThreshold
	}
	timeout := p.Timeout.Std()
	if timeout == 0 {
		timeout = orchestrator.DefaultPhaseTimeout
	}
	typ := orchestrator.PhaseType(p.Type)
	if typ == "" {
		typ = orchestrator.PhaseExecute
	}
	return orchestrator.PhaseConfig{
		Name:               p.Name,
		Type:               typ,
		Timeout:            timeout,
		Parallel:           p.Parallel,
		ConsensusThreshold: thr,
		RequiredAgents:     slices.Clone(p.RequiredAgents),
		QualityGates:       slices.Clone(p.QualityGates),
	}
}

// Request builds an orchestration request for this workflow.
func (w WorkflowConfig) Request(project, prompt string, context map[string]any) (orchestrator.Request, error) {
	phases, err := w.Ordered()
	if err != nil {
		return orchestrator.Request{}, err
	}
	maxTotal := w.MaxTotalTime.Std()
	if maxTotal == 0 {
		maxTotal = orchestrator.DefaultMaxTotalTime
	}
	return orchestrator.Request{
		Project:      project,
		Prompt:       prompt,
		Phases:       phases,
		Context:      context,
		MaxTotalTime: maxTotal,
	}, nil
}
