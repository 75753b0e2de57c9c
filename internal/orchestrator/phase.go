package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/kemerova/argus/internal/gateway"
	"github.com/kemerova/argus/internal/hooks"
)

// executePhase never fails: any dispatch error is folded into a FAILED
// PhaseResult with no responses, zero consensus and no gate results.
func (o *Orchestrator) executePhase(ctx context.Context, s *session, phase PhaseConfig, req Request) PhaseResult {
	start := time.Now()
	sessionID := s.snapshot().SessionID
	log := o.logger.With(zap.String("session_id", sessionID), zap.String("phase", phase.Name))

	log.Info("Executing phase", zap.String("type", string(phase.Type)))

	o.hooks.Execute(ctx, hooks.PrePhase, hooks.Context{
		hooks.KeyPhaseConfig: phase,
		hooks.KeyRequest:     req,
		hooks.KeySessionID:   sessionID,
	})

	phaseCtx := ctx
	if phase.Timeout > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(ctx, phase.Timeout)
		defer cancel()
	}

	var (
		status    = StatusCompleted
		consensus float64
		gates     = map[string]hooks.GateResult{}
		responses []gateway.Response
	)
	requests, err := o.buildRequests(phaseCtx, s, phase, req)
	if err == nil {
		responses, err = o.dispatch(phaseCtx, phase, requests)
	}
	if err != nil {
		log.Error("Phase execution failed", zap.Error(err))
		status = StatusFailed
		responses = []gateway.Response{}
	} else {
		responses = o.afterDispatch(phaseCtx, sessionID, phase, responses)
		consensus = Consensus(responses)
		gates = o.runGates(phaseCtx, phase, responses, req)

		if consensus < phase.ConsensusThreshold {
			status = StatusFailed
			log.Warn("Phase failed consensus threshold",
				zap.Float64("consensus", consensus),
				zap.Float64("threshold", phase.ConsensusThreshold),
			)
		}
		for name, g := range gates {
			if !g.OK() {
				status = StatusFailed
				log.Warn("Phase failed quality gate", zap.String("gate", name), zap.String("reason", g.Reason))
			}
		}
	}

	o.sink.PhaseCompleted(sessionID, phase.Name, consensus)

	result := PhaseResult{
		Phase:         phase.Name,
		Status:        status,
		Responses:     responses,
		Consensus:     consensus,
		ExecutionTime: time.Since(start),
		QualityGates:  gates,
		Metadata: map[string]any{
			"type":        string(phase.Type),
			"parallel":    phase.Parallel,
			"agent_count": len(requests),
		},
	}

	o.hooks.Execute(ctx, hooks.PostPhase, hooks.Context{
		hooks.KeyPhaseResult: result,
		hooks.KeyPhaseConfig: phase,
		hooks.KeySessionID:   sessionID,
	})
	return result
}

// buildRequests creates one request per target agent, skipping agents that
// are not registered. A panic while building fails the phase, not the run.
func (o *Orchestrator) buildRequests(ctx context.Context, s *session, phase PhaseConfig, req Request) (requests []gateway.Request, err error) {
	defer func() {
		if r := recover(); r != nil {
			requests, err = nil, fmt.Errorf("building requests panicked: %v", r)
		}
	}()

	configs := o.gateway.AgentConfigs()
	byName := make(map[string]gateway.AgentConfig, len(configs))
	targets := slices.Clone(phase.RequiredAgents)
	for _, c := range configs {
		byName[c.Name] = c
		if len(phase.RequiredAgents) == 0 {
			targets = append(targets, c.Name)
		}
	}

	snap := s.snapshot()
	requests = make([]gateway.Request, 0, len(targets))
	for _, name := range targets {
		agent, ok := byName[name]
		if !ok {
			o.logger.Warn("Required agent not available",
				zap.String("agent", name),
				zap.String("phase", phase.Name),
			)
			continue
		}

		r := gateway.Request{
			Prompt:    buildPrompt(snap.SessionID, req, phase, agent, snap.Phases),
			Context:   req.Context,
			AgentName: name,
			Phase:     phase.Name,
			SessionID: snap.SessionID,
		}

		out := o.hooks.Execute(ctx, hooks.AgentRequest, hooks.Context{
			hooks.KeyRequest:     r,
			hooks.KeyPhaseConfig: phase,
			hooks.KeySessionID:   snap.SessionID,
		})
		if replaced, ok := out[hooks.KeyRequest].(gateway.Request); ok {
			r = replaced
		}
		requests = append(requests, r)
	}
	return requests, nil
}

// dispatch calls the agents. Sequential dispatch stops at the first error;
// parallel dispatch never errors.
func (o *Orchestrator) dispatch(ctx context.Context, phase PhaseConfig, requests []gateway.Request) (responses []gateway.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panicked: %v", r)
		}
	}()

	if phase.Parallel {
		return o.gateway.CallParallel(ctx, requests), nil
	}

	responses = make([]gateway.Response, 0, len(requests))
	for _, r := range requests {
		resp, err := o.gateway.CallAgent(ctx, r)
		if err != nil {
			return responses, err
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

// afterDispatch runs AGENT_RESPONSE hooks, which may replace the responses.
func (o *Orchestrator) afterDispatch(ctx context.Context, sessionID string, phase PhaseConfig, responses []gateway.Response) []gateway.Response {
	out := o.hooks.Execute(ctx, hooks.AgentResponse, hooks.Context{
		hooks.KeyResponses:   responses,
		hooks.KeyPhaseConfig: phase,
		hooks.KeySessionID:   sessionID,
	})
	if replaced, ok := out[hooks.KeyResponses].([]gateway.Response); ok {
		return replaced
	}
	return responses
}

func (o *Orchestrator) runGates(ctx context.Context, phase PhaseConfig, responses []gateway.Response, req Request) map[string]hooks.GateResult {
	results := make(map[string]hooks.GateResult, len(phase.QualityGates))
	for _, name := range phase.QualityGates {
		out := o.hooks.Execute(ctx, hooks.QualityGate, hooks.Context{
			hooks.KeyGateName:    name,
			hooks.KeyPhaseConfig: phase,
			hooks.KeyResponses:   responses,
			hooks.KeyRequest:     req,
		})
		results[name] = hooks.EvaluateGate(out)
	}
	return results
}
