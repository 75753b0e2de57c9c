package main

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kemerova/argus/internal/gateway"
	"github.com/kemerova/argus/internal/hooks"
	"github.com/kemerova/argus/internal/orchestrator"
)

// SecurityReviewGate is the quality gate the standard workflow's validate
// phase asks for.
const SecurityReviewGate = "security_review"

// criticalMarker in any response fails the security review gate.
const criticalMarker = "CRITICAL"

// builtinHooks is the explicit hook registration list of the CLI.
func builtinHooks(logger *zap.Logger) []hooks.Registration {
	return []hooks.Registration{
		{
			Type:        hooks.QualityGate,
			Name:        SecurityReviewGate,
			Priority:    100,
			Description: "Fails the phase when an agent flags a critical finding.",
			Func:        hooks.Gate(SecurityReviewGate, hooks.Sync(securityReview)),
		},
		{
			Type:        hooks.PostPhase,
			Name:        "log_phase",
			Description: "Logs every finished phase.",
			Func: hooks.Sync(func(hc hooks.Context) hooks.Context {
				if pr, ok := hc[hooks.KeyPhaseResult].(orchestrator.PhaseResult); ok {
					logger.Info("Phase finished",
						zap.Any("session_id", hc[hooks.KeySessionID]),
						zap.String("phase", pr.Phase),
						zap.String("status", string(pr.Status)),
						zap.Float64("consensus", pr.Consensus),
					)
				}
				return nil
			}),
		},
		{
			Type:        hooks.ErrorHandler,
			Name:        "log_hook_error",
			Description: "Logs the hook that failed.",
			Func: func(_ context.Context, hc hooks.Context) (hooks.Context, error) {
				logger.Warn("Hook failed",
					zap.Any("hook", hc[hooks.KeyFailedHook]),
					zap.Any("hook_type", hc[hooks.KeyHookType]),
					zap.Any("error", hc[hooks.KeyError]),
				)
				return nil, nil
			},
		},
	}
}

func securityReview(hc hooks.Context) hooks.Context {
	responses, _ := hc[hooks.KeyResponses].([]gateway.Response)

	var flagged []string
	for _, r := range responses {
		if !r.Failed() && strings.Contains(r.Content, criticalMarker) {
			flagged = append(flagged, r.AgentName)
		}
	}
	if len(flagged) > 0 {
		return hooks.Context{
			hooks.KeyPassed: false,
			hooks.KeyReason: fmt.Sprintf("critical findings from %s", strings.Join(flagged, ", ")),
		}
	}
	return hooks.Context{hooks.KeyPassed: true}
}
