package hooks

import (
	"context"
	"maps"
)

// Type names an extension point.
type Type string

const (
	PreOrchestration  Type = "pre_orchestration"
	PostOrchestration Type = "post_orchestration"
	PrePhase          Type = "pre_phase"
	PostPhase         Type = "post_phase"
	QualityGate       Type = "quality_gate"
	AgentRequest      Type = "agent_request"
	AgentResponse     Type = "agent_response"
	ErrorHandler      Type = "error_handler"
)

// Types returns every extension point in declaration order.
func Types() []Type {
	return []Type{
		PreOrchestration,
		PostOrchestration,
		PrePhase,
		PostPhase,
		QualityGate,
		AgentRequest,
		AgentResponse,
		ErrorHandler,
	}
}

// Well-known context keys.
const (
	KeySessionID   = "session_id"
	KeyRequest     = "request"
	KeyResult      = "result"
	KeyPhaseConfig = "phase_config"
	KeyPhaseResult = "phase_result"
	KeyResponses   = "responses"
	KeyGateName    = "gate_name"
	KeyPassed      = "passed"
	KeyReason      = "reason"
	KeyErrors      = "hook_errors"
	KeyOriginal    = "original_context"
	KeyFailedHook  = "failed_hook"
	KeyError       = "error"
	KeyHookType    = "hook_type"
)

// Context is the map threaded through a hook chain.
type Context map[string]any

// Clone returns a shallow copy of c. A nil Context clones to an empty one.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	maps.Copy(out, c)
	return out
}

// Func is a hook callback. The returned Context is merged into the running
// context; a nil return leaves it unchanged.
type Func func(ctx context.Context, hc Context) (Context, error)

// Sync adapts a callback that needs neither a context.Context nor an error.
func Sync(fn func(hc Context) Context) Func {
	return func(_ context.Context, hc Context) (Context, error) {
		return fn(hc), nil
	}
}

// Info describes a registered hook.
type Info struct {
	Name        string
	Type        Type
	Func        Func
	Priority    int
	Description string
}

// Registration is one entry of an explicit registration list.
type Registration struct {
	Type        Type
	Name        string // derived from Func when empty
	Priority    int
	Description string
	Func        Func
}
