package hooks

import (
	"context"
	"fmt"
	"strings"
)

// GateStatus distinguishes a gate nobody answered from an explicit verdict.
type GateStatus int

const (
	GateNotRun GateStatus = iota
	GatePassed
	GateFailed
)

func (s GateStatus) String() string {
	switch s {
	case GatePassed:
		return "passed"
	case GateFailed:
		return "failed"
	default:
		return "not_run"
	}
}

// GateResult is the outcome of one named quality gate.
type GateResult struct {
	Status GateStatus
	Reason string
}

// OK reports whether the gate allows the phase to complete. A gate that was
// not run does not block.
func (g GateResult) OK() bool {
	return g.Status != GateFailed
}

// Gate wraps check so it only answers QualityGate passes for the named gate.
// The check reports its verdict by returning KeyPassed (and optionally KeyReason).
func Gate(name string, check Func) Func {
	return func(ctx context.Context, hc Context) (Context, error) {
		if gn, _ := hc[KeyGateName].(string); gn != name {
			return nil, nil
		}
		return check(ctx, hc)
	}
}

// EvaluateGate reads the verdict out of a context returned by a QualityGate pass.
func EvaluateGate(hc Context) GateResult {
	reason, _ := hc[KeyReason].(string)

	if passed, ok := hc[KeyPassed].(bool); ok {
		if passed {
			return GateResult{Status: GatePassed, Reason: reason}
		}
		if reason == "" {
			reason = "gate reported failure"
		}
		return GateResult{Status: GateFailed, Reason: reason}
	}

	if failed, ok := hc[KeyErrors].([]string); ok && len(failed) > 0 {
		return GateResult{
			Status: GateFailed,
			Reason: fmt.Sprintf("gate hook raised: %s", strings.Join(failed, ", ")),
		}
	}

	return GateResult{Status: GateNotRun}
}
