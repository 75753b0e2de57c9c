package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kemerova/argus/internal/gateway"
	"github.com/kemerova/argus/internal/hooks"
	"github.com/kemerova/argus/internal/scheduler"
)

// scriptedProvider answers with whatever respond returns and records prompts.
type scriptedProvider struct {
	respond func(ctx context.Context, req gateway.Request) (string, error)

	mu      sync.Mutex
	prompts []string
	calls   atomic.Int32
}

func (p *scriptedProvider) Call(ctx context.Context, req gateway.Request, _ gateway.AgentConfig) (gateway.Response, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.prompts = append(p.prompts, req.Prompt)
	p.mu.Unlock()

	content, err := p.respond(ctx, req)
	if err != nil {
		return gateway.Response{}, err
	}
	return gateway.Response{Content: content, TokensUsed: len(content) / 4}, nil
}

func (p *scriptedProvider) HealthCheck(context.Context) bool { return true }

func fixedLength(n int) func(context.Context, gateway.Request) (string, error) {
	return func(context.Context, gateway.Request) (string, error) {
		return strings.Repeat("a", n), nil
	}
}

func newGateway(p gateway.Provider, agents ...string) *gateway.Gateway {
	gw := gateway.New()
	gw.RegisterProvider("scripted", p)
	roles := []gateway.Role{gateway.RoleLeadArchitect, gateway.RoleSecurityAnalyst, gateway.RoleCodeReviewer}
	for i, name := range agents {
		gw.RegisterAgent(gateway.AgentConfig{Name: name, Role: roles[i%len(roles)], Provider: "scripted"})
	}
	return gw
}

func planPhase(name string) PhaseConfig {
	return PhaseConfig{Name: name, Type: PhasePlan, ConsensusThreshold: 0.75}
}

func TestOrchestrate_SequentialSuccess(t *testing.T) {
	p := &scriptedProvider{respond: fixedLength(100)}
	o := New(Config{Gateway: newGateway(p, "architect", "security")})

	result := o.Orchestrate(context.Background(), Request{
		Project: "demo",
		Prompt:  "design a cache",
		Phases:  []PhaseConfig{planPhase("plan")},
	})

	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%v)", result.Status, result.Metadata)
	}
	if len(result.Phases) != 1 {
		t.Fatalf("expected one phase result, got %d", len(result.Phases))
	}
	phase := result.Phases[0]
	if phase.Status != StatusCompleted || phase.Consensus != 1.0 {
		t.Errorf("expected completed phase with consensus 1.0, got %s / %v", phase.Status, phase.Consensus)
	}
	if len(phase.Responses) != 2 {
		t.Errorf("expected 2 responses, got %d", len(phase.Responses))
	}
	if !result.ConsensusAchieved {
		t.Error("expected consensus achieved")
	}
	want := strings.Repeat("a", 100) + "\n\n" + strings.Repeat("a", 100)
	if result.FinalOutput != want {
		t.Errorf("unexpected final output %q", result.FinalOutput)
	}
	if phase.Metadata["type"] != "plan" || phase.Metadata["parallel"] != false || phase.Metadata["agent_count"] != 2 {
		t.Errorf("unexpected phase metadata: %v", phase.Metadata)
	}
	if result.TotalTime <= 0 || result.SessionID == "" {
		t.Errorf("expected session id and elapsed time, got %q / %s", result.SessionID, result.TotalTime)
	}
}

func TestOrchestrate_SequentialFailureStopsRun(t *testing.T) {
	p := &scriptedProvider{respond: func(_ context.Context, req gateway.Request) (string, error) {
		if req.AgentName == "security" {
			return "", errors.New("provider exploded")
		}
		return strings.Repeat("a", 100), nil
	}}
	o := New(Config{Gateway: newGateway(p, "architect", "security", "reviewer")})

	result := o.Orchestrate(context.Background(), Request{
		Project: "demo",
		Phases:  []PhaseConfig{planPhase("plan"), planPhase("execute")},
	})

	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if len(result.Phases) != 1 {
		t.Fatalf("expected no phases after the failure, got %d", len(result.Phases))
	}
	phase := result.Phases[0]
	if phase.Status != StatusFailed {
		t.Errorf("expected failed phase, got %s", phase.Status)
	}
	if len(phase.Responses) >= 3 {
		t.Errorf("expected fewer responses than agents, got %d", len(phase.Responses))
	}
	if phase.Consensus != 0 || len(phase.QualityGates) != 0 {
		t.Errorf("expected zero consensus and no gates, got %v / %v", phase.Consensus, phase.QualityGates)
	}
	if got := p.calls.Load(); got != 2 {
		t.Errorf("sequential dispatch must stop at the failing agent, saw %d calls", got)
	}
	if result.FinalOutput != "" || result.ConsensusAchieved {
		t.Error("a failed run must not be finalized")
	}
}

func TestOrchestrate_FailedMiddlePhaseHaltsLaterPhases(t *testing.T) {
	p := &scriptedProvider{respond: func(_ context.Context, req gateway.Request) (string, error) {
		if req.Phase == "b" {
			if req.AgentName == "architect" {
				return strings.Repeat("a", 95), nil
			}
			return strings.Repeat("a", 105), nil
		}
		return strings.Repeat("a", 100), nil
	}}
	o := New(Config{Gateway: newGateway(p, "architect", "security")})

	b := planPhase("b")
	b.ConsensusThreshold = 0.9

	result := o.Orchestrate(context.Background(), Request{
		Project: "demo",
		Phases:  []PhaseConfig{planPhase("a"), b, planPhase("c")},
	})

	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if len(result.Phases) != 2 {
		t.Fatalf("expected phases a and b only, got %d", len(result.Phases))
	}
	if got := result.Phases[1]; got.Status != StatusFailed || got.Consensus != 0.5 {
		t.Errorf("expected phase b failed with consensus 0.5, got %s / %v", got.Status, got.Consensus)
	}
	if got := p.calls.Load(); got != 4 {
		t.Errorf("phase c must not run, saw %d calls", got)
	}
}

func TestOrchestrate_QualityGates(t *testing.T) {
	tests := []struct {
		name       string
		register   func(m *hooks.Manager)
		wantStatus Status
		wantGate   hooks.GateStatus
	}{
		{
			name:       "unanswered gate does not block",
			register:   func(*hooks.Manager) {},
			wantStatus: StatusCompleted,
			wantGate:   hooks.GateNotRun,
		},
		{
			name: "passing gate",
			register: func(m *hooks.Manager) {
				m.Register(hooks.Registration{Type: hooks.QualityGate, Name: "lint", Func: hooks.Gate("lint", hooks.Sync(func(hooks.Context) hooks.Context {
					return hooks.Context{hooks.KeyPassed: true}
				}))})
			},
			wantStatus: StatusCompleted,
			wantGate:   hooks.GatePassed,
		},
		{
			name: "failing gate",
			register: func(m *hooks.Manager) {
				m.Register(hooks.Registration{Type: hooks.QualityGate, Name: "lint", Func: hooks.Gate("lint", hooks.Sync(func(hooks.Context) hooks.Context {
					return hooks.Context{hooks.KeyPassed: false, hooks.KeyReason: "style violations"}
				}))})
			},
			wantStatus: StatusFailed,
			wantGate:   hooks.GateFailed,
		},
		{
			name: "raising gate",
			register: func(m *hooks.Manager) {
				m.Register(hooks.Registration{Type: hooks.QualityGate, Name: "lint", Func: hooks.Gate("lint", func(context.Context, hooks.Context) (hooks.Context, error) {
					return nil, errors.New("linter missing")
				})})
			},
			wantStatus: StatusFailed,
			wantGate:   hooks.GateFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hm := hooks.NewManager(nil)
			tt.register(hm)

			var seenResponses atomic.Int32
			hm.Register(hooks.Registration{Type: hooks.QualityGate, Name: "probe", Priority: 100, Func: hooks.Sync(func(hc hooks.Context) hooks.Context {
				if rs, ok := hc[hooks.KeyResponses].([]gateway.Response); ok {
					seenResponses.Store(int32(len(rs)))
				}
				return nil
			})})

			o := New(Config{Gateway: newGateway(&scriptedProvider{respond: fixedLength(50)}, "architect", "security"), Hooks: hm})

			phase := planPhase("validate")
			phase.Type = PhaseValidate
			phase.QualityGates = []string{"lint"}
			result := o.Orchestrate(context.Background(), Request{Project: "demo", Phases: []PhaseConfig{phase}})

			if result.Status != tt.wantStatus {
				t.Errorf("expected run %s, got %s", tt.wantStatus, result.Status)
			}
			gate, ok := result.Phases[0].QualityGates["lint"]
			if !ok || gate.Status != tt.wantGate {
				t.Errorf("expected gate %s, got %v", tt.wantGate, gate.Status)
			}
			if seenResponses.Load() != 2 {
				t.Errorf("gate hooks should see both responses, saw %d", seenResponses.Load())
			}
		})
	}
}

func TestOrchestrate_ConsensusShortfallFailsEvenWithPassingGates(t *testing.T) {
	p := &scriptedProvider{respond: func(_ context.Context, req gateway.Request) (string, error) {
		if req.AgentName == "architect" {
			return strings.Repeat("a", 95), nil
		}
		return strings.Repeat("a", 105), nil
	}}
	hm := hooks.NewManager(nil)
	hm.Register(hooks.Registration{Type: hooks.QualityGate, Func: hooks.Gate("security", hooks.Sync(func(hooks.Context) hooks.Context {
		return hooks.Context{hooks.KeyPassed: true}
	}))})
	o := New(Config{Gateway: newGateway(p, "architect", "security"), Hooks: hm})

	phase := planPhase("plan")
	phase.ConsensusThreshold = 0.9
	phase.QualityGates = []string{"security"}
	result := o.Orchestrate(context.Background(), Request{Phases: []PhaseConfig{phase}})

	pr := result.Phases[0]
	if pr.Status != StatusFailed || !pr.GatesPassed() {
		t.Fatalf("expected failure from consensus alone, got %s (gates passed: %v)", pr.Status, pr.GatesPassed())
	}
}

func TestOrchestrate_ParallelIsolatesFailures(t *testing.T) {
	p := &scriptedProvider{respond: func(_ context.Context, req gateway.Request) (string, error) {
		if req.AgentName == "security" {
			return "", errors.New("timeout talking to provider")
		}
		return "ok", nil
	}}
	o := New(Config{Gateway: newGateway(p, "architect", "security", "reviewer")})

	phase := planPhase("execute")
	phase.Parallel = true
	phase.ConsensusThreshold = 0
	result := o.Orchestrate(context.Background(), Request{Phases: []PhaseConfig{phase}})

	pr := result.Phases[0]
	if len(pr.Responses) != 3 {
		t.Fatalf("expected a response per agent, got %d", len(pr.Responses))
	}
	for i, name := range []string{"architect", "security", "reviewer"} {
		if pr.Responses[i].AgentName != name {
			t.Errorf("index %d: expected %s, got %s", i, name, pr.Responses[i].AgentName)
		}
	}
	if !pr.Responses[1].Failed() {
		t.Error("expected failure marker for the failing agent")
	}
	if pr.Status != StatusCompleted {
		t.Errorf("with a zero threshold the phase should complete, got %s", pr.Status)
	}
}

func TestOrchestrate_RequiredAgentsSkipUnknown(t *testing.T) {
	p := &scriptedProvider{respond: fixedLength(10)}
	o := New(Config{Gateway: newGateway(p, "architect", "security")})

	phase := planPhase("plan")
	phase.RequiredAgents = []string{"security", "ghost"}
	result := o.Orchestrate(context.Background(), Request{Phases: []PhaseConfig{phase}})

	pr := result.Phases[0]
	if pr.Status != StatusCompleted {
		t.Fatalf("unknown agents must be skipped, not fail the phase: %s", pr.Status)
	}
	if pr.Metadata["agent_count"] != 1 || pr.Responses[0].AgentName != "security" {
		t.Errorf("expected only security to be called, got %v", pr.Metadata)
	}
}

func TestOrchestrate_NoAgentsYieldsZeroConsensus(t *testing.T) {
	o := New(Config{Gateway: gateway.New()})

	result := o.Orchestrate(context.Background(), Request{Phases: []PhaseConfig{planPhase("plan")}})

	if result.Status != StatusFailed || result.Phases[0].Consensus != 0 {
		t.Errorf("expected failed run with zero consensus, got %s / %v", result.Status, result.Phases[0].Consensus)
	}
}

func TestOrchestrate_HooksAndPromptContext(t *testing.T) {
	p := &scriptedProvider{respond: fixedLength(20)}
	hm := hooks.NewManager(nil)

	counts := map[hooks.Type]*atomic.Int32{}
	for _, typ := range []hooks.Type{hooks.PreOrchestration, hooks.PostOrchestration, hooks.PrePhase, hooks.PostPhase, hooks.AgentResponse} {
		c := &atomic.Int32{}
		counts[typ] = c
		hm.Register(hooks.Registration{Type: typ, Name: "count", Func: hooks.Sync(func(hooks.Context) hooks.Context {
			c.Add(1)
			return nil
		})})
	}
	hm.Register(hooks.Registration{Type: hooks.AgentRequest, Name: "tag", Func: hooks.Sync(func(hc hooks.Context) hooks.Context {
		r := hc[hooks.KeyRequest].(gateway.Request)
		r.Prompt += "\n[tagged]"
		return hooks.Context{hooks.KeyRequest: r}
	})})

	o := New(Config{Gateway: newGateway(p, "architect"), Hooks: hm})
	result := o.Orchestrate(context.Background(), Request{
		Project: "argus",
		Prompt:  "review the scheduler",
		Phases:  []PhaseConfig{planPhase("plan"), {Name: "execute", Type: PhaseExecute}},
	})
	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}

	want := map[hooks.Type]int32{
		hooks.PreOrchestration:  1,
		hooks.PostOrchestration: 1,
		hooks.PrePhase:          2,
		hooks.PostPhase:         2,
		hooks.AgentResponse:     2,
	}
	for typ, n := range want {
		if got := counts[typ].Load(); got != n {
			t.Errorf("%s: expected %d invocations, got %d", typ, n, got)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.prompts) != 2 {
		t.Fatalf("expected 2 prompts, got %d", len(p.prompts))
	}
	first, second := p.prompts[0], p.prompts[1]
	for _, fragment := range []string{"Project: argus", "Phase: plan (plan)", "Your Role: lead_architect", "review the scheduler", "No previous phases.", "[tagged]"} {
		if !strings.Contains(first, fragment) {
			t.Errorf("first prompt missing %q", fragment)
		}
	}
	if !strings.Contains(second, "Phase plan: completed") || !strings.Contains(second, "Consensus: 1.00") {
		t.Errorf("second prompt should summarise the plan phase:\n%s", second)
	}
}

func TestSessionStatusAndCancel(t *testing.T) {
	release := make(chan struct{})
	p := &scriptedProvider{respond: func(ctx context.Context, _ gateway.Request) (string, error) {
		select {
		case <-release:
			return "done", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}}
	hm := hooks.NewManager(nil)
	sessionCh := make(chan string, 1)
	hm.Register(hooks.Registration{Type: hooks.PreOrchestration, Func: hooks.Sync(func(hc hooks.Context) hooks.Context {
		sessionCh <- hc[hooks.KeySessionID].(string)
		return nil
	})})

	o := New(Config{Gateway: newGateway(p, "architect"), Hooks: hm})

	done := make(chan Result, 1)
	go func() {
		done <- o.Orchestrate(context.Background(), Request{Phases: []PhaseConfig{planPhase("plan")}})
	}()

	id := <-sessionCh
	live, ok := o.GetSessionStatus(id)
	if !ok || live.Status != StatusRunning {
		t.Fatalf("expected running session, got %v / %s", ok, live.Status)
	}

	if !o.CancelSession(id) {
		t.Fatal("expected CancelSession to find the session")
	}
	if o.CancelSession("missing") {
		t.Error("unknown sessions cannot be cancelled")
	}
	close(release)

	result := <-done
	if result.Status != StatusCancelled {
		t.Errorf("a cancelled run must not be finalized as completed, got %s", result.Status)
	}
	if stored, _ := o.GetSessionStatus(id); stored.Status != StatusCancelled || len(stored.Phases) != 1 {
		t.Errorf("unexpected stored session: %s with %d phases", stored.Status, len(stored.Phases))
	}
	if _, ok := o.GetSessionStatus("missing"); ok {
		t.Error("expected unknown session lookup to fail")
	}
}

func TestOrchestrate_MaxTotalTime(t *testing.T) {
	p := &scriptedProvider{respond: func(ctx context.Context, _ gateway.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	o := New(Config{Gateway: newGateway(p, "architect")})

	result := o.Orchestrate(context.Background(), Request{
		Phases:       []PhaseConfig{planPhase("plan"), planPhase("execute")},
		MaxTotalTime: 30 * time.Millisecond,
	})

	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if len(result.Phases) != 1 {
		t.Errorf("expected the run to stop after the first phase, got %d", len(result.Phases))
	}
}

func TestOrchestrate_PhaseTimeout(t *testing.T) {
	p := &scriptedProvider{respond: func(ctx context.Context, _ gateway.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	o := New(Config{Gateway: newGateway(p, "architect")})

	phase := planPhase("plan")
	phase.Timeout = 20 * time.Millisecond
	result := o.Orchestrate(context.Background(), Request{Phases: []PhaseConfig{phase}})

	if result.Phases[0].Status != StatusFailed {
		t.Errorf("expected phase to fail on its deadline, got %s", result.Phases[0].Status)
	}
}

type fakeReporter struct {
	err error
}

func (f fakeReporter) GenerateSessionSummary(_ context.Context, sessionID string) (gateway.ContributionSummary, error) {
	if f.err != nil {
		return gateway.ContributionSummary{}, f.err
	}
	return gateway.ContributionSummary{SessionID: sessionID, TotalContributions: 2}, nil
}

type fakeArchive struct {
	mu      sync.Mutex
	results []Result
}

func (f *fakeArchive) ArchiveSession(_ context.Context, r Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
	return nil
}

func TestOrchestrate_ReportAndArchive(t *testing.T) {
	archive := &fakeArchive{}
	o := New(Config{
		Gateway:  newGateway(&scriptedProvider{respond: fixedLength(5)}, "architect"),
		Reporter: fakeReporter{},
		Archive:  archive,
	})

	result := o.Orchestrate(context.Background(), Request{Phases: []PhaseConfig{planPhase("plan")}})

	summary, ok := result.Metadata["contribution_report"].(gateway.ContributionSummary)
	if !ok || summary.SessionID != result.SessionID || summary.TotalContributions != 2 {
		t.Errorf("expected contribution report in metadata, got %v", result.Metadata)
	}
	if len(archive.results) != 1 || archive.results[0].SessionID != result.SessionID {
		t.Fatalf("expected the run to be archived once, got %d", len(archive.results))
	}

	failing := New(Config{
		Gateway:  newGateway(&scriptedProvider{respond: fixedLength(5)}, "architect"),
		Reporter: fakeReporter{err: errors.New("no contributions table")},
	})
	result = failing.Orchestrate(context.Background(), Request{Phases: []PhaseConfig{planPhase("plan")}})
	if result.Status != StatusCompleted {
		t.Errorf("reporter failures must not affect the run, got %s", result.Status)
	}
	if _, ok := result.Metadata["contribution_report"]; ok {
		t.Error("failed report must not be recorded")
	}
}

func TestSubmit(t *testing.T) {
	o := New(Config{Gateway: newGateway(&scriptedProvider{respond: fixedLength(5)}, "architect")})
	if _, err := o.Submit(Request{}); !errors.Is(err, ErrNoScheduler) {
		t.Fatalf("expected ErrNoScheduler, got %v", err)
	}

	s := scheduler.New(scheduler.Limits{MaxConcurrentTasks: 2, MaxConcurrentOrchestrations: 1}, scheduler.WithPollInterval(10*time.Millisecond))
	s.Start()
	defer s.Stop()

	o = New(Config{
		Gateway:   newGateway(&scriptedProvider{respond: fixedLength(5)}, "architect"),
		Scheduler: s,
	})
	id, err := o.Submit(Request{Project: "demo", Phases: []PhaseConfig{planPhase("plan")}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	task, _ := s.WaitForTask(ctx, id)
	if task.Status != scheduler.StatusCompleted {
		t.Fatalf("expected completed task, got %s (%v)", task.Status, task.Err)
	}
	result, ok := task.Result.(Result)
	if !ok || result.Status != StatusCompleted {
		t.Errorf("expected completed Result, got %#v", task.Result)
	}
	if task.Name != "orchestration:demo" {
		t.Errorf("unexpected task name %q", task.Name)
	}
}

// brokenRoster panics when asked for its agents.
type brokenRoster struct {
	*gateway.Gateway
}

func (brokenRoster) AgentConfigs() []gateway.AgentConfig {
	panic("roster unavailable")
}

func TestOrchestrate_RequestBuildPanicFailsPhase(t *testing.T) {
	p := &scriptedProvider{respond: fixedLength(100)}
	o := New(Config{Gateway: brokenRoster{newGateway(p, "architect")}})

	result := o.Orchestrate(context.Background(), Request{
		Project: "demo",
		Phases:  []PhaseConfig{planPhase("plan"), planPhase("execute")},
	})

	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if len(result.Phases) != 1 {
		t.Fatalf("expected one failed phase result, got %d", len(result.Phases))
	}
	phase := result.Phases[0]
	if phase.Phase != "plan" || phase.Status != StatusFailed {
		t.Errorf("expected failed plan phase, got %s %s", phase.Phase, phase.Status)
	}
	if len(phase.Responses) != 0 || phase.Consensus != 0 {
		t.Errorf("expected no responses and zero consensus, got %d / %v", len(phase.Responses), phase.Consensus)
	}
	if _, ok := result.Metadata["error"]; ok {
		t.Errorf("the failure belongs to the phase, not the run: %v", result.Metadata["error"])
	}
	if got := p.calls.Load(); got != 0 {
		t.Errorf("expected no provider calls, saw %d", got)
	}
}
