package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kemerova/argus/internal/hooks"
	"github.com/kemerova/argus/internal/monitor"
)

// ErrNoScheduler is returned by Submit when no scheduler was configured.
var ErrNoScheduler = errors.New("orchestrator has no scheduler")

// Config wires an Orchestrator to its collaborators. Only Gateway is required.
type Config struct {
	Gateway   AgentCaller
	Scheduler TaskScheduler  // required by Submit only
	Hooks     *hooks.Manager // a private manager is created when nil
	Sink      monitor.Sink
	Reporter  Reporter       // optional
	Archive   SessionArchive // optional
	Logger    *zap.Logger
}

// session guards one run's result. Only the run itself appends phases; other
// goroutines read snapshots or flip the status through CancelSession.
type session struct {
	mu     sync.Mutex
	result Result
}

func (s *session) snapshot() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result.clone()
}

func (s *session) update(fn func(r *Result)) {
	s.mu.Lock()
	fn(&s.result)
	s.mu.Unlock()
}

// Orchestrator drives runs through their phases.
type Orchestrator struct {
	gateway   AgentCaller
	scheduler TaskScheduler
	hooks     *hooks.Manager
	sink      monitor.Sink
	reporter  Reporter
	archive   SessionArchive
	logger    *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hm := cfg.Hooks
	if hm == nil {
		hm = hooks.NewManager(logger)
	}
	return &Orchestrator{
		gateway:   cfg.Gateway,
		scheduler: cfg.Scheduler,
		hooks:     hm,
		sink:      monitor.OrNop(cfg.Sink),
		reporter:  cfg.Reporter,
		archive:   cfg.Archive,
		logger:    logger.Named("orchestrator"),
		sessions:  make(map[string]*session),
	}
}

// Hooks returns the hook manager runs report to.
func (o *Orchestrator) Hooks() *hooks.Manager { return o.hooks }

// Orchestrate executes every phase of req in order, stopping at the first
// failed phase, and returns the final result. The session is visible through
// GetSessionStatus from the moment the run starts.
func (o *Orchestrator) Orchestrate(ctx context.Context, req Request) Result {
	sessionID := uuid.NewString()
	start := time.Now()

	if req.MaxTotalTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.MaxTotalTime)
		defer cancel()
	}

	names := make([]string, 0, len(req.Phases))
	for _, p := range req.Phases {
		names = append(names, p.Name)
	}
	log := o.logger.With(zap.String("session_id", sessionID))
	log.Info("Starting orchestration", zap.String("project", req.Project), zap.Strings("phases", names))

	o.sink.OrchestrationStarted(sessionID, req.Project, len(req.Phases))

	s := &session{result: Result{
		SessionID: sessionID,
		Project:   req.Project,
		Status:    StatusRunning,
		Phases:    []PhaseResult{},
		StartedAt: start,
		Metadata:  map[string]any{},
	}}
	o.mu.Lock()
	o.sessions[sessionID] = s
	o.mu.Unlock()

	if err := o.run(ctx, s, req); err != nil {
		log.Error("Orchestration failed with exception", zap.Error(err))
		s.update(func(r *Result) {
			r.Status = StatusFailed
			r.Metadata["error"] = err.Error()
		})
	}

	// Side channels run even when the run's own deadline has passed.
	after := context.WithoutCancel(ctx)

	s.update(func(r *Result) { r.TotalTime = time.Since(start) })
	final := s.snapshot()

	o.hooks.Execute(after, hooks.PostOrchestration, hooks.Context{
		hooks.KeyResult:    final,
		hooks.KeySessionID: sessionID,
	})
	o.sink.OrchestrationEnded(sessionID, string(final.Status), final.TotalTime)

	if o.reporter != nil {
		summary, err := o.reporter.GenerateSessionSummary(after, sessionID)
		if err != nil {
			log.Warn("Failed to generate contribution report", zap.Error(err))
		} else {
			s.update(func(r *Result) { r.Metadata["contribution_report"] = summary })
			log.Info("Contribution report generated", zap.Int("total_contributions", summary.TotalContributions))
		}
	}

	final = s.snapshot()
	if o.archive != nil {
		if err := o.archive.ArchiveSession(after, final); err != nil {
			log.Warn("Failed to archive session", zap.Error(err))
		}
	}

	log.Info("Orchestration completed",
		zap.String("status", string(final.Status)),
		zap.Int64("execution_time_ms", final.TotalTime.Milliseconds()),
		zap.Bool("consensus", final.ConsensusAchieved),
	)
	return final
}

// run executes the phases and finalizes the result. A returned error, or a
// recovered panic, fails the whole run.
func (o *Orchestrator) run(ctx context.Context, s *session, req Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("orchestration panicked: %v", r)
		}
	}()

	sessionID := s.snapshot().SessionID
	o.hooks.Execute(ctx, hooks.PreOrchestration, hooks.Context{
		hooks.KeyRequest:   req,
		hooks.KeySessionID: sessionID,
	})

	for _, phase := range req.Phases {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("before phase %q: %w", phase.Name, err)
		}

		pr := o.executePhase(ctx, s, phase, req)
		failed := pr.Status == StatusFailed
		s.update(func(r *Result) {
			r.Phases = append(r.Phases, pr)
			if failed {
				r.Status = StatusFailed
			}
		})
		if failed {
			o.logger.Error("Phase failed, stopping orchestration",
				zap.String("session_id", sessionID),
				zap.String("phase", phase.Name),
			)
			break
		}
	}

	s.update(finalize)
	return nil
}

// finalize sets the overall outcome. A run that is no longer RUNNING (failed
// or cancelled) keeps its status.
func finalize(r *Result) {
	if r.Status != StatusRunning {
		return
	}

	if len(r.Phases) > 0 {
		var sum float64
		for _, pr := range r.Phases {
			sum += pr.Consensus
		}
		r.ConsensusAchieved = sum/float64(len(r.Phases)) >= consensusAchievedThreshold

		last := r.Phases[len(r.Phases)-1]
		contents := make([]string, 0, len(last.Responses))
		for _, resp := range last.Responses {
			contents = append(contents, resp.Content)
		}
		r.FinalOutput = strings.Join(contents, "\n\n")
	}

	r.Status = StatusCompleted
	for _, pr := range r.Phases {
		if pr.Status != StatusCompleted {
			r.Status = StatusFailed
			break
		}
	}
}

// GetSessionStatus returns a snapshot of a run, in progress or finished.
func (o *Orchestrator) GetSessionStatus(sessionID string) (Result, bool) {
	o.mu.RLock()
	s, ok := o.sessions[sessionID]
	o.mu.RUnlock()
	if !ok {
		return Result{}, false
	}
	return s.snapshot(), true
}

// CancelSession marks a run cancelled. In-flight agent calls are not
// interrupted; the flag only prevents the run from being finalized as completed.
func (o *Orchestrator) CancelSession(sessionID string) bool {
	o.mu.RLock()
	s, ok := o.sessions[sessionID]
	o.mu.RUnlock()
	if !ok {
		return false
	}
	s.update(func(r *Result) { r.Status = StatusCancelled })
	o.logger.Info("Cancelled orchestration session", zap.String("session_id", sessionID))
	return true
}

// Submit schedules req as an orchestration task and returns the task id. The
// task's result is the run's Result. MaxTotalTime is enforced by the run
// itself so the task always ends with a Result.
func (o *Orchestrator) Submit(req Request) (string, error) {
	if o.scheduler == nil {
		return "", ErrNoScheduler
	}
	work := func(ctx context.Context) (any, error) {
		return o.Orchestrate(ctx, req), nil
	}
	return o.scheduler.ScheduleOrchestration(req.Project, work, 0, map[string]any{
		"project": req.Project,
		"phases":  len(req.Phases),
	}), nil
}
