package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	maxWorkers          = 4
	defaultPollInterval = time.Second
	waitPollInterval    = 100 * time.Millisecond
)

// Scheduler runs tasks from a priority queue on a fixed worker pool, under
// two independent ceilings: one for all tasks and one for orchestrations.
type Scheduler struct {
	limits       Limits
	logger       *zap.Logger
	pollInterval time.Duration

	taskSem  *semaphore.Weighted
	orchSem  *semaphore.Weighted
	wake     chan struct{}
	workerWG sync.WaitGroup

	mu       sync.Mutex
	tasks    map[string]*task
	queue    taskQueue
	seq      uint64
	running  bool
	workers  int
	runCtx   context.Context
	stopRun  context.CancelFunc
	inFlight int // dequeued and not yet finished
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPollInterval sets how long an idle worker waits before re-checking for
// shutdown.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// New creates a stopped Scheduler. Zero limits fall back to DefaultLimits.
func New(limits Limits, opts ...Option) *Scheduler {
	limits = limits.withDefaults()
	s := &Scheduler{
		limits:       limits,
		logger:       zap.NewNop(),
		pollInterval: defaultPollInterval,
		taskSem:      semaphore.NewWeighted(int64(limits.MaxConcurrentTasks)),
		orchSem:      semaphore.NewWeighted(int64(limits.MaxConcurrentOrchestrations)),
		wake:         make(chan struct{}, 1),
		tasks:        make(map[string]*task),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("scheduler")
	return s
}

// Limits returns the configured limits.
func (s *Scheduler) Limits() Limits { return s.limits }

// Start launches the worker pool. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	s.running = true
	s.runCtx, s.stopRun = context.WithCancel(context.Background())
	s.workers = min(maxWorkers, s.limits.MaxConcurrentTasks)
	for i := range s.workers {
		s.workerWG.Add(1)
		go s.worker(s.runCtx, fmt.Sprintf("worker-%d", i))
	}

	s.logger.Info("Scheduler started",
		zap.Int("workers", s.workers),
		zap.Int("max_concurrent", s.limits.MaxConcurrentTasks),
	)
}

// Stop cancels running tasks, cancels every task still pending, and waits for
// the workers to exit. Calling Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.stopRun()

	for id, t := range s.tasks {
		switch t.Status {
		case StatusRunning:
			if t.cancel != nil {
				t.cancel()
			}
			s.logger.Info("Cancelled running task", zap.String("task_id", id))
		case StatusPending:
			t.finish(StatusCancelled, nil, nil)
		}
	}
	s.queue = nil
	s.mu.Unlock()

	s.workerWG.Wait()

	s.mu.Lock()
	s.workers = 0
	s.mu.Unlock()
	s.logger.Info("Scheduler stopped")
}

// ScheduleTask enqueues work and returns the new task id. It never blocks.
func (s *Scheduler) ScheduleTask(name string, work Work, opts Options) string {
	if work == nil {
		panic("scheduler: ScheduleTask called with nil Work")
	}
	if opts.Priority == 0 {
		opts.Priority = PriorityNormal
	}

	t := &task{
		Task: Task{
			ID:        uuid.NewString(),
			Name:      name,
			Priority:  opts.Priority,
			Timeout:   opts.Timeout,
			Status:    StatusPending,
			CreatedAt: time.Now(),
			Metadata:  cloneMetadata(opts.Metadata),
		},
		work: work,
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.seq++
	t.seq = s.seq
	s.tasks[t.ID] = t
	s.queue.push(t)
	depth := s.queue.Len()
	s.mu.Unlock()

	s.signal()

	s.logger.Info("Task scheduled",
		zap.String("task_id", t.ID),
		zap.String("name", name),
		zap.Stringer("priority", t.Priority),
		zap.Int("queue_size", depth),
	)
	return t.ID
}

// ScheduleOrchestration enqueues work at high priority, additionally gated by
// the orchestration ceiling.
func (s *Scheduler) ScheduleOrchestration(name string, work Work, timeout time.Duration, metadata map[string]any) string {
	if work == nil {
		panic("scheduler: ScheduleOrchestration called with nil Work")
	}
	md := cloneMetadata(metadata)
	md["type"] = "orchestration"

	gated := func(ctx context.Context) (any, error) {
		if err := s.orchSem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer s.orchSem.Release(1)
		return work(ctx)
	}

	return s.ScheduleTask("orchestration:"+name, gated, Options{
		Priority: PriorityHigh,
		Timeout:  timeout,
		Metadata: md,
	})
}

// CancelTask cancels a running task or marks a pending one cancelled. It
// reports whether the id is known.
func (s *Scheduler) CancelTask(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return false
	}
	switch t.Status {
	case StatusRunning:
		if t.cancel != nil {
			t.cancel()
		}
		s.logger.Info("Cancelled running task", zap.String("task_id", id))
	case StatusPending:
		t.finish(StatusCancelled, nil, nil)
		s.logger.Info("Cancelled pending task", zap.String("task_id", id))
	}
	return true
}

// Task returns a snapshot of the task with the given id.
func (s *Scheduler) Task(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.snapshot(), true
}

// Stats returns a point-in-time summary.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Running:      s.running,
		TotalTasks:   len(s.tasks),
		PendingTasks: s.queue.Len(),
		Workers:      s.workers,
		StatusCounts: make(map[Status]int, len(Statuses())),
		Limits:       s.limits,
	}
	for _, status := range Statuses() {
		st.StatusCounts[status] = 0
	}

	var total time.Duration
	for _, t := range s.tasks {
		st.StatusCounts[t.Status]++
		if t.Status == StatusRunning {
			st.RunningTasks++
		}
		if t.Status == StatusCompleted {
			total += t.ExecutionTime()
			st.CompletedTasks++
		}
	}
	if st.CompletedTasks > 0 {
		st.AvgExecutionTime = total / time.Duration(st.CompletedTasks)
	}
	return st
}

// WaitForTask blocks until the task leaves the active states or ctx is done,
// and returns the task's state at that moment. The bool is false for an
// unknown id.
func (s *Scheduler) WaitForTask(ctx context.Context, id string) (Task, bool) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return Task{}, false
	}

	select {
	case <-t.done:
	case <-ctx.Done():
	}
	return s.Task(id)
}

// WaitForCompletion polls until nothing is queued or running, or ctx is
// done, and returns the stats at that moment.
func (s *Scheduler) WaitForCompletion(ctx context.Context) Stats {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		idle := s.inFlight == 0 && s.queue.Len() == 0
		s.mu.Unlock()
		if idle {
			return s.Stats()
		}

		select {
		case <-ctx.Done():
			return s.Stats()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) leave() {
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
}

func (s *Scheduler) worker(ctx context.Context, name string) {
	defer s.workerWG.Done()
	s.logger.Debug("Worker started", zap.String("worker", name))
	defer s.logger.Debug("Worker stopped", zap.String("worker", name))

	for {
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		t, ok := s.queue.pop()
		if ok {
			s.inFlight++
		}
		s.mu.Unlock()

		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			case <-time.After(s.pollInterval):
			}
			continue
		}

		// More work may remain for idle peers.
		s.signal()

		if err := s.taskSem.Acquire(ctx, 1); err != nil {
			s.leave()
			return
		}
		s.execute(ctx, t, name)
		s.taskSem.Release(1)
		s.leave()
	}
}

// execute runs one dequeued task. A task that is no longer pending at pickup
// (cancelled while queued) is skipped.
func (s *Scheduler) execute(runCtx context.Context, t *task, worker string) {
	cancelCtx, cancel := context.WithCancel(runCtx)
	defer cancel()

	s.mu.Lock()
	if t.Status != StatusPending {
		s.mu.Unlock()
		s.logger.Debug("Skipping task that is no longer pending",
			zap.String("worker", worker),
			zap.String("task_id", t.ID),
			zap.String("status", string(t.Status)),
		)
		return
	}
	t.Status = StatusRunning
	t.StartedAt = time.Now()
	t.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("Executing task",
		zap.String("worker", worker),
		zap.String("task_id", t.ID),
		zap.String("name", t.Name),
		zap.Stringer("priority", t.Priority),
	)

	execCtx := cancelCtx
	if t.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		execCtx, cancelTimeout = context.WithTimeout(cancelCtx, t.Timeout)
		defer cancelTimeout()
	}

	type outcome struct {
		result any
		err    error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- outcome{err: fmt.Errorf("task panicked: %v", r)}
			}
		}()
		res, err := t.work(execCtx)
		resultCh <- outcome{result: res, err: err}
	}()

	var out outcome
	finished := false
	select {
	case out = <-resultCh:
		finished = true
	case <-execCtx.Done():
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case finished && out.err == nil:
		t.finish(StatusCompleted, out.result, nil)
		s.logger.Info("Task completed",
			zap.String("worker", worker),
			zap.String("task_id", t.ID),
			zap.String("name", t.Name),
			zap.Int64("execution_time_ms", t.ExecutionTime().Milliseconds()),
		)
	case cancelCtx.Err() != nil:
		t.finish(StatusCancelled, nil, nil)
		s.logger.Info("Task cancelled", zap.String("task_id", t.ID), zap.String("name", t.Name))
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		err := fmt.Errorf("%w after %s", ErrTaskTimeout, t.Timeout)
		t.finish(StatusFailed, nil, err)
		s.logger.Error("Task timed out",
			zap.String("task_id", t.ID),
			zap.String("name", t.Name),
			zap.Duration("timeout", t.Timeout),
		)
	default:
		t.finish(StatusFailed, nil, out.err)
		s.logger.Error("Task failed",
			zap.String("task_id", t.ID),
			zap.String("name", t.Name),
			zap.Error(out.err),
		)
	}
}

func cloneMetadata(md map[string]any) map[string]any {
	out := make(map[string]any, len(md)+1)
	for k, v := range md {
		out[k] = v
	}
	return out
}
