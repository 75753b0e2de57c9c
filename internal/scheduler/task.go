package scheduler

import (
	"context"
	"errors"
	"maps"
	"time"
)

// ErrTaskTimeout is recorded on a task whose work outlived its timeout.
var ErrTaskTimeout = errors.New("task timed out")

// Priority orders queued tasks. Higher values are dequeued first.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of a scheduled task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Statuses returns every task status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled}
}

// Active reports whether a task in this state may still change.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusRunning
}

// Work is the unit of work a task executes. It must return promptly once ctx
// is done; the scheduler does not wait for it after cancellation or timeout.
type Work func(ctx context.Context) (any, error)

// Options are the optional knobs of ScheduleTask.
type Options struct {
	Priority Priority // PriorityNormal when zero
	Timeout  time.Duration
	Metadata map[string]any
}

// Task is a read-only snapshot of a scheduled task.
type Task struct {
	ID          string
	Name        string
	Priority    Priority
	Timeout     time.Duration
	Status      Status
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Result      any
	Err         error
	Metadata    map[string]any
}

// ExecutionTime is the time between start and completion, or zero if the
// task never ran to an end.
func (t Task) ExecutionTime() time.Duration {
	if t.StartedAt.IsZero() || t.CompletedAt.IsZero() {
		return 0
	}
	return t.CompletedAt.Sub(t.StartedAt)
}

// Limits configures the scheduler's concurrency ceilings. The memory and CPU
// fields are advisory and not enforced.
type Limits struct {
	MaxConcurrentTasks          int `koanf:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	MaxConcurrentOrchestrations int `koanf:"max_concurrent_orchestrations" yaml:"max_concurrent_orchestrations"`
	MaxMemoryMB                 int `koanf:"max_memory_mb" yaml:"max_memory_mb"`
	MaxCPUPercent               int `koanf:"max_cpu_percent" yaml:"max_cpu_percent"`
}

// DefaultLimits returns the stock resource limits.
func DefaultLimits() Limits {
	return Limits{
		MaxConcurrentTasks:          10,
		MaxConcurrentOrchestrations: 3,
		MaxMemoryMB:                 1024,
		MaxCPUPercent:               80,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxConcurrentTasks <= 0 {
		l.MaxConcurrentTasks = d.MaxConcurrentTasks
	}
	if l.MaxConcurrentOrchestrations <= 0 {
		l.MaxConcurrentOrchestrations = d.MaxConcurrentOrchestrations
	}
	return l
}

// Stats summarises scheduler state.
type Stats struct {
	Running          bool
	TotalTasks       int
	RunningTasks     int
	PendingTasks     int // queue depth
	Workers          int
	StatusCounts     map[Status]int
	Limits           Limits
	AvgExecutionTime time.Duration // over completed tasks only
	CompletedTasks   int
}

// task is the scheduler-owned mutable record behind a Task snapshot.
type task struct {
	Task
	work   Work
	seq    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *task) snapshot() Task {
	out := t.Task
	out.Metadata = maps.Clone(t.Metadata)
	return out
}

// finish moves the task to a terminal state and wakes waiters. Must be called
// with the scheduler lock held.
func (t *task) finish(status Status, result any, err error) {
	t.Status = status
	t.Result = result
	t.Err = err
	t.CompletedAt = time.Now()
	t.cancel = nil
	close(t.done)
}
