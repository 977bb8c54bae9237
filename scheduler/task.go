package scheduler

// Priority is a small dense integer set; lower numbers are higher priority.
// PriorityISR (0) is reserved for interrupt-level handlers and is never
// admitted by CreateTask.
type Priority int

const PriorityISR Priority = 0

// TaskFunc is a task's body. Errors returned do not propagate to the
// scheduler; they are logged and the activation still counts.
type TaskFunc func(arg any) error

// TaskConfig describes a periodic task. Once registered, a task descriptor
// is immutable until scheduler shutdown.
type TaskConfig struct {
	Name       string
	PeriodUS   uint64
	DeadlineUS uint64
	WCETUS     uint64
	Priority   Priority
	Entry      TaskFunc
	Arg        any
}

// TaskStats is a snapshot of per-task execution statistics.
type TaskStats struct {
	ActivationCount uint64
	DeadlineMisses  uint64
	PreemptionCount uint64
	ExecMinUS       uint64
	ExecMaxUS       uint64
	ExecAvgUS       uint64
}
