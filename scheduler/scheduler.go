// Package scheduler implements the fixed-priority preemptive real-time
// scheduler: periodic task dispatch, per-task deadline/execution-time
// accounting, and a watchdog pat once per cycle immediately before each
// task body runs.
package scheduler

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/redlinetelematics/ecucore/clock"
	"github.com/redlinetelematics/ecucore/ecoerr"
	"github.com/redlinetelematics/ecucore/ecolog"
	"github.com/redlinetelematics/ecucore/watchdog"
)

type taskRecord struct {
	cfg   TaskConfig
	mu    sync.Mutex
	stats TaskStats
}

// Scheduler is the real-time task scheduler. Zero value is not usable; use
// New.
type Scheduler struct {
	wd  watchdog.HAL
	clk clock.Source
	log ecolog.Logger

	mu      sync.Mutex
	tasks   []*taskRecord
	byName  map[string]*taskRecord
	running bool

	arb    arbiter
	eg     *errgroup.Group
	egCtx  context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler. wd is patted once per task cycle; clk is the
// time source every task's release timing is computed against.
func New(wd watchdog.HAL, clk clock.Source, log ecolog.Logger) *Scheduler {
	return &Scheduler{
		wd:     wd,
		clk:    clk,
		log:    log.With("scheduler"),
		byName: make(map[string]*taskRecord),
	}
}

// CreateTask registers a periodic task. Only valid before Start; task
// descriptors are immutable once the scheduler is running.
func (s *Scheduler) CreateTask(cfg TaskConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ecoerr.New(ecoerr.KindConfiguration, "scheduler_already_running", ecoerr.ErrAlreadyRunning)
	}
	if cfg.Name == "" {
		return ecoerr.New(ecoerr.KindConfiguration, "scheduler_task_name_required", nil)
	}
	if cfg.Priority == PriorityISR {
		return ecoerr.New(ecoerr.KindConfiguration, "scheduler_isr_priority_reserved", nil)
	}
	if cfg.DeadlineUS > cfg.PeriodUS {
		return ecoerr.New(ecoerr.KindConfiguration, "scheduler_deadline_exceeds_period", nil)
	}
	if cfg.Entry == nil {
		return ecoerr.New(ecoerr.KindConfiguration, "scheduler_entry_required", nil)
	}
	if _, exists := s.byName[cfg.Name]; exists {
		return ecoerr.New(ecoerr.KindConfiguration, "scheduler_duplicate_task_name", ecoerr.ErrAlreadyExists)
	}

	rec := &taskRecord{cfg: cfg}
	rec.stats.ExecMinUS = ^uint64(0)
	s.tasks = append(s.tasks, rec)
	s.byName[cfg.Name] = rec
	return nil
}

// Start launches all registered tasks, one goroutine each. The watchdog is
// expected to already be armed by the caller (arming policy, e.g. the
// timeout value, is an ownership decision outside the scheduler's scope);
// Start only pats it, once per task cycle.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ecoerr.New(ecoerr.KindConfiguration, "scheduler_already_running", ecoerr.ErrAlreadyRunning)
	}
	s.running = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	eg, egCtx := errgroup.WithContext(runCtx)
	s.eg = eg
	s.egCtx = egCtx
	tasks := append([]*taskRecord(nil), s.tasks...)
	s.mu.Unlock()

	for _, rec := range tasks {
		rec := rec
		eg.Go(func() error {
			s.runTask(egCtx, rec)
			return nil
		})
	}
	return nil
}

// Stop sets the cooperative running flag false; each task goroutine exits
// at its next release boundary. Stop waits for all task goroutines to exit.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ecoerr.New(ecoerr.KindConfiguration, "scheduler_not_running", ecoerr.ErrNotRunning)
	}
	s.running = false
	cancel := s.cancel
	eg := s.eg
	s.mu.Unlock()

	cancel()
	return eg.Wait()
}

func (s *Scheduler) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runTask(ctx context.Context, rec *taskRecord) {
	nextRelease := s.clk.NowUS()
	for {
		if err := s.clk.SleepUntilUS(ctx, nextRelease); err != nil {
			return
		}
		if !s.isRunning() {
			return
		}

		now := s.clk.NowUS()
		if now > nextRelease {
			// Late: count one miss for every whole period boundary already
			// passed, then advance to the next future boundary without
			// attempting to catch up.
			missed := (now - nextRelease) / rec.cfg.PeriodUS
			if missed > 0 {
				rec.mu.Lock()
				rec.stats.DeadlineMisses += missed
				rec.mu.Unlock()
				nextRelease += missed * rec.cfg.PeriodUS
			}
		}
		thisRelease := nextRelease
		nextRelease += rec.cfg.PeriodUS

		preempted := s.arb.acquire(rec.cfg.Priority)

		s.wd.Pat()
		start := s.clk.NowUS()
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error().Str("task", rec.cfg.Name).Msg("task body panicked")
				}
			}()
			if err := rec.cfg.Entry(rec.cfg.Arg); err != nil {
				s.log.Warn().Str("task", rec.cfg.Name).Err(err).Msg("task body returned error")
			}
		}()
		end := s.clk.NowUS()

		s.arb.release()

		execUS := uint64(0)
		if end >= start { // defensive, clock can't actually go backwards
			execUS = end - start
		}
		updateStats(rec, execUS, preempted)
	}
}

func updateStats(rec *taskRecord, execUS uint64, preempted bool) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	st := &rec.stats
	st.ActivationCount++
	if preempted {
		st.PreemptionCount++
	}
	if execUS > rec.cfg.DeadlineUS {
		st.DeadlineMisses++
	}
	if execUS < st.ExecMinUS {
		st.ExecMinUS = execUS
	}
	if execUS > st.ExecMaxUS {
		st.ExecMaxUS = execUS
	}
	st.ExecAvgUS = (st.ExecAvgUS*7 + execUS) / 8
}

// GetTaskStats returns a snapshot of the named task's statistics.
func (s *Scheduler) GetTaskStats(name string) (TaskStats, bool) {
	s.mu.Lock()
	rec, ok := s.byName[name]
	s.mu.Unlock()
	if !ok {
		return TaskStats{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.stats, true
}

// ResetStats zeroes the named task's statistics.
func (s *Scheduler) ResetStats(name string) bool {
	s.mu.Lock()
	rec, ok := s.byName[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	rec.mu.Lock()
	rec.stats = TaskStats{ExecMinUS: ^uint64(0)}
	rec.mu.Unlock()
	return true
}
