// Package watchdog implements the timeout supervisor the scheduler pats
// once per task cycle. A missed pat is fatal and escalates through the
// caller-supplied platform reset path, grounded on the monitor-thread
// blocked-on-condition-variable-with-timeout design described for this
// component.
package watchdog

import (
	"sync"
	"time"

	"github.com/redlinetelematics/ecucore/ecolog"
)

// HAL is the watchdog hardware abstraction this runtime depends on.
type HAL interface {
	Pat()
	Arm(timeout time.Duration)
	ResetPlatform()
}

// Software is the default in-process HAL implementation: a monitor
// goroutine blocked on a timer reset by every Pat call.
type Software struct {
	log Logger

	mu       sync.Mutex
	timeout  time.Duration
	patCh    chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	onMissed func()
	started  bool
}

// Logger is the minimal logging surface watchdog needs, satisfied by
// ecolog.Logger.
type Logger = ecolog.Logger

// NewSoftware creates an unarmed software watchdog. onMissed is invoked
// exactly once, from the monitor goroutine, the first time a pat is missed
// within the armed timeout; in production this is the platform reset path.
func NewSoftware(log Logger, onMissed func()) *Software {
	return &Software{
		log:      log,
		patCh:    make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		onMissed: onMissed,
	}
}

// Arm sets the timeout and starts the monitor goroutine. Arm must be called
// before the first Pat.
func (s *Software) Arm(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = timeout
	if s.started {
		return
	}
	s.started = true
	go s.monitor()
}

func (s *Software) monitor() {
	defer close(s.doneCh)
	s.mu.Lock()
	timeout := s.timeout
	s.mu.Unlock()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.patCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(timeout)
		case <-timer.C:
			s.log.Critical().Msg("watchdog: missed pat, escalating to platform reset")
			s.ResetPlatform()
			return
		}
	}
}

// Pat feeds the watchdog, postponing the missed-pat deadline.
func (s *Software) Pat() {
	select {
	case s.patCh <- struct{}{}:
	default:
		// A pat is already pending consumption; the monitor will see this
		// one on its next select iteration regardless, so don't block.
	}
}

// ResetPlatform invokes the configured platform reset callback. Safe to
// call directly (e.g. from tests asserting the escalation path fires).
func (s *Software) ResetPlatform() {
	if s.onMissed != nil {
		s.onMissed()
	}
}

// Stop joins the monitor goroutine (cooperative cancellation).
func (s *Software) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	<-s.doneCh
}
