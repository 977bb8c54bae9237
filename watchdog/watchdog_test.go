package watchdog

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/redlinetelematics/ecucore/ecolog"
)

func TestPatPostponesReset(t *testing.T) {
	var resets atomic.Int32
	wd := NewSoftware(ecolog.Nop(), func() { resets.Add(1) })
	wd.Arm(60 * time.Millisecond)
	defer wd.Stop()

	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		wd.Pat()
	}
	if resets.Load() != 0 {
		t.Fatalf("expected no reset while being patted, got %d", resets.Load())
	}
}

func TestMissedPatTriggersReset(t *testing.T) {
	done := make(chan struct{})
	wd := NewSoftware(ecolog.Nop(), func() { close(done) })
	wd.Arm(20 * time.Millisecond)

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected platform reset after missed pat")
	}
}
