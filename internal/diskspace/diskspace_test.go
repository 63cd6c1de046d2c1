package diskspace

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestPauser(numWorkers int) *Pauser {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(Options{PauseAtMB: 1000, ResumeAtMB: 2000, Path: "/tmp"}, numWorkers, log)
}

func TestObserveTransitionsOKToLow(t *testing.T) {
	p := newTestPauser(3)
	p.observe(5000)
	if p.CurrentState() != StateOK {
		t.Fatalf("expected OK state while free space is high")
	}
	p.observe(500)
	if p.CurrentState() != StateLow {
		t.Fatalf("expected LOW state once free space drops below pause threshold")
	}
	for i := 0; i < 3; i++ {
		locked := p.WorkerGate(i).TryLock()
		if locked {
			t.Errorf("expected worker %d's gate to already be held while LOW", i)
			p.WorkerGate(i).Unlock()
		}
	}
}

func TestObserveTransitionsLowToOK(t *testing.T) {
	p := newTestPauser(2)
	p.observe(500) // OK -> LOW, acquires both gates
	p.observe(1500) // between thresholds: stays LOW (no hysteresis flip yet)
	if p.CurrentState() != StateLow {
		t.Fatalf("expected to remain LOW between thresholds, found %v", p.CurrentState())
	}
	p.observe(3000) // LOW -> OK, releases both gates
	if p.CurrentState() != StateOK {
		t.Fatalf("expected OK state once free space exceeds resume threshold")
	}
	for i := 0; i < 2; i++ {
		if !p.WorkerGate(i).TryLock() {
			t.Errorf("expected worker %d's gate to be free once resumed", i)
		} else {
			p.WorkerGate(i).Unlock()
		}
	}
}

func TestRunRejectsInvertedThresholds(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	p := New(Options{PauseAtMB: 2000, ResumeAtMB: 1000, Path: "/tmp", PollInterval: time.Millisecond}, 1, log)
	if err := p.Run(nil); err == nil { //nolint:staticcheck // nil ctx is fine: Run validates thresholds before ever selecting on it
		t.Error("expected error for resume threshold below pause threshold")
	}
}
