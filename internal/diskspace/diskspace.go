// Package diskspace implements a hysteresis state machine that pauses
// all workers when free space on the output directory drops below a
// threshold, and resumes them once it recovers past a second (higher)
// threshold.
package diskspace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the pauser's hysteresis state.
type State int

// Constants enumerating pauser states.
const (
	StateOK State = iota
	StateLow
)

func (s State) String() string {
	if s == StateLow {
		return "low"
	}
	return "ok"
}

// Options configures a Pauser.
type Options struct {
	Path         string        // output directory to monitor
	PauseAtMB    uint64        // transition OK -> LOW when free space drops below this
	ResumeAtMB   uint64        // transition LOW -> OK when free space rises above this
	PollInterval time.Duration // default 10s
}

// Pauser monitors free space on Options.Path and holds one mutex per
// worker locked while in the LOW state, so workers that check/acquire it
// at a safe point between jobs block until space recovers.
type Pauser struct {
	opts Options
	log  *logrus.Logger

	mu      sync.Mutex
	state   State
	workers []*sync.Mutex
}

// New returns a Pauser for numWorkers workers. Run rejects a ResumeAtMB
// below PauseAtMB.
func New(opts Options, numWorkers int, log *logrus.Logger) *Pauser {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	p := &Pauser{opts: opts, log: log}
	p.workers = make([]*sync.Mutex, numWorkers)
	for i := range p.workers {
		p.workers[i] = &sync.Mutex{}
	}
	return p
}

// WorkerGate returns the mutex a worker should Lock/Unlock at a safe
// point between jobs (never while holding a server lock transition) to
// observe the current pause state.
func (p *Pauser) WorkerGate(worker int) *sync.Mutex {
	return p.workers[worker]
}

// Run polls free space every PollInterval until ctx is cancelled,
// transitioning the hysteresis state machine and acquiring/releasing the
// per-worker mutexes accordingly.
func (p *Pauser) Run(ctx context.Context) error {
	if p.opts.ResumeAtMB < p.opts.PauseAtMB {
		return fmt.Errorf("diskspace: resume threshold (%d MB) must be >= pause threshold (%d MB)", p.opts.ResumeAtMB, p.opts.PauseAtMB)
	}
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			free, err := freeMB(p.opts.Path)
			if err != nil {
				p.log.Warnf("diskspace: unable to stat %s: %v", p.opts.Path, err)
				continue
			}
			p.observe(free)
		}
	}
}

func (p *Pauser) observe(freeMB uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateOK:
		if freeMB < p.opts.PauseAtMB {
			p.log.Warnf("diskspace: free space %d MB below pause threshold %d MB, pausing workers", freeMB, p.opts.PauseAtMB)
			for _, m := range p.workers {
				m.Lock()
			}
			p.state = StateLow
		}
	case StateLow:
		if freeMB > p.opts.ResumeAtMB {
			p.log.Infof("diskspace: free space %d MB above resume threshold %d MB, resuming workers", freeMB, p.opts.ResumeAtMB)
			for _, m := range p.workers {
				m.Unlock()
			}
			p.state = StateOK
		}
	}
}

// CurrentState reports the pauser's current hysteresis state.
func (p *Pauser) CurrentState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// PauseAll forces every worker gate closed regardless of measured free
// space, a no-op if already paused. Shared with the signal coordinator,
// which pauses the same gates on SIGINT rather than duplicating the
// mechanism.
func (p *Pauser) PauseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateOK {
		for _, m := range p.workers {
			m.Lock()
		}
		p.state = StateLow
	}
}

// ResumeAll releases every worker gate, a no-op if not currently paused.
func (p *Pauser) ResumeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateLow {
		for _, m := range p.workers {
			m.Unlock()
		}
		p.state = StateOK
	}
}
