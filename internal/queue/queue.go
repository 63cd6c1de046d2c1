// Package queue implements the dump-side Job Queue and Worker Pool: a
// pool of persistent workers draining the main queue (and, in
// less-locking mode, a second queue of bin-packed non-transactional
// table lists), a startup readiness barrier, and the
// non_innodb_table_counter/unlock_tables gate bookkeeping (the gate is
// pushed to but not read by the Lock Controller).
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nozzle/throttler"
	"github.com/sirupsen/logrus"

	"github.com/skeema/mydump/internal/model"
)

// Handler executes one job on behalf of the given worker. Supplied by the
// orchestrator (internal/dumpcore), which knows how to turn a Job into the
// SQL that actually produces dump output; this package only schedules and
// sequences. worker identifies which of the pool's NumThreads slots (and
// which bound per-worker snapshot session) is running the job.
type Handler func(ctx context.Context, worker int, job *model.Job) error

// Pool runs a fixed number of workers against a Configuration's main
// queue, optionally also dispatching a less-locking pass over
// non-transactional tables.
type Pool struct {
	Config     *model.Configuration
	NumThreads int
	Log        *logrus.Logger
	Handle     Handler

	// Gate, if set, returns the per-worker mutex a worker should hold
	// while executing a job, letting the disk-space pauser and signal
	// coordinator block workers between jobs without either package
	// knowing about the queue directly.
	Gate func(worker int) *sync.Mutex

	ready sync.WaitGroup
}

// NewPool returns a Pool with its readiness barrier pre-armed for
// NumThreads workers.
func NewPool(cfg *model.Configuration, numThreads int, log *logrus.Logger, handle Handler) *Pool {
	p := &Pool{Config: cfg, NumThreads: numThreads, Log: log, Handle: handle}
	p.ready.Add(numThreads)
	return p
}

// Run starts NumThreads persistent workers draining the main queue. Each
// worker signals readiness immediately on entry; callers that need the
// startup barrier (locks must not be released until every worker holds a
// consistent snapshot) should call WaitReady before proceeding. Run
// blocks until every worker has consumed its Shutdown sentinel.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(p.NumThreads)
	for i := 0; i < p.NumThreads; i++ {
		go func(worker int) {
			defer wg.Done()
			p.ready.Done()
			p.runWorker(ctx, worker)
		}(i)
	}
	wg.Wait()
}

// WaitReady blocks until every worker spawned by Run has acknowledged
// startup.
func (p *Pool) WaitReady() {
	p.ready.Wait()
}

func (p *Pool) runWorker(ctx context.Context, worker int) {
	for {
		job, ok := <-p.Config.MainQueue
		if !ok {
			return
		}
		if job.Kind == model.JobShutdown {
			return
		}
		if p.Gate != nil {
			if gate := p.Gate(worker); gate != nil {
				gate.Lock()
				gate.Unlock()
			}
		}
		if err := p.Handle(ctx, worker, job); err != nil {
			atomic.AddInt64(&p.Config.Errors, 1)
			p.Log.Errorf("worker %d: job %s(%s.%s) failed: %v", worker, job.Kind, job.Database, job.Table, err)
		}
	}
}

// Shutdown pushes one Shutdown sentinel per worker onto the main queue:
// exactly one per worker per queue.
func (p *Pool) Shutdown() {
	for i := 0; i < p.NumThreads; i++ {
		p.Config.MainQueue <- model.NewShutdownJob()
	}
}

// LockTableFunc takes the per-table read lock a less-locking worker needs
// before dumping a non-transactional table, on behalf of the given worker
// slot; UnlockTableFunc releases it the same way.
type LockTableFunc func(ctx context.Context, worker int, table *model.Table) error
type UnlockTableFunc func(ctx context.Context, worker int, table *model.Table) error

// RunLessLocking dispatches the bin-packed lists of non-transactional
// tables across up to NumThreads concurrent goroutines, bounded by
// nozzle/throttler: one list per goroutine, each list processed
// lock → dump → unlock per table, in order, with the list's index passed
// through as its worker slot so lock/unlock/Handle can each bind their own
// per-worker session instead of sharing one across goroutines. When the
// last table across all lists finishes, NonInnoDBTableCounter reaches zero
// and NonInnoDBDone is set, RunLessLocking pushes to UnlockTablesGate.
// Nothing in this module receives from that gate; internal/dumpcore
// releases the global lock only after the main pool has finished.
func (p *Pool) RunLessLocking(ctx context.Context, tables []*model.Table, lock LockTableFunc, unlock UnlockTableFunc) error {
	lists := BinPack(tables, p.NumThreads)
	if len(lists) == 0 {
		p.finishNonInnoDB()
		return nil
	}

	th := throttler.New(p.NumThreads, len(lists))
	for i, list := range lists {
		go func(worker int, list []*model.Table) {
			th.Done(p.runList(ctx, worker, list, lock, unlock))
		}(i, list)
		if th.Throttle() > 0 {
			break
		}
	}
	p.finishNonInnoDB()

	for _, err := range th.Errs() {
		if err != nil {
			return fmt.Errorf("less-locking pass: %w", err)
		}
	}
	return nil
}

func (p *Pool) runList(ctx context.Context, worker int, list []*model.Table, lock LockTableFunc, unlock UnlockTableFunc) error {
	for _, t := range list {
		if err := lock(ctx, worker, t); err != nil {
			return fmt.Errorf("locking %s: %w", t.Key(), err)
		}
		job := &model.Job{Kind: model.JobDumpTableData, Database: t.Database, Table: t.Name}
		err := p.Handle(ctx, worker, job)
		if unlockErr := unlock(ctx, worker, t); unlockErr != nil && err == nil {
			err = fmt.Errorf("unlocking %s: %w", t.Key(), unlockErr)
		}
		if err != nil {
			return err
		}
		if atomic.AddInt64(&p.Config.NonInnoDBTableCounter, -1) == 0 {
			atomic.StoreInt32(&p.Config.NonInnoDBDone, 1)
		}
	}
	return nil
}

// finishNonInnoDB pushes to the unlock_tables gate once the counter has
// reached zero and the done flag is set; it's a no-op (and doesn't block)
// otherwise, since the last table to finish is the one that actually
// triggers the gate push.
func (p *Pool) finishNonInnoDB() {
	if atomic.LoadInt64(&p.Config.NonInnoDBTableCounter) == 0 && atomic.LoadInt32(&p.Config.NonInnoDBDone) == 1 {
		select {
		case p.Config.UnlockTablesGate <- struct{}{}:
		default:
		}
	}
}

// BinPack distributes tables across numWorkers lists using a greedy
// lowest-running-sum algorithm: tables are sorted by descending DataSize,
// then each is assigned to whichever worker currently holds the smallest
// total.
func BinPack(tables []*model.Table, numWorkers int) [][]*model.Table {
	if numWorkers <= 0 || len(tables) == 0 {
		return nil
	}
	sorted := append([]*model.Table(nil), tables...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DataSize > sorted[j].DataSize })

	lists := make([][]*model.Table, numWorkers)
	sums := make([]int64, numWorkers)
	for _, t := range sorted {
		lowest := 0
		for i := 1; i < numWorkers; i++ {
			if sums[i] < sums[lowest] {
				lowest = i
			}
		}
		lists[lowest] = append(lists[lowest], t)
		sums[lowest] += t.DataSize
	}

	var result [][]*model.Table
	for _, l := range lists {
		if len(l) > 0 {
			result = append(result, l)
		}
	}
	return result
}
