package restore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/skeema/mydump/internal/model"
)

// Queues holds the restore-side job queues the Classifier feeds and the
// worker pool drains.
type Queues struct {
	Database  *JobQueue // CREATE DATABASE jobs
	Table     *JobQueue // table-structure restore jobs
	PostTable *JobQueue // view/trigger restore jobs
	Post      *JobQueue // post-schema (routines, events, ...) restore jobs
}

// NewQueues returns an empty set of restore queues.
func NewQueues() *Queues {
	return &Queues{
		Database:  NewJobQueue(),
		Table:     NewJobQueue(),
		PostTable: NewJobQueue(),
		Post:      NewJobQueue(),
	}
}

// Classifier consumes filenames from the intermediate queue (fed by the
// Demultiplexer), classifies each, and either dispatches it to a Queues
// bucket, attaches it to its table's restore-job list, or re-queues it
// when a prerequisite (its database, or its table's schema) hasn't been
// seen yet.
type Classifier struct {
	Config       *model.Configuration
	Queues       *Queues
	Intermediate *Queue
	Wake         *Queue // signaled once per Database/Table/Data dispatch; the Pool's dequeue wake-up
	Log          *logrus.Logger

	SkipTriggers bool
	SkipPost     bool
	NoData       bool

	mu               sync.Mutex
	databasesCreated map[string]bool
	tablesSeen       map[string]bool // "db.table" once its SCHEMA_TABLE job has been dispatched
	ChecksumFiles    []string
}

// NewClassifier returns a Classifier ready to drain intermediate, waking
// wake's Pool once per Database/Table/Data job it dispatches.
func NewClassifier(cfg *model.Configuration, queues *Queues, intermediate, wake *Queue, log *logrus.Logger) *Classifier {
	return &Classifier{
		Config:           cfg,
		Queues:           queues,
		Intermediate:     intermediate,
		Wake:             wake,
		Log:              log,
		databasesCreated: make(map[string]bool),
		tablesSeen:       make(map[string]bool),
	}
}

func (c *Classifier) signal() {
	if c.Wake != nil {
		c.Wake.Push("")
	}
}

// Run drains the intermediate queue until the "END" sentinel has cycled
// through with nothing left behind it, mirroring
// myloader_stream.c:intermidiate_thread's "push END back to the tail
// while the queue still has real work ahead of it" loop. Returns an
// error if any file remained permanently unclassifiable (its
// prerequisite never arrived).
func (c *Classifier) Run(ctx context.Context) error {
	progressed := false
	for {
		name := c.Intermediate.Pop()
		if name == "END" {
			if c.Intermediate.Len() > 0 {
				if !progressed {
					return fmt.Errorf("restore: %d file(s) still waiting on a prerequisite that never arrived", c.Intermediate.Len())
				}
				progressed = false
				c.Intermediate.Push("END")
				continue
			}
			return nil
		}
		if err := c.classify(name); err == errIncomplete {
			c.Intermediate.Push(name)
			continue
		} else if err != nil {
			return err
		}
		progressed = true
	}
}

var errIncomplete = fmt.Errorf("restore: prerequisite not yet seen")

// classify dispatches one filename according to its classified kind.
func (c *Classifier) classify(name string) error {
	kind := ClassifyFile(name)
	db, table, chunk := parseRestoreName(name)

	switch kind {
	case model.FileInit, model.FileIgnored, model.FileTablespace, model.FileShutdown, model.FileMetadataGlobal:
		return nil

	case model.FileSchemaCreate:
		c.mu.Lock()
		c.databasesCreated[db] = true
		c.mu.Unlock()
		c.Queues.Database.Push(&model.Job{Kind: model.JobRestoreSchema, Database: db, FilePath: name, FileKind: kind})
		c.signal()
		return nil

	case model.FileSchemaTable:
		c.mu.Lock()
		created := c.databasesCreated[db]
		if created {
			c.tablesSeen[db+"."+table] = true
		}
		c.mu.Unlock()
		if !created {
			return errIncomplete
		}
		c.Config.Table(db, table)
		c.Queues.Table.Push(&model.Job{Kind: model.JobRestoreSchema, Database: db, Table: table, FilePath: name, FileKind: kind})
		c.signal()
		return nil

	case model.FileSchemaView:
		c.Queues.PostTable.Push(&model.Job{Kind: model.JobRestoreSchema, Database: db, Table: table, FilePath: name, FileKind: kind})
		return nil

	case model.FileSchemaTrigger:
		if !c.SkipTriggers {
			c.Queues.PostTable.Push(&model.Job{Kind: model.JobRestoreSchema, Database: db, Table: table, FilePath: name, FileKind: kind})
		}
		return nil

	case model.FileSchemaPost:
		if !c.SkipPost {
			c.Queues.Post.Push(&model.Job{Kind: model.JobRestoreSchema, Database: db, FilePath: name, FileKind: kind})
		}
		return nil

	case model.FileMetadataTable:
		c.mu.Lock()
		seen := c.tablesSeen[db+"."+table]
		c.mu.Unlock()
		if !seen {
			return errIncomplete
		}
		// Only sequencing happens here: the file's max_threads/data-length
		// values are not parsed, so Table.MaxThreads is left as it was.
		c.ChecksumFiles = append(c.ChecksumFiles, name) // tracked for symmetry with CHECKSUM below; harmless if unused downstream
		return nil

	case model.FileChecksum:
		c.ChecksumFiles = append(c.ChecksumFiles, name)
		return nil

	case model.FileData:
		if c.NoData {
			return nil
		}
		t := c.Config.TableIfExists(db, table)
		if t == nil {
			return errIncomplete
		}
		t.AttachJob(&model.Job{Kind: model.JobRestoreData, Database: db, Table: table, Chunk: chunk, FilePath: name, FileKind: kind})
		c.signal()
		return nil

	case model.FileResume:
		return fmt.Errorf("restore: resume files are not supported under streaming restore (%s)", name)

	case model.FileLoadData:
		c.Log.Infof("restore: load-data file found: %s", name)
		return nil

	default:
		return nil
	}
}

// Handler executes one restore job. Supplied by the orchestrator
// (internal/loadcore), which knows how to turn a restore Job into the
// actual CREATE DATABASE/CREATE TABLE/INSERT statements; this package
// only sequences jobs.
type Handler func(ctx context.Context, job *model.Job) error

// Pool runs NumWorkers persistent workers against a Queues, implementing
// this dequeue priority: database job, then table-structure job, then a
// per-table data job on a table with a free concurrency slot, then
// any-table data job, else wait for another file to arrive. PostTable/
// Post jobs (views, triggers, post-schema objects) sit outside that
// priority list — the overall database→schema→data→post ordering places
// them last, so they're drained in a dedicated pass once the main loop
// has exhausted database/table/data work, rather than competing for
// dequeue priority against it.
type Pool struct {
	Config     *model.Configuration
	Queues     *Queues
	NumWorkers int
	Log        *logrus.Logger
	Handle     Handler

	wake *Queue // wake token per dispatched job, mirrors myloader_stream.c's stream_queue
}

// NewPool returns a Pool driven by wake, the same token queue the
// Classifier signals on every successful dispatch.
func NewPool(cfg *model.Configuration, queues *Queues, numWorkers int, log *logrus.Logger, handle Handler, wake *Queue) *Pool {
	return &Pool{Config: cfg, Queues: queues, NumWorkers: numWorkers, Log: log, Handle: handle, wake: wake}
}

const shutdownToken = "\x00SHUTDOWN"

// Run starts NumWorkers workers draining Queues by priority, and blocks
// until every worker has processed a shutdown token. Callers arrange for
// exactly NumWorkers shutdown tokens to reach wake once no more files
// will be classified (see internal/loadcore), mirroring the Shutdown
// sentinel convention used by the dump-side job queue.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(p.NumWorkers)
	for i := 0; i < p.NumWorkers; i++ {
		go func(worker int) {
			defer wg.Done()
			p.runWorker(ctx, worker)
		}(i)
	}
	wg.Wait()
	p.drainPost(ctx)
}

// Shutdown pushes one shutdown token per worker onto the wake queue.
func (p *Pool) Shutdown() {
	for i := 0; i < p.NumWorkers; i++ {
		p.wake.Push(shutdownToken)
	}
}

func (p *Pool) runWorker(ctx context.Context, worker int) {
	for {
		token := p.wake.Pop()
		if token == shutdownToken {
			return
		}
		job, acquired, ok := p.dequeue()
		if !ok {
			// Nothing eligible yet: every queue is empty and every table
			// with pending data has no data queued at all (as opposed to
			// merely being at its concurrency cap, which the uncapped
			// fallback tier below already handles). Requeue the wake and
			// let another worker's completion re-signal us.
			p.wake.Push(token)
			continue
		}
		p.run(ctx, worker, job, acquired)
	}
}

// dequeue implements the priority order itself: database job, then
// table-structure job, then a per-table data job on a table with a free
// concurrency slot, then (mirroring myloader_stream.c's give_any_data_job)
// any remaining table's data job even if its cap is currently full, rather
// than leaving a worker spinning while capped tables still have queued
// data. The returned acquired flag tells run whether a per-table worker
// slot was actually taken and needs releasing on completion.
func (p *Pool) dequeue() (job *model.Job, acquired bool, ok bool) {
	if job, ok := p.Queues.Database.TryPop(); ok {
		return job, false, true
	}
	if job, ok := p.Queues.Table.TryPop(); ok {
		return job, false, true
	}
	for _, t := range p.Config.Tables() {
		if !t.HasPendingJobs() {
			continue
		}
		if !t.TryAcquireWorker() {
			continue
		}
		if job := t.NextJob(); job != nil {
			return job, true, true
		}
		t.ReleaseWorker()
	}
	// Any-table data job: every table with pending data is already at its
	// max_threads cap (or had nothing left once acquired above). Take one
	// without acquiring a slot rather than spin, since give_any_data_job
	// ignores the per-table cap for this fallback tier.
	for _, t := range p.Config.Tables() {
		if !t.HasPendingJobs() {
			continue
		}
		if job := t.NextJob(); job != nil {
			return job, false, true
		}
	}
	return nil, false, false
}

func (p *Pool) run(ctx context.Context, worker int, job *model.Job, acquired bool) {
	defer func() {
		if acquired {
			if t := p.Config.TableIfExists(job.Database, job.Table); t != nil {
				t.ReleaseWorker()
			}
		}
	}()
	if err := p.Handle(ctx, job); err != nil {
		atomic.AddInt64(&p.Config.Errors, 1)
		p.Log.Errorf("restore worker %d: job %s(%s.%s) failed: %v", worker, job.Kind, job.Database, job.Table, err)
	}
}

// drainPost executes the PostTable and Post queues once every
// database/table/data job has completed, preserving the overall
// schema-before-data-before-post ordering.
func (p *Pool) drainPost(ctx context.Context) {
	for _, q := range []*JobQueue{p.Queues.PostTable, p.Queues.Post} {
		for {
			job, ok := q.TryPop()
			if !ok {
				break
			}
			if err := p.Handle(ctx, job); err != nil {
				atomic.AddInt64(&p.Config.Errors, 1)
				p.Log.Errorf("restore post-job %s(%s.%s) failed: %v", job.Kind, job.Database, job.Table, err)
			}
		}
	}
}

// parseRestoreName extracts (database, table, chunk) from a restore
// filename following the "<db>.<table>[.<chunk>]-suffix.ext" or
// "<db>.<table>[.<chunk>].ext" convention. Chunk is 0 when absent or
// unparseable.
func parseRestoreName(name string) (db, table string, chunk int) {
	base := stripKnownExtension(trimSuffixMarkers(name))
	parts := splitDots(base)
	if len(parts) >= 1 {
		db = parts[0]
	}
	if len(parts) >= 2 {
		table = parts[1]
	}
	if len(parts) >= 3 {
		fmt.Sscanf(parts[2], "%d", &chunk)
	}
	return db, table, chunk
}
