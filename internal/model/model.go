// Package model holds the data shared across the dump/restore coordination
// core: the database/table/job entities enumerated in the control flow, the
// process-wide configuration they're scheduled through, and the snapshot
// coordinates written to the metadata file.
package model

import (
	"sync"
	"time"
)

// EngineClass classifies a table's storage engine for lock-strategy and
// scheduling purposes: transactional engines are dumped under a shared
// consistent snapshot, non-transactional ones need per-table locks.
type EngineClass int

// Constants enumerating engine classes.
const (
	EngineUnknown EngineClass = iota
	EngineTransactional
	EngineNonTransactional
	EngineView
)

// Database represents one named schema being dumped or restored. The
// already-scheduled-for-schema-dump flag transitions false→true exactly
// once, under m, and never back: a database's CREATE DATABASE statement is
// only ever planned a single time regardless of how many tables reference
// it.
type Database struct {
	Name string

	m               sync.Mutex
	schemaScheduled bool
	pendingTables   int
}

// NewDatabase returns a new Database with the given name.
func NewDatabase(name string) *Database {
	return &Database{Name: name}
}

// MarkSchemaScheduled transitions the database's schema-dump flag to true,
// returning true if this call was the one to do so (false if some other
// caller already claimed it). Safe for concurrent use.
func (d *Database) MarkSchemaScheduled() bool {
	d.m.Lock()
	defer d.m.Unlock()
	if d.schemaScheduled {
		return false
	}
	d.schemaScheduled = true
	return true
}

// SchemaScheduled reports whether the database's schema dump has already
// been scheduled.
func (d *Database) SchemaScheduled() bool {
	d.m.Lock()
	defer d.m.Unlock()
	return d.schemaScheduled
}

// AddPendingTable increments the database's count of tables still awaiting
// a dump/restore job, returning the new count.
func (d *Database) AddPendingTable(delta int) int {
	d.m.Lock()
	defer d.m.Unlock()
	d.pendingTables += delta
	return d.pendingTables
}

// Table represents a (database, name) pair tracked for the duration of one
// dump or restore run.
type Table struct {
	Database  string
	Name      string
	Engine    EngineClass
	DataSize  int64 // approximate on-disk size in bytes, used for load balancing
	Collation string

	MaxThreads int // per-table restore concurrency cap; 0 means uncapped, and the metadata file is not parsed for it

	m              sync.Mutex
	currentThreads int
	pendingJobs    []*Job
}

// Key returns the table's (database, name) pair as a single string,
// suitable for use as a map key.
func (t *Table) Key() string {
	return t.Database + "." + t.Name
}

// TryAcquireWorker increments the table's current-worker count if it is
// below MaxThreads, returning true if the slot was acquired. Callers must
// pair a successful acquisition with ReleaseWorker.
func (t *Table) TryAcquireWorker() bool {
	t.m.Lock()
	defer t.m.Unlock()
	if t.MaxThreads > 0 && t.currentThreads >= t.MaxThreads {
		return false
	}
	t.currentThreads++
	return true
}

// ReleaseWorker decrements the table's current-worker count.
func (t *Table) ReleaseWorker() {
	t.m.Lock()
	defer t.m.Unlock()
	if t.currentThreads > 0 {
		t.currentThreads--
	}
}

// AttachJob appends a restore job to the table's pending-job list. Jobs
// are only attached once the table's schema has been classified, so a
// structure job is always processed before any of its data jobs become
// eligible.
func (t *Table) AttachJob(j *Job) {
	t.m.Lock()
	defer t.m.Unlock()
	t.pendingJobs = append(t.pendingJobs, j)
}

// NextJob pops and returns the table's next pending restore job, or nil if
// none are queued.
func (t *Table) NextJob() *Job {
	t.m.Lock()
	defer t.m.Unlock()
	if len(t.pendingJobs) == 0 {
		return nil
	}
	j := t.pendingJobs[0]
	t.pendingJobs = t.pendingJobs[1:]
	return j
}

// HasPendingJobs reports whether the table has any queued restore jobs.
func (t *Table) HasPendingJobs() bool {
	t.m.Lock()
	defer t.m.Unlock()
	return len(t.pendingJobs) > 0
}

// JobKind tags the variant held by a Job.
type JobKind int

// Constants enumerating job kinds.
const (
	JobDumpSchema JobKind = iota
	JobDumpTableData
	JobDumpView
	JobDumpTrigger
	JobDumpTablespaces
	JobRestoreSchema
	JobRestoreData
	JobShutdown
)

func (k JobKind) String() string {
	switch k {
	case JobDumpSchema:
		return "dump-schema"
	case JobDumpTableData:
		return "dump-table-data"
	case JobDumpView:
		return "dump-view"
	case JobDumpTrigger:
		return "dump-trigger"
	case JobDumpTablespaces:
		return "dump-tablespaces"
	case JobRestoreSchema:
		return "restore-schema"
	case JobRestoreData:
		return "restore-data"
	case JobShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// RestoreFileKind classifies an inbound restore file.
type RestoreFileKind int

// Constants enumerating restore file kinds.
const (
	FileSchemaCreate RestoreFileKind = iota
	FileSchemaTable
	FileSchemaView
	FileSchemaTrigger
	FileSchemaPost
	FileMetadataTable
	FileChecksum
	FileData
	FileResume
	FileLoadData
	FileInit
	FileIgnored
	FileTablespace
	FileShutdown
	FileMetadataGlobal
)

// Job is a tagged variant carrying everything a worker needs to execute it
// without re-reading the work plan. Only the fields relevant to Kind are
// populated; the rest are zero.
type Job struct {
	Kind JobKind

	Database string
	Table    string
	Chunk    int // 0 if the table is not chunked

	// Restore-side fields.
	FilePath string
	FileKind RestoreFileKind
}

// NewShutdownJob returns the sentinel job a worker pops to know it should
// exit. Exactly one is pushed per worker per queue.
func NewShutdownJob() *Job {
	return &Job{Kind: JobShutdown}
}

// ReplicaCoordinates describes one replica's position as reported by SHOW
// SLAVE STATUS / SHOW ALL SLAVES STATUS, for multi-source topologies.
type ReplicaCoordinates struct {
	ConnectionName string
	Host           string
	Log            string
	Position       int64
	GTID           string
}

// SnapshotCoordinates captures the binlog/GTID position the consistent
// snapshot was taken at, written once to the metadata file before data
// extraction begins.
type SnapshotCoordinates struct {
	HasMaster      bool // false if SHOW MASTER STATUS returned zero rows
	MasterLog      string
	MasterPosition int64
	MasterGTID     string
	Replicas       []ReplicaCoordinates
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Configuration is the process-wide state a dump or restore run is
// scheduled through: queues, the table registry, and run-wide counters.
type Configuration struct {
	MainQueue        chan *Job
	LessLockingQueue chan *Job
	UnlockTablesGate chan struct{}
	PauseResume      chan bool

	tablesMu sync.Mutex
	tables   map[string]*Table

	NonInnoDBTableCounter int64 // atomic
	NonInnoDBDone         int32 // atomic, 0 or 1
	DatabaseCounter       int64 // atomic
	Errors                int64 // atomic
}

// NewConfiguration returns a Configuration with queues sized for the given
// worker count.
func NewConfiguration(workers int) *Configuration {
	return &Configuration{
		MainQueue:        make(chan *Job, workers*2),
		LessLockingQueue: make(chan *Job, workers*2),
		UnlockTablesGate: make(chan struct{}, 1),
		PauseResume:      make(chan bool, workers),
		tables:           make(map[string]*Table),
	}
}

// Table returns the registered Table for (database, name), creating it
// (with EngineUnknown, to be filled in by the Work Planner) if absent.
func (c *Configuration) Table(database, name string) *Table {
	key := database + "." + name
	c.tablesMu.Lock()
	defer c.tablesMu.Unlock()
	if t, ok := c.tables[key]; ok {
		return t
	}
	t := &Table{Database: database, Name: name}
	c.tables[key] = t
	return t
}

// Tables returns a snapshot of every Table currently registered, in no
// particular order. Used by the restore scheduler to search for an
// eligible per-table or any-table data job across the whole registry.
func (c *Configuration) Tables() []*Table {
	c.tablesMu.Lock()
	defer c.tablesMu.Unlock()
	result := make([]*Table, 0, len(c.tables))
	for _, t := range c.tables {
		result = append(result, t)
	}
	return result
}

// TableIfExists returns the registered Table for (database, name), or nil
// if it hasn't been registered yet. Used on the restore side, where a data
// file may arrive before its schema file has been classified.
func (c *Configuration) TableIfExists(database, name string) *Table {
	key := database + "." + name
	c.tablesMu.Lock()
	defer c.tablesMu.Unlock()
	return c.tables[key]
}
