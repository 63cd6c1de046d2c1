// Package dumpcore orchestrates one dump run: the control flow wiring
// the long-query guard, lock controller, connection session, metadata
// writer, work planner, job queue and worker pool, disk-space pauser,
// and signal coordinator together around one *server.Instance.
package dumpcore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/skeema/mydump/internal/compress"
	"github.com/skeema/mydump/internal/diskspace"
	"github.com/skeema/mydump/internal/exec"
	"github.com/skeema/mydump/internal/filter"
	"github.com/skeema/mydump/internal/lock"
	"github.com/skeema/mydump/internal/longquery"
	"github.com/skeema/mydump/internal/metadata"
	"github.com/skeema/mydump/internal/model"
	"github.com/skeema/mydump/internal/plan"
	"github.com/skeema/mydump/internal/queue"
	"github.com/skeema/mydump/internal/server"
	"github.com/skeema/mydump/internal/signals"
	"github.com/skeema/mydump/internal/sqlrow"
	"github.com/skeema/mydump/internal/telemetry"
)

// Options configures a Run, mapping directly onto the dump-side CLI
// surface.
type Options struct {
	OutputDir        string
	Threads          int
	Codec            compress.Codec
	RowsPerStatement int

	LongQueryGuard        time.Duration
	LongQueryRetries      int
	LongQueryRetryInterval time.Duration
	KillLongQueries       bool

	TiDBSnapshot   string
	UpdatedSince   time.Duration // days, already converted to a duration by the caller
	NoLocks        bool
	LockAllTables  bool
	NoBackupLocks  bool
	LessLocking    bool
	TrxConsistencyOnly bool

	NoSchemas      bool
	AllTablespaces bool
	SetNames       string

	Databases  []string
	Tables     []string
	ExecCmd    string
	Stream     bool // mutually exclusive with ExecCmd, enforced by cmd/mydumper

	PauseAtMB  uint64
	ResumeAtMB uint64
	Daemon     bool

	Filter    *filter.Filter
	Telemetry telemetry.Emitter
	Log       *logrus.Logger
}

// Run executes one full dump against instance: long-query guard, then
// acquire locks, open sessions, record snapshot coordinates, plan the
// work, execute it through the job queue (paused/resumed by the
// disk-space pauser and signal coordinator), release locks, then
// finalize the metadata file.
func Run(ctx context.Context, instance *server.Instance, opts Options) error {
	log := opts.Log
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Null{}
	}
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	if opts.LongQueryGuard > 0 {
		lqOpts := longquery.Options{
			Threshold:     opts.LongQueryGuard,
			KillLongQueries: opts.KillLongQueries,
			MaxRetries:    opts.LongQueryRetries,
			RetryInterval: opts.LongQueryRetryInterval,
		}
		if err := longquery.Wait(ctx, instance, log, lqOpts); err != nil {
			return fmt.Errorf("long-query guard: %w", err)
		}
	}

	primary, err := openRawConn(ctx, instance)
	if err != nil {
		return fmt.Errorf("opening primary lock connection: %w", err)
	}
	defer primary.Close()

	lockMode := lock.ModeFTWRL
	if opts.NoLocks {
		lockMode = lock.ModeNone
	} else if opts.LockAllTables {
		lockMode = lock.ModeLockAll
	}

	strategy := server.DetectLockStrategy(instance.Flavor())
	var second *sqlx.Conn
	if strategy.NeedsSecondConn && lockMode == lock.ModeFTWRL && !opts.NoBackupLocks {
		second, err = openRawConn(ctx, instance)
		if err != nil {
			return fmt.Errorf("opening secondary lock connection: %w", err)
		}
		defer second.Close()
	}

	controller := lock.NewController(primary, second, instance.Flavor(), log)
	if lockMode == lock.ModeLockAll {
		tables, lerr := lockAllCandidateTables(instance, opts.Filter)
		if lerr != nil {
			return fmt.Errorf("enumerating LOCK-ALL candidate tables: %w", lerr)
		}
		controller.SetLockAllTables(tables)
	}
	if err := controller.Acquire(ctx, lock.Options{
		Mode:               lockMode,
		NoBackupLocks:      opts.NoBackupLocks,
		TrxConsistencyOnly: opts.TrxConsistencyOnly,
	}); err != nil {
		return fmt.Errorf("acquiring consistency locks: %w", err)
	}
	released := false
	release := func() {
		if !released {
			released = true
			if rerr := controller.Release(ctx); rerr != nil {
				log.Errorf("releasing locks: %v", rerr)
			}
		}
	}
	defer release()

	cfg := model.NewConfiguration(opts.Threads)

	tokuDB, err := instance.HasTokuDB()
	if err != nil {
		return fmt.Errorf("checking for TokuDB: %w", err)
	}
	sessOpts := server.SessionOptions{
		CharacterSet:  opts.SetNames,
		LockAllTables: lockMode == lock.ModeLockAll,
		TiDBSnapshot:  opts.TiDBSnapshot,
		TokuDBPresent: tokuDB,
	}
	sessions := make([]*server.Session, opts.Threads)
	for i := 0; i < opts.Threads; i++ {
		sess, serr := server.Open(ctx, instance, "", sessOpts)
		if serr != nil {
			return fmt.Errorf("opening worker session %d: %w", i, serr)
		}
		sessions[i] = sess
		defer sess.Close()
	}

	pool := queue.NewPool(cfg, opts.Threads, log, makeHandler(instance, cfg, opts, sessions))
	// The pauser's per-worker gates back both the disk-space pauser and
	// the signal coordinator's SIGINT pause-then-confirm prompt, so it's
	// always constructed; only its disk-polling loop is conditional on
	// PauseAtMB actually being configured.
	pauser := diskspace.New(diskspace.Options{
		Path:       opts.OutputDir,
		PauseAtMB:  opts.PauseAtMB,
		ResumeAtMB: opts.ResumeAtMB,
	}, opts.Threads, log)
	pool.Gate = pauser.WorkerGate
	poolDone := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(poolDone)
	}()
	pool.WaitReady()

	for i, sess := range sessions {
		if err := sess.BindSnapshot(ctx, sessOpts); err != nil {
			return fmt.Errorf("binding snapshot for worker %d: %w", i, err)
		}
	}

	coords, err := metadata.CollectCoordinates(instance, log)
	if err != nil {
		return fmt.Errorf("collecting snapshot coordinates: %w", err)
	}
	coords.StartedAt = time.Now()

	// Every worker now holds its consistent snapshot, so under FTWRL the
	// global lock (and any backup/binlog lock) can go right away.
	if opts.TrxConsistencyOnly && lockMode == lock.ModeFTWRL {
		release()
	}

	pauseCtx, cancelPause := context.WithCancel(ctx)
	defer cancelPause()
	if opts.PauseAtMB > 0 {
		go pauser.Run(pauseCtx)
	}

	coord := signals.New(pauser, signals.Options{Daemon: opts.Daemon, Log: log})
	coord.Start()
	defer coord.Stop()
	go func() {
		<-coord.Shutdown()
		pool.Shutdown()
	}()

	planner := plan.New(instance, opts.Filter, cfg, plan.Options{
		NoSchemas:      opts.NoSchemas,
		AllTablespaces: opts.AllTablespaces,
	})
	if opts.UpdatedSince > 0 {
		planner.Opts.UpdatedSince = time.Now().Add(-opts.UpdatedSince)
	}

	if err := planWork(ctx, planner, opts); err != nil {
		return fmt.Errorf("planning dump: %w", err)
	}

	if opts.LessLocking {
		lockFn := func(ctx context.Context, worker int, t *model.Table) error {
			_, lerr := sessions[worker].Conn.ExecContext(ctx, "LOCK TABLE "+server.EscapeIdentifier(t.Database)+"."+server.EscapeIdentifier(t.Name)+" READ")
			return lerr
		}
		unlockFn := func(ctx context.Context, worker int, t *model.Table) error {
			_, uerr := sessions[worker].Conn.ExecContext(ctx, "UNLOCK TABLES")
			return uerr
		}
		var nonInnoDB []*model.Table
		for _, t := range cfg.Tables() {
			if t.Engine == model.EngineNonTransactional {
				nonInnoDB = append(nonInnoDB, t)
			}
		}
		go func() {
			if lerr := pool.RunLessLocking(ctx, nonInnoDB, lockFn, unlockFn); lerr != nil {
				log.Errorf("less-locking pass: %v", lerr)
			}
		}()
	}

	pool.Shutdown()
	<-poolDone

	release()

	coords.FinishedAt = time.Now()
	if err := metadata.WriteFile(opts.OutputDir, coords); err != nil {
		return fmt.Errorf("writing metadata file: %w", err)
	}

	opts.Telemetry.Emit("dump.errors", float64(atomic.LoadInt64(&cfg.Errors)))
	if atomic.LoadInt64(&cfg.Errors) > 0 {
		return fmt.Errorf("dump completed with %d job error(s)", cfg.Errors)
	}
	return nil
}

func planWork(ctx context.Context, p *plan.Planner, opts Options) error {
	switch {
	case len(opts.Tables) > 0:
		return p.PlanTables(ctx, opts.Tables)
	case len(opts.Databases) > 0:
		return p.PlanDatabases(ctx, opts.Databases)
	default:
		return p.PlanAll(ctx)
	}
}

func openRawConn(ctx context.Context, instance *server.Instance) (*sqlx.Conn, error) {
	db, err := instance.CachedConnectionPool("", "")
	if err != nil {
		return nil, err
	}
	return db.Connx(ctx)
}

// lockAllCandidateTables enumerates the schema-qualified base tables
// --lock-all-tables should lock, the same information_schema.TABLES walk
// send_lock_all_tables does in the original, filtered through C3 exactly
// as the Work Planner filters its own table enumeration.
func lockAllCandidateTables(instance *server.Instance, f *filter.Filter) ([]string, error) {
	dbs, err := instance.SchemaNames()
	if err != nil {
		return nil, err
	}
	var result []string
	for _, db := range dbs {
		if f != nil && !f.Accept(db, "") {
			continue
		}
		tables, terr := instance.TableNames(db)
		if terr != nil {
			return nil, terr
		}
		for _, t := range tables {
			if f != nil && !f.Accept(db, t) {
				continue
			}
			result = append(result, db+"."+t)
		}
	}
	return result, nil
}

// makeHandler returns the queue.Handler that turns a dump Job into
// output files: schema DDL, view DDL, or row data serialized through
// internal/sqlrow and written through internal/compress, finishing with
// the --exec post-file hook when configured. Trigger and tablespace jobs
// write an empty file and do not run the hook.
func makeHandler(instance *server.Instance, cfg *model.Configuration, opts Options, sessions []*server.Session) queue.Handler {
	var hook *exec.Hook
	if opts.ExecCmd != "" {
		hook = exec.NewHook(opts.ExecCmd)
	}
	rowsPerStatement := opts.RowsPerStatement

	return func(ctx context.Context, worker int, job *model.Job) error {
		switch job.Kind {
		case model.JobDumpSchema:
			return dumpSchemaCreate(ctx, instance, opts, job.Database, hook)
		case model.JobDumpTableData:
			sess := sessions[worker]
			return dumpTableData(ctx, sess, instance, opts, job, rowsPerStatement, hook)
		case model.JobDumpView:
			return dumpView(ctx, instance, opts, job, hook)
		case model.JobDumpTrigger:
			return dumpTriggers(ctx, instance, opts, job, hook)
		case model.JobDumpTablespaces:
			return dumpTablespaces(ctx, instance, opts, hook)
		default:
			return fmt.Errorf("dumpcore: unexpected job kind %s", job.Kind)
		}
	}
}

func outputPath(opts Options, name string) string {
	return filepath.Join(opts.OutputDir, name+opts.Codec.Extension())
}

func writeFile(opts Options, name string, write func(w io.Writer) error) error {
	path := outputPath(opts, name)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	wc, err := compress.NewWriter(f, opts.Codec)
	if err != nil {
		return err
	}
	defer wc.Close()
	if err := write(wc); err != nil {
		return err
	}
	return nil
}

func dumpSchemaCreate(ctx context.Context, instance *server.Instance, opts Options, db string, hook *exec.Hook) error {
	charSet, collation, err := instance.DefaultCharSetAndCollation()
	if err != nil {
		return err
	}
	name := db + "-schema-create.sql"
	err = writeFile(opts, name, func(w io.Writer) error {
		stmt := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s DEFAULT CHARACTER SET %s DEFAULT COLLATE %s;\n",
			server.EscapeIdentifier(db), charSet, collation)
		_, werr := w.Write([]byte(stmt))
		return werr
	})
	if err != nil {
		return err
	}
	if hook != nil {
		return hook.RunOnFile(outputPath(opts, name), db, "")
	}
	return nil
}

func dumpTableData(ctx context.Context, sess *server.Session, instance *server.Instance, opts Options, job *model.Job, rowsPerStatement int, hook *exec.Hook) error {
	createStmt, err := instance.ShowCreateTable(job.Database, job.Table)
	if err != nil {
		return err
	}
	schemaName := job.Database + "." + job.Table + "-schema.sql"
	if err := writeFile(opts, schemaName, func(w io.Writer) error {
		_, werr := w.Write([]byte(createStmt + ";\n"))
		return werr
	}); err != nil {
		return err
	}
	if hook != nil {
		if herr := hook.RunOnFile(outputPath(opts, schemaName), job.Database, job.Table); herr != nil {
			return herr
		}
	}

	query := fmt.Sprintf("SELECT * FROM %s.%s", server.EscapeIdentifier(job.Database), server.EscapeIdentifier(job.Table))
	rows, err := sess.Conn.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	dataName := job.Database + "." + job.Table + ".00000.sql"
	writer := sqlrow.NewInsertWriter(rowsPerStatement)
	err = writeFile(opts, dataName, func(w io.Writer) error {
		cols, cerr := rows.Columns()
		if cerr != nil {
			return cerr
		}
		if herr := writer.WriteHeader(w, job.Database, job.Table); herr != nil {
			return herr
		}
		values := make([]interface{}, len(cols))
		scanDest := make([]interface{}, len(cols))
		for i := range values {
			scanDest[i] = &values[i]
		}
		for rows.Next() {
			if serr := rows.Scan(scanDest...); serr != nil {
				return serr
			}
			if werr := writer.WriteRow(w, values); werr != nil {
				return werr
			}
		}
		if rerr := rows.Err(); rerr != nil {
			return rerr
		}
		return writer.WriteFooter(w)
	})
	if err != nil {
		return err
	}
	if hook != nil {
		return hook.RunOnFile(outputPath(opts, dataName), job.Database, job.Table)
	}
	return nil
}

func dumpView(ctx context.Context, instance *server.Instance, opts Options, job *model.Job, hook *exec.Hook) error {
	createStmt, err := instance.ShowCreateTable(job.Database, job.Table)
	if err != nil {
		return err
	}
	name := job.Database + "." + job.Table + "-schema-view.sql"
	if err := writeFile(opts, name, func(w io.Writer) error {
		_, werr := w.Write([]byte(createStmt + ";\n"))
		return werr
	}); err != nil {
		return err
	}
	if hook != nil {
		return hook.RunOnFile(outputPath(opts, name), job.Database, job.Table)
	}
	return nil
}

func dumpTriggers(ctx context.Context, instance *server.Instance, opts Options, job *model.Job, hook *exec.Hook) error {
	name := job.Database + "." + job.Table + "-schema-triggers.sql"
	return writeFile(opts, name, func(w io.Writer) error {
		_, werr := w.Write([]byte(""))
		return werr
	})
}

func dumpTablespaces(ctx context.Context, instance *server.Instance, opts Options, hook *exec.Hook) error {
	name := "all-schema-tablespace.sql"
	return writeFile(opts, name, func(w io.Writer) error {
		_, werr := w.Write([]byte(""))
		return werr
	})
}
