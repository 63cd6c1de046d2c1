// Package plan enumerates the databases and tables in scope for a dump,
// classifies each table's engine, and emits the jobs that feed the job
// queue.
package plan

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/skeema/mydump/internal/filter"
	"github.com/skeema/mydump/internal/model"
	"github.com/skeema/mydump/internal/server"
)

// systemSchemas are never considered in the "neither list given" entry
// mode.
var systemSchemas = map[string]bool{
	"information_schema": true,
	"performance_schema": true,
	"data_dictionary":    true,
}

// Options configures a Planner run.
type Options struct {
	NoSchemas      bool      // skip DumpSchema jobs (explicit-database-list mode only)
	UpdatedSince   time.Time // zero value disables the --updated-since filter
	AllTablespaces bool      // emit a DumpTablespaces job
}

// Planner enumerates tables in scope and turns them into Jobs pushed onto
// a Configuration's queues, registering each table's model.Table entry
// along the way so the Job Queue and Restore Scheduler can look it up by
// (database, table).
type Planner struct {
	Instance *server.Instance
	Filter   *filter.Filter
	Config   *model.Configuration
	Opts     Options

	// NotUpdatedTables collects database.table names skipped by
	// --updated-since, surfaced as the not_updated_tables output file.
	NotUpdatedTables []string

	databases map[string]*model.Database // seen databases, for the once-only schema-dump flag
}

// New returns a Planner for the given instance, filter, and configuration.
func New(instance *server.Instance, f *filter.Filter, cfg *model.Configuration, opts Options) *Planner {
	return &Planner{Instance: instance, Filter: f, Config: cfg, Opts: opts}
}

// tableStatusRow holds the columns of one SHOW TABLE STATUS row that the
// planner cares about, independent of the column ordering a given server
// reports (order varies across MySQL/MariaDB/Percona/TiDB versions).
type tableStatusRow struct {
	name       string
	engine     string
	comment    string
	dataLength int64
	collation  string
}

// PlanTables implements entry mode 1 (explicit table list): for each
// "db.table" entry, look up its row in SHOW TABLE STATUS, classify it,
// schedule the owning database's schema dump at most once, and emit a
// DumpTableData or DumpView job.
func (p *Planner) PlanTables(ctx context.Context, qualifiedTables []string) error {
	if p.Opts.AllTablespaces {
		p.enqueue(model.JobDumpTablespaces, "", "", 0)
	}
	for _, qt := range qualifiedTables {
		db, table, err := splitQualified(qt)
		if err != nil {
			return err
		}
		rows, err := p.showTableStatus(db, table)
		if err != nil {
			return fmt.Errorf("planning %s: %w", qt, err)
		}
		for _, row := range rows {
			if !p.Filter.Accept(db, row.name) {
				continue
			}
			p.scheduleSchemaDump(db)
			if err := p.planOneTable(ctx, db, row); err != nil {
				return err
			}
		}
	}
	return nil
}

// PlanDatabases implements entry mode 2 (explicit database list): for
// each database, expand to its tables and emit a schema-dump job unless
// NoSchemas is set.
func (p *Planner) PlanDatabases(ctx context.Context, databases []string) error {
	if p.Opts.AllTablespaces {
		p.enqueue(model.JobDumpTablespaces, "", "", 0)
	}
	for _, db := range databases {
		if !p.Filter.Accept(db, "") {
			continue
		}
		if err := p.planDatabase(ctx, db); err != nil {
			return fmt.Errorf("planning database %s: %w", db, err)
		}
	}
	return nil
}

// PlanAll implements entry mode 3 (neither list given): enumerate every
// non-system schema the instance reports, then proceed as PlanDatabases
// for the remainder.
func (p *Planner) PlanAll(ctx context.Context) error {
	names, err := p.Instance.SchemaNames()
	if err != nil {
		return fmt.Errorf("enumerating schemas: %w", err)
	}
	var databases []string
	for _, n := range names {
		if !systemSchemas[strings.ToLower(n)] {
			databases = append(databases, n)
		}
	}
	return p.PlanDatabases(ctx, databases)
}

func (p *Planner) planDatabase(ctx context.Context, db string) error {
	rows, err := p.showTableStatus(db, "")
	if err != nil {
		return err
	}
	if !p.Opts.NoSchemas {
		p.scheduleSchemaDump(db)
	}
	for _, row := range rows {
		if !p.Filter.Accept(db, row.name) {
			continue
		}
		if err := p.planOneTable(ctx, db, row); err != nil {
			return err
		}
	}
	return nil
}

func (p *Planner) planOneTable(ctx context.Context, db string, row tableStatusRow) error {
	class := classifyEngine(row)

	if p.Opts.UpdatedSince.After(time.Time{}) && class != model.EngineView {
		updated, err := p.Instance.UpdateTime(db, row.name)
		if err == nil && !updated.IsZero() && updated.Before(p.Opts.UpdatedSince) {
			p.NotUpdatedTables = append(p.NotUpdatedTables, db+"."+row.name)
			return nil
		}
	}

	t := p.Config.Table(db, row.name)
	t.Engine = class
	t.DataSize = row.dataLength
	t.Collation = row.collation

	if class == model.EngineView {
		p.enqueue(model.JobDumpView, db, row.name, 0)
		return nil
	}
	if class == model.EngineNonTransactional {
		atomic.AddInt64(&p.Config.NonInnoDBTableCounter, 1)
	}
	p.enqueue(model.JobDumpTableData, db, row.name, 0)
	return nil
}

// scheduleSchemaDump pushes a DumpSchema job for db the first time it's
// seen, per the database's already-scheduled flag (model.Database is
// owned by the caller's table registry; Planner tracks its own set of
// seen database names since Configuration only indexes by table).
func (p *Planner) scheduleSchemaDump(db string) {
	d, ok := p.databases[db]
	if !ok {
		d = model.NewDatabase(db)
		if p.databases == nil {
			p.databases = make(map[string]*model.Database)
		}
		p.databases[db] = d
	}
	if d.MarkSchemaScheduled() {
		p.enqueue(model.JobDumpSchema, db, "", 0)
	}
}

func (p *Planner) enqueue(kind model.JobKind, db, table string, chunk int) {
	p.Config.MainQueue <- &model.Job{Kind: kind, Database: db, Table: table, Chunk: chunk}
}

// classifyEngine determines a table's EngineClass from its SHOW TABLE
// STATUS row. Views report a null/empty Engine column, or a Comment of
// "VIEW" depending on the server; InnoDB (and TokuDB/RocksDB) are
// transactional, everything else (MyISAM, MEMORY/ARCHIVE/CSV, ...) is
// non-transactional.
func classifyEngine(row tableStatusRow) model.EngineClass {
	if row.engine == "" || strings.EqualFold(row.comment, "VIEW") {
		return model.EngineView
	}
	switch strings.ToUpper(row.engine) {
	case "INNODB", "TOKUDB", "ROCKSDB":
		return model.EngineTransactional
	default:
		return model.EngineNonTransactional
	}
}

// showTableStatus runs SHOW TABLE STATUS FROM db [LIKE 'like'] and
// returns each row with its Engine/Comment/Data_length/Collation columns
// resolved by name, since their ordinal position varies across server
// versions.
func (p *Planner) showTableStatus(db, like string) ([]tableStatusRow, error) {
	pool, err := p.Instance.CachedConnectionPool("", "")
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SHOW TABLE STATUS FROM %s", server.EscapeIdentifier(db))
	var args []interface{}
	if like != "" {
		query += " LIKE ?"
		args = append(args, like)
	}
	rows, err := pool.Queryx(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []tableStatusRow
	for rows.Next() {
		cols, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		colNames, err := rows.Columns()
		if err != nil {
			return nil, err
		}
		row := tableStatusRow{}
		for i, name := range colNames {
			v := cols[i]
			switch strings.ToLower(name) {
			case "name":
				row.name = toString(v)
			case "engine":
				row.engine = toString(v)
			case "comment":
				row.comment = toString(v)
			case "data_length":
				row.dataLength = toInt64(v)
			case "collation":
				row.collation = toString(v)
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// toString converts a driver value (string, []byte, or nil for a NULL
// column) to a Go string.
func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

// toInt64 converts a driver value to an int64, treating NULL or an
// unparseable value as zero.
func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case []byte:
		var n int64
		fmt.Sscanf(string(t), "%d", &n)
		return n
	default:
		return 0
	}
}

func splitQualified(qualified string) (db, table string, err error) {
	idx := strings.Index(qualified, ".")
	if idx < 0 {
		return "", "", fmt.Errorf("expected db.table, found %q", qualified)
	}
	return qualified[:idx], qualified[idx+1:], nil
}
