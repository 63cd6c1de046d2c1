package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// Instance represents a single database server a dump or load run connects
// to: one host/port/socket, one set of credentials, one or more pooled
// connections opened against it over the life of the run.
type Instance struct {
	BaseDSN        string // DSN ending in trailing slash: no schema name or params
	User           string
	Password       string
	Host           string
	Port           int
	SocketPath     string
	defaultParams  map[string]string
	connectionPool map[string]*sqlx.DB // key is "schema?params"
	m              *sync.Mutex
	flavor         Flavor
	waitTimeout    int
	maxUserConns   int
	sqlMode        []string
	valid          bool // true once any conn has ever successfully been made
}

// NewInstance returns a pointer to a new Instance for the supplied "mysql"
// driver DSN. If the DSN contains a schema name it is ignored; if it
// contains params, they become default params applied to every connection
// opened via ConnectionPool/CachedConnectionPool.
func NewInstance(dsn string) (*Instance, error) {
	base := baseDSN(dsn)
	params := paramMap(dsn)
	parsedConfig, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	instance := &Instance{
		BaseDSN:        base,
		User:           parsedConfig.User,
		Password:       parsedConfig.Passwd,
		defaultParams:  params,
		connectionPool: make(map[string]*sqlx.DB),
		flavor:         FlavorUnknown,
		m:              new(sync.Mutex),
	}

	switch parsedConfig.Net {
	case "unix":
		instance.Host = "localhost"
		instance.SocketPath = parsedConfig.Addr
	default:
		instance.Host, instance.Port, err = SplitHostOptionalPort(parsedConfig.Addr)
		if err != nil {
			return nil, err
		}
	}
	return instance, nil
}

// String returns a "host:port" string, or "host:/path/to/socket" for a
// UNIX socket connection.
func (instance *Instance) String() string {
	if instance.SocketPath != "" {
		return instance.Host + ":" + instance.SocketPath
	} else if instance.Port == 0 {
		return instance.Host
	}
	return instance.Host + ":" + strconv.Itoa(instance.Port)
}

// BuildParamString merges the instance's default params with the params
// passed in (format "foo=bar&fizz=buzz", already URL-escaped, no leading
// "?"), with the passed-in params taking precedence.
func (instance *Instance) BuildParamString(params string) string {
	v := url.Values{}
	for name, value := range instance.defaultParams {
		v.Set(name, value)
	}
	overrides, _ := url.ParseQuery(params)
	for name := range overrides {
		v.Set(name, overrides.Get(name))
	}
	return v.Encode()
}

// ConnectionPool returns a new *sqlx.DB for this instance's host/port/user/
// pass with the given default schema and params string. A connection
// attempt is made immediately; an error is returned if it fails.
func (instance *Instance) ConnectionPool(defaultSchema, params string) (*sqlx.DB, error) {
	fullParams := instance.BuildParamString(params)
	return instance.rawConnectionPool(defaultSchema, fullParams, false)
}

// CachedConnectionPool behaves like ConnectionPool, except pools are cached
// and reused for repeated requests with the same defaultSchema/params.
func (instance *Instance) CachedConnectionPool(defaultSchema, params string) (*sqlx.DB, error) {
	fullParams := instance.BuildParamString(params)
	key := defaultSchema + "?" + fullParams

	instance.m.Lock()
	defer instance.m.Unlock()
	if pool, ok := instance.connectionPool[key]; ok {
		return pool, nil
	}
	db, err := instance.rawConnectionPool(defaultSchema, fullParams, true)
	if err == nil {
		instance.connectionPool[key] = db
	}
	return db, err
}

func (instance *Instance) maxConnsPerPool() int {
	return max(2, instance.maxUserConns-10)
}

func (instance *Instance) rawConnectionPool(defaultSchema, fullParams string, alreadyLocked bool) (*sqlx.DB, error) {
	fullDSN := instance.BaseDSN + defaultSchema + "?" + fullParams
	db, err := sqlx.Connect("mysql", fullDSN)
	if err != nil {
		return nil, err
	}
	if !instance.valid {
		if err := instance.hydrateVars(db, !alreadyLocked); err != nil {
			return nil, err
		}
	}

	db.SetMaxOpenConns(instance.maxConnsPerPool())
	db.SetConnMaxLifetime(time.Minute)
	if instance.waitTimeout <= 10 {
		db.SetConnMaxIdleTime((time.Duration(instance.waitTimeout) * time.Second) - (250 * time.Millisecond))
	} else {
		db.SetConnMaxIdleTime(10 * time.Second)
	}
	return db.Unsafe(), nil
}

// Valid returns true if a successful connection can be made to the
// instance, or if one has already been made previously.
func (instance *Instance) Valid() (bool, error) {
	if instance == nil {
		return false, nil
	} else if instance.valid {
		return true, nil
	}
	_, err := instance.CachedConnectionPool("", "")
	return err == nil, err
}

// CloseAll closes all cached connection pools, for graceful shutdown at the
// end of a dump or load run.
func (instance *Instance) CloseAll() {
	instance.m.Lock()
	for key, db := range instance.connectionPool {
		db.Close()
		delete(instance.connectionPool, key)
	}
	instance.valid = false
	instance.m.Unlock()
}

// Flavor returns the instance's detected Flavor, hydrating it on first call.
// FlavorUnknown is returned if detection failed.
func (instance *Instance) Flavor() Flavor {
	if instance.flavor == FlavorUnknown {
		instance.Valid()
	}
	return instance.flavor
}

// ForceFlavor overrides the instance's flavor, bypassing auto-detection.
// Used when the caller supplies an explicit --server-flavor-like override,
// or in tests against a known container image.
func (instance *Instance) ForceFlavor(flavor Flavor) {
	instance.flavor = flavor
}

// SQLMode returns the full session-level sql_mode string, or "" if the
// instance could not be queried.
func (instance *Instance) SQLMode() string {
	if ok, _ := instance.Valid(); !ok {
		return ""
	}
	return strings.Join(instance.sqlMode, ",")
}

// hydrateVars populates unexported Instance fields from global/session
// variables. Called lazily on first successful connection.
func (instance *Instance) hydrateVars(db *sqlx.DB, lock bool) (err error) {
	if lock {
		instance.m.Lock()
		defer instance.m.Unlock()
		if instance.valid {
			return nil
		}
	}

	query := `SELECT @@global.version_comment, @@global.version, @@session.sql_mode,
		@@session.wait_timeout, @@session.max_user_connections, @@global.max_connections`
	ctx := context.Background()
	conn, err := db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	var versionComment, version, sqlMode string
	var maxUserConns, maxConns int
	row := conn.QueryRowContext(ctx, query)
	if err = row.Scan(&versionComment, &version, &sqlMode, &instance.waitTimeout, &maxUserConns, &maxConns); err != nil {
		return err
	}
	instance.valid = true
	if instance.flavor == FlavorUnknown {
		instance.flavor = IdentifyFlavor(version, versionComment)
	}
	instance.sqlMode = strings.Split(sqlMode, ",")
	if maxUserConns > 0 {
		instance.maxUserConns = maxUserConns
	} else {
		instance.maxUserConns = maxConns
	}
	return nil
}

// SchemaNames returns the list of non-system schema (database) names visible
// to the connecting user, the set the Work Planner walks to discover tables.
func (instance *Instance) SchemaNames() ([]string, error) {
	db, err := instance.CachedConnectionPool("", "")
	if err != nil {
		return nil, err
	}
	const query = `
		SELECT schema_name
		FROM   information_schema.schemata
		WHERE  schema_name NOT IN ('information_schema', 'performance_schema', 'mysql', 'sys')`
	var result []string
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// TableNames returns the base table names (views excluded) visible in the
// given schema, the set the Lock Controller walks to build the per-table
// LOCK TABLE statement list for --lock-all-tables.
func (instance *Instance) TableNames(schema string) ([]string, error) {
	db, err := instance.CachedConnectionPool("", "")
	if err != nil {
		return nil, err
	}
	const query = `
		SELECT table_name
		FROM   information_schema.tables
		WHERE  table_schema = ? AND table_type = 'BASE TABLE'`
	var result []string
	rows, err := db.Query(query, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// HasTokuDB reports whether the server exposes the tokudb_version system
// variable, the same probe mydumper_start_dump.c uses to decide whether the
// dummy-read snapshot workaround is needed alongside the usual consistent
// snapshot transaction.
func (instance *Instance) HasTokuDB() (bool, error) {
	db, err := instance.CachedConnectionPool("", "")
	if err != nil {
		return false, err
	}
	var name, value string
	err = db.QueryRow("SHOW VARIABLES LIKE 'tokudb_version'").Scan(&name, &value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HasSchema returns true if a schema with the supplied name is visible to
// the connecting user.
func (instance *Instance) HasSchema(name string) (bool, error) {
	db, err := instance.CachedConnectionPool("", "")
	if err != nil {
		return false, err
	}
	var exists int
	err = db.QueryRow(`SELECT 1 FROM information_schema.schemata WHERE schema_name = ?`, name).Scan(&exists)
	if err == nil {
		return true, nil
	} else if err == sql.ErrNoRows {
		return false, nil
	}
	return false, err
}

// introspectionParams returns a params string ensuring safe session
// variables for SHOW CREATE TABLE and information_schema queries: quoted
// identifiers in DDL, fresh table-size stats on MySQL 8+, and a binary
// collation so 4-byte characters in expressions round-trip correctly.
func (instance *Instance) introspectionParams() string {
	v := url.Values{}
	v.Set("sql_quote_show_create", "1")
	flavor := instance.Flavor()
	if flavor.Min(Flavor{Vendor: VendorMySQL, Version: Version{8, 0, 0}}) || flavor.Min(Flavor{Vendor: VendorPercona, Version: Version{8, 0, 0}}) {
		v.Set("information_schema_stats_expiry", "0")
	}
	return v.Encode()
}

// ShowCreateTable returns the CREATE TABLE statement the instance reports
// for the given schema-qualified table.
func (instance *Instance) ShowCreateTable(schema, table string) (string, error) {
	db, err := instance.CachedConnectionPool("", instance.introspectionParams())
	if err != nil {
		return "", err
	}
	var tableName, createStmt string
	query := fmt.Sprintf("SHOW CREATE TABLE %s", EscapeIdentifier(schema)+"."+EscapeIdentifier(table))
	if err := db.QueryRow(query).Scan(&tableName, &createStmt); err != nil {
		return "", err
	}
	return createStmt, nil
}

// TableSize returns an estimate of the table's on-disk size in bytes, using
// information_schema. The Work Planner does not call it; it takes each
// table's size from SHOW TABLE STATUS. As a special case, a table with zero rows returns 0
// even though an empty InnoDB table typically still occupies 16KB.
func (instance *Instance) TableSize(schema, table string) (int64, error) {
	db, err := instance.CachedConnectionPool("", instance.introspectionParams())
	if err != nil {
		return 0, err
	}
	const query = `
		SELECT  (data_length + index_length) * (table_rows > 0)
		FROM    information_schema.tables
		WHERE   table_schema = ? AND table_name = ?`
	var size int64
	if err := db.QueryRow(query, schema, table).Scan(&size); err != nil {
		return 0, err
	}
	return size, nil
}

// TableRowEstimate returns information_schema's estimated row count for the
// table. The Work Planner does not call it and does not chunk tables.
func (instance *Instance) TableRowEstimate(schema, table string) (int64, error) {
	db, err := instance.CachedConnectionPool("", "")
	if err != nil {
		return 0, err
	}
	var rows int64
	query := `SELECT table_rows FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`
	if err := db.QueryRow(query, schema, table).Scan(&rows); err != nil {
		return 0, err
	}
	return rows, nil
}

// UpdateTime returns the table's information_schema UPDATE_TIME, or the
// zero time if it is NULL (storage engines such as InnoDB with
// innodb_stats_persistent may not populate it). Used by the --updated-since
// skip logic.
func (instance *Instance) UpdateTime(schema, table string) (time.Time, error) {
	db, err := instance.CachedConnectionPool("", "")
	if err != nil {
		return time.Time{}, err
	}
	var updateTime sql.NullTime
	query := `SELECT update_time FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`
	if err := db.QueryRow(query, schema, table).Scan(&updateTime); err != nil {
		return time.Time{}, err
	}
	if !updateTime.Valid {
		return time.Time{}, nil
	}
	return updateTime.Time, nil
}

// DefaultCharSetAndCollation returns the instance's default (server-level)
// character set and collation, used to emit CREATE DATABASE statements.
// These are the server's defaults, not the individual schema's own.
func (instance *Instance) DefaultCharSetAndCollation() (charSet, collation string, err error) {
	db, err := instance.CachedConnectionPool("", "")
	if err != nil {
		return "", "", err
	}
	err = db.QueryRow("SELECT @@global.character_set_server, @@global.collation_server").Scan(&charSet, &collation)
	return charSet, collation, err
}

// ServerProcess describes one row of SHOW PROCESSLIST / information_schema
// processlist, as consumed by the long-query guard.
type ServerProcess struct {
	ID      int64
	User    string
	Schema  string
	Command string
	Time    float64
	State   string
	Info    string
}

// ProcessList returns the instance's current connection list. MariaDB is
// queried via information_schema.processlist for millisecond-precision
// Time; other flavors fall back to the deprecated, lock-heavy SHOW
// PROCESSLIST, since the modern alternative requires performance_schema.
func (instance *Instance) ProcessList() ([]ServerProcess, error) {
	db, err := instance.CachedConnectionPool("", "")
	if err != nil {
		return nil, err
	}
	var query string
	if instance.Flavor().Vendor == VendorMariaDB {
		query = "SELECT id, user, db, command, time_ms, state, info FROM information_schema.processlist"
	} else {
		query = "SHOW PROCESSLIST"
	}
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dests []any
	var sp ServerProcess
	var schema, state, info sql.NullString
	var timeSec int64
	var timeMsec float64
	colNames, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	dests = make([]any, len(colNames))
	for n, colName := range colNames {
		switch strings.ToLower(colName) {
		case "id":
			dests[n] = &sp.ID
		case "user":
			dests[n] = &sp.User
		case "db":
			dests[n] = &schema
		case "command":
			dests[n] = &sp.Command
		case "time":
			dests[n] = &timeSec
		case "time_ms":
			dests[n] = &timeMsec
		case "state":
			dests[n] = &state
		case "info":
			dests[n] = &info
		default:
			var d sql.RawBytes
			dests[n] = &d
		}
	}

	var plist []ServerProcess
	for rows.Next() {
		sp = ServerProcess{}
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		sp.Schema = schema.String
		sp.State = state.String
		sp.Info = info.String
		if timeMsec > 0.0 {
			sp.Time = timeMsec / 1000.0
		} else {
			sp.Time = float64(timeSec)
		}
		plist = append(plist, sp)
	}
	return plist, rows.Err()
}

// KillConnection issues KILL <id> on a fresh, short-lived connection. Used
// by the long-query guard to terminate a connection whose long-running
// query is blocking the backup lock.
func (instance *Instance) KillConnection(id int64) error {
	db, err := instance.CachedConnectionPool("", "")
	if err != nil {
		return err
	}
	_, err = db.Exec(fmt.Sprintf("KILL %d", id))
	return err
}
