package server

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
)

// SessionOptions configures how Session opens and binds a connection's
// consistent-read view.
type SessionOptions struct {
	CharacterSet  string // applied via SET NAMES; defaults to "binary"
	LockAllTables bool   // suppresses START TRANSACTION WITH CONSISTENT SNAPSHOT
	TiDBSnapshot  string // explicit --tidb-snapshot timestamp; without it no tidb_snapshot is set
	TokuDBPresent bool   // set from Instance.HasTokuDB, forcing the additive dummy-read warm-up
}

// Session is one logical connection carrying a bound consistent-read view:
// either a REPEATABLE READ transaction with a consistent snapshot, or (for
// TiDB) a tidb_snapshot-pinned session.
type Session struct {
	Conn   *sqlx.Conn
	Flavor Flavor
}

// Open acquires a raw *sqlx.Conn from the instance's connection pool,
// applies the session variables common to every dump/load connection, and
// retries the initial dial with bounded exponential backoff on transient
// connection-refused errors, mirroring the original dumper's retry loop
// around mysql_real_connect.
func Open(ctx context.Context, instance *Instance, defaultSchema string, opts SessionOptions) (*Session, error) {
	charSet := opts.CharacterSet
	if charSet == "" {
		charSet = "binary"
	}

	var conn *sqlx.Conn
	operation := func() error {
		db, err := instance.ConnectionPool(defaultSchema, "")
		if err != nil {
			if IsConnectionRefused(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		conn, err = db.Connx(ctx)
		if err != nil {
			if IsConnectionRefused(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET NAMES %s", charSet)); err != nil {
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, "SET SESSION TRANSACTION ISOLATION LEVEL REPEATABLE READ"); err != nil {
		return nil, err
	}

	sess := &Session{Conn: conn, Flavor: instance.Flavor()}

	if opts.TiDBSnapshot != "" {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET SESSION tidb_snapshot = '%s'", opts.TiDBSnapshot)); err != nil {
			return nil, err
		}
		return sess, nil
	}

	return sess, nil
}

// BindSnapshot binds this session to a consistent read view.
// For TiDB nothing happens here: the view is pinned only when Open was
// given a TiDBSnapshot and set tidb_snapshot. When lockAllTables is in effect no
// transaction is started at all, since the explicit per-table read locks
// would otherwise be released implicitly by starting one. Otherwise,
// mirroring start_dump unconditionally: when TokuDB is present, a dummy
// read against a throwaway table runs first to force TokuDB to register its
// own MVCC snapshot (additive, not a substitute), and then
// START TRANSACTION WITH CONSISTENT SNAPSHOT always runs — the /*!40108 ... */
// version-gated comment already degrades to a plain START TRANSACTION on
// servers below MySQL 4.1.8, so no separate version branch is needed here.
func (s *Session) BindSnapshot(ctx context.Context, opts SessionOptions) error {
	if s.Flavor.Vendor == VendorTiDB {
		return nil // pinned via tidb_snapshot in Open, if one was given
	}
	if opts.LockAllTables {
		return nil
	}

	if opts.TokuDBPresent {
		if err := s.dummySnapshotRead(ctx); err != nil {
			return err
		}
	}

	_, err := s.Conn.ExecContext(ctx, "START TRANSACTION /*!40108 WITH CONSISTENT SNAPSHOT */")
	return err
}

// dummySnapshotRead creates a throwaway TokuDB table and reads from it,
// which has the side effect of forcing TokuDB to establish an MVCC
// snapshot before the real consistent-snapshot transaction starts. Run as
// standalone autocommit statements rather than inside its own transaction,
// since the CREATE TABLE DDL would implicitly commit one anyway.
func (s *Session) dummySnapshotRead(ctx context.Context) error {
	tableName := fmt.Sprintf("mydump_dummy_tokudb_%d", time.Now().UnixNano())

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS mysql.%s (a INT) ENGINE=TokuDB", EscapeIdentifier(tableName))
	if _, err := s.Conn.ExecContext(ctx, ddl); err != nil {
		return err
	}
	defer s.Conn.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS mysql.%s", EscapeIdentifier(tableName)))

	var dummy sql.NullInt64
	query := fmt.Sprintf("SELECT a FROM mysql.%s LIMIT 1", EscapeIdentifier(tableName))
	err := s.Conn.QueryRowContext(ctx, query).Scan(&dummy)
	if err == sql.ErrNoRows {
		return nil
	}
	return err
}

// Close releases the underlying connection back to the pool.
func (s *Session) Close() error {
	return s.Conn.Close()
}
