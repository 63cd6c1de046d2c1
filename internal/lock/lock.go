// Package lock implements the consistency-protocol lock controller:
// acquiring and releasing the combination of global, backup-DDL, and
// per-table locks appropriate to the detected server, and the LOCK-ALL
// fallback for servers with no recognized backup-lock mechanism.
package lock

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/skeema/mydump/internal/server"
)

// Mode selects how the Lock Controller acquires consistency.
type Mode int

// Constants enumerating lock acquisition modes.
const (
	ModeFTWRL Mode = iota
	ModeLockAll
	ModeNone
)

// Options configures Controller.Acquire.
type Options struct {
	Mode               Mode
	NoBackupLocks      bool // skip the server-specific DDL lock even in FTWRL mode
	TrxConsistencyOnly bool
	MaxLockAllRetries  int // default 4 if zero
}

// Controller holds the state needed to acquire and release the consistency
// locks for one dump run: the primary connection (the one holding FTWRL or
// the LOCK TABLE statement), and, for flavors that need it (Percona 5.7),
// a second connection the DDL-unlock statements run on.
type Controller struct {
	Primary  *sqlx.Conn
	Second   *sqlx.Conn // only set when the lock strategy needs a second session
	Strategy server.LockStrategy
	Flavor   server.Flavor
	Log      *logrus.Logger

	ftwrlHeld     bool
	ddlLockHeld   bool
	lockAllTables []string
}

// NewController returns a Controller for the given flavor's detected lock
// strategy.
func NewController(primary, second *sqlx.Conn, fl server.Flavor, log *logrus.Logger) *Controller {
	return &Controller{
		Primary:  primary,
		Second:   second,
		Strategy: server.DetectLockStrategy(fl),
		Flavor:   fl,
		Log:      log,
	}
}

// Acquire takes the configured combination of locks.
func (c *Controller) Acquire(ctx context.Context, opts Options) error {
	switch opts.Mode {
	case ModeNone:
		c.Log.Warn("--no-locks specified: dump will not be consistent")
		return nil
	case ModeLockAll:
		return c.acquireLockAll(ctx, opts)
	default:
		return c.acquireFTWRL(ctx, opts)
	}
}

// acquireFTWRL runs FLUSH NO_WRITE_TO_BINLOG TABLES (warn-only), then
// FLUSH TABLES WITH READ LOCK (fatal on failure), then the server-specific
// DDL lock unless NoBackupLocks is set.
func (c *Controller) acquireFTWRL(ctx context.Context, opts Options) error {
	if _, err := c.Primary.ExecContext(ctx, "FLUSH NO_WRITE_TO_BINLOG TABLES"); err != nil {
		c.Log.Warnf("FLUSH NO_WRITE_TO_BINLOG TABLES failed (continuing): %v", err)
	}
	if _, err := c.Primary.ExecContext(ctx, "FLUSH TABLES WITH READ LOCK"); err != nil {
		return fmt.Errorf("FLUSH TABLES WITH READ LOCK failed, dump will not be consistent: %w", err)
	}
	c.ftwrlHeld = true

	if opts.NoBackupLocks || c.Strategy.Kind == server.LockStrategyNone {
		return nil
	}

	conn := c.Primary
	if c.Strategy.NeedsSecondConn {
		if c.Second == nil {
			return fmt.Errorf("lock strategy %v requires a second connection, none was provided", c.Strategy.Kind)
		}
		conn = c.Second
	}
	for _, stmt := range c.Strategy.Acquire {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("acquiring backup lock (%q) failed: %w", stmt, err)
		}
	}
	c.ddlLockHeld = true
	return nil
}

// reTableFromLockError extracts the table name MySQL reports as unlockable
// in a failed LOCK TABLES statement, e.g.
// "Table 'shop.orders' was not locked with LOCK TABLES".
var reTableFromLockError = regexp.MustCompile(`Table '([^']+)' was not locked`)

// acquireLockAll issues a single LOCK TABLE statement covering every
// in-scope base table, retrying with the offending table removed on
// failure, up to MaxLockAllRetries times.
func (c *Controller) acquireLockAll(ctx context.Context, opts Options) error {
	maxRetries := opts.MaxLockAllRetries
	if maxRetries <= 0 {
		maxRetries = 4
	}

	tables := append([]string(nil), c.lockAllTables...)
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if len(tables) == 0 {
			return fmt.Errorf("LOCK-ALL: no lockable tables remained after retries: %w", lastErr)
		}
		stmt := buildLockTableStatement(tables)
		if _, err := c.Primary.ExecContext(ctx, stmt); err != nil {
			lastErr = err
			if m := reTableFromLockError.FindStringSubmatch(err.Error()); m != nil {
				tables = removeTable(tables, m[1])
				continue
			}
			return fmt.Errorf("LOCK TABLES failed: %w", err)
		}
		c.ftwrlHeld = true
		return nil
	}
	return fmt.Errorf("LOCK-ALL: exceeded %d retries: %w", maxRetries, lastErr)
}

// SetLockAllTables supplies the in-scope base tables for LOCK-ALL mode,
// typically enumerated from information_schema.TABLES filtered through
// the database/table filter.
func (c *Controller) SetLockAllTables(tables []string) {
	c.lockAllTables = tables
}

func buildLockTableStatement(tables []string) string {
	parts := make([]string, len(tables))
	for i, t := range tables {
		parts[i] = escapeQualified(t) + " READ"
	}
	return "LOCK TABLE " + strings.Join(parts, ", ")
}

// escapeQualified escapes a "schema.table" string as two backtick-quoted
// identifiers rather than one, so the dot stays a qualifier instead of
// becoming part of the escaped name.
func escapeQualified(qualified string) string {
	idx := strings.LastIndex(qualified, ".")
	if idx < 0 {
		return server.EscapeIdentifier(qualified)
	}
	return server.EscapeIdentifier(qualified[:idx]) + "." + server.EscapeIdentifier(qualified[idx+1:])
}

func removeTable(tables []string, qualified string) []string {
	// qualified is typically "schema.table"; match on the bare table name
	// we were given, which may or may not include the schema qualifier.
	name := qualified
	if idx := strings.LastIndex(qualified, "."); idx >= 0 {
		name = qualified[idx+1:]
	}
	result := tables[:0]
	for _, t := range tables {
		bare := t
		if idx := strings.LastIndex(t, "."); idx >= 0 {
			bare = t[idx+1:]
		}
		if bare != name {
			result = append(result, t)
		}
	}
	return result
}

// ReleaseBackupLock releases the server-specific DDL lock (and, for
// Percona 5.7, the separate binlog lock), without releasing FTWRL/LOCK
// TABLES. Release calls it before releasing the global lock.
func (c *Controller) ReleaseBackupLock(ctx context.Context) error {
	if !c.ddlLockHeld {
		return nil
	}
	conn := c.Primary
	if c.Strategy.NeedsSecondConn && c.Second != nil {
		conn = c.Second
	}
	for _, stmt := range c.Strategy.Release {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("releasing backup lock (%q) failed: %w", stmt, err)
		}
	}
	if c.Strategy.NeedsSecondConn {
		for _, stmt := range c.Strategy.ReleaseBinlog {
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("releasing binlog lock (%q) failed: %w", stmt, err)
			}
		}
	}
	c.ddlLockHeld = false
	return nil
}

// Release releases whatever locks are currently held, mirroring the order
// they were acquired in: the server-specific DDL lock first, then the
// FTWRL/LOCK TABLES global lock.
func (c *Controller) Release(ctx context.Context) error {
	if err := c.ReleaseBackupLock(ctx); err != nil {
		return err
	}
	if !c.ftwrlHeld {
		return nil
	}
	if _, err := c.Primary.ExecContext(ctx, "UNLOCK TABLES"); err != nil {
		return fmt.Errorf("UNLOCK TABLES failed: %w", err)
	}
	c.ftwrlHeld = false
	return nil
}
