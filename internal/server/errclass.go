package server

import (
	"github.com/VividCortex/mysqlerr"
	"github.com/go-sql-driver/mysql"
)

// IsAccessError returns true if err indicates an authentication or
// authorization problem, at connection time or query time. Immediately
// retrying the connection or query is pointless for this class of error.
func IsAccessError(err error) bool {
	merr, ok := err.(*mysql.MySQLError)
	if !ok {
		return false
	}
	switch merr.Number {
	case mysqlerr.ER_ACCESS_DENIED_ERROR, mysqlerr.ER_BAD_HOST_ERROR,
		mysqlerr.ER_DBACCESS_DENIED_ERROR, mysqlerr.ER_BAD_DB_ERROR,
		mysqlerr.ER_HOST_NOT_PRIVILEGED, mysqlerr.ER_HOST_IS_BLOCKED,
		mysqlerr.ER_SPECIFIC_ACCESS_DENIED_ERROR:
		return true
	default:
		return false
	}
}

// IsTableVanished returns true if err indicates the table being read no
// longer exists, i.e. it was dropped concurrently with the dump. No caller
// in this module checks for it; such an error fails the job like any other.
func IsTableVanished(err error) bool {
	merr, ok := err.(*mysql.MySQLError)
	if !ok {
		return false
	}
	return merr.Number == mysqlerr.ER_NO_SUCH_TABLE || merr.Number == mysqlerr.ER_BAD_TABLE_ERROR
}

// IsLockTimeout returns true if err indicates the statement failed because
// it could not acquire a metadata or row lock in time. No caller in this
// module checks for it; the Lock Controller and Long-Query Guard do not
// retry on this class of error.
func IsLockTimeout(err error) bool {
	merr, ok := err.(*mysql.MySQLError)
	if !ok {
		return false
	}
	switch merr.Number {
	case mysqlerr.ER_LOCK_WAIT_TIMEOUT, mysqlerr.ER_LOCK_DEADLOCK:
		return true
	default:
		return false
	}
}

// IsConnectionRefused returns true if err indicates the server rejected a
// new connection because it is out of capacity (too many connections,
// or the server is waiting for max_user_connections to free up). The
// retry-with-backoff loop in Open (session.go) treats this as transient.
func IsConnectionRefused(err error) bool {
	merr, ok := err.(*mysql.MySQLError)
	if !ok {
		return false
	}
	switch merr.Number {
	case mysqlerr.ER_CON_COUNT_ERROR, mysqlerr.ER_TOO_MANY_USER_CONNECTIONS:
		return true
	default:
		return false
	}
}
