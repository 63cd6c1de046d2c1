// Package sqlrow defines the narrow contract the dump/restore core uses
// to turn one result-set row into SQL text: the contract a component
// needs to call, plus one default implementation so the core compiles
// and is testable end-to-end.
package sqlrow

import (
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/skeema/mydump/internal/server"
)

// RowWriter turns database/sql rows into the on-disk SQL representation
// for one table's data file.
type RowWriter interface {
	// WriteHeader is called once per data file, before the first row.
	WriteHeader(w io.Writer, database, table string) error
	// WriteRow is called once per row.
	WriteRow(w io.Writer, values []interface{}) error
	// WriteFooter is called once per data file, after the last row.
	WriteFooter(w io.Writer) error
}

// InsertWriter is the default RowWriter: one or more multi-row INSERT
// statements per file, values escaped for the standard MySQL text
// protocol. LOAD DATA framing is out of scope; this is the minimal
// faithful default.
type InsertWriter struct {
	// RowsPerStatement bounds how many VALUES tuples share one INSERT
	// statement; 0 means unlimited (one statement for the whole file).
	RowsPerStatement int

	table           string
	rowsInStatement int
	started         bool
}

// NewInsertWriter returns an InsertWriter that batches up to
// rowsPerStatement rows per INSERT statement (0 for unlimited).
func NewInsertWriter(rowsPerStatement int) *InsertWriter {
	return &InsertWriter{RowsPerStatement: rowsPerStatement}
}

// WriteHeader records the target table for subsequent INSERT statements.
func (w *InsertWriter) WriteHeader(out io.Writer, database, table string) error {
	w.table = server.EscapeIdentifier(table)
	w.rowsInStatement = 0
	w.started = false
	return nil
}

// WriteRow appends one row to the current INSERT statement, starting a
// new statement if the batch limit was reached or none is open yet.
func (w *InsertWriter) WriteRow(out io.Writer, values []interface{}) error {
	needsNewStatement := !w.started || (w.RowsPerStatement > 0 && w.rowsInStatement >= w.RowsPerStatement)
	if needsNewStatement {
		if w.started {
			if _, err := io.WriteString(out, ";\n"); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(out, "INSERT INTO %s VALUES\n", w.table); err != nil {
			return err
		}
		w.started = true
		w.rowsInStatement = 0
	} else if _, err := io.WriteString(out, ",\n"); err != nil {
		return err
	}

	if _, err := io.WriteString(out, "("); err != nil {
		return err
	}
	for i, v := range values {
		if i > 0 {
			if _, err := io.WriteString(out, ","); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(out, EscapeValue(v)); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(out, ")"); err != nil {
		return err
	}
	w.rowsInStatement++
	return nil
}

// WriteFooter closes the final open INSERT statement, if any.
func (w *InsertWriter) WriteFooter(out io.Writer) error {
	if !w.started {
		return nil
	}
	_, err := io.WriteString(out, ";\n")
	return err
}

// EscapeValue renders one database/sql driver value as a SQL literal:
// NULL for nil, a quoted/escaped string for []byte/string/sql.RawBytes,
// "1"/"0" for bool, and the verbatim text for numeric types.
func EscapeValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return quoteString(string(t))
	case string:
		return quoteString(t)
	case sql.RawBytes:
		return quoteString(string(t))
	case bool:
		if t {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprintf("%v", t)
	}
}

var escaper = strings.NewReplacer(
	"\\", `\\`,
	"'", `\'`,
	"\n", `\n`,
	"\r", `\r`,
	"\x00", `\0`,
)

func quoteString(s string) string {
	return "'" + escaper.Replace(s) + "'"
}
