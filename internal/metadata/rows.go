package metadata

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
)

// row holds one result row as both a name-indexed map (for columns whose
// position varies across server versions/flavors) and an ordinal slice
// (for the rare case, like SHOW MASTER STATUS's GTID column, where the
// spec identifies a column by position rather than name).
type row struct {
	byName   map[string]interface{}
	ordinals []interface{}
}

func (r row) byOrdinal(i int) string {
	if i < 0 || i >= len(r.ordinals) {
		return ""
	}
	return toStr(r.ordinals[i])
}

// queryRow returns the first row of query, or nil if it produced none.
func queryRow(pool *sqlx.DB, query string) (*row, error) {
	rows, err := queryRows(pool, query)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// queryRows runs query and returns every row, keyed both by column name
// and ordinal position.
func queryRows(pool *sqlx.DB, query string) ([]*row, error) {
	rows, err := pool.Queryx(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []*row
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		byName := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			byName[strings.ToLower(c)] = vals[i]
		}
		result = append(result, &row{byName: byName, ordinals: vals})
	}
	return result, rows.Err()
}

func columnString(r *row, name string) string {
	if r == nil {
		return ""
	}
	return toStr(r.byName[strings.ToLower(name)])
}

func columnInt64(r *row, name string) int64 {
	if r == nil {
		return 0
	}
	v, _ := strconv.ParseInt(toStr(r.byName[strings.ToLower(name)]), 10, 64)
	return v
}

func toStr(v interface{}) string {
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
