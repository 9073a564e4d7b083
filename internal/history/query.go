package history

import (
	"fmt"
	"strings"
)

// selectQuery builds parameterized SELECT statements.
type selectQuery struct {
	table   string
	columns []string
	where   []string
	args    []any
	orderBy []string
	limit   int
}

func newSelect(table string, columns ...string) *selectQuery {
	return &selectQuery{table: table, columns: columns}
}

// Where adds a condition. Conditions are joined with AND.
func (q *selectQuery) Where(expr string, args ...any) *selectQuery {
	q.where = append(q.where, expr)
	q.args = append(q.args, args...)
	return q
}

// Eq adds column = value, skipping empty strings.
func (q *selectQuery) Eq(column string, value any) *selectQuery {
	if s, ok := value.(string); ok && s == "" {
		return q
	}
	return q.Where(column+" = ?", value)
}

// OrderBy adds sort columns; a "-" prefix sorts descending.
func (q *selectQuery) OrderBy(columns ...string) *selectQuery {
	for _, c := range columns {
		if rest, ok := strings.CutPrefix(c, "-"); ok {
			q.orderBy = append(q.orderBy, rest+" DESC")
		} else {
			q.orderBy = append(q.orderBy, c)
		}
	}
	return q
}

func (q *selectQuery) Limit(n int) *selectQuery {
	q.limit = n
	return q
}

func (q *selectQuery) Build() (string, []any, error) {
	if q.table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	if len(q.columns) == 0 {
		b.WriteString("*")
	} else {
		b.WriteString(strings.Join(q.columns, ", "))
	}
	b.WriteString(" FROM ")
	b.WriteString(q.table)

	args := append([]any(nil), q.args...)
	if len(q.where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(q.where, " AND "))
	}
	if len(q.orderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(q.orderBy, ", "))
	}
	if q.limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.limit)
	}
	return b.String(), args, nil
}
