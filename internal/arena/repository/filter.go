package repository

import "strings"

// whereClause accumulates AND-ed conditions for the view queries.
type whereClause struct {
	conds []string
	args  []interface{}
}

func addIn[T int | int64](w *whereClause, column string, values []T) {
	if len(values) == 0 {
		return
	}
	w.conds = append(w.conds, column+" IN ("+placeholders(len(values))+")")
	for _, v := range values {
		w.args = append(w.args, v)
	}
}

func (w *whereClause) add(cond string, arg interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, arg)
}

// creationRange applies inclusive bounds; zero means unbounded.
func (w *whereClause) creationRange(column string, min, max int64) {
	if min > 0 {
		w.add(column+" >= ?", min)
	}
	if max > 0 {
		w.add(column+" <= ?", max)
	}
}

func (w *whereClause) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultViewLimit
	}
	if limit > maxViewLimit {
		return maxViewLimit
	}
	return limit
}
