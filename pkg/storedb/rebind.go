package storedb

import (
	"strconv"
	"strings"
)

// Rebind rewrites a query written with "?" placeholders into the form the
// given driver expects. SQLite and MySQL accept "?" directly; Postgres
// requires positional "$1", "$2", ... placeholders, the same per-dialect
// branch the teacher's session store takes inline — centralized here so
// every storage package writes one query string instead of duplicating
// the branch at every call site.
func Rebind(driver Driver, query string) string {
	if driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
