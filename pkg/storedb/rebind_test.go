package storedb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRebind_SQLiteUnchanged(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? AND b = ?"
	require.Equal(t, q, Rebind(DriverSQLite, q))
}

func TestRebind_MySQLUnchanged(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? AND b = ?"
	require.Equal(t, q, Rebind(DriverMySQL, q))
}

func TestRebind_PostgresNumbersPlaceholders(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? AND b = ?"
	require.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", Rebind(DriverPostgres, q))
}
