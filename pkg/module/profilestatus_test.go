package module

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/genbase-project/genbase/pkg/storedb"
)

func newTestProfileStatusStore(t *testing.T) (*ProfileStatusStore, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	_, err = db.Exec(EnsureSchema)
	require.NoError(t, err)
	return NewProfileStatusStore(db, storedb.DriverSQLite), db
}

func TestProfileStatusStore_DefaultsToNotCompleted(t *testing.T) {
	store, db := newTestProfileStatusStore(t)
	defer db.Close()

	completed, err := store.IsCompleted(context.Background(), "module-1", "onboarding")
	require.NoError(t, err)
	require.False(t, completed)
}

func TestProfileStatusStore_MarkCompletedThenReset(t *testing.T) {
	store, db := newTestProfileStatusStore(t)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, store.MarkCompleted(ctx, "module-1", "onboarding"))
	completed, err := store.IsCompleted(ctx, "module-1", "onboarding")
	require.NoError(t, err)
	require.True(t, completed)

	require.NoError(t, store.Reset(ctx, "module-1", "onboarding"))
	completed, err = store.IsCompleted(ctx, "module-1", "onboarding")
	require.NoError(t, err)
	require.False(t, completed)
}

func TestProfileStatusStore_MarkCompletedIsIdempotent(t *testing.T) {
	store, db := newTestProfileStatusStore(t)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, store.MarkCompleted(ctx, "module-1", "onboarding"))
	require.NoError(t, store.MarkCompleted(ctx, "module-1", "onboarding"))

	completed, err := store.IsCompleted(ctx, "module-1", "onboarding")
	require.NoError(t, err)
	require.True(t, completed)
}
