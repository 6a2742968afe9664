package module

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/genbase-project/genbase/pkg/platformerr"
	"github.com/genbase-project/genbase/pkg/storedb"
)

func newTestApiKeyStore(t *testing.T) (*ApiKeyStore, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	_, err = db.Exec(EnsureSchema)
	require.NoError(t, err)
	return NewApiKeyStore(db, storedb.DriverSQLite), db
}

func TestApiKeyStore_GenerateAndAuthenticate(t *testing.T) {
	store, db := newTestApiKeyStore(t)
	defer db.Close()
	ctx := context.Background()

	key, err := store.GenerateKey(ctx, "module-1")
	require.NoError(t, err)
	require.NotEmpty(t, key.PlainKey)

	moduleID, err := store.Authenticate(ctx, key.PlainKey)
	require.NoError(t, err)
	require.Equal(t, "module-1", moduleID)
}

func TestApiKeyStore_AuthenticateRejectsUnknownKey(t *testing.T) {
	store, db := newTestApiKeyStore(t)
	defer db.Close()

	_, err := store.Authenticate(context.Background(), "gb_not-a-real-key")
	require.Error(t, err)
	require.Equal(t, platformerr.CapabilityDenied, platformerr.KindOf(err))
}

func TestApiKeyStore_RevokeRejectsFurtherAuth(t *testing.T) {
	store, db := newTestApiKeyStore(t)
	defer db.Close()
	ctx := context.Background()

	key, err := store.GenerateKey(ctx, "module-1")
	require.NoError(t, err)

	require.NoError(t, store.Revoke(ctx, key.ID))

	_, err = store.Authenticate(ctx, key.PlainKey)
	require.Error(t, err)
	require.Equal(t, platformerr.CapabilityDenied, platformerr.KindOf(err))
}

func TestApiKeyStore_RevokeUnknownKeyFails(t *testing.T) {
	store, db := newTestApiKeyStore(t)
	defer db.Close()

	err := store.Revoke(context.Background(), "ghost-key")
	require.Error(t, err)
	require.Equal(t, platformerr.ModuleNotFound, platformerr.KindOf(err))
}
