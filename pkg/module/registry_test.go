package module

import (
	"context"
	"database/sql"
	"encoding/base64"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/genbase-project/genbase/pkg/crypt"
	"github.com/genbase-project/genbase/pkg/platformerr"
	"github.com/genbase-project/genbase/pkg/provides"
	"github.com/genbase-project/genbase/pkg/storedb"
	"github.com/genbase-project/genbase/pkg/workspace"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func testSealer(t *testing.T) *crypt.Sealer {
	t.Helper()
	key := make([]byte, chacha20poly1305.KeySize)
	for i := range key {
		key[i] = byte(i + 1)
	}
	t.Setenv("TEST_MODULE_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(key))
	sealer, err := crypt.NewSealer("TEST_MODULE_ENCRYPTION_KEY")
	require.NoError(t, err)
	return sealer
}

func newTestRegistry(t *testing.T) (*Registry, *sql.DB) {
	t.Helper()
	requireGit(t)

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	_, err = db.Exec(EnsureSchema)
	require.NoError(t, err)
	_, err = db.Exec(provides.EnsureSchema)
	require.NoError(t, err)

	ws, err := workspace.NewStore(t.TempDir())
	require.NoError(t, err)

	reg := NewRegistry(db, storedb.DriverSQLite, testSealer(t), ws)
	return reg, db
}

func seedWorkspaceDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "seed")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644))
	return dir
}

func TestRegistry_CreateModuleRoundTrip(t *testing.T) {
	reg, db := newTestRegistry(t)
	defer db.Close()
	ctx := context.Background()

	mod, err := reg.CreateModule(ctx, CreateModuleParams{
		ProjectID:        "proj-1",
		Owner:            "acme",
		KitID:            "demo-kit",
		Version:          "1.0.0",
		EnvVars:          map[string]string{"FOO": "bar"},
		Path:             "team.demo",
		KitWorkspaceSeed: seedWorkspaceDir(t),
	})
	require.NoError(t, err)
	require.NotEmpty(t, mod.ModuleID)
	require.Equal(t, mod.ModuleID, mod.WorkspaceName)

	fetched, err := reg.GetModule(ctx, mod.ModuleID)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"FOO": "bar"}, fetched.EnvVars)

	state, err := reg.GetState(ctx, mod.ModuleID)
	require.NoError(t, err)
	require.Equal(t, StateStandby, state)

	modules, err := reg.ListProjectModules(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, modules, 1)
}

func TestRegistry_CreateModuleRejectsInvalidPath(t *testing.T) {
	reg, db := newTestRegistry(t)
	defer db.Close()

	_, err := reg.CreateModule(context.Background(), CreateModuleParams{
		ProjectID:        "proj-1",
		Owner:            "acme",
		KitID:            "demo-kit",
		Version:          "1.0.0",
		Path:             "bad path!",
		KitWorkspaceSeed: seedWorkspaceDir(t),
	})
	require.Error(t, err)
	require.Equal(t, platformerr.InvalidPath, platformerr.KindOf(err))
}

func TestRegistry_UpdatePathAndName(t *testing.T) {
	reg, db := newTestRegistry(t)
	defer db.Close()
	ctx := context.Background()

	mod, err := reg.CreateModule(ctx, CreateModuleParams{
		ProjectID: "proj-1", Owner: "acme", KitID: "demo-kit", Version: "1.0.0",
		Path: "team.demo", KitWorkspaceSeed: seedWorkspaceDir(t),
	})
	require.NoError(t, err)

	require.NoError(t, reg.UpdatePath(ctx, "proj-1", mod.ModuleID, "team.renamed"))
	require.NoError(t, reg.UpdateName(ctx, mod.ModuleID, "Renamed Module"))

	fetched, err := reg.GetModule(ctx, mod.ModuleID)
	require.NoError(t, err)
	require.Equal(t, "Renamed Module", fetched.Name)
}

func TestRegistry_UpdateEnvVar(t *testing.T) {
	reg, db := newTestRegistry(t)
	defer db.Close()
	ctx := context.Background()

	mod, err := reg.CreateModule(ctx, CreateModuleParams{
		ProjectID: "proj-1", Owner: "acme", KitID: "demo-kit", Version: "1.0.0",
		EnvVars: map[string]string{"A": "1"}, Path: "team.demo", KitWorkspaceSeed: seedWorkspaceDir(t),
	})
	require.NoError(t, err)

	require.NoError(t, reg.UpdateEnvVar(ctx, mod.ModuleID, "B", "2"))

	fetched, err := reg.GetModule(ctx, mod.ModuleID)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"A": "1", "B": "2"}, fetched.EnvVars)
}

func TestRegistry_DeleteModuleCascadesProvidesEdges(t *testing.T) {
	reg, db := newTestRegistry(t)
	defer db.Close()
	ctx := context.Background()

	modA, err := reg.CreateModule(ctx, CreateModuleParams{
		ProjectID: "proj-1", Owner: "acme", KitID: "demo-kit", Version: "1.0.0",
		Path: "team.a", KitWorkspaceSeed: seedWorkspaceDir(t),
	})
	require.NoError(t, err)
	modB, err := reg.CreateModule(ctx, CreateModuleParams{
		ProjectID: "proj-1", Owner: "acme", KitID: "demo-kit", Version: "1.0.0",
		Path: "team.b", KitWorkspaceSeed: seedWorkspaceDir(t),
	})
	require.NoError(t, err)

	graph := provides.NewGraph(db, storedb.DriverSQLite)
	_, err = graph.CreateEdge(ctx, modA.ModuleID, modB.ModuleID, provides.KindTool, "")
	require.NoError(t, err)

	require.NoError(t, reg.DeleteModule(ctx, modA.ModuleID))

	_, err = reg.GetModule(ctx, modA.ModuleID)
	require.Error(t, err)
	require.Equal(t, platformerr.ModuleNotFound, platformerr.KindOf(err))

	has, err := graph.HasEdge(ctx, modA.ModuleID, modB.ModuleID, provides.KindTool)
	require.NoError(t, err)
	require.False(t, has)
}

func TestRegistry_SetExecutingAndStandby(t *testing.T) {
	reg, db := newTestRegistry(t)
	defer db.Close()
	ctx := context.Background()

	mod, err := reg.CreateModule(ctx, CreateModuleParams{
		ProjectID: "proj-1", Owner: "acme", KitID: "demo-kit", Version: "1.0.0",
		Path: "team.demo", KitWorkspaceSeed: seedWorkspaceDir(t),
	})
	require.NoError(t, err)

	require.NoError(t, reg.SetExecuting(ctx, mod.ModuleID))
	state, err := reg.GetState(ctx, mod.ModuleID)
	require.NoError(t, err)
	require.Equal(t, StateExecuting, state)

	require.NoError(t, reg.SetStandby(ctx, mod.ModuleID))
	state, err = reg.GetState(ctx, mod.ModuleID)
	require.NoError(t, err)
	require.Equal(t, StateStandby, state)
}

func TestRegistry_GetModuleNotFound(t *testing.T) {
	reg, db := newTestRegistry(t)
	defer db.Close()

	_, err := reg.GetModule(context.Background(), "ghost-module-0000")
	require.Error(t, err)
	require.Equal(t, platformerr.ModuleNotFound, platformerr.KindOf(err))
}
