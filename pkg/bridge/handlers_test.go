package bridge

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/genbase-project/genbase/pkg/chathistory"
	"github.com/genbase-project/genbase/pkg/kitstore"
	"github.com/genbase-project/genbase/pkg/module"
	"github.com/genbase-project/genbase/pkg/platformerr"
	"github.com/genbase-project/genbase/pkg/profilestore"
	"github.com/genbase-project/genbase/pkg/provides"
	"github.com/genbase-project/genbase/pkg/storedb"
	"github.com/genbase-project/genbase/pkg/warmpool"
	"github.com/genbase-project/genbase/pkg/workspace"
)

type fakeModuleLookup struct {
	modules map[string]module.Module
}

func (f *fakeModuleLookup) GetModule(ctx context.Context, moduleID string) (module.Module, error) {
	mod, ok := f.modules[moduleID]
	if !ok {
		return module.Module{}, platformerr.New(platformerr.ModuleNotFound, moduleID)
	}
	return mod, nil
}

type fakeKitLookup struct {
	manifests map[string]*kitstore.Manifest
}

func (f *fakeKitLookup) GetKitConfig(owner, kitID, version string) (*kitstore.Manifest, error) {
	key := owner + "/" + kitID + "/" + version
	m, ok := f.manifests[key]
	if !ok {
		return nil, platformerr.New(platformerr.KitNotFound, key)
	}
	return m, nil
}

type fakeEdgeChecker struct {
	allowed bool
}

func (f *fakeEdgeChecker) HasEdge(ctx context.Context, providerID, receiverID string, kind provides.ResourceKind) (bool, error) {
	return f.allowed, nil
}

type fakeImageResolver struct {
	tag string
}

func (f *fakeImageResolver) GetOrBuild(ctx context.Context, baseImage string, dependencies []string) (string, error) {
	return f.tag, nil
}

type fakeToolExecutor struct {
	result warmpool.ToolResult
	err    error
}

func (f *fakeToolExecutor) ExecuteTool(ctx context.Context, req warmpool.ExecRequest) (warmpool.ToolResult, error) {
	return f.result, f.err
}

func newChatHistoryStore(t *testing.T) *chathistory.Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(chathistory.EnsureSchema)
	require.NoError(t, err)
	return chathistory.NewStore(db, storedb.DriverSQLite)
}

func newProfileDocStore(t *testing.T) *profilestore.Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(profilestore.EnsureSchema)
	require.NoError(t, err)
	return profilestore.NewStore(db, storedb.DriverSQLite)
}

func newWorkspaceStore(t *testing.T) *workspace.Store {
	t.Helper()
	store, err := workspace.NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func emptyZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestHandlePing(t *testing.T) {
	result, err := handlePing(context.Background(), "mod-1", nil)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"status": "ok"}, result)
}

func TestHandleGenerateReadableUID(t *testing.T) {
	result, err := handleGenerateReadableUID(context.Background(), "mod-1", nil)
	require.NoError(t, err)
	uidMap, ok := result.(map[string]string)
	require.True(t, ok)
	require.NotEmpty(t, uidMap["uid"])
}

func TestHandlers_AddMessageThenGetMessages(t *testing.T) {
	d := Deps{ChatHist: newChatHistoryStore(t)}

	addParams, err := json.Marshal(map[string]interface{}{
		"profile": "default", "session_id": "sess-1", "role": "user", "content": "hello",
	})
	require.NoError(t, err)
	_, err = d.handleAddMessage(context.Background(), "mod-1", addParams)
	require.NoError(t, err)

	getParams, err := json.Marshal(map[string]interface{}{"profile": "default", "session_id": "sess-1"})
	require.NoError(t, err)
	result, err := d.handleGetMessages(context.Background(), "mod-1", getParams)
	require.NoError(t, err)

	resultMap := result.(map[string]interface{})
	messages := resultMap["messages"].([]chathistory.Message)
	require.Len(t, messages, 1)
	require.Equal(t, "hello", messages[0].Content)
}

func TestHandlers_ReadFile_RejectsPathEscape(t *testing.T) {
	ws := newWorkspaceStore(t)
	require.NoError(t, ws.Create("ws-1", emptyZip(t)))

	d := Deps{
		Modules:    &fakeModuleLookup{modules: map[string]module.Module{"mod-1": {ModuleID: "mod-1", WorkspaceName: "ws-1"}}},
		Workspaces: ws,
	}

	params, err := json.Marshal(map[string]string{"path": "../../etc/passwd"})
	require.NoError(t, err)

	_, err = d.handleReadFile(context.Background(), "mod-1", params)
	require.Error(t, err)
	require.Equal(t, platformerr.InvalidPath, platformerr.KindOf(err))
}

func TestHandlers_WriteFileThenListFiles(t *testing.T) {
	ws := newWorkspaceStore(t)
	require.NoError(t, ws.Create("ws-1", emptyZip(t)))

	d := Deps{
		Modules:    &fakeModuleLookup{modules: map[string]module.Module{"mod-1": {ModuleID: "mod-1", WorkspaceName: "ws-1"}}},
		Workspaces: ws,
	}

	writeParams, err := json.Marshal(map[string]string{"path": "notes.txt", "content": "hi"})
	require.NoError(t, err)
	_, err = d.handleWriteFile(context.Background(), "mod-1", writeParams)
	require.NoError(t, err)

	result, err := d.handleListFiles(context.Background(), "mod-1", nil)
	require.NoError(t, err)
	files := result.(map[string]interface{})["files"].([]string)
	require.Contains(t, files, "notes.txt")
}

func TestHandlers_ProfileStoreSetValueThenFind(t *testing.T) {
	d := Deps{Documents: newProfileDocStore(t)}

	setParams, err := json.Marshal(map[string]interface{}{
		"profile": "default", "value": map[string]interface{}{"name": "alice", "age": 30},
	})
	require.NoError(t, err)
	_, err = d.handleProfileStoreSetValue(context.Background(), "mod-1", setParams)
	require.NoError(t, err)

	findParams, err := json.Marshal(map[string]interface{}{
		"profile": "default",
		"filter": map[string]interface{}{
			"value_filters": []map[string]interface{}{{"field": "age", "op": "gte", "rhs": 18}},
		},
	})
	require.NoError(t, err)
	result, err := d.handleProfileStoreFind(context.Background(), "mod-1", findParams)
	require.NoError(t, err)
	docs := result.(map[string]interface{})["documents"].([]profilestore.Document)
	require.Len(t, docs, 1)
	require.Equal(t, "alice", docs[0].Value["name"])
}

func TestHandlers_ExecuteExternalTool_DeniedWithoutEdge(t *testing.T) {
	d := Deps{Edges: &fakeEdgeChecker{allowed: false}}

	params, err := json.Marshal(map[string]interface{}{
		"tool_name":  "external_mod-provider_get_weather",
		"parameters": map[string]interface{}{"city": "nyc"},
	})
	require.NoError(t, err)

	_, err = d.handleExecuteExternalTool(context.Background(), "mod-receiver", params)
	require.Error(t, err)
	require.Equal(t, platformerr.CapabilityDenied, platformerr.KindOf(err))
}

func TestHandlers_ExecuteExternalTool_NotExternalNameRejected(t *testing.T) {
	d := Deps{Edges: &fakeEdgeChecker{allowed: true}}

	params, err := json.Marshal(map[string]interface{}{"tool_name": "local_tool"})
	require.NoError(t, err)

	_, err = d.handleExecuteExternalTool(context.Background(), "mod-receiver", params)
	require.Error(t, err)
	require.Equal(t, platformerr.FunctionNotFound, platformerr.KindOf(err))
}

func TestHandlers_ExecuteExternalTool_RoutesToWarmPool(t *testing.T) {
	providerManifest := &kitstore.Manifest{
		Owner: "acme", ID: "provider", Version: "1.0.0", KitPath: "/kits/provider",
		Provide: kitstore.Provides{
			Actions: []kitstore.ActionRef{{Path: "weather:get_weather", Name: "get_weather", Description: "weather lookup"}},
		},
	}
	d := Deps{
		Edges: &fakeEdgeChecker{allowed: true},
		Modules: &fakeModuleLookup{modules: map[string]module.Module{
			"mod-provider": {ModuleID: "mod-provider", Owner: "acme", KitID: "provider", Version: "1.0.0", WorkspaceName: "ws-provider"},
		}},
		Kits:   &fakeKitLookup{manifests: map[string]*kitstore.Manifest{"acme/provider/1.0.0": providerManifest}},
		Images: &fakeImageResolver{tag: "genbase/provider:abc123"},
		Tools:  &fakeToolExecutor{result: warmpool.ToolResult{ResultJSON: []byte(`{"tempF": 72}`)}},
	}

	params, err := json.Marshal(map[string]interface{}{
		"tool_name":  "external_mod-provider_get_weather",
		"parameters": map[string]interface{}{"city": "nyc"},
	})
	require.NoError(t, err)

	result, err := d.handleExecuteExternalTool(context.Background(), "mod-receiver", params)
	require.NoError(t, err)
	resultMap := result.(map[string]interface{})
	require.Equal(t, float64(72), resultMap["tempF"])
}
