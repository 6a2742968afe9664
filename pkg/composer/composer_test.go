package composer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/genbase-project/genbase/pkg/kitstore"
	"github.com/genbase-project/genbase/pkg/module"
	"github.com/genbase-project/genbase/pkg/platformerr"
	"github.com/genbase-project/genbase/pkg/provides"
)

type fakeModules struct {
	modules map[string]module.Module
}

func (f *fakeModules) GetModule(ctx context.Context, moduleID string) (module.Module, error) {
	mod, ok := f.modules[moduleID]
	if !ok {
		return module.Module{}, platformerr.New(platformerr.ModuleNotFound, moduleID)
	}
	return mod, nil
}

type fakeKits struct {
	manifests map[string]*kitstore.Manifest
}

func (f *fakeKits) GetKitConfig(owner, kitID, version string) (*kitstore.Manifest, error) {
	key := owner + "/" + kitID + "/" + version
	m, ok := f.manifests[key]
	if !ok {
		return nil, platformerr.New(platformerr.KitNotFound, key)
	}
	return m, nil
}

type fakeEdges struct {
	byKind map[provides.ResourceKind][]provides.Edge
}

func (f *fakeEdges) ListProvidersToReceiver(ctx context.Context, receiverID string, kind provides.ResourceKind) ([]provides.Edge, error) {
	return f.byKind[kind], nil
}

func writeAction(t *testing.T, actionsDir, fileName, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(actionsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(actionsDir, fileName), []byte(body), 0o644))
}

func TestComposer_Compose_IntrinsicToolsOnly(t *testing.T) {
	kitPath := t.TempDir()
	writeAction(t, filepath.Join(kitPath, "actions"), "search.py", `
def web_search(query: str):
    """Search the web."""
    pass
`)

	manifest := &kitstore.Manifest{
		Owner: "acme", ID: "demo", Version: "1.0.0", KitPath: kitPath,
		Profiles: map[string]kitstore.Profile{"default": {Actions: []string{"search:web_search"}}},
	}
	modules := &fakeModules{modules: map[string]module.Module{
		"mod-1": {ModuleID: "mod-1", Owner: "acme", KitID: "demo", Version: "1.0.0"},
	}}
	kits := &fakeKits{manifests: map[string]*kitstore.Manifest{"acme/demo/1.0.0": manifest}}
	edges := &fakeEdges{}

	c := newComposerWithBackends(modules, kits, edges)
	composed, err := c.Compose(context.Background(), "mod-1", "default")

	require.NoError(t, err)
	require.Len(t, composed.Tools, 1)
	require.Equal(t, "web_search", composed.Tools[0].Name)
	require.Empty(t, composed.Tools[0].ProviderID)
}

func TestComposer_Compose_MergesProvidedToolsWithMangledNames(t *testing.T) {
	receiverKitPath := t.TempDir()
	providerKitPath := t.TempDir()
	writeAction(t, filepath.Join(providerKitPath, "actions"), "weather.py", `
def get_weather(city: str):
    """Get the weather."""
    pass
`)

	receiverManifest := &kitstore.Manifest{
		Owner: "acme", ID: "receiver", Version: "1.0.0", KitPath: receiverKitPath,
		Profiles: map[string]kitstore.Profile{"default": {}},
	}
	providerManifest := &kitstore.Manifest{
		Owner: "acme", ID: "provider", Version: "1.0.0", KitPath: providerKitPath,
		Provide: kitstore.Provides{
			Actions: []kitstore.ActionRef{{Path: "weather:get_weather", Name: "get_weather", Description: "weather lookup"}},
		},
	}

	modules := &fakeModules{modules: map[string]module.Module{
		"mod-receiver": {ModuleID: "mod-receiver", Owner: "acme", KitID: "receiver", Version: "1.0.0"},
		"mod-provider": {ModuleID: "mod-provider", Owner: "acme", KitID: "provider", Version: "1.0.0"},
	}}
	kits := &fakeKits{manifests: map[string]*kitstore.Manifest{
		"acme/receiver/1.0.0": receiverManifest,
		"acme/provider/1.0.0": providerManifest,
	}}
	edges := &fakeEdges{byKind: map[provides.ResourceKind][]provides.Edge{
		provides.KindTool: {{ProviderID: "mod-provider", ReceiverID: "mod-receiver"}},
	}}

	c := newComposerWithBackends(modules, kits, edges)
	composed, err := c.Compose(context.Background(), "mod-receiver", "default")

	require.NoError(t, err)
	require.Len(t, composed.Tools, 1)
	require.Equal(t, "external_mod-provider_get_weather", composed.Tools[0].Name)
	require.Equal(t, "mod-provider", composed.Tools[0].ProviderID)
	require.Contains(t, composed.Tools[0].Description, "[From module: mod-provider]")
}

func TestComposer_Compose_DuplicateProvidedToolNameIsCompositionError(t *testing.T) {
	receiverKitPath := t.TempDir()
	providerAKitPath := t.TempDir()
	providerBKitPath := t.TempDir()
	for _, dir := range []string{providerAKitPath, providerBKitPath} {
		writeAction(t, filepath.Join(dir, "actions"), "tool.py", `
def run(x: str):
    """Run it."""
    pass
`)
	}

	receiverManifest := &kitstore.Manifest{
		Owner: "acme", ID: "receiver", Version: "1.0.0", KitPath: receiverKitPath,
		Profiles: map[string]kitstore.Profile{"default": {}},
	}
	providerARef := kitstore.ActionRef{Path: "tool:run", Name: "run", Description: "a"}
	providerBRef := kitstore.ActionRef{Path: "tool:run", Name: "run", Description: "b"}
	providerAManifest := &kitstore.Manifest{Owner: "acme", ID: "pa", Version: "1.0.0", KitPath: providerAKitPath, Provide: kitstore.Provides{Actions: []kitstore.ActionRef{providerARef}}}
	providerBManifest := &kitstore.Manifest{Owner: "acme", ID: "pb", Version: "1.0.0", KitPath: providerBKitPath, Provide: kitstore.Provides{Actions: []kitstore.ActionRef{providerBRef}}}

	modules := &fakeModules{modules: map[string]module.Module{
		"mod-receiver": {ModuleID: "mod-receiver", Owner: "acme", KitID: "receiver", Version: "1.0.0"},
		"mod-pa":       {ModuleID: "mod-pa", Owner: "acme", KitID: "pa", Version: "1.0.0"},
	}}
	kits := &fakeKits{manifests: map[string]*kitstore.Manifest{
		"acme/receiver/1.0.0": receiverManifest,
		"acme/pa/1.0.0":       providerAManifest,
		"acme/pb/1.0.0":       providerBManifest,
	}}
	_ = providerBManifest

	edges := &fakeEdges{byKind: map[provides.ResourceKind][]provides.Edge{
		provides.KindTool: {
			{ProviderID: "mod-pa", ReceiverID: "mod-receiver"},
			{ProviderID: "mod-pa", ReceiverID: "mod-receiver"},
		},
	}}

	c := newComposerWithBackends(modules, kits, edges)
	_, err := c.Compose(context.Background(), "mod-receiver", "default")

	require.Error(t, err)
	require.Equal(t, platformerr.CompositionError, platformerr.KindOf(err))
}

func TestComposer_Compose_UnknownProfileIsCompositionError(t *testing.T) {
	manifest := &kitstore.Manifest{Owner: "acme", ID: "demo", Version: "1.0.0", KitPath: t.TempDir(), Profiles: map[string]kitstore.Profile{}}
	modules := &fakeModules{modules: map[string]module.Module{"mod-1": {ModuleID: "mod-1", Owner: "acme", KitID: "demo", Version: "1.0.0"}}}
	kits := &fakeKits{manifests: map[string]*kitstore.Manifest{"acme/demo/1.0.0": manifest}}
	c := newComposerWithBackends(modules, kits, &fakeEdges{})

	_, err := c.Compose(context.Background(), "mod-1", "missing")

	require.Error(t, err)
	require.Equal(t, platformerr.CompositionError, platformerr.KindOf(err))
}

func TestComposer_Compose_AppendsProvidedInstructions(t *testing.T) {
	receiverKitPath := t.TempDir()
	providerKitPath := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(providerKitPath, "instructions"), 0o755))
	instrPath := filepath.Join(providerKitPath, "instructions", "guide.md")
	require.NoError(t, os.WriteFile(instrPath, []byte("be polite"), 0o644))

	receiverManifest := &kitstore.Manifest{Owner: "acme", ID: "receiver", Version: "1.0.0", KitPath: receiverKitPath, Profiles: map[string]kitstore.Profile{"default": {}}}
	providerManifest := &kitstore.Manifest{
		Owner: "acme", ID: "provider", Version: "1.0.0", KitPath: providerKitPath,
		Provide: kitstore.Provides{Instructions: []kitstore.InstructionItem{{Name: "guide", Path: "guide.md", FullPath: instrPath}}},
	}

	modules := &fakeModules{modules: map[string]module.Module{
		"mod-receiver": {ModuleID: "mod-receiver", Owner: "acme", KitID: "receiver", Version: "1.0.0"},
		"mod-provider": {ModuleID: "mod-provider", Owner: "acme", KitID: "provider", Version: "1.0.0"},
	}}
	kits := &fakeKits{manifests: map[string]*kitstore.Manifest{
		"acme/receiver/1.0.0": receiverManifest,
		"acme/provider/1.0.0": providerManifest,
	}}
	edges := &fakeEdges{byKind: map[provides.ResourceKind][]provides.Edge{
		provides.KindInstruction: {{ProviderID: "mod-provider", ReceiverID: "mod-receiver"}},
	}}

	c := newComposerWithBackends(modules, kits, edges)
	composed, err := c.Compose(context.Background(), "mod-receiver", "default")

	require.NoError(t, err)
	require.Contains(t, composed.Instructions, "Provided Instructions from Module: mod-provider")
	require.Contains(t, composed.Instructions, "be polite")
}

func TestIsExternal(t *testing.T) {
	require.True(t, IsExternal("external_mod-1_search"))
	require.False(t, IsExternal("search"))
}
