package agentrunner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/stretchr/testify/require"

	"github.com/genbase-project/genbase/pkg/kitstore"
	"github.com/genbase-project/genbase/pkg/module"
	"github.com/genbase-project/genbase/pkg/platformerr"
)

type fakeDocker struct {
	nextID      int
	exitCode    int
	createCount int
	onCreate    func(hostCfg *container.HostConfig)
	logs        string
}

func (f *fakeDocker) CreateContainer(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, netCfg *network.NetworkingConfig, name string) (string, error) {
	f.nextID++
	f.createCount++
	if f.onCreate != nil {
		f.onCreate(hostCfg)
	}
	return fmt.Sprintf("c%d", f.nextID), nil
}

func (f *fakeDocker) StartContainer(ctx context.Context, containerID string) error { return nil }

func (f *fakeDocker) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	return nil
}

func (f *fakeDocker) RemoveContainer(ctx context.Context, containerID string) error { return nil }

func (f *fakeDocker) InspectContainer(ctx context.Context, containerID string) (types.ContainerJSON, error) {
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:    containerID,
			State: &types.ContainerState{Running: false, ExitCode: f.exitCode},
		},
	}, nil
}

func (f *fakeDocker) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	return f.logs, nil
}

type fakeModules struct {
	modules          map[string]module.Module
	executingCalls   []string
	standbyCalls     []string
}

func (f *fakeModules) GetModule(ctx context.Context, moduleID string) (module.Module, error) {
	mod, ok := f.modules[moduleID]
	if !ok {
		return module.Module{}, platformerr.New(platformerr.ModuleNotFound, moduleID)
	}
	return mod, nil
}

func (f *fakeModules) SetExecuting(ctx context.Context, moduleID string) error {
	f.executingCalls = append(f.executingCalls, moduleID)
	return nil
}

func (f *fakeModules) SetStandby(ctx context.Context, moduleID string) error {
	f.standbyCalls = append(f.standbyCalls, moduleID)
	return nil
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

type fakeWorkspaces struct{ base string }

func (f fakeWorkspaces) HostPath(workspaceName string) string {
	return filepath.Join(f.base, workspaceName)
}

type fakeVenv struct{ path string }

func (f fakeVenv) Ensure(ctx context.Context, key VenvKey, dependencies []string) (string, error) {
	return f.path, nil
}

func newTestRunner(t *testing.T, docker *fakeDocker) (*Runner, *fakeModules) {
	t.Helper()

	manifest := &kitstore.Manifest{
		Owner:     "acme",
		ID:        "demo",
		Version:   "1.0.0",
		BaseImage: "python:3.12-slim",
		KitPath:   t.TempDir(),
		Agents:    []kitstore.AgentDecl{{Name: "assistant", Class: "SupportAgent"}},
		Profiles:  map[string]kitstore.Profile{"default": {Agent: "assistant"}},
	}

	modules := &fakeModules{modules: map[string]module.Module{
		"mod-1": {
			ModuleID:      "mod-1",
			Owner:         "acme",
			KitID:         "demo",
			Version:       "1.0.0",
			WorkspaceName: "ws-1",
			EnvVars:       map[string]string{"API_KEY": "secret"},
		},
	}}
	kits := &fakeKits{manifests: map[string]*kitstore.Manifest{"acme/demo/1.0.0": manifest}}
	workspaces := fakeWorkspaces{base: t.TempDir()}
	venvs := fakeVenv{path: t.TempDir()}

	detect := func(ctx context.Context, baseImage string) string { return "3.12" }
	runner := newRunnerWithBackends(docker, modules, kits, workspaces, venvs, detect, 5*time.Second)
	return runner, modules
}

func writeResultFile(hostCfg *container.HostConfig, body string) {
	for _, m := range hostCfg.Mounts {
		if m.Target == "/result.json" {
			_ = os.WriteFile(m.Source, []byte(body), 0o644)
		}
	}
}

func TestRunner_Run_SuccessReturnsNormalizedResult(t *testing.T) {
	docker := &fakeDocker{exitCode: 0}
	docker.onCreate = func(hostCfg *container.HostConfig) {
		writeResultFile(hostCfg, `{"response": "hi", "results": [1, 2]}`)
	}
	runner, modules := newTestRunner(t, docker)

	result, err := runner.Run(context.Background(), AgentContext{ModuleID: "mod-1", Profile: "default", UserInput: "hello"}, RunOptions{})

	require.NoError(t, err)
	require.Equal(t, "hi", result.Response)
	require.Equal(t, []interface{}{float64(1), float64(2)}, result.Results)
	require.Equal(t, []string{"mod-1"}, modules.executingCalls)
	require.Equal(t, []string{"mod-1"}, modules.standbyCalls)
}

func TestRunner_Run_NonZeroExitWithResultStillSucceeds(t *testing.T) {
	docker := &fakeDocker{exitCode: 1}
	docker.onCreate = func(hostCfg *container.HostConfig) {
		writeResultFile(hostCfg, `{"response": "Error: boom", "results": []}`)
	}
	runner, _ := newTestRunner(t, docker)

	result, err := runner.Run(context.Background(), AgentContext{ModuleID: "mod-1", Profile: "default"}, RunOptions{})

	require.NoError(t, err)
	require.Equal(t, "Error: boom", result.Response)
}

func TestRunner_Run_NoResultFileRaisesAgentRunnerError(t *testing.T) {
	docker := &fakeDocker{exitCode: 1, logs: "traceback: kaboom"}
	runner, modules := newTestRunner(t, docker)

	_, err := runner.Run(context.Background(), AgentContext{ModuleID: "mod-1", Profile: "default"}, RunOptions{})

	require.Error(t, err)
	require.Equal(t, platformerr.AgentRunnerError, platformerr.KindOf(err))
	require.Contains(t, err.Error(), "kaboom")
	require.Equal(t, []string{"mod-1"}, modules.standbyCalls)
}

func TestRunner_Run_UnknownProfileFailsBeforeSpawningContainer(t *testing.T) {
	docker := &fakeDocker{}
	runner, _ := newTestRunner(t, docker)

	_, err := runner.Run(context.Background(), AgentContext{ModuleID: "mod-1", Profile: "missing"}, RunOptions{})

	require.Error(t, err)
	require.Equal(t, 0, docker.createCount)
}

func TestRunner_GetAgentToolsSchema_DelegatesToStaticAnalysis(t *testing.T) {
	docker := &fakeDocker{}
	runner, _ := newTestRunner(t, docker)

	kitPath := runner.kits.(*fakeKits).manifests["acme/demo/1.0.0"].KitPath
	agentsDir := filepath.Join(kitPath, "agents")
	require.NoError(t, os.MkdirAll(agentsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(agentsDir, "__init__.py"), []byte(`
class SupportAgent(BaseAgent):
    @tool
    def ping(self):
        """Ping."""
        pass
`), 0o644))

	descriptors, err := runner.GetAgentToolsSchema(context.Background(), "mod-1", "default")

	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	require.Equal(t, "ping", descriptors[0].Name)
}
