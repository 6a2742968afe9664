package warmpool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/stretchr/testify/require"

	"github.com/genbase-project/genbase/pkg/dockerutil"
	"github.com/genbase-project/genbase/pkg/platformerr"
)

type fakeContainer struct {
	id      string
	running bool
	labels  map[string]string
}

type fakeDocker struct {
	mu          sync.Mutex
	containers  map[string]*fakeContainer
	byName      map[string]string
	nextID      int
	createCount int
	removeCount int

	scratchRoot   string
	workspaceName string
	onExec        func(hostDir string) (dockerutil.ExecResult, error)
}

func newFakeDocker(scratchRoot, workspaceName string) *fakeDocker {
	return &fakeDocker{
		containers:    map[string]*fakeContainer{},
		byName:        map[string]string{},
		scratchRoot:   scratchRoot,
		workspaceName: workspaceName,
	}
}

func (f *fakeDocker) CreateContainer(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, netCfg *network.NetworkingConfig, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("c%d", f.nextID)
	f.createCount++
	f.containers[id] = &fakeContainer{id: id, labels: cfg.Labels}
	f.byName[name] = id
	return id, nil
}

func (f *fakeDocker) StartContainer(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[containerID]; ok {
		c.running = true
	}
	return nil
}

func (f *fakeDocker) RemoveContainer(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[containerID]; ok {
		delete(f.containers, containerID)
		f.removeCount++
	}
	for name, id := range f.byName {
		if id == containerID {
			delete(f.byName, name)
		}
	}
	return nil
}

func (f *fakeDocker) InspectContainer(ctx context.Context, containerID string) (types.ContainerJSON, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return types.ContainerJSON{}, fmt.Errorf("no such container")
	}
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:    c.id,
			State: &types.ContainerState{Running: c.running},
		},
	}, nil
}

func (f *fakeDocker) ListContainersByLabels(ctx context.Context, labels map[string]string) ([]types.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Container
	for _, c := range f.containers {
		match := true
		for k, v := range labels {
			if c.labels[k] != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, types.Container{ID: c.id, Labels: c.labels})
		}
	}
	return out, nil
}

func (f *fakeDocker) ContainerByName(ctx context.Context, name string) (string, *types.ContainerJSON, error) {
	f.mu.Lock()
	id, ok := f.byName[name]
	f.mu.Unlock()
	if !ok {
		return "", nil, nil
	}
	info, err := f.InspectContainer(ctx, id)
	if err != nil {
		return "", nil, nil
	}
	return id, &info, nil
}

func (f *fakeDocker) Exec(ctx context.Context, containerID string, cmd []string, env []string, workDir string) (dockerutil.ExecResult, error) {
	containerPath := cmd[len(cmd)-1]
	rel := strings.TrimSuffix(strings.TrimPrefix(containerPath, "/scratch/"), "/driver.py")
	hostDir := filepath.Join(f.scratchRoot, f.workspaceName, rel)

	if f.onExec != nil {
		return f.onExec(hostDir)
	}
	if err := os.WriteFile(filepath.Join(hostDir, "result.json"), []byte(`{"ok":true}`), 0o644); err != nil {
		return dockerutil.ExecResult{}, err
	}
	return dockerutil.ExecResult{ExitCode: 0}, nil
}

type fakeWorkspaces struct {
	base string
}

func (f fakeWorkspaces) HostPath(workspaceName string) string {
	return filepath.Join(f.base, workspaceName)
}

func newTestPool(t *testing.T) (*Pool, *fakeDocker) {
	t.Helper()
	scratch := t.TempDir()
	docker := newFakeDocker(scratch, "ws-1")
	pool := newPoolWithBackend(docker, fakeWorkspaces{base: t.TempDir()}, scratch, time.Minute)
	return pool, docker
}

func TestPool_ExecuteTool_CreatesContainerOnFirstCall(t *testing.T) {
	pool, docker := newTestPool(t)

	result, err := pool.ExecuteTool(context.Background(), ExecRequest{
		WorkspaceName:  "ws-1",
		ImageTag:       "function-runner-abc",
		KitActionsDir:  t.TempDir(),
		FileRelPath:    "tools.py",
		FunctionName:   "do_thing",
		ParametersJSON: []byte(`{}`),
	})

	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(result.ResultJSON))
	require.Equal(t, 1, docker.createCount)
}

func TestPool_ExecuteTool_ReusesHealthyContainerForSameImageTag(t *testing.T) {
	pool, docker := newTestPool(t)
	ctx := context.Background()
	req := ExecRequest{
		WorkspaceName:  "ws-1",
		ImageTag:       "function-runner-abc",
		KitActionsDir:  t.TempDir(),
		FileRelPath:    "tools.py",
		FunctionName:   "do_thing",
		ParametersJSON: []byte(`{}`),
	}

	_, err := pool.ExecuteTool(ctx, req)
	require.NoError(t, err)
	_, err = pool.ExecuteTool(ctx, req)
	require.NoError(t, err)

	require.Equal(t, 1, docker.createCount)
}

func TestPool_ExecuteTool_RecreatesOnImageTagMismatch(t *testing.T) {
	pool, docker := newTestPool(t)
	ctx := context.Background()
	base := ExecRequest{
		WorkspaceName:  "ws-1",
		KitActionsDir:  t.TempDir(),
		FileRelPath:    "tools.py",
		FunctionName:   "do_thing",
		ParametersJSON: []byte(`{}`),
	}

	first := base
	first.ImageTag = "function-runner-v1"
	_, err := pool.ExecuteTool(ctx, first)
	require.NoError(t, err)

	second := base
	second.ImageTag = "function-runner-v2"
	_, err = pool.ExecuteTool(ctx, second)
	require.NoError(t, err)

	require.Equal(t, 2, docker.createCount)
	require.Equal(t, 1, docker.removeCount)
}

func TestPool_ExecuteTool_ToolErrorSurfacesTraceback(t *testing.T) {
	pool, docker := newTestPool(t)
	docker.onExec = func(hostDir string) (dockerutil.ExecResult, error) {
		if err := os.WriteFile(filepath.Join(hostDir, "error.txt"), []byte("Traceback: boom"), 0o644); err != nil {
			return dockerutil.ExecResult{}, err
		}
		return dockerutil.ExecResult{ExitCode: 1, Stderr: "boom"}, nil
	}

	_, err := pool.ExecuteTool(context.Background(), ExecRequest{
		WorkspaceName:  "ws-1",
		ImageTag:       "function-runner-abc",
		KitActionsDir:  t.TempDir(),
		FileRelPath:    "tools.py",
		FunctionName:   "do_thing",
		ParametersJSON: []byte(`{}`),
	})

	require.Error(t, err)
	require.Equal(t, platformerr.ToolError, platformerr.KindOf(err))
	require.Contains(t, err.Error(), "Traceback: boom")
}

func TestPool_SweepIdle_EvictsContainersPastTimeout(t *testing.T) {
	scratch := t.TempDir()
	docker := newFakeDocker(scratch, "ws-1")
	pool := newPoolWithBackend(docker, fakeWorkspaces{base: t.TempDir()}, scratch, time.Millisecond)

	_, err := pool.ExecuteTool(context.Background(), ExecRequest{
		WorkspaceName:  "ws-1",
		ImageTag:       "function-runner-abc",
		KitActionsDir:  t.TempDir(),
		FileRelPath:    "tools.py",
		FunctionName:   "do_thing",
		ParametersJSON: []byte(`{}`),
	})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	evicted := pool.SweepIdle(context.Background())

	require.Equal(t, 1, evicted)
	require.Equal(t, 1, docker.removeCount)
}
