// Package warmpool implements the Warm Container Pool: one long-lived
// helper container per workspace, reused across tool invocations until it
// idles past a configured timeout or its image tag falls out of date.
package warmpool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"

	"github.com/genbase-project/genbase/pkg/dockerutil"
	"github.com/genbase-project/genbase/pkg/observability"
	"github.com/genbase-project/genbase/pkg/platformerr"
)

const (
	containerNamePrefix = "genbase-warm-"
	labelWorkspace      = "genbase.workspace_name"
	labelImageTag       = "genbase.image_tag"
	labelManaged        = "genbase.managed"
)

// dockerBackend is the slice of dockerutil.Client the pool needs,
// narrowed to an interface so tests can substitute a fake daemon.
type dockerBackend interface {
	CreateContainer(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, netCfg *network.NetworkingConfig, name string) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	RemoveContainer(ctx context.Context, containerID string) error
	InspectContainer(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ListContainersByLabels(ctx context.Context, labels map[string]string) ([]types.Container, error)
	ContainerByName(ctx context.Context, name string) (string, *types.ContainerJSON, error)
	Exec(ctx context.Context, containerID string, cmd []string, env []string, workDir string) (dockerutil.ExecResult, error)
}

// workspaceHostPather is the slice of workspace.Store the pool needs.
type workspaceHostPather interface {
	HostPath(workspaceName string) string
}

// Pool manages one warm container per workspace. Calls against the same
// workspace are serialized by a per-workspace mutex: a warm container is
// a single reusable execution unit, not a connection pool, so concurrent
// tool calls queue rather than stampede into concurrent creation.
type Pool struct {
	docker         dockerBackend
	workspaces     workspaceHostPather
	scratchBaseDir string
	idleTimeout    time.Duration

	mu      sync.Mutex
	entries map[string]*Entry
	locks   map[string]*sync.Mutex

	metrics *observability.Metrics
}

// NewPool wires a Pool over a real Docker client and workspace store.
// scratchBaseDir is the host directory under which per-workspace scratch
// trees are created (mounted read-write at /scratch).
func NewPool(docker *dockerutil.Client, workspaces workspaceHostPather, scratchBaseDir string, idleTimeout time.Duration) *Pool {
	return newPoolWithBackend(docker, workspaces, scratchBaseDir, idleTimeout)
}

func newPoolWithBackend(docker dockerBackend, workspaces workspaceHostPather, scratchBaseDir string, idleTimeout time.Duration) *Pool {
	return &Pool{
		docker:         docker,
		workspaces:     workspaces,
		scratchBaseDir: scratchBaseDir,
		idleTimeout:    idleTimeout,
		entries:        map[string]*Entry{},
		locks:          map[string]*sync.Mutex{},
	}
}

// WithMetrics attaches a Prometheus metrics sink; the pool reports its
// live container count against it on every entry add/remove. A nil
// metrics (the default) makes every recording call a no-op.
func (p *Pool) WithMetrics(metrics *observability.Metrics) *Pool {
	p.metrics = metrics
	return p
}

// reportContainerCount publishes the current entry count. Callers must
// hold p.mu.
func (p *Pool) reportContainerCount() {
	p.metrics.SetWarmContainerCount(len(p.entries))
}

func (p *Pool) workspaceLock(workspaceName string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[workspaceName]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[workspaceName] = lock
	}
	return lock
}

func (p *Pool) scratchDir(workspaceName string) string {
	return filepath.Join(p.scratchBaseDir, workspaceName)
}

func containerName(workspaceName string) string {
	return containerNamePrefix + workspaceName
}

// ExecuteTool runs one function invocation inside req.WorkspaceName's warm
// container, creating or replacing it as needed.
func (p *Pool) ExecuteTool(ctx context.Context, req ExecRequest) (ToolResult, error) {
	lock := p.workspaceLock(req.WorkspaceName)
	lock.Lock()
	defer lock.Unlock()

	entry, err := p.ensureContainer(ctx, req.WorkspaceName, req.ImageTag, req.KitActionsDir, req.DeclaredPorts)
	if err != nil {
		return ToolResult{}, err
	}

	result, err := p.runDriver(ctx, entry, req)

	p.mu.Lock()
	entry.LastUsed = time.Now()
	p.mu.Unlock()

	return result, err
}

// ensureContainer returns a healthy, image-tag-matching warm container for
// workspaceName, discarding any stale container and creating a fresh one
// as needed. Callers must hold workspaceName's lock.
func (p *Pool) ensureContainer(ctx context.Context, workspaceName, imageTag, kitActionsDir string, declaredPorts []DeclaredPort) (*Entry, error) {
	if entry := p.lookupHealthy(ctx, workspaceName, imageTag); entry != nil {
		return entry, nil
	}
	if err := p.removeIfExists(ctx, workspaceName); err != nil {
		return nil, err
	}
	return p.createContainer(ctx, workspaceName, imageTag, kitActionsDir, declaredPorts)
}

func (p *Pool) lookupHealthy(ctx context.Context, workspaceName, imageTag string) *Entry {
	p.mu.Lock()
	entry, ok := p.entries[workspaceName]
	p.mu.Unlock()

	if !ok {
		adopted, err := p.adoptExistingContainer(ctx, workspaceName)
		if err != nil || adopted == nil {
			return nil
		}
		entry = adopted
	}

	if entry.ImageTag != imageTag {
		return nil
	}
	info, err := p.docker.InspectContainer(ctx, entry.ContainerID)
	if err != nil || info.State == nil || !info.State.Running {
		return nil
	}
	return entry
}

// adoptExistingContainer recovers a workspace's warm container from the
// daemon's labels when the pool's in-memory entry was lost (process
// restart), rather than leaking and recreating it.
func (p *Pool) adoptExistingContainer(ctx context.Context, workspaceName string) (*Entry, error) {
	containers, err := p.docker.ListContainersByLabels(ctx, map[string]string{
		labelWorkspace: workspaceName,
		labelManaged:   "true",
	})
	if err != nil || len(containers) == 0 {
		return nil, err
	}
	c := containers[0]
	entry := &Entry{
		ContainerID:   c.ID,
		WorkspaceName: workspaceName,
		ImageTag:      c.Labels[labelImageTag],
		LastUsed:      time.Now(),
	}
	p.mu.Lock()
	p.entries[workspaceName] = entry
	p.reportContainerCount()
	p.mu.Unlock()
	return entry, nil
}

func (p *Pool) removeIfExists(ctx context.Context, workspaceName string) error {
	p.mu.Lock()
	entry, ok := p.entries[workspaceName]
	delete(p.entries, workspaceName)
	p.reportContainerCount()
	p.mu.Unlock()

	if ok {
		return p.docker.RemoveContainer(ctx, entry.ContainerID)
	}

	containers, err := p.docker.ListContainersByLabels(ctx, map[string]string{
		labelWorkspace: workspaceName,
		labelManaged:   "true",
	})
	if err != nil {
		return err
	}
	for _, c := range containers {
		if err := p.docker.RemoveContainer(ctx, c.ID); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) createContainer(ctx context.Context, workspaceName, imageTag, kitActionsDir string, declaredPorts []DeclaredPort) (*Entry, error) {
	scratch := p.scratchDir(workspaceName)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, fmt.Errorf("warmpool: create scratch dir: %w", err)
	}

	portMap := map[int]int{}
	bindings := map[string]int{}
	for _, declared := range declaredPorts {
		hostPort, err := dockerutil.FindBindablePort(declared.Number)
		if err != nil {
			return nil, platformerr.Wrap(platformerr.AgentRunnerError, "allocate warm container port", err)
		}
		portMap[declared.Number] = hostPort
		bindings[declared.Label] = hostPort
	}
	exposed, portBindings := dockerutil.BuildPortBindings(portMap)

	env := make([]string, 0, len(bindings))
	for label, hostPort := range bindings {
		env = append(env, fmt.Sprintf("PORT_%s=%d", strings.ToUpper(label), hostPort))
	}
	sort.Strings(env)

	mounts := dockerutil.BuildWarmContainerMounts(dockerutil.WarmContainerMountPlan{
		WorkspaceHostPath: p.workspaces.HostPath(workspaceName),
		KitHostPath:       kitActionsDir,
		ScratchHostPath:   scratch,
	})

	name := containerName(workspaceName)
	if existingID, info, err := p.docker.ContainerByName(ctx, name); err == nil && info != nil {
		_ = p.docker.RemoveContainer(ctx, existingID)
	}

	cfg := &container.Config{
		Image:      imageTag,
		Entrypoint: []string{"tail", "-f", "/dev/null"},
		Env:        env,
		Labels: map[string]string{
			labelWorkspace: workspaceName,
			labelImageTag:  imageTag,
			labelManaged:   "true",
		},
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{
		Mounts:       mounts,
		PortBindings: portBindings,
	}

	containerID, err := p.docker.CreateContainer(ctx, cfg, hostCfg, &network.NetworkingConfig{}, name)
	if err != nil {
		return nil, platformerr.Wrap(platformerr.AgentRunnerError, "create warm container", err)
	}
	if err := p.docker.StartContainer(ctx, containerID); err != nil {
		return nil, platformerr.Wrap(platformerr.AgentRunnerError, "start warm container", err)
	}

	entry := &Entry{
		ContainerID:   containerID,
		WorkspaceName: workspaceName,
		ImageTag:      imageTag,
		PortBindings:  bindings,
		LastUsed:      time.Now(),
	}
	p.mu.Lock()
	p.entries[workspaceName] = entry
	p.reportContainerCount()
	p.mu.Unlock()

	return entry, nil
}

// SweepIdle removes every warm container whose last use exceeds the
// pool's idle timeout. Safe to call concurrently with ExecuteTool: each
// removal takes the affected workspace's own lock and re-checks
// staleness under it before acting.
func (p *Pool) SweepIdle(ctx context.Context) int {
	p.mu.Lock()
	now := time.Now()
	var candidates []string
	for workspaceName, entry := range p.entries {
		if now.Sub(entry.LastUsed) > p.idleTimeout {
			candidates = append(candidates, workspaceName)
		}
	}
	p.mu.Unlock()

	evicted := 0
	for _, workspaceName := range candidates {
		lock := p.workspaceLock(workspaceName)
		lock.Lock()

		p.mu.Lock()
		entry, ok := p.entries[workspaceName]
		stillStale := ok && time.Since(entry.LastUsed) > p.idleTimeout
		if stillStale {
			delete(p.entries, workspaceName)
			p.reportContainerCount()
		}
		p.mu.Unlock()

		if stillStale {
			if err := p.docker.RemoveContainer(ctx, entry.ContainerID); err == nil {
				evicted++
			}
		}
		lock.Unlock()
	}
	return evicted
}
