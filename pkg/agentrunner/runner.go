package agentrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/google/uuid"

	"github.com/genbase-project/genbase/pkg/dockerutil"
	"github.com/genbase-project/genbase/pkg/funcparser"
	"github.com/genbase-project/genbase/pkg/kitstore"
	"github.com/genbase-project/genbase/pkg/module"
	"github.com/genbase-project/genbase/pkg/observability"
	"github.com/genbase-project/genbase/pkg/platformerr"
	"github.com/genbase-project/genbase/pkg/workspace"
)

// defaultPollInterval is how often the supervisor loop checks a running
// container's state.
const defaultPollInterval = time.Second

// dockerBackend is the slice of dockerutil.Client the runner needs,
// narrowed to an interface so tests can substitute a fake daemon.
type dockerBackend interface {
	CreateContainer(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, netCfg *network.NetworkingConfig, name string) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, containerID string) error
	InspectContainer(ctx context.Context, containerID string) (types.ContainerJSON, error)
	Logs(ctx context.Context, containerID string, tail int) (string, error)
}

// moduleLookup is the slice of module.Registry the runner needs.
type moduleLookup interface {
	GetModule(ctx context.Context, moduleID string) (module.Module, error)
	SetExecuting(ctx context.Context, moduleID string) error
	SetStandby(ctx context.Context, moduleID string) error
}

// kitLookup is the slice of kitstore.Store the runner needs.
type kitLookup interface {
	GetKitConfig(owner, kitID, version string) (*kitstore.Manifest, error)
}

// workspaceHostPather is the slice of workspace.Store the runner needs.
type workspaceHostPather interface {
	HostPath(workspaceName string) string
}

// venvEnsurer is the slice of VenvManager the runner needs.
type venvEnsurer interface {
	Ensure(ctx context.Context, key VenvKey, dependencies []string) (string, error)
}

// Runner spawns one short-lived container per agent invocation: it never
// reuses containers across calls, unlike the Warm Container Pool.
type Runner struct {
	docker         dockerBackend
	modules        moduleLookup
	kits           kitLookup
	workspaces     workspaceHostPather
	venvs          venvEnsurer
	detectPython   func(ctx context.Context, baseImage string) string
	defaultTimeout time.Duration
	metrics        *observability.Metrics
}

// NewRunner wires a Runner over real backends.
func NewRunner(docker *dockerutil.Client, modules *module.Registry, kits *kitstore.Store, workspaces *workspace.Store, venvs *VenvManager, defaultTimeout time.Duration) *Runner {
	return newRunnerWithBackends(docker, modules, kits, workspaces, venvs, DetectInterpreterVersion, defaultTimeout)
}

func newRunnerWithBackends(docker dockerBackend, modules moduleLookup, kits kitLookup, workspaces workspaceHostPather, venvs venvEnsurer, detectPython func(context.Context, string) string, defaultTimeout time.Duration) *Runner {
	return &Runner{
		docker:         docker,
		modules:        modules,
		kits:           kits,
		workspaces:     workspaces,
		venvs:          venvs,
		detectPython:   detectPython,
		defaultTimeout: defaultTimeout,
	}
}

// WithMetrics attaches a Prometheus metrics sink; every Run call records
// active-run gauges and per-call duration/error counters against it. A
// nil metrics (the default) makes every recording call a no-op.
func (r *Runner) WithMetrics(metrics *observability.Metrics) *Runner {
	r.metrics = metrics
	return r
}

// Run resolves agentCtx's module and profile, provisions the kit's
// virtualenv, spawns a one-shot container running the profile's agent
// class, and returns its normalized result.
func (r *Runner) Run(ctx context.Context, agentCtx AgentContext, opts RunOptions) (RunResult, error) {
	start := time.Now()
	r.metrics.IncAgentActiveRuns(agentCtx.ModuleID)
	defer r.metrics.DecAgentActiveRuns(agentCtx.ModuleID)

	result, err := r.run(ctx, agentCtx, opts)

	r.metrics.RecordAgentCall(agentCtx.ModuleID, agentCtx.Profile, time.Since(start))
	if err != nil {
		r.metrics.RecordAgentError(agentCtx.ModuleID, agentCtx.Profile, string(platformerr.KindOf(err)))
	}
	return result, err
}

func (r *Runner) run(ctx context.Context, agentCtx AgentContext, opts RunOptions) (RunResult, error) {
	mod, err := r.modules.GetModule(ctx, agentCtx.ModuleID)
	if err != nil {
		return RunResult{}, err
	}
	manifest, err := r.kits.GetKitConfig(mod.Owner, mod.KitID, mod.Version)
	if err != nil {
		return RunResult{}, err
	}
	agentClass, err := agentClassForProfile(manifest, agentCtx.Profile)
	if err != nil {
		return RunResult{}, err
	}

	if err := r.modules.SetExecuting(ctx, agentCtx.ModuleID); err != nil {
		return RunResult{}, err
	}
	defer func() {
		_ = r.modules.SetStandby(ctx, agentCtx.ModuleID)
	}()

	pythonMinor := r.detectPython(ctx, manifest.BaseImage)
	venvPath, err := r.venvs.Ensure(ctx, VenvKey{
		Owner:       mod.Owner,
		KitID:       mod.KitID,
		Version:     mod.Version,
		PythonMinor: pythonMinor,
	}, manifest.Dependencies)
	if err != nil {
		return RunResult{}, err
	}

	resultDir, err := os.MkdirTemp("", "genbase-agent-result-*")
	if err != nil {
		return RunResult{}, platformerr.Wrap(platformerr.AgentRunnerError, "create result staging dir", err)
	}
	defer os.RemoveAll(resultDir)
	resultHostPath := filepath.Join(resultDir, "result.json")
	if err := os.WriteFile(resultHostPath, nil, 0o644); err != nil {
		return RunResult{}, platformerr.Wrap(platformerr.AgentRunnerError, "stage result file", err)
	}

	scriptDir, err := os.MkdirTemp("", "genbase-agent-driver-*")
	if err != nil {
		return RunResult{}, platformerr.Wrap(platformerr.AgentRunnerError, "create driver staging dir", err)
	}
	defer os.RemoveAll(scriptDir)
	driverHostPath := filepath.Join(scriptDir, "run_agent.py")
	if err := os.WriteFile(driverHostPath, []byte(agentDriverScript), 0o644); err != nil {
		return RunResult{}, platformerr.Wrap(platformerr.AgentRunnerError, "stage driver script", err)
	}

	mounts := dockerutil.BuildAgentRunnerMounts(dockerutil.AgentRunnerMountPlan{
		WorkspaceHostPath: r.workspaces.HostPath(mod.WorkspaceName),
		KitHostPath:       manifest.KitPath,
		VenvHostPath:      venvPath,
		ResultHostPath:    resultHostPath,
	})
	dockerutil.BindMount(&mounts, driverHostPath, "/run_agent.py", true)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	cfg := &container.Config{
		Image:      manifest.BaseImage,
		Entrypoint: []string{"python", "/run_agent.py"},
		Env:        buildAgentEnv(agentCtx, agentClass, mod, opts, pythonMinor),
		Labels: map[string]string{
			"genbase.module_id": mod.ModuleID,
			"genbase.profile":   agentCtx.Profile,
		},
		WorkingDir: "/repo",
	}
	hostCfg := &container.HostConfig{
		Mounts:     mounts,
		ExtraHosts: []string{"host.docker.internal:host-gateway"},
	}

	containerID, err := r.docker.CreateContainer(ctx, cfg, hostCfg, &network.NetworkingConfig{}, containerName(mod.ModuleID, agentCtx.Profile))
	if err != nil {
		return RunResult{}, platformerr.Wrap(platformerr.AgentRunnerError, "create agent container", err)
	}
	defer func() {
		if !opts.Keep {
			_ = r.docker.RemoveContainer(context.Background(), containerID)
		}
	}()

	if err := r.docker.StartContainer(ctx, containerID); err != nil {
		return RunResult{}, platformerr.Wrap(platformerr.AgentRunnerError, "start agent container", err)
	}

	exitCode, err := r.supervise(ctx, containerID, timeout)
	if err != nil {
		return RunResult{}, err
	}

	return r.readResult(ctx, containerID, resultHostPath, exitCode)
}

// supervise polls containerID every second until it exits or timeout
// elapses, stopping it on timeout. It returns the container's exit code
// (or -1 if it had to be force-stopped).
func (r *Runner) supervise(ctx context.Context, containerID string, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		info, err := r.docker.InspectContainer(ctx, containerID)
		if err != nil {
			return 0, platformerr.Wrap(platformerr.AgentRunnerError, "inspect agent container", err)
		}
		if info.State != nil && !info.State.Running {
			return info.State.ExitCode, nil
		}
		if time.Now().After(deadline) {
			_ = r.docker.StopContainer(ctx, containerID, 10*time.Second)
			return -1, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// readResult loads the agent's normalized JSON result from resultHostPath.
// Per the supervisor contract, a nonzero exit code still yields a valid
// result if the driver script managed to write one (it always tries,
// even on error) before failing outright with captured container logs.
func (r *Runner) readResult(ctx context.Context, containerID, resultHostPath string, exitCode int) (RunResult, error) {
	resultBytes, readErr := os.ReadFile(resultHostPath)
	if readErr != nil || len(resultBytes) == 0 {
		logs, _ := r.docker.Logs(ctx, containerID, 200)
		return RunResult{}, platformerr.New(platformerr.AgentRunnerError,
			fmt.Sprintf("agent container exited %d with no result; logs:\n%s", exitCode, logs))
	}

	var result RunResult
	if err := json.Unmarshal(resultBytes, &result); err != nil {
		return RunResult{}, platformerr.Wrap(platformerr.AgentRunnerError, "decode agent result", err)
	}
	return result, nil
}

// GetAgentToolsSchema resolves a profile's agent class and returns its
// tool catalog via static analysis, without spawning a container.
func (r *Runner) GetAgentToolsSchema(ctx context.Context, moduleID, profile string) ([]funcparser.Descriptor, error) {
	mod, err := r.modules.GetModule(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	manifest, err := r.kits.GetKitConfig(mod.Owner, mod.KitID, mod.Version)
	if err != nil {
		return nil, err
	}
	agentClass, err := agentClassForProfile(manifest, profile)
	if err != nil {
		return nil, err
	}
	return funcparser.ProbeToolSchema(filepath.Join(manifest.KitPath, "agents"), agentClass)
}

func agentClassForProfile(manifest *kitstore.Manifest, profile string) (string, error) {
	prof, ok := manifest.Profiles[profile]
	if !ok {
		return "", platformerr.New(platformerr.AgentRunnerError, fmt.Sprintf("profile %q not declared in kit manifest", profile))
	}
	for _, agent := range manifest.Agents {
		if agent.Name == prof.Agent {
			return agent.Class, nil
		}
	}
	return "", platformerr.New(platformerr.AgentRunnerError, fmt.Sprintf("agent %q not declared in kit manifest", prof.Agent))
}

func containerName(moduleID, profile string) string {
	sanitizedProfile := strings.NewReplacer("/", "-", ":", "-", " ", "-").Replace(profile)
	return fmt.Sprintf("genbase-agent-%s-%s-%s", moduleID, sanitizedProfile, uuid.NewString()[:8])
}

func buildAgentEnv(agentCtx AgentContext, agentClass string, mod module.Module, opts RunOptions, pythonMinor string) []string {
	sessionID := agentCtx.SessionID
	if sessionID == "" {
		sessionID = "00000000-0000-0000-0000-000000000000"
	}

	env := []string{
		"AGENT_MODULE_ID=" + agentCtx.ModuleID,
		"AGENT_PROFILE=" + agentCtx.Profile,
		"AGENT_USER_INPUT=" + agentCtx.UserInput,
		"AGENT_SESSION_ID=" + sessionID,
		"AGENT_CLASS_NAME=" + agentClass,
		"BRIDGE_HOST=" + opts.BridgeHost,
		"BRIDGE_PORT=" + strconv.Itoa(opts.BridgePort),
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONUNBUFFERED=1",
		"PYTHONPATH=" + pythonPathFor(pythonMinor),
	}

	keys := make([]string, 0, len(mod.EnvVars))
	for k := range mod.EnvVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+mod.EnvVars[k])
	}
	return env
}

// pythonPathFor points the agent at its venv's site-packages, trying the
// detected interpreter version plus the platform's supported fallbacks in
// case detection landed on a minor version the venv wasn't built for.
func pythonPathFor(pythonMinor string) string {
	versions := []string{pythonMinor, "3.12", "3.11", "3.10"}
	seen := map[string]bool{}
	var parts []string
	for _, v := range versions {
		if seen[v] {
			continue
		}
		seen[v] = true
		parts = append(parts, fmt.Sprintf("/venv/lib/python%s/site-packages", v))
	}
	return strings.Join(parts, ":")
}
