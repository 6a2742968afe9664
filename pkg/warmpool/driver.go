package warmpool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/genbase-project/genbase/pkg/platformerr"
)

// driverScript is the in-container Python entrypoint materialized per
// invocation: it imports the requested action function from the kit's
// mounted actions tree, calls it with the JSON parameters staged
// alongside it, and writes a JSON result (or a traceback on failure).
const driverScript = `import sys
import json
import os
import importlib.util
import traceback

try:
    env_vars = %s
    for key, value in env_vars.items():
        os.environ[key] = str(value)

    sys.path.insert(0, '/repo')
    sys.path.insert(0, '/module')
    os.chdir('/repo')

    module_file = '/module/%s'
    spec = importlib.util.spec_from_file_location('warm_tool_module', module_file)
    if spec is None or spec.loader is None:
        raise ImportError(f"could not load module: {module_file}")
    module = importlib.util.module_from_spec(spec)
    spec.loader.exec_module(module)

    func = getattr(module, %s)

    with open('%s/params.json') as f:
        params = json.load(f)

    result = func(**params)

    with open('%s/result.json', 'w') as f:
        json.dump(result, f)
except Exception:
    with open('%s/error.txt', 'w') as f:
        f.write(traceback.format_exc())
    raise
`

func pyStrLiteral(s string) string {
	encoded, _ := json.Marshal(s)
	return string(encoded)
}

func pyDictLiteral(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %s", pyStrLiteral(k), pyStrLiteral(env[k]))
	}
	b.WriteString("}")
	return b.String()
}

func buildDriverScript(containerScratchDir, fileRelPath, functionName string, env map[string]string) string {
	return fmt.Sprintf(driverScript,
		pyDictLiteral(env),
		fileRelPath,
		pyStrLiteral(functionName),
		containerScratchDir,
		containerScratchDir,
		containerScratchDir,
	)
}

// runDriver materializes the driver script and parameters for one
// invocation under the workspace's scratch tree and execs it inside the
// already-running warm container.
func (p *Pool) runDriver(ctx context.Context, entry *Entry, req ExecRequest) (ToolResult, error) {
	invocationID := uuid.NewString()
	hostDir := filepath.Join(p.scratchDir(req.WorkspaceName), invocationID)
	if err := os.MkdirAll(hostDir, 0o755); err != nil {
		return ToolResult{}, fmt.Errorf("warmpool: create invocation dir: %w", err)
	}
	defer os.RemoveAll(hostDir)

	if err := os.WriteFile(filepath.Join(hostDir, "params.json"), req.ParametersJSON, 0o644); err != nil {
		return ToolResult{}, fmt.Errorf("warmpool: write params: %w", err)
	}

	containerScratchDir := "/scratch/" + invocationID
	script := buildDriverScript(containerScratchDir, req.FileRelPath, req.FunctionName, req.EnvVars)
	if err := os.WriteFile(filepath.Join(hostDir, "driver.py"), []byte(script), 0o644); err != nil {
		return ToolResult{}, fmt.Errorf("warmpool: write driver script: %w", err)
	}

	execResult, err := p.docker.Exec(ctx, entry.ContainerID,
		[]string{"python", containerScratchDir + "/driver.py"}, nil, "/repo")
	if err != nil {
		return ToolResult{}, platformerr.Wrap(platformerr.ToolError, "exec tool driver", err)
	}

	if execResult.ExitCode != 0 {
		if traceback, readErr := os.ReadFile(filepath.Join(hostDir, "error.txt")); readErr == nil {
			return ToolResult{}, platformerr.New(platformerr.ToolError, string(traceback))
		}
		return ToolResult{}, platformerr.New(platformerr.ToolError,
			fmt.Sprintf("tool exited %d: %s", execResult.ExitCode, execResult.Stderr))
	}

	resultBytes, err := os.ReadFile(filepath.Join(hostDir, "result.json"))
	if err != nil {
		return ToolResult{}, platformerr.Wrap(platformerr.ToolError, "read tool result", err)
	}
	return ToolResult{ResultJSON: resultBytes}, nil
}
