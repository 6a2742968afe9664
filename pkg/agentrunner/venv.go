package agentrunner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/genbase-project/genbase/pkg/platformerr"
)

// bootstrapClientLibrary is installed into every kit venv alongside the
// kit's own declared dependencies, giving the in-container driver script
// its AgentContext/tool-call helpers.
const bootstrapClientLibrary = "genbase-client"

// defaultPythonVersion is used when a base image's interpreter can't be
// probed at all.
const defaultPythonVersion = "3.12"

var pythonVersionPattern = regexp.MustCompile(`^\d+\.\d+$`)

// DetectInterpreterVersion runs a throwaway container from baseImage and
// asks it for its Python minor version, trying python then python3 on
// PATH before giving up and returning defaultPythonVersion.
func DetectInterpreterVersion(ctx context.Context, baseImage string) string {
	for _, interpreter := range []string{"python", "python3"} {
		if version, err := probePythonVersion(ctx, baseImage, interpreter); err == nil {
			return version
		}
	}
	return defaultPythonVersion
}

func probePythonVersion(ctx context.Context, baseImage, interpreter string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "run", "--rm", baseImage,
		interpreter, "-c", "import sys; print(f'{sys.version_info.major}.{sys.version_info.minor}')")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("agentrunner: probe %s version in %s: %w", interpreter, baseImage, err)
	}

	version := strings.TrimSpace(out.String())
	if !pythonVersionPattern.MatchString(version) {
		return "", fmt.Errorf("agentrunner: unexpected %s version output %q", interpreter, version)
	}
	return version, nil
}

// VenvKey identifies one kit version's host-side virtual environment.
// The detected interpreter minor version is part of the key so a kit
// upgrade that also moves its base image to a newer Python gets its own
// venv rather than reusing one built for the old interpreter.
type VenvKey struct {
	Owner       string
	KitID       string
	Version     string
	PythonMinor string
}

func (k VenvKey) dirName() string {
	return fmt.Sprintf("%s_%s_%s_py%s", k.Owner, k.KitID, k.Version, k.PythonMinor)
}

// VenvManager creates and reuses host-side Python virtual environments
// under a shared base directory, one per kit version and interpreter.
type VenvManager struct {
	baseDir string
}

// NewVenvManager wires a VenvManager rooted at baseDir, creating it if
// necessary.
func NewVenvManager(baseDir string) (*VenvManager, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("agentrunner: create venv base dir: %w", err)
	}
	return &VenvManager{baseDir: baseDir}, nil
}

// Ensure returns the host path to key's virtual environment, creating it
// and installing the bootstrap client library plus dependencies the
// first time it's requested.
func (m *VenvManager) Ensure(ctx context.Context, key VenvKey, dependencies []string) (string, error) {
	venvPath := filepath.Join(m.baseDir, key.dirName())
	if venvHasPython(venvPath) {
		return venvPath, nil
	}

	if err := exec.CommandContext(ctx, "python3", "-m", "venv", venvPath).Run(); err != nil {
		return "", platformerr.Wrap(platformerr.AgentRunnerError, "create kit virtualenv", err)
	}

	pip := filepath.Join(venvPath, "bin", "pip")
	install := append([]string{"install", bootstrapClientLibrary}, dependencies...)
	if err := exec.CommandContext(ctx, pip, install...).Run(); err != nil {
		return "", platformerr.Wrap(platformerr.AgentRunnerError, "install kit virtualenv dependencies", err)
	}

	return venvPath, nil
}

func venvHasPython(venvPath string) bool {
	_, err := os.Stat(filepath.Join(venvPath, "bin", "python"))
	return err == nil
}
