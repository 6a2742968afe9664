package platform

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/genbase-project/genbase/pkg/config"
	"github.com/genbase-project/genbase/pkg/dockerutil"
	"github.com/genbase-project/genbase/pkg/logger"
)

// requireDocker skips the test unless a Docker daemon is actually
// reachable: New dials the daemon to build the Image Cache and Warm
// Container Pool, so this wiring test is an integration test by nature.
func requireDocker(t *testing.T) {
	t.Helper()
	cli, err := dockerutil.NewClient()
	if err != nil {
		t.Skip("docker daemon not reachable")
	}
	cli.Close()
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Database.Driver = "sqlite3"
	cfg.Database.DSN = dir + "/platform.db"
	cfg.Storage.WorkspaceBaseDir = dir + "/workspaces"
	cfg.Storage.KitBaseDir = dir + "/kits"
	cfg.Storage.VenvBaseDir = dir + "/venvs"
	cfg.Storage.ScratchBaseDir = dir + "/scratch"
	cfg.Bridge.Port = 0
	t.Setenv(cfg.Encryption.KeyEnvVar, "QUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUE=")
	return &cfg
}

func TestNew_WiresEveryComponent(t *testing.T) {
	requireDocker(t)
	requireGit(t)

	cfg := testConfig(t)
	log := logger.GetLogger()

	p, err := New(context.Background(), cfg, log)
	require.NoError(t, err)
	defer p.Close()

	require.NotNil(t, p.Sealer)
	require.NotNil(t, p.Workspace)
	require.NotNil(t, p.Modules)
	require.NotNil(t, p.ApiKeys)
	require.NotNil(t, p.Profiles)
	require.NotNil(t, p.Kits)
	require.NotNil(t, p.Registry)
	require.NotNil(t, p.Edges)
	require.NotNil(t, p.Docker)
	require.NotNil(t, p.Images)
	require.NotNil(t, p.Warm)
	require.NotNil(t, p.Sweeper)
	require.NotNil(t, p.Venvs)
	require.NotNil(t, p.Runner)
	require.NotNil(t, p.Gateway)
	require.NotNil(t, p.ChatHist)
	require.NotNil(t, p.Documents)
	require.NotNil(t, p.Composer)
	require.NotNil(t, p.Settings)
	require.NotNil(t, p.Bridge)
}

func TestNew_SeedsRuntimeDefaultsOnFirstBoot(t *testing.T) {
	requireDocker(t)
	requireGit(t)

	cfg := testConfig(t)
	log := logger.GetLogger()

	p, err := New(context.Background(), cfg, log)
	require.NoError(t, err)
	defer p.Close()

	got, err := p.Settings.GetDuration(context.Background(), "agent_run_timeout_seconds", 0)
	require.NoError(t, err)
	require.Equal(t, cfg.Runtime.AgentRunTimeout, got)
}
