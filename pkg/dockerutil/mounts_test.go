package dockerutil

import (
	"testing"

	"github.com/docker/docker/api/types/mount"
	"github.com/stretchr/testify/require"
)

func TestBindMount_DedupesIdenticalEntries(t *testing.T) {
	var mounts []mount.Mount
	BindMount(&mounts, "/host/a", "/repo", false)
	BindMount(&mounts, "/host/a", "/repo", false)
	require.Len(t, mounts, 1)
}

func TestBindMount_RejectsMalformedTarget(t *testing.T) {
	var mounts []mount.Mount
	BindMount(&mounts, "/host/a", "relative-path", false)
	require.Empty(t, mounts)
}

func TestBuildAgentRunnerMounts_IncludesAllFour(t *testing.T) {
	mounts := BuildAgentRunnerMounts(AgentRunnerMountPlan{
		WorkspaceHostPath: "/ws",
		KitHostPath:       "/kit",
		VenvHostPath:      "/venv",
		ResultHostPath:    "/tmp/result.json",
	})
	require.Len(t, mounts, 4)

	targets := map[string]bool{}
	for _, m := range mounts {
		targets[m.Target] = true
	}
	require.True(t, targets["/repo"])
	require.True(t, targets["/module"])
	require.True(t, targets["/venv"])
	require.True(t, targets["/result.json"])
}

func TestBuildWarmContainerMounts_IncludesScratchKitAndWorkspace(t *testing.T) {
	mounts := BuildWarmContainerMounts(WarmContainerMountPlan{
		WorkspaceHostPath: "/ws",
		KitHostPath:       "/kit",
		ScratchHostPath:   "/scratch-host",
	})
	require.Len(t, mounts, 3)

	targets := map[string]bool{}
	for _, m := range mounts {
		targets[m.Target] = true
	}
	require.True(t, targets["/repo"])
	require.True(t, targets["/module"])
	require.True(t, targets["/scratch"])
}
