package dockerutil

import (
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/mount"
)

// BindMount adds a validated, deduplicated bind mount to dst. Malformed
// or duplicate entries are silently dropped, mirroring the teacher's own
// defensive mount-plan builder.
func BindMount(dst *[]mount.Mount, hostPath, containerPath string, readOnly bool) {
	src := filepath.Clean(strings.TrimSpace(hostPath))
	target := filepath.ToSlash(strings.TrimSpace(containerPath))
	if src == "" || target == "" || !strings.HasPrefix(target, "/") {
		return
	}
	next := mount.Mount{Type: mount.TypeBind, Source: src, Target: target, ReadOnly: readOnly}
	for _, existing := range *dst {
		if existing.Source == src && existing.Target == target {
			return
		}
	}
	*dst = append(*dst, next)
}

// AgentRunnerMountPlan names the four mounts an Agent Runner invocation
// injects into its short-lived container.
type AgentRunnerMountPlan struct {
	WorkspaceHostPath string // -> /repo, RW
	KitHostPath       string // -> /module, RO
	VenvHostPath      string // -> /venv, RW
	ResultHostPath    string // -> /result.json, RW
}

// BuildAgentRunnerMounts assembles the workspace/kit/venv/result mount
// set described in the Agent Runner's spawn step.
func BuildAgentRunnerMounts(plan AgentRunnerMountPlan) []mount.Mount {
	var mounts []mount.Mount
	BindMount(&mounts, plan.WorkspaceHostPath, "/repo", false)
	BindMount(&mounts, plan.KitHostPath, "/module", true)
	BindMount(&mounts, plan.VenvHostPath, "/venv", false)
	BindMount(&mounts, plan.ResultHostPath, "/result.json", false)
	return mounts
}

// WarmContainerMountPlan names the mounts a Warm Container Pool entry is
// created with: the workspace itself, the provider kit's actions tree
// (read-only, so the in-container driver can import the requested
// function), plus a persistent scratch directory tool calls use to stage
// per-invocation driver scripts.
type WarmContainerMountPlan struct {
	WorkspaceHostPath string // -> /repo, RW
	KitHostPath       string // -> /module, RO
	ScratchHostPath   string // -> /scratch, RW
}

// BuildWarmContainerMounts assembles a warm container's long-lived mount
// set.
func BuildWarmContainerMounts(plan WarmContainerMountPlan) []mount.Mount {
	var mounts []mount.Mount
	BindMount(&mounts, plan.WorkspaceHostPath, "/repo", false)
	BindMount(&mounts, plan.KitHostPath, "/module", true)
	BindMount(&mounts, plan.ScratchHostPath, "/scratch", false)
	return mounts
}
