// Package dockerutil wraps the Docker Engine API with the container,
// image, and mount operations the Image Cache, Warm Container Pool, and
// Agent Runner all share.
package dockerutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// Client is a thin, context-aware wrapper over the Docker Engine API
// client, scoped to the operations the platform needs.
type Client struct {
	api *client.Client
}

// NewClient connects to the Docker daemon named by the environment
// (DOCKER_HOST, or the default local socket), negotiating the API
// version and verifying the daemon is reachable.
func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("dockerutil: new client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("dockerutil: ping daemon: %w", err)
	}
	return &Client{api: cli}, nil
}

// Close releases the underlying daemon connection.
func (c *Client) Close() error {
	if c == nil || c.api == nil {
		return nil
	}
	return c.api.Close()
}

// ImageExists reports whether an image tag is present locally.
func (c *Client) ImageExists(ctx context.Context, tag string) (bool, error) {
	_, _, err := c.api.ImageInspectWithRaw(ctx, tag)
	if err == nil {
		return true, nil
	}
	if client.IsErrNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("dockerutil: inspect image %s: %w", tag, err)
}

// RemoveImage deletes a local image tag, used by cache prefix-purge.
func (c *Client) RemoveImage(ctx context.Context, tag string) error {
	_, err := c.api.ImageRemove(ctx, tag, types.ImageRemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("dockerutil: remove image %s: %w", tag, err)
	}
	return nil
}

// ListImagesWithPrefix returns every local image tag with the given
// reference prefix, for purge_prefix support.
func (c *Client) ListImagesWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	images, err := c.api.ImageList(ctx, types.ImageListOptions{})
	if err != nil {
		return nil, fmt.Errorf("dockerutil: list images: %w", err)
	}
	var tags []string
	for _, img := range images {
		for _, repoTag := range img.RepoTags {
			if strings.HasPrefix(repoTag, prefix) {
				tags = append(tags, repoTag)
			}
		}
	}
	return tags, nil
}

// BuildImage builds an image tagged `tag` from an in-memory build
// context (a tar archive built by callers via BuildContextFromDockerfile).
func (c *Client) BuildImage(ctx context.Context, buildContext io.Reader, tag string) error {
	resp, err := c.api.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:       []string{tag},
		Remove:     true,
		PullParent: false,
	})
	if err != nil {
		return fmt.Errorf("dockerutil: build image %s: %w", tag, err)
	}
	defer resp.Body.Close()

	var out strings.Builder
	if _, err := io.Copy(&out, resp.Body); err != nil {
		return fmt.Errorf("dockerutil: read build output for %s: %w", tag, err)
	}
	if strings.Contains(out.String(), `"error"`) {
		return fmt.Errorf("dockerutil: build %s failed: %s", tag, out.String())
	}
	return nil
}

// ContainerByName finds a container by its exact name, returning a nil
// inspect result (not an error) when none exists.
func (c *Client) ContainerByName(ctx context.Context, name string) (string, *types.ContainerJSON, error) {
	info, err := c.api.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("dockerutil: inspect container %s: %w", name, err)
	}
	return info.ID, &info, nil
}

// CreateContainer creates (without starting) a container.
func (c *Client) CreateContainer(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, netCfg *network.NetworkingConfig, name string) (string, error) {
	resp, err := c.api.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name)
	if err != nil {
		return "", fmt.Errorf("dockerutil: create container %s: %w", name, err)
	}
	return resp.ID, nil
}

// StartContainer starts a created container.
func (c *Client) StartContainer(ctx context.Context, containerID string) error {
	if err := c.api.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("dockerutil: start container %s: %w", containerID, err)
	}
	return nil
}

// StopContainer stops a running container, waiting up to timeout for a
// graceful exit before killing it.
func (c *Client) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	if err := c.api.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds}); err != nil {
		return fmt.Errorf("dockerutil: stop container %s: %w", containerID, err)
	}
	return nil
}

// RemoveContainer force-removes a container and its anonymous volumes.
func (c *Client) RemoveContainer(ctx context.Context, containerID string) error {
	err := c.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("dockerutil: remove container %s: %w", containerID, err)
	}
	return nil
}

// InspectContainer returns the full container state.
func (c *Client) InspectContainer(ctx context.Context, containerID string) (types.ContainerJSON, error) {
	info, err := c.api.ContainerInspect(ctx, containerID)
	if err != nil {
		return types.ContainerJSON{}, fmt.Errorf("dockerutil: inspect container %s: %w", containerID, err)
	}
	return info, nil
}

// ListContainersByLabels returns every container (running or not)
// carrying the given labels, used by the Warm Container Pool to locate
// a workspace's existing warm container.
func (c *Client) ListContainersByLabels(ctx context.Context, labels map[string]string) ([]types.Container, error) {
	args := filters.NewArgs()
	for k, v := range labels {
		args.Add("label", k+"="+v)
	}
	list, err := c.api.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("dockerutil: list containers: %w", err)
	}
	return list, nil
}

// ExecResult is the outcome of a non-interactive exec.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Exec runs cmd inside an already-running container and waits for it to
// finish, capturing stdout/stderr separately.
func (c *Client) Exec(ctx context.Context, containerID string, cmd []string, env []string, workDir string) (ExecResult, error) {
	if len(cmd) == 0 {
		return ExecResult{}, errors.New("dockerutil: exec requires a command")
	}

	execResp, err := c.api.ContainerExecCreate(ctx, containerID, types.ExecConfig{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
		Env:          env,
		WorkingDir:   workDir,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("dockerutil: exec create: %w", err)
	}

	attach, err := c.api.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("dockerutil: exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr strings.Builder
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return ExecResult{}, fmt.Errorf("dockerutil: exec read output: %w", err)
	}

	inspect, err := c.api.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("dockerutil: exec inspect: %w", err)
	}

	return ExecResult{ExitCode: inspect.ExitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// Logs returns the combined stdout+stderr of a container.
func (c *Client) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	tailStr := ""
	if tail > 0 {
		tailStr = fmt.Sprintf("%d", tail)
	}
	reader, err := c.api.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: tailStr})
	if err != nil {
		return "", fmt.Errorf("dockerutil: logs %s: %w", containerID, err)
	}
	defer reader.Close()

	var buf strings.Builder
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		_, _ = io.Copy(&buf, reader)
	}
	return buf.String(), nil
}

// HostPortFor resolves the host port bound to a container's published
// TCP port.
func (c *Client) HostPortFor(ctx context.Context, containerID string, containerPort int) (string, error) {
	info, err := c.InspectContainer(ctx, containerID)
	if err != nil {
		return "", err
	}
	if info.NetworkSettings == nil {
		return "", fmt.Errorf("dockerutil: container %s has no network settings", containerID)
	}
	key := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
	bindings, ok := info.NetworkSettings.Ports[key]
	if !ok || len(bindings) == 0 {
		return "", fmt.Errorf("dockerutil: no host port bound for %s", key)
	}
	return bindings[0].HostPort, nil
}
