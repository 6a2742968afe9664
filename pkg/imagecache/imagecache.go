// Package imagecache implements the Image Cache: a content-hash-keyed
// Docker image cache for function-runner images, with single-flight
// build coalescing and prefix-based eviction.
package imagecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/genbase-project/genbase/pkg/dockerutil"
	"github.com/genbase-project/genbase/pkg/platformerr"
)

// tagPrefix names every image this cache builds, used by PurgePrefix's
// default scope.
const tagPrefix = "function-runner-"

const bootstrapLibrary = "cloudpickle"

// dockerBackend is the slice of dockerutil.Client this cache needs,
// narrowed to an interface so tests can substitute a fake daemon.
type dockerBackend interface {
	ImageExists(ctx context.Context, tag string) (bool, error)
	BuildImage(ctx context.Context, buildContext io.Reader, tag string) error
	RemoveImage(ctx context.Context, tag string) error
	ListImagesWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Cache builds and reuses derived Docker images keyed by
// hash(base_image, sorted(dependencies)).
type Cache struct {
	docker dockerBackend
	group  singleflight.Group
}

// NewCache wires a Cache over an existing Docker client.
func NewCache(docker *dockerutil.Client) *Cache {
	return &Cache{docker: docker}
}

// newCacheWithBackend is the test-only constructor accepting a fake
// dockerBackend.
func newCacheWithBackend(docker dockerBackend) *Cache {
	return &Cache{docker: docker}
}

// CacheKey computes the deterministic tag for a (base_image,
// dependencies) pair: dependencies are sorted before hashing so
// argument order never produces a cache miss.
func CacheKey(baseImage string, dependencies []string) string {
	sorted := append([]string(nil), dependencies...)
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(baseImage + "|" + strings.Join(sorted, ",")))
	digest := hex.EncodeToString(sum[:])[:12]

	safeBase := strings.NewReplacer(":", "-", "/", "-").Replace(baseImage)
	return fmt.Sprintf("%s%s-%s", tagPrefix, safeBase, digest)
}

// GetOrBuild returns the cached image tag for (baseImage, dependencies),
// building it on a cache miss. Concurrent requests for the same key
// coalesce onto a single build via singleflight.
func (c *Cache) GetOrBuild(ctx context.Context, baseImage string, dependencies []string) (string, error) {
	tag := CacheKey(baseImage, dependencies)

	exists, err := c.docker.ImageExists(ctx, tag)
	if err != nil {
		return "", platformerr.Wrap(platformerr.DBError, "check image cache", err)
	}
	if exists {
		return tag, nil
	}

	result, err, _ := c.group.Do(tag, func() (interface{}, error) {
		if exists, err := c.docker.ImageExists(ctx, tag); err == nil && exists {
			return tag, nil
		}

		dockerfile := buildDockerfile(baseImage, dependencies)
		buildCtx, err := dockerutil.BuildContextFromDockerfile(dockerfile)
		if err != nil {
			return nil, err
		}
		if err := c.docker.BuildImage(ctx, buildCtx, tag); err != nil {
			return nil, err
		}
		return tag, nil
	})
	if err != nil {
		return "", platformerr.Wrap(platformerr.AgentRunnerError, fmt.Sprintf("build image for %s", baseImage), err)
	}

	return result.(string), nil
}

func buildDockerfile(baseImage string, dependencies []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", baseImage)
	fmt.Fprintf(&b, "RUN pip install --no-cache-dir %s", bootstrapLibrary)
	sorted := append([]string(nil), dependencies...)
	sort.Strings(sorted)
	for _, dep := range sorted {
		fmt.Fprintf(&b, " %s", dep)
	}
	b.WriteString("\n")
	return b.String()
}

// PurgePrefix removes every locally cached image tag starting with
// prefix (e.g. "function-runner-"). Eviction is never automatic; this is
// the only path that frees cache entries.
func (c *Cache) PurgePrefix(ctx context.Context, prefix string) (int, error) {
	tags, err := c.docker.ListImagesWithPrefix(ctx, prefix)
	if err != nil {
		return 0, err
	}
	for _, tag := range tags {
		if err := c.docker.RemoveImage(ctx, tag); err != nil {
			return 0, err
		}
	}
	return len(tags), nil
}
