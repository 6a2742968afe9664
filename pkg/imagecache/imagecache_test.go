package imagecache

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeDocker struct {
	mu          sync.Mutex
	images      map[string]bool
	buildCount  int32
	buildBlock  chan struct{}
	buildErr    error
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{images: map[string]bool{}}
}

func (f *fakeDocker) ImageExists(ctx context.Context, tag string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[tag], nil
}

func (f *fakeDocker) BuildImage(ctx context.Context, buildContext io.Reader, tag string) error {
	atomic.AddInt32(&f.buildCount, 1)
	if f.buildBlock != nil {
		<-f.buildBlock
	}
	if f.buildErr != nil {
		return f.buildErr
	}
	f.mu.Lock()
	f.images[tag] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeDocker) RemoveImage(ctx context.Context, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.images, tag)
	return nil
}

func (f *fakeDocker) ListImagesWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var tags []string
	for tag := range f.images {
		if len(tag) >= len(prefix) && tag[:len(prefix)] == prefix {
			tags = append(tags, tag)
		}
	}
	return tags, nil
}

func TestCacheKey_IsOrderIndependent(t *testing.T) {
	a := CacheKey("python:3.11-slim", []string{"requests", "pydantic"})
	b := CacheKey("python:3.11-slim", []string{"pydantic", "requests"})
	require.Equal(t, a, b)
}

func TestCacheKey_DiffersByBaseImage(t *testing.T) {
	a := CacheKey("python:3.11-slim", []string{"requests"})
	b := CacheKey("python:3.12-slim", []string{"requests"})
	require.NotEqual(t, a, b)
}

func TestCache_GetOrBuild_BuildsOnMiss(t *testing.T) {
	docker := newFakeDocker()
	cache := newCacheWithBackend(docker)

	tag, err := cache.GetOrBuild(context.Background(), "python:3.11-slim", []string{"requests"})
	require.NoError(t, err)
	require.Contains(t, tag, "function-runner-")
	require.EqualValues(t, 1, docker.buildCount)
}

func TestCache_GetOrBuild_ReusesExistingImage(t *testing.T) {
	docker := newFakeDocker()
	cache := newCacheWithBackend(docker)
	ctx := context.Background()

	tag, err := cache.GetOrBuild(ctx, "python:3.11-slim", []string{"requests"})
	require.NoError(t, err)

	_, err = cache.GetOrBuild(ctx, "python:3.11-slim", []string{"requests"})
	require.NoError(t, err)
	require.EqualValues(t, 1, docker.buildCount)
	require.True(t, docker.images[tag])
}

func TestCache_GetOrBuild_CoalescesConcurrentBuilds(t *testing.T) {
	docker := newFakeDocker()
	docker.buildBlock = make(chan struct{})
	cache := newCacheWithBackend(docker)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cache.GetOrBuild(ctx, "python:3.11-slim", []string{"requests"})
		}()
	}

	close(docker.buildBlock)
	wg.Wait()

	require.EqualValues(t, 1, docker.buildCount)
}

func TestCache_PurgePrefix_RemovesMatchingTags(t *testing.T) {
	docker := newFakeDocker()
	cache := newCacheWithBackend(docker)
	ctx := context.Background()

	_, err := cache.GetOrBuild(ctx, "python:3.11-slim", []string{"requests"})
	require.NoError(t, err)
	docker.images["other-image"] = true

	n, err := cache.PurgePrefix(ctx, "function-runner-")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.True(t, docker.images["other-image"])
}
