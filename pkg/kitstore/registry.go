package kitstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/genbase-project/genbase/pkg/httpclient"
	"github.com/genbase-project/genbase/pkg/platformerr"
)

// RegistryClient fetches kits from the remote registry. Transient failures
// (rate limits, 5xx) are retried with the shared HTTP client's backoff;
// RegistryError from a non-retryable status and MalformedKit never retry.
type RegistryClient struct {
	baseURL    string
	httpClient *httpclient.Client
}

// NewRegistryClient constructs a client against baseURL (typically
// REGISTRY_URL from the environment).
func NewRegistryClient(baseURL string, retries int, backoff time.Duration) *RegistryClient {
	return &RegistryClient{
		baseURL: baseURL,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
			httpclient.WithMaxRetries(retries),
			httpclient.WithBaseDelay(backoff),
		),
	}
}

type kitLookupResponse struct {
	DownloadURL string                 `json:"downloadUrl"`
	KitConfig   map[string]interface{} `json:"kitConfig"`
}

// Fetch downloads the named kit (optionally pinned to a version) and
// returns the raw archive bytes, ready for Store.Upload.
func (c *RegistryClient) Fetch(ctx context.Context, owner, kitID, version string) ([]byte, error) {
	if c.baseURL == "" {
		return nil, platformerr.New(platformerr.RegistryError, "REGISTRY_URL is not configured")
	}
	if version != "" && !ValidSemver(version) {
		return nil, platformerr.New(platformerr.InvalidVersion, fmt.Sprintf("invalid version %q", version))
	}

	lookupURL, err := c.lookupURL(owner, kitID, version)
	if err != nil {
		return nil, fmt.Errorf("kitstore: build registry URL: %w", err)
	}

	var lookup kitLookupResponse
	status, err := c.getJSON(ctx, lookupURL, &lookup)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, platformerr.New(platformerr.KitNotFound, fmt.Sprintf("kit not found in registry: %s/%s", owner, kitID))
	}
	if lookup.DownloadURL == "" {
		return nil, platformerr.New(platformerr.RegistryError, "registry response missing downloadUrl")
	}

	return c.getBytes(ctx, lookup.DownloadURL)
}

func (c *RegistryClient) lookupURL(owner, kitID, version string) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	base.Path = joinURLPath(base.Path, "api/registry/kit")
	q := base.Query()
	q.Set("owner", owner)
	q.Set("id", kitID)
	if version != "" {
		q.Set("version", version)
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func joinURLPath(a, b string) string {
	if a == "" {
		return "/" + b
	}
	if a[len(a)-1] == '/' {
		return a + b
	}
	return a + "/" + b
}

// getJSON performs a retrying GET via httpClient and decodes a JSON body.
// A 404 is reported through the returned status rather than as an error,
// since "kit not found" is never retryable and callers need to tell it
// apart from a transient failure.
func (c *RegistryClient) getJSON(ctx context.Context, target string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, platformerr.Wrap(platformerr.RegistryError, "build request", err)
	}
	resp, httpErr := c.httpClient.Do(req)
	if resp == nil {
		return 0, platformerr.Wrap(platformerr.RegistryError, "registry request failed", httpErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if httpErr != nil || resp.StatusCode >= 400 {
		return resp.StatusCode, platformerr.New(platformerr.RegistryError,
			fmt.Sprintf("registry returned status %d", resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, platformerr.Wrap(platformerr.RegistryError, "decode registry response", err)
	}
	return resp.StatusCode, nil
}

func (c *RegistryClient) getBytes(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, platformerr.Wrap(platformerr.RegistryError, "build download request", err)
	}
	resp, httpErr := c.httpClient.Do(req)
	if resp == nil {
		return nil, platformerr.Wrap(platformerr.RegistryError, "download request failed", httpErr)
	}
	defer resp.Body.Close()

	if httpErr != nil || resp.StatusCode >= 400 {
		return nil, platformerr.New(platformerr.RegistryError, fmt.Sprintf("download returned status %d", resp.StatusCode))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, platformerr.Wrap(platformerr.RegistryError, "read download body", err)
	}
	return data, nil
}
