// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package recipe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/oauth2/clientcredentials"
)

// registryURLShapeFmt is the default registry's download URL shape (§6):
// https://<host>/<owner>/<repo>/releases/download/<recipe-name>-<version>/recipe.hbs
const registryURLShapeFmt = "https://%s/%s/%s/releases/download/%s-%s/recipe.hbs"

// RegistryClient resolves `name@version` registry recipe sources to
// rendered template bytes, caching the fetched template by the git commit
// the tag resolves to (§4.3 step 2).
type RegistryClient struct {
	Host, Owner, Repo string
	HTTPClient        *http.Client

	// TagResolver maps a release tag to the commit it points at via the
	// registry's API. Swappable for tests; production wiring hits the real
	// host's API, optionally authenticated via ClientCredentials.
	TagResolver      func(ctx context.Context, client *http.Client, owner, repo, tag string) (commit string, err error)
	ClientCredential *clientcredentials.Config

	mu    sync.Mutex
	cache map[string][]byte // keyed by resolved commit
}

// NewRegistryClient builds a client for the default registry host.
func NewRegistryClient(host, owner, repo string) *RegistryClient {
	return &RegistryClient{
		Host:        host,
		Owner:       owner,
		Repo:        repo,
		TagResolver: defaultTagResolver,
		cache:       map[string][]byte{},
	}
}

// WithTokenFromEnv configures client-credentials OAuth2 auth from
// ICP_REGISTRY_TOKEN-shaped environment variables, when present.
func (c *RegistryClient) WithTokenFromEnv() *RegistryClient {
	clientID := os.Getenv("ICP_REGISTRY_CLIENT_ID")
	clientSecret := os.Getenv("ICP_REGISTRY_CLIENT_SECRET")
	tokenURL := os.Getenv("ICP_REGISTRY_TOKEN_URL")
	if clientID == "" || clientSecret == "" || tokenURL == "" {
		return c
	}
	c.ClientCredential = &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	return c
}

func (c *RegistryClient) httpClient(ctx context.Context) *http.Client {
	if c.ClientCredential != nil {
		return c.ClientCredential.Client(ctx)
	}
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Fetch resolves name@version's tag to a commit, downloads (or serves from
// cache) the rendered recipe template bytes.
func (c *RegistryClient) Fetch(ctx context.Context, name, version string) ([]byte, error) {
	// Validate the version looks like a real semver constraint/tag before
	// hitting the network, so malformed recipe references fail fast.
	if _, err := semver.NewVersion(version); err != nil {
		if _, err2 := semver.NewConstraint(version); err2 != nil {
			return nil, fmt.Errorf("recipe: registry version %q is neither a semver version nor constraint: %w", version, err)
		}
	}

	tag := fmt.Sprintf("%s-%s", name, version)
	client := c.httpClient(ctx)
	commit, err := c.TagResolver(ctx, client, c.Owner, c.Repo, tag)
	if err != nil {
		return nil, fmt.Errorf("recipe: resolve tag %q to commit: %w", tag, err)
	}

	c.mu.Lock()
	if cached, ok := c.cache[commit]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	downloadURL := fmt.Sprintf(registryURLShapeFmt, c.Host, c.Owner, c.Repo, name, version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("recipe: GET %s: status %d", downloadURL, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[commit] = data
	c.mu.Unlock()
	return data, nil
}

// defaultTagResolver resolves a tag to the commit it points at via a
// GitHub-shaped "refs/tags" API call.
func defaultTagResolver(ctx context.Context, client *http.Client, owner, repo, tag string) (string, error) {
	apiURL := fmt.Sprintf("https://api.github.com/repos/%s/%s/git/refs/tags/%s", owner, repo, tag)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("GET %s: status %d", apiURL, resp.StatusCode)
	}
	var ref struct {
		Object struct {
			SHA  string `json:"sha"`
			Type string `json:"type"`
		} `json:"object"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		return "", err
	}
	if ref.Object.SHA == "" {
		return "", fmt.Errorf("tag %q resolved to an empty commit", tag)
	}
	return ref.Object.SHA, nil
}
