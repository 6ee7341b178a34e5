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

// Package recipe resolves a Recipe reference (local file, URL, or registry
// tag) into a rendered build/sync step list (C4).
package recipe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceKind classifies a recipe's Source field.
type SourceKind int

const (
	SourceLocalPath SourceKind = iota
	SourceRemoteURL
	SourceRegistry
)

// builtinTypes are reserved recipe type keywords that ignore the checksum
// field entirely (§4.3 step 3).
var builtinTypes = map[string]bool{
	"motoko": true,
	"rust":   true,
	"assets": true,
}

// IsBuiltin reports whether typ is a reserved built-in recipe type.
func IsBuiltin(typ string) bool { return builtinTypes[typ] }

// Ref is a fully specified recipe reference as it appears on a canister
// manifest.
type Ref struct {
	Type          string // e.g. "motoko", "rust", "assets", or a registry recipe name
	Source        string // local path, URL, or "registry@version" (when Type is not builtin)
	SHA256        string
	Configuration map[string]any
}

// Classify determines the Ref's source kind.
func (r Ref) Classify() (SourceKind, error) {
	src := r.Source
	if src == "" {
		src = r.Type
	}
	if strings.Contains(src, "@") && !strings.Contains(src, "://") && !looksLikePath(src) {
		return SourceRegistry, nil
	}
	if u, err := url.Parse(src); err == nil && (u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "sftp") {
		return SourceRemoteURL, nil
	}
	return SourceLocalPath, nil
}

func looksLikePath(s string) bool {
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, ".") || strings.Contains(s, string(os.PathSeparator))
}

// Rendered is the (BuildSteps, SyncSteps) pair produced by resolving a
// recipe.
type Rendered struct {
	Build []RenderedStep `yaml:"build"`
	Sync  []RenderedStep `yaml:"sync,omitempty"`
}

// RenderedStep is the YAML shape of one build or sync step, kept untyped
// here (no `type` switch) since project.manifest is the one place that
// knows how to turn these into project.BuildStep/SyncStep — recipe only
// guarantees the rendered text parses to this shape.
type RenderedStep map[string]any

// Error kinds, each distinct per §4.3's failure semantics.
type FetchError struct{ Err error }

func (e *FetchError) Error() string { return fmt.Sprintf("recipe: fetch failed: %v", e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

type ChecksumMismatchError struct {
	Expected, Actual string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("recipe: checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
}

type RenderError struct{ Err error }

func (e *RenderError) Error() string { return fmt.Sprintf("recipe: render failed: %v", e.Err) }
func (e *RenderError) Unwrap() error { return e.Err }

type YAMLShapeError struct {
	RenderedText string
	Err          error
}

func (e *YAMLShapeError) Error() string {
	return fmt.Sprintf("recipe: rendered output is not valid build/sync YAML: %v\n--- rendered ---\n%s", e.Err, e.RenderedText)
}
func (e *YAMLShapeError) Unwrap() error { return e.Err }

// Fetcher fetches template bytes for remote/registry sources. Production
// wiring uses HTTPFetcher; tests substitute a stub Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, ref Ref) ([]byte, error)
}

// Resolver resolves Refs into Rendered step lists (C4).
type Resolver struct {
	fetcher  Fetcher
	registry *RegistryClient
}

// NewResolver builds a Resolver. registry may be nil if registry-sourced
// recipes are never used.
func NewResolver(fetcher Fetcher, registry *RegistryClient) *Resolver {
	return &Resolver{fetcher: fetcher, registry: registry}
}

// Resolve implements the §4.3 protocol end to end.
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (*Rendered, error) {
	kind, err := ref.Classify()
	if err != nil {
		return nil, err
	}

	var raw []byte
	switch kind {
	case SourceLocalPath:
		raw, err = os.ReadFile(ref.Source)
		if err != nil {
			return nil, &FetchError{Err: err}
		}
	case SourceRemoteURL, SourceRegistry:
		raw, err = r.fetcher.Fetch(ctx, ref)
		if err != nil {
			return nil, &FetchError{Err: err}
		}
	}

	if ref.SHA256 != "" && !IsBuiltin(ref.Type) {
		sum := sha256.Sum256(raw)
		actual := hex.EncodeToString(sum[:])
		if actual != strings.ToLower(ref.SHA256) {
			return nil, &ChecksumMismatchError{Expected: ref.SHA256, Actual: actual}
		}
	}

	renderedText, err := Render(string(raw), ref.Configuration)
	if err != nil {
		return nil, &RenderError{Err: err}
	}

	var out Rendered
	if err := yaml.Unmarshal([]byte(renderedText), &out); err != nil {
		return nil, &YAMLShapeError{RenderedText: renderedText, Err: err}
	}
	if out.Build == nil {
		return nil, &YAMLShapeError{RenderedText: renderedText, Err: fmt.Errorf("missing required `build` key")}
	}
	return &out, nil
}

// HTTPFetcher implements Fetcher for remote URL and registry sources.
type HTTPFetcher struct {
	Client   *http.Client
	Registry *RegistryClient
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, ref Ref) ([]byte, error) {
	kind, err := ref.Classify()
	if err != nil {
		return nil, err
	}
	switch kind {
	case SourceRemoteURL:
		if u, err := url.Parse(ref.Source); err == nil && u.Scheme == "sftp" {
			return fetchSFTP(ctx, ref.Source)
		}
		return fetchURL(ctx, f.client(), ref.Source)
	case SourceRegistry:
		if f.Registry == nil {
			return nil, fmt.Errorf("recipe: registry source %q but no registry client configured", ref.Source)
		}
		name, version, ok := strings.Cut(ref.Source, "@")
		if !ok {
			return nil, fmt.Errorf("recipe: malformed registry source %q", ref.Source)
		}
		return f.Registry.Fetch(ctx, name, version)
	default:
		return nil, fmt.Errorf("recipe: unexpected source kind for HTTPFetcher")
	}
}

func (f *HTTPFetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func fetchURL(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("recipe: GET %s: status %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
