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

package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/icp-cli/icp/pkg/recipe"
)

// ErrNotFound is returned by Locate when no project root can be found by
// walking upward from the starting directory.
var ErrNotFound = fmt.Errorf("project: no %s found in any parent directory", ManifestFileName)

// Locate walks upward from startDir until a directory containing
// ManifestFileName is found.
func Locate(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, ManifestFileName)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotFound
		}
		dir = parent
	}
}

func isGlob(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// Loader resolves a project manifest tree into a Project (C5).
type Loader struct {
	Resolver *recipe.Resolver
}

// NewLoader builds a Loader. resolver may be nil if no canister in the
// project uses a recipe.
func NewLoader(resolver *recipe.Resolver) *Loader {
	return &Loader{Resolver: resolver}
}

// Load locates and parses the project rooted at or above startDir, fully
// materializing canisters, networks, and environments (§4.4).
func (l *Loader) Load(ctx context.Context, startDir string) (*Project, error) {
	root, err := Locate(startDir)
	if err != nil {
		return nil, err
	}
	return l.LoadFromRoot(ctx, root)
}

// LoadFromRoot parses the manifest at a known project root.
func (l *Loader) LoadFromRoot(ctx context.Context, root string) (*Project, error) {
	raw, err := os.ReadFile(filepath.Join(root, ManifestFileName))
	if err != nil {
		return nil, fmt.Errorf("project: read %s: %w", ManifestFileName, err)
	}
	var manifest rawProjectManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("project: parse %s: %w", ManifestFileName, err)
	}

	canisterDirs, inline, err := resolveCanisterItems(root, manifest)
	if err != nil {
		return nil, err
	}

	canisters := map[string]Canister{}
	for dir, def := range inline {
		c, err := l.loadCanister(ctx, dir, def)
		if err != nil {
			return nil, err
		}
		if _, dup := canisters[c.Name]; dup {
			return nil, fmt.Errorf("project: duplicate canister name %q", c.Name)
		}
		canisters[c.Name] = c
	}
	for _, dir := range canisterDirs {
		manifestPath := filepath.Join(dir, CanisterManifestFileName)
		raw, err := os.ReadFile(manifestPath)
		if err != nil {
			return nil, fmt.Errorf("project: read %s: %w", manifestPath, err)
		}
		var def rawCanisterManifest
		if err := yaml.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("project: parse %s: %w", manifestPath, err)
		}
		c, err := l.loadCanister(ctx, dir, def)
		if err != nil {
			return nil, err
		}
		if _, dup := canisters[c.Name]; dup {
			return nil, fmt.Errorf("project: duplicate canister name %q", c.Name)
		}
		canisters[c.Name] = c
	}

	networks, err := resolveNetworks(root, manifest)
	if err != nil {
		return nil, err
	}
	if _, ok := networks[DefaultNetworkName]; !ok {
		networks[DefaultNetworkName] = Network{
			Name: DefaultNetworkName,
			Managed: &ManagedConfig{
				GatewayHost: "127.0.0.1",
				GatewayPort: GatewayPort{Random: true},
			},
		}
	}

	environments, err := resolveEnvironments(root, manifest)
	if err != nil {
		return nil, err
	}
	if _, ok := environments[DefaultEnvironmentName]; !ok {
		environments[DefaultEnvironmentName] = Environment{
			Name:     DefaultEnvironmentName,
			Network:  DefaultNetworkName,
			Selector: CanisterSelector{Kind: SelectAll},
		}
	}

	// Validate cross-references and materialize each environment's
	// canister sub-mapping (§4.4 steps 5-6).
	for name, env := range environments {
		if _, ok := networks[env.Network]; !ok {
			return nil, fmt.Errorf("project: environment %q references unknown network %q", name, env.Network)
		}
		canisterMap := map[string]string{}
		switch env.Selector.Kind {
		case SelectAll:
			for cname, c := range canisters {
				canisterMap[cname] = c.RootDir
			}
		case SelectNone:
			// leave empty
		case SelectNamed:
			for _, cname := range env.Selector.Names {
				c, ok := canisters[cname]
				if !ok {
					return nil, fmt.Errorf("project: environment %q references unknown canister %q", name, cname)
				}
				canisterMap[cname] = c.RootDir
			}
		}
		env.Canisters = canisterMap
		environments[name] = env
	}

	return &Project{
		RootDir:      root,
		Canisters:    canisters,
		Networks:     networks,
		Environments: environments,
	}, nil
}

// resolveCanisterItems expands the icp.yaml canister(s) field into a list
// of directories to load canister.yaml from, plus a set of inline
// definitions keyed by the directory their relative paths should resolve
// against (§4.4 steps 1-2).
func resolveCanisterItems(root string, manifest rawProjectManifest) ([]string, map[string]rawCanisterManifest, error) {
	inline := map[string]rawCanisterManifest{}
	var patterns []string

	switch {
	case manifest.Canister.Kind != 0:
		var item canisterItem
		if err := manifest.Canister.Decode(&item); err != nil {
			return nil, nil, fmt.Errorf("project: parse `canister`: %w", err)
		}
		if item.Definition != nil {
			inline[root] = *item.Definition
		} else {
			patterns = append(patterns, item.Path)
		}
	case manifest.Canisters.Kind == yaml.ScalarNode:
		patterns = append(patterns, manifest.Canisters.Value)
	case manifest.Canisters.Kind != 0:
		var items []canisterItem
		if err := manifest.Canisters.Decode(&items); err != nil {
			return nil, nil, fmt.Errorf("project: parse `canisters`: %w", err)
		}
		for i, item := range items {
			if item.Definition != nil {
				inline[fmt.Sprintf("%s#%d", root, i)] = *item.Definition
			} else {
				patterns = append(patterns, item.Path)
			}
		}
	default:
		patterns = append(patterns, "canisters/*")
	}

	var dirs []string
	for _, pattern := range patterns {
		full := filepath.Join(root, pattern)
		if isGlob(pattern) {
			matches, err := filepath.Glob(full)
			if err != nil {
				return nil, nil, fmt.Errorf("project: glob %q: %w", pattern, err)
			}
			for _, m := range matches {
				if _, err := os.Stat(filepath.Join(m, CanisterManifestFileName)); err == nil {
					dirs = append(dirs, m)
				}
			}
			continue
		}
		if _, err := os.Stat(filepath.Join(full, CanisterManifestFileName)); err != nil {
			return nil, nil, fmt.Errorf("project: canister path %q does not contain %s", pattern, CanisterManifestFileName)
		}
		dirs = append(dirs, full)
	}
	sort.Strings(dirs)
	return dirs, inline, nil
}

// inline canister defs use a synthetic "<root>#<index>" key so the map
// doesn't collide when several inline definitions share root as their
// RootDir; loadCanister strips the suffix back off before using it.
func rootDirFromInlineKey(key string) string {
	if idx := strings.LastIndex(key, "#"); idx != -1 {
		return key[:idx]
	}
	return key
}

func (l *Loader) loadCanister(ctx context.Context, dirKey string, def rawCanisterManifest) (Canister, error) {
	dir := rootDirFromInlineKey(dirKey)
	if def.Name == "" {
		return Canister{}, fmt.Errorf("project: canister manifest at %s missing `name`", dir)
	}

	hasRecipe := def.Recipe != nil
	hasBuild := len(def.Build) > 0
	hasSync := len(def.Sync) > 0

	if hasRecipe && hasBuild {
		return Canister{}, fmt.Errorf("project: canister %q declares both `recipe` and `build`", def.Name)
	}
	if !hasRecipe && !hasBuild {
		return Canister{}, fmt.Errorf("project: canister %q declares neither `recipe` nor `build`", def.Name)
	}
	if hasRecipe && hasSync {
		return Canister{}, fmt.Errorf("project: canister %q declares `sync` alongside `recipe`", def.Name)
	}

	var build []BuildStep
	var sync []SyncStep

	if hasRecipe {
		if l.Resolver == nil {
			return Canister{}, fmt.Errorf("project: canister %q uses a recipe but no RecipeResolver is configured", def.Name)
		}
		rendered, err := l.Resolver.Resolve(ctx, recipe.Ref{
			Type:          def.Recipe.Type,
			Source:        def.Recipe.Source,
			SHA256:        def.Recipe.SHA256,
			Configuration: def.Recipe.Configuration,
		})
		if err != nil {
			return Canister{}, fmt.Errorf("project: resolve recipe for canister %q: %w", def.Name, err)
		}
		for _, n := range rendered.Build {
			step, err := decodeBuildStep(toYAMLNode(n))
			if err != nil {
				return Canister{}, err
			}
			build = append(build, step)
		}
		for _, n := range rendered.Sync {
			step, err := decodeSyncStep(toYAMLNode(n))
			if err != nil {
				return Canister{}, err
			}
			sync = append(sync, step)
		}
	} else {
		for _, n := range def.Build {
			step, err := decodeBuildStep(n)
			if err != nil {
				return Canister{}, err
			}
			build = append(build, step)
		}
		for _, n := range def.Sync {
			step, err := decodeSyncStep(n)
			if err != nil {
				return Canister{}, err
			}
			sync = append(sync, step)
		}
	}

	var initArgs []byte
	initArgsIs := ""
	if def.InitArgs.Kind != 0 {
		switch def.InitArgs.Kind {
		case yaml.ScalarNode:
			initArgs = []byte(def.InitArgs.Value)
			initArgsIs = "text"
		default:
			b, err := yaml.Marshal(&def.InitArgs)
			if err != nil {
				return Canister{}, fmt.Errorf("project: canister %q init-args: %w", def.Name, err)
			}
			initArgs = b
			initArgsIs = "binary"
		}
	}

	return Canister{
		Name:       def.Name,
		Settings:   def.Settings,
		Build:      build,
		Sync:       sync,
		InitArgs:   initArgs,
		InitArgsIs: initArgsIs,
		RootDir:    dir,
	}, nil
}

// toYAMLNode re-marshals a recipe.RenderedStep (a plain map[string]any) back
// into a yaml.Node so decodeBuildStep/decodeSyncStep can share their
// decoding path with manifest-declared steps.
func toYAMLNode(step recipe.RenderedStep) yaml.Node {
	var n yaml.Node
	b, err := yaml.Marshal(step)
	if err != nil {
		return n
	}
	_ = yaml.Unmarshal(b, &n)
	if len(n.Content) == 1 {
		return *n.Content[0]
	}
	return n
}

func resolveNetworks(root string, manifest rawProjectManifest) (map[string]Network, error) {
	networks := map[string]Network{}
	var items []networkItem

	switch {
	case manifest.Network.Kind != 0:
		var item networkItem
		if err := manifest.Network.Decode(&item); err != nil {
			return nil, fmt.Errorf("project: parse `network`: %w", err)
		}
		items = append(items, item)
	case manifest.Networks.Kind != 0:
		if err := manifest.Networks.Decode(&items); err != nil {
			return nil, fmt.Errorf("project: parse `networks`: %w", err)
		}
	}

	for _, item := range items {
		var def rawNetworkManifest
		if item.Definition != nil {
			def = *item.Definition
		} else {
			path := filepath.Join(root, item.Path)
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("project: read network manifest %s: %w", path, err)
			}
			if err := yaml.Unmarshal(raw, &def); err != nil {
				return nil, fmt.Errorf("project: parse network manifest %s: %w", path, err)
			}
		}
		if def.Name == "" {
			return nil, fmt.Errorf("project: network manifest missing `name`")
		}
		if def.Name == ReservedNetworkName {
			return nil, fmt.Errorf("project: network name %q is reserved and may not be redefined", ReservedNetworkName)
		}
		if _, dup := networks[def.Name]; dup {
			return nil, fmt.Errorf("project: duplicate network name %q", def.Name)
		}
		net, err := buildNetwork(def)
		if err != nil {
			return nil, err
		}
		networks[def.Name] = net
	}
	return networks, nil
}

func buildNetwork(def rawNetworkManifest) (Network, error) {
	if def.isConnected() {
		return Network{
			Name: def.Name,
			Connected: &ConnectedConfig{
				APIURL:     def.APIURL,
				GatewayURL: def.GatewayURL,
				RootKeyHex: def.RootKeyHex,
			},
		}, nil
	}

	gp := GatewayPort{Random: true}
	if def.GatewayPort != "" && !strings.EqualFold(def.GatewayPort, "any") {
		port, err := strconv.ParseUint(def.GatewayPort, 10, 16)
		if err != nil {
			return Network{}, fmt.Errorf("project: network %q gateway-port %q is not \"any\" or a numeric port: %w", def.Name, def.GatewayPort, err)
		}
		gp = GatewayPort{Fixed: true, Port: uint16(port)}
	}
	host := def.GatewayHost
	if host == "" {
		host = "127.0.0.1"
	}
	return Network{
		Name: def.Name,
		Managed: &ManagedConfig{
			GatewayHost: host,
			GatewayPort: gp,
			II:          def.II,
			NNS:         def.NNS,
			Subnets:     def.Subnets,
			Version:     def.Version,
		},
	}, nil
}

func resolveEnvironments(root string, manifest rawProjectManifest) (map[string]Environment, error) {
	environments := map[string]Environment{}
	var items []environmentItem

	switch {
	case manifest.Environment.Kind != 0:
		var item environmentItem
		if err := manifest.Environment.Decode(&item); err != nil {
			return nil, fmt.Errorf("project: parse `environment`: %w", err)
		}
		items = append(items, item)
	case manifest.Environments.Kind != 0:
		if err := manifest.Environments.Decode(&items); err != nil {
			return nil, fmt.Errorf("project: parse `environments`: %w", err)
		}
	}

	for _, item := range items {
		var def rawEnvironmentManifest
		if item.Definition != nil {
			def = *item.Definition
		} else {
			path := filepath.Join(root, item.Path)
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("project: read environment manifest %s: %w", path, err)
			}
			if err := yaml.Unmarshal(raw, &def); err != nil {
				return nil, fmt.Errorf("project: parse environment manifest %s: %w", path, err)
			}
		}
		if def.Name == "" {
			return nil, fmt.Errorf("project: environment manifest missing `name`")
		}
		if _, dup := environments[def.Name]; dup {
			return nil, fmt.Errorf("project: duplicate environment name %q", def.Name)
		}
		selector, err := decodeCanisterSelector(def.Canisters)
		if err != nil {
			return nil, err
		}
		network := def.Network
		if network == "" {
			network = DefaultNetworkName
		}
		environments[def.Name] = Environment{
			Name:     def.Name,
			Network:  network,
			Selector: selector,
		}
	}
	return environments, nil
}
