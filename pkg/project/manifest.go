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
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestFileName is the project manifest's required filename.
const ManifestFileName = "icp.yaml"

// CanisterManifestFileName is a canister directory's required filename.
const CanisterManifestFileName = "canister.yaml"

// rawProjectManifest is the on-disk shape of icp.yaml, accepting both the
// singular and plural spellings of each collection field (§4.4 step 1).
type rawProjectManifest struct {
	Canister     yaml.Node `yaml:"canister"`
	Canisters    yaml.Node `yaml:"canisters"`
	Network      yaml.Node `yaml:"network"`
	Networks     yaml.Node `yaml:"networks"`
	Environment  yaml.Node `yaml:"environment"`
	Environments yaml.Node `yaml:"environments"`
}

// canisterItem is either a bare path/glob string or an inline canister
// definition, distinguished by YAML node kind.
type canisterItem struct {
	Path       string
	Definition *rawCanisterManifest
}

func (c *canisterItem) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		return n.Decode(&c.Path)
	}
	var def rawCanisterManifest
	if err := n.Decode(&def); err != nil {
		return err
	}
	c.Definition = &def
	return nil
}

// rawCanisterManifest is the on-disk shape of canister.yaml (or an inline
// canister definition embedded in icp.yaml).
type rawCanisterManifest struct {
	Name     string    `yaml:"name"`
	Settings Settings  `yaml:"settings"`
	Recipe   *rawRecipe `yaml:"recipe"`
	Build    []yaml.Node `yaml:"build"`
	Sync     []yaml.Node `yaml:"sync"`
	InitArgs yaml.Node `yaml:"init-args"`
}

type rawRecipe struct {
	Type          string         `yaml:"type"`
	Source        string         `yaml:"source"`
	SHA256        string         `yaml:"sha256"`
	Configuration map[string]any `yaml:"configuration"`
}

// networkItem is either a bare path/glob string or an inline network
// definition.
type networkItem struct {
	Path       string
	Definition *rawNetworkManifest
}

func (n *networkItem) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&n.Path)
	}
	var def rawNetworkManifest
	if err := node.Decode(&def); err != nil {
		return err
	}
	n.Definition = &def
	return nil
}

type rawNetworkManifest struct {
	Name string `yaml:"name"`

	// Managed fields
	GatewayHost string   `yaml:"gateway-host"`
	GatewayPort string   `yaml:"gateway-port"` // "any" or a fixed numeric string
	II          bool     `yaml:"ii"`
	NNS         bool     `yaml:"nns"`
	Subnets     []string `yaml:"subnets"`
	Version     string   `yaml:"version"`

	// Connected fields
	APIURL     string `yaml:"api-url"`
	GatewayURL string `yaml:"gateway-url"`
	RootKeyHex string `yaml:"root-key"`
}

func (n rawNetworkManifest) isConnected() bool {
	return n.APIURL != "" || n.GatewayURL != "" || n.RootKeyHex != ""
}

// environmentItem is either a bare path/glob string or an inline
// environment definition.
type environmentItem struct {
	Path       string
	Definition *rawEnvironmentManifest
}

func (e *environmentItem) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&e.Path)
	}
	var def rawEnvironmentManifest
	if err := node.Decode(&def); err != nil {
		return err
	}
	e.Definition = &def
	return nil
}

type rawEnvironmentManifest struct {
	Name      string   `yaml:"name"`
	Network   string   `yaml:"network"`
	Canisters yaml.Node `yaml:"canisters"` // "none", "all", or a name list; absent means "all"
}

func decodeCanisterSelector(n yaml.Node) (CanisterSelector, error) {
	if n.Kind == 0 {
		return CanisterSelector{Kind: SelectAll}, nil
	}
	if n.Kind == yaml.ScalarNode {
		switch strings.ToLower(n.Value) {
		case "none":
			return CanisterSelector{Kind: SelectNone}, nil
		case "all":
			return CanisterSelector{Kind: SelectAll}, nil
		default:
			return CanisterSelector{}, fmt.Errorf("project: unrecognized canisters selector %q", n.Value)
		}
	}
	var names []string
	if err := n.Decode(&names); err != nil {
		return CanisterSelector{}, fmt.Errorf("project: canisters selector must be \"none\", \"all\", or a name list: %w", err)
	}
	return CanisterSelector{Kind: SelectNamed, Names: names}, nil
}

// decodeBuildStep turns one rendered/manifest build-step YAML node into a
// BuildStep, dispatching on its `type` key.
func decodeBuildStep(n yaml.Node) (BuildStep, error) {
	var tagged struct {
		Type    string `yaml:"type"`
		Command string `yaml:"command"`
		Source  string `yaml:"source"`
		SHA256  string `yaml:"sha256"`
	}
	if err := n.Decode(&tagged); err != nil {
		return BuildStep{}, err
	}
	switch tagged.Type {
	case "script", "":
		if tagged.Command == "" {
			return BuildStep{}, fmt.Errorf("project: build step of type %q missing `command`", tagged.Type)
		}
		return BuildStep{Kind: BuildStepScript, Command: tagged.Command}, nil
	case "prebuilt":
		if tagged.Source == "" {
			return BuildStep{}, fmt.Errorf("project: prebuilt build step missing `source`")
		}
		return BuildStep{Kind: BuildStepPrebuilt, Source: tagged.Source, SHA256: tagged.SHA256}, nil
	default:
		return BuildStep{}, fmt.Errorf("project: unknown build step type %q", tagged.Type)
	}
}

// decodeSyncStep turns one rendered/manifest sync-step YAML node into a
// SyncStep, dispatching on its `type` key.
func decodeSyncStep(n yaml.Node) (SyncStep, error) {
	var tagged struct {
		Type    string `yaml:"type"`
		Command string `yaml:"command"`
		Dir     string `yaml:"dir"`
	}
	if err := n.Decode(&tagged); err != nil {
		return SyncStep{}, err
	}
	switch tagged.Type {
	case "script", "":
		if tagged.Command == "" {
			return SyncStep{}, fmt.Errorf("project: sync step of type %q missing `command`", tagged.Type)
		}
		return SyncStep{Kind: SyncStepScript, Command: tagged.Command}, nil
	case "assets":
		if tagged.Dir == "" {
			return SyncStep{}, fmt.Errorf("project: assets sync step missing `dir`")
		}
		return SyncStep{Kind: SyncStepAssets, Dir: tagged.Dir}, nil
	default:
		return SyncStep{}, fmt.Errorf("project: unknown sync step type %q", tagged.Type)
	}
}
