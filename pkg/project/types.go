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

// Package project is the in-memory project model (C5's output) plus the
// manifest parser and loader that builds it.
package project

import "sort"

// ReservedNetworkName is the mainnet name; it always exists implicitly and
// may never be redefined by a manifest.
const ReservedNetworkName = "ic"

// DefaultNetworkName is injected when absent from the manifest.
const DefaultNetworkName = "local"

// DefaultEnvironmentName is the environment every project gets unless the
// manifest overrides it.
const DefaultEnvironmentName = "local"

// LogVisibility mirrors the management canister's log visibility setting.
type LogVisibility string

const (
	LogVisibilityController LogVisibility = "controllers"
	LogVisibilityPublic     LogVisibility = "public"
)

// Settings holds the optional per-canister resource/management settings.
type Settings struct {
	ComputeAllocation    *uint64           `yaml:"compute-allocation,omitempty"`
	MemoryAllocation     *uint64           `yaml:"memory-allocation,omitempty"`
	FreezingThreshold    *uint64           `yaml:"freezing-threshold,omitempty"`
	ReservedCyclesLimit  *uint64           `yaml:"reserved-cycles-limit,omitempty"`
	WasmMemoryLimit      *uint64           `yaml:"wasm-memory-limit,omitempty"`
	WasmMemoryThreshold  *uint64           `yaml:"wasm-memory-threshold,omitempty"`
	LogVisibility        LogVisibility     `yaml:"log-visibility,omitempty"`
	EnvironmentVariables map[string]string `yaml:"environment-variables,omitempty"`
	Controllers          []string          `yaml:"controllers,omitempty"`
}

// BuildStepKind tags a BuildStep's variant.
type BuildStepKind int

const (
	BuildStepScript BuildStepKind = iota
	BuildStepPrebuilt
)

// BuildStep is the tagged-variant build step (§3). Exactly one of the
// variant-specific fields is meaningful, selected by Kind.
type BuildStep struct {
	Kind BuildStepKind

	// Script
	Command string

	// Prebuilt
	Source string
	SHA256 string // optional; empty means "not checked"
}

// SyncStepKind tags a SyncStep's variant.
type SyncStepKind int

const (
	SyncStepScript SyncStepKind = iota
	SyncStepAssets
)

// SyncStep is the tagged-variant sync step (§3).
type SyncStep struct {
	Kind SyncStepKind

	// Script
	Command string

	// Assets
	Dir string
}

// Canister is one build target (§3).
type Canister struct {
	Name       string
	Settings   Settings
	Build      []BuildStep
	Sync       []SyncStep
	InitArgs   []byte
	InitArgsIs string // "binary" or "text", for round-tripping the manifest form

	// RootDir is the canister manifest's directory, used to resolve
	// relative paths in build/sync steps.
	RootDir string
}

// GatewayPort is the Managed network's port configuration: either a fixed
// port number or "pick any free port".
type GatewayPort struct {
	Fixed  bool
	Port   uint16 // meaningful when Fixed
	Random bool
}

// ManagedConfig is a Network's configuration when it is launched locally.
type ManagedConfig struct {
	GatewayHost string
	GatewayPort GatewayPort
	II          bool
	NNS         bool
	Subnets     []string
	Version     string
}

// ConnectedConfig is a Network's configuration when it is already
// reachable over the network.
type ConnectedConfig struct {
	APIURL     string
	GatewayURL string
	RootKeyHex string
}

// Network is a named replica target (§3). Exactly one of Managed/Connected
// is non-nil.
type Network struct {
	Name      string
	Managed   *ManagedConfig
	Connected *ConnectedConfig
}

// IsManaged reports whether this network is launched locally.
func (n Network) IsManaged() bool { return n.Managed != nil }

// CanisterSelector controls which canisters an Environment materializes.
type CanisterSelectorKind int

const (
	SelectAll CanisterSelectorKind = iota
	SelectNone
	SelectNamed
)

// CanisterSelector is the environment manifest's `canisters:` field.
type CanisterSelector struct {
	Kind  CanisterSelectorKind
	Names []string
}

// Environment is a named binding of canisters to a network (§3).
type Environment struct {
	Name      string
	Network   string
	Selector  CanisterSelector
	Canisters map[string]string // canister name -> canister root dir, materialized by the loader
}

// Recipe is a parameterised template reference that expands into build/sync
// steps (§3, §4.3).
type Recipe struct {
	Source        string // local path, URL, or "registry@version"
	SHA256        string
	Configuration map[string]any
}

// Project is the root aggregate built by the loader (§3).
type Project struct {
	RootDir      string
	Canisters    map[string]Canister
	Networks     map[string]Network
	Environments map[string]Environment
}

// CanisterNames returns the project's canister names in sorted order, for
// deterministic iteration (testable property 5).
func (p *Project) CanisterNames() []string {
	names := make([]string, 0, len(p.Canisters))
	for n := range p.Canisters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
