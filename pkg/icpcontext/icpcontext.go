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

// Package icpcontext is the composition root (C11): a passive struct
// holding every other component plus the current identity/network/
// environment/canister selection, and the high-level accessors commands
// call through (get_agent, get_canister_id, get_canister_id_and_agent).
// No component holds a back-reference to another; all cross-component
// calls go through a *Context passed into each command.
package icpcontext

import (
	"context"
	"errors"
	"fmt"

	"github.com/icp-cli/icp/internal/principal"
	"github.com/icp-cli/icp/pkg/identity"
	"github.com/icp-cli/icp/pkg/idstore"
	"github.com/icp-cli/icp/pkg/network"
	"github.com/icp-cli/icp/pkg/project"
	"github.com/icp-cli/icp/pkg/recipe"
	"github.com/icp-cli/icp/pkg/remote"
)

// MainnetGatewayURL is the well-known gateway for the reserved "ic"
// network, used when no project-local override exists.
const MainnetGatewayURL = "https://icp0.io"

// NetworkSelectorKind is which form of `--network` a command received.
type NetworkSelectorKind int

const (
	NetworkDefault NetworkSelectorKind = iota
	NetworkNamed
	NetworkURL
)

// NetworkSelector is the parsed `--network` flag state.
type NetworkSelector struct {
	Kind NetworkSelectorKind
	Name string // meaningful when Kind == NetworkNamed
	URL  string // meaningful when Kind == NetworkURL
}

// EnvironmentSelectorKind is which form of `--environment` a command
// received.
type EnvironmentSelectorKind int

const (
	EnvironmentDefault EnvironmentSelectorKind = iota
	EnvironmentNamed
)

// EnvironmentSelector is the parsed `--environment` flag state.
type EnvironmentSelector struct {
	Kind EnvironmentSelectorKind
	Name string // meaningful when Kind == EnvironmentNamed
}

// CanisterRefKind is which form a `--canister`/positional canister
// argument took.
type CanisterRefKind int

const (
	CanisterByName CanisterRefKind = iota
	CanisterByPrincipal
)

// CanisterRef is a resolved canister argument: either a project-local
// name or a literal principal.
type CanisterRef struct {
	Kind      CanisterRefKind
	Name      string // meaningful when Kind == CanisterByName
	Principal string // meaningful when Kind == CanisterByPrincipal, textual form
}

// Errors returned by the high-level accessors (§4.9).
var (
	// ErrAmbiguousNetworkAndEnvironment is returned when both an explicit
	// environment and an explicit network are given: each already
	// implies the other, so specifying both could disagree.
	ErrAmbiguousNetworkAndEnvironment = errors.New("icpcontext: specifying both an explicit environment and an explicit network is ambiguous")

	// ErrAmbiguousCanisterAndNetwork is returned when a canister is named
	// (rather than given as a principal) alongside an explicit network:
	// a canister name alone cannot be resolved to an id without knowing
	// which environment's IdStore entry to consult.
	ErrAmbiguousCanisterAndNetwork = errors.New("icpcontext: specifying a canister by name together with an explicit network is ambiguous")

	// ErrNoProjectOrNetwork is returned when both network and environment
	// selection default and there is no enclosing project to supply a
	// `local` environment.
	ErrNoProjectOrNetwork = errors.New("icpcontext: no project found and no network specified")
)

// UnknownEnvironmentError is returned when an explicitly named environment
// doesn't exist in the loaded project.
type UnknownEnvironmentError struct{ Name string }

func (e *UnknownEnvironmentError) Error() string {
	return fmt.Sprintf("icpcontext: unknown environment %q", e.Name)
}

// UnknownNetworkError is returned when an explicitly named network doesn't
// exist in the loaded project.
type UnknownNetworkError struct{ Name string }

func (e *UnknownNetworkError) Error() string {
	return fmt.Sprintf("icpcontext: unknown network %q", e.Name)
}

// UnknownCanisterError is returned when a named canister isn't registered
// in the IdStore for the resolved environment.
type UnknownCanisterError struct{ Name string }

func (e *UnknownCanisterError) Error() string {
	return fmt.Sprintf("icpcontext: canister %q has no registered id for this environment", e.Name)
}

// AgentFactory builds a RemoteCanister agent for calls against access,
// signing with the named identity. Its wire protocol is out of scope for
// this module (mirrors remote.Canister itself), so it is injected rather
// than constructed here.
type AgentFactory interface {
	NewAgent(ctx context.Context, access network.Access, identityName string) (remote.Canister, error)
}

// Context is the composition root (C11).
type Context struct {
	Project     *project.Project // nil when invoked outside any project
	NetworksDir string           // project-local network data root; empty outside a project

	IDs     *idstore.Store
	Keys    remote.KeyStore
	Agents  AgentFactory
	Recipes *recipe.Resolver
}

// New builds a Context. proj and networksDir may be zero-valued when no
// project is loaded.
func New(proj *project.Project, networksDir string, ids *idstore.Store, keys remote.KeyStore, agents AgentFactory, recipes *recipe.Resolver) *Context {
	return &Context{Project: proj, NetworksDir: networksDir, IDs: ids, Keys: keys, Agents: agents, Recipes: recipes}
}

// resolveEnvironmentAndNetwork implements the environment/network
// resolution rules shared by every accessor (§4.9 get_agent rules 1-3).
// It returns the resolved network.Access, the resolved network name (for
// well-known networks this is the selector's own name), and the resolved
// environment name (empty when the selection bypassed environments
// entirely, e.g. an explicit --network/--url).
func (c *Context) resolveEnvironmentAndNetwork(envSel EnvironmentSelector, netSel NetworkSelector) (network.Access, string, string, error) {
	if envSel.Kind == EnvironmentNamed && netSel.Kind != NetworkDefault {
		return network.Access{}, "", "", ErrAmbiguousNetworkAndEnvironment
	}

	switch netSel.Kind {
	case NetworkURL:
		return network.Access{URL: netSel.URL}, "", "", nil

	case NetworkNamed:
		if netSel.Name == project.ReservedNetworkName {
			return network.Access{URL: MainnetGatewayURL}, project.ReservedNetworkName, "", nil
		}
		if c.Project == nil {
			return network.Access{}, "", "", &UnknownNetworkError{Name: netSel.Name}
		}
		net, ok := c.Project.Networks[netSel.Name]
		if !ok {
			return network.Access{}, "", "", &UnknownNetworkError{Name: netSel.Name}
		}
		access, err := network.Resolve(net, c.NetworksDir)
		return access, netSel.Name, "", err

	default: // NetworkDefault
		if envSel.Kind == EnvironmentDefault {
			if c.Project == nil {
				return network.Access{}, "", "", ErrNoProjectOrNetwork
			}
			envSel = EnvironmentSelector{Kind: EnvironmentNamed, Name: project.DefaultEnvironmentName}
		}
		if c.Project == nil {
			return network.Access{}, "", "", ErrNoProjectOrNetwork
		}
		env, ok := c.Project.Environments[envSel.Name]
		if !ok {
			return network.Access{}, "", "", &UnknownEnvironmentError{Name: envSel.Name}
		}
		net, ok := c.Project.Networks[env.Network]
		if !ok {
			return network.Access{}, "", "", &UnknownNetworkError{Name: env.Network}
		}
		access, err := network.Resolve(net, c.NetworksDir)
		return access, env.Network, envSel.Name, err
	}
}

// GetAgent resolves identitySel/networkSel/envSel to a RemoteCanister
// agent suitable for calls (§4.9 get_agent).
func (c *Context) GetAgent(ctx context.Context, identitySel identity.Selector, networkSel NetworkSelector, envSel EnvironmentSelector) (remote.Canister, error) {
	access, _, _, err := c.resolveEnvironmentAndNetwork(envSel, networkSel)
	if err != nil {
		return nil, err
	}
	return c.Agents.NewAgent(ctx, access, identitySel.Resolve())
}

// GetCanisterID resolves canister to its textual principal for the given
// environment (§4.9 get_canister_id). If canister is already a principal,
// this only validates the environment exists and returns it unchanged.
func (c *Context) GetCanisterID(ref CanisterRef, envSel EnvironmentSelector) (string, error) {
	envName := envSel.Name
	if envSel.Kind == EnvironmentDefault {
		envName = project.DefaultEnvironmentName
	}
	if c.Project == nil {
		return "", ErrNoProjectOrNetwork
	}
	env, ok := c.Project.Environments[envName]
	if !ok {
		return "", &UnknownEnvironmentError{Name: envName}
	}

	if ref.Kind == CanisterByPrincipal {
		if _, err := principal.Parse(ref.Principal); err != nil {
			return "", err
		}
		return ref.Principal, nil
	}

	raw, err := c.IDs.Lookup(idstore.Key{Network: env.Network, Environment: envName, Canister: ref.Name})
	if err != nil {
		if errors.Is(err, idstore.ErrNotFound) {
			return "", &UnknownCanisterError{Name: ref.Name}
		}
		return "", err
	}
	return principal.Text(raw), nil
}

// GetCanisterIDAndAgent combines GetCanisterID and GetAgent for call-sites
// that need both (§4.9 get_canister_id_and_agent), additionally enforcing
// that a canister-by-name reference cannot be combined with an explicit
// network (only an explicit environment resolves an id-store lookup).
func (c *Context) GetCanisterIDAndAgent(ctx context.Context, ref CanisterRef, envSel EnvironmentSelector, networkSel NetworkSelector, identitySel identity.Selector) (string, remote.Canister, error) {
	if ref.Kind == CanisterByName && networkSel.Kind != NetworkDefault {
		return "", nil, ErrAmbiguousCanisterAndNetwork
	}

	id, err := c.GetCanisterID(ref, envSel)
	if err != nil {
		return "", nil, err
	}
	agent, err := c.GetAgent(ctx, identitySel, networkSel, envSel)
	if err != nil {
		return "", nil, err
	}
	return id, agent, nil
}
