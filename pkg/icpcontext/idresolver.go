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

package icpcontext

import (
	"github.com/icp-cli/icp/internal/principal"
	"github.com/icp-cli/icp/pkg/idstore"
)

// idResolver adapts IdStore + the project's environment->network mapping
// into sync.Pipeline's IDResolver (it only takes environment and canister,
// whereas IdStore keys also include the network the environment targets).
type idResolver struct {
	ctx *Context
}

// IDResolver returns the sync.Pipeline-compatible resolver backed by c.
func (c *Context) IDResolver() idResolver { return idResolver{ctx: c} }

// Lookup implements sync.IDResolver.
func (r idResolver) Lookup(environment, canister string) (string, error) {
	if r.ctx.Project == nil {
		return "", ErrNoProjectOrNetwork
	}
	env, ok := r.ctx.Project.Environments[environment]
	if !ok {
		return "", &UnknownEnvironmentError{Name: environment}
	}
	raw, err := r.ctx.IDs.Lookup(idstore.Key{Network: env.Network, Environment: environment, Canister: canister})
	if err != nil {
		return "", err
	}
	return principal.Text(raw), nil
}
