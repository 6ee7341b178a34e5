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
	"context"
	"errors"
	"testing"

	"github.com/icp-cli/icp/internal/principal"
	"github.com/icp-cli/icp/pkg/identity"
	"github.com/icp-cli/icp/pkg/idstore"
	"github.com/icp-cli/icp/pkg/network"
	"github.com/icp-cli/icp/pkg/project"
	"github.com/icp-cli/icp/pkg/remote"
)

type fakeAgentFactory struct {
	lastAccess   network.Access
	lastIdentity string
}

func (f *fakeAgentFactory) NewAgent(ctx context.Context, access network.Access, identityName string) (remote.Canister, error) {
	f.lastAccess = access
	f.lastIdentity = identityName
	return nil, nil
}

func testProject(t *testing.T) *project.Project {
	t.Helper()
	return &project.Project{
		RootDir:   t.TempDir(),
		Canisters: map[string]project.Canister{"greet": {Name: "greet"}},
		Networks: map[string]project.Network{
			"local": {Name: "local", Connected: &project.ConnectedConfig{GatewayURL: "http://127.0.0.1:4943"}},
			"staging": {Name: "staging", Connected: &project.ConnectedConfig{GatewayURL: "https://staging.example.test"}},
		},
		Environments: map[string]project.Environment{
			"local":   {Name: "local", Network: "local", Canisters: map[string]string{"greet": "/canisters/greet"}},
			"staging": {Name: "staging", Network: "staging", Canisters: map[string]string{"greet": "/canisters/greet"}},
		},
	}
}

func newTestContext(t *testing.T, proj *project.Project) (*Context, *fakeAgentFactory) {
	t.Helper()
	ids, err := idstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("idstore.Open: %v", err)
	}
	factory := &fakeAgentFactory{}
	return New(proj, t.TempDir(), ids, nil, factory, nil), factory
}

func TestGetAgentDefaultInsideProjectUsesLocal(t *testing.T) {
	ctx, factory := newTestContext(t, testProject(t))

	_, err := ctx.GetAgent(context.Background(), identity.Selector{}, NetworkSelector{}, EnvironmentSelector{})
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if factory.lastAccess.URL != "http://127.0.0.1:4943" {
		t.Fatalf("resolved access = %+v, want local network's gateway", factory.lastAccess)
	}
	if factory.lastIdentity != identity.DefaultName {
		t.Fatalf("resolved identity = %q, want %q", factory.lastIdentity, identity.DefaultName)
	}
}

func TestGetAgentDefaultOutsideProjectIsError(t *testing.T) {
	ctx, _ := newTestContext(t, nil)

	_, err := ctx.GetAgent(context.Background(), identity.Selector{}, NetworkSelector{}, EnvironmentSelector{})
	if !errors.Is(err, ErrNoProjectOrNetwork) {
		t.Fatalf("err = %v, want ErrNoProjectOrNetwork", err)
	}
}

func TestGetAgentExplicitEnvironmentAndNetworkIsAmbiguous(t *testing.T) {
	ctx, _ := newTestContext(t, testProject(t))

	_, err := ctx.GetAgent(context.Background(), identity.Selector{},
		NetworkSelector{Kind: NetworkNamed, Name: "staging"},
		EnvironmentSelector{Kind: EnvironmentNamed, Name: "staging"})
	if !errors.Is(err, ErrAmbiguousNetworkAndEnvironment) {
		t.Fatalf("err = %v, want ErrAmbiguousNetworkAndEnvironment", err)
	}
}

func TestGetAgentExplicitNetworkBypassesEnvironment(t *testing.T) {
	ctx, factory := newTestContext(t, testProject(t))

	_, err := ctx.GetAgent(context.Background(), identity.Selector{},
		NetworkSelector{Kind: NetworkNamed, Name: "staging"}, EnvironmentSelector{})
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if factory.lastAccess.URL != "https://staging.example.test" {
		t.Fatalf("resolved access = %+v, want staging network's gateway", factory.lastAccess)
	}
}

func TestGetAgentReservedNetworkResolvesWithoutProject(t *testing.T) {
	ctx, factory := newTestContext(t, nil)

	_, err := ctx.GetAgent(context.Background(), identity.Selector{},
		NetworkSelector{Kind: NetworkNamed, Name: project.ReservedNetworkName}, EnvironmentSelector{})
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if factory.lastAccess.URL != MainnetGatewayURL {
		t.Fatalf("resolved access = %+v, want mainnet gateway", factory.lastAccess)
	}
}

func TestGetCanisterIDByPrincipalOnlyValidatesEnvironment(t *testing.T) {
	ctx, _ := newTestContext(t, testProject(t))

	raw := principal.FromPublicKeyDER([]byte("test-key"))
	text := principal.Text(raw)

	id, err := ctx.GetCanisterID(CanisterRef{Kind: CanisterByPrincipal, Principal: text}, EnvironmentSelector{Kind: EnvironmentNamed, Name: "local"})
	if err != nil {
		t.Fatalf("GetCanisterID: %v", err)
	}
	if id != text {
		t.Fatalf("id = %q, want %q unchanged", id, text)
	}

	if _, err := ctx.GetCanisterID(CanisterRef{Kind: CanisterByPrincipal, Principal: text}, EnvironmentSelector{Kind: EnvironmentNamed, Name: "nope"}); err == nil {
		t.Fatalf("expected error for unknown environment")
	}
}

func TestGetCanisterIDByNameLooksUpIdStore(t *testing.T) {
	proj := testProject(t)
	ctx, _ := newTestContext(t, proj)

	raw := principal.FromPublicKeyDER([]byte("greet-canister"))
	if err := ctx.IDs.Register(idstore.Key{Network: "local", Environment: "local", Canister: "greet"}, raw); err != nil {
		t.Fatalf("Register: %v", err)
	}

	id, err := ctx.GetCanisterID(CanisterRef{Kind: CanisterByName, Name: "greet"}, EnvironmentSelector{Kind: EnvironmentNamed, Name: "local"})
	if err != nil {
		t.Fatalf("GetCanisterID: %v", err)
	}
	if want := principal.Text(raw); id != want {
		t.Fatalf("id = %q, want %q", id, want)
	}
}

func TestGetCanisterIDByNameNotCreated(t *testing.T) {
	ctx, _ := newTestContext(t, testProject(t))

	_, err := ctx.GetCanisterID(CanisterRef{Kind: CanisterByName, Name: "greet"}, EnvironmentSelector{Kind: EnvironmentNamed, Name: "local"})
	var notCreated *UnknownCanisterError
	if !errors.As(err, &notCreated) {
		t.Fatalf("err = %v, want *UnknownCanisterError", err)
	}
}

func TestGetCanisterIDAndAgentNameWithExplicitNetworkIsAmbiguous(t *testing.T) {
	ctx, _ := newTestContext(t, testProject(t))

	_, _, err := ctx.GetCanisterIDAndAgent(context.Background(),
		CanisterRef{Kind: CanisterByName, Name: "greet"},
		EnvironmentSelector{},
		NetworkSelector{Kind: NetworkNamed, Name: "staging"},
		identity.Selector{})
	if !errors.Is(err, ErrAmbiguousCanisterAndNetwork) {
		t.Fatalf("err = %v, want ErrAmbiguousCanisterAndNetwork", err)
	}
}

func TestIDResolverAdapterMatchesContext(t *testing.T) {
	proj := testProject(t)
	ctx, _ := newTestContext(t, proj)

	raw := principal.FromPublicKeyDER([]byte("greet-canister"))
	if err := ctx.IDs.Register(idstore.Key{Network: "local", Environment: "local", Canister: "greet"}, raw); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := ctx.IDResolver().Lookup("local", "greet")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if want := principal.Text(raw); got != want {
		t.Fatalf("Lookup = %q, want %q", got, want)
	}
}
