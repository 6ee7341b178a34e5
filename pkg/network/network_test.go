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

package network

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/icp-cli/icp/pkg/project"
)

func TestResolveConnectedNetwork(t *testing.T) {
	net := project.Network{
		Name: "ic",
		Connected: &project.ConnectedConfig{
			APIURL:     "https://ic0.app",
			RootKeyHex: "deadbeef",
		},
	}
	access, err := Resolve(net, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if access.URL != "https://ic0.app" {
		t.Fatalf("got URL %q, want https://ic0.app", access.URL)
	}
	if len(access.RootKey) != 4 {
		t.Fatalf("expected decoded root key of 4 bytes, got %d", len(access.RootKey))
	}
}

func TestResolveManagedNetworkNotRunning(t *testing.T) {
	net := project.Network{
		Name:    "local",
		Managed: &project.ManagedConfig{GatewayHost: "127.0.0.1"},
	}
	_, err := Resolve(net, t.TempDir())
	if err != ErrNetworkNotRunning {
		t.Fatalf("got %v, want ErrNetworkNotRunning", err)
	}
}

func TestResolveManagedNetworkReadsDescriptor(t *testing.T) {
	networksDir := t.TempDir()
	dir := filepath.Join(networksDir, "local")
	if err := WriteDescriptor(dir, Descriptor{
		Project:     "demo",
		Network:     "local",
		GatewayPort: 4943,
		RootKeyHex:  "aabbcc",
	}); err != nil {
		t.Fatal(err)
	}

	net := project.Network{
		Name:    "local",
		Managed: &project.ManagedConfig{GatewayHost: "127.0.0.1"},
	}
	access, err := Resolve(net, networksDir)
	if err != nil {
		t.Fatal(err)
	}
	if access.URL != "http://127.0.0.1:4943" {
		t.Fatalf("got URL %q", access.URL)
	}
}

func TestPortClaimDirExclusivity(t *testing.T) {
	pcd := PortClaimDir{Dir: t.TempDir()}
	claim1, err := pcd.Claim(4943, "proj-a", "local")
	if err != nil {
		t.Fatal(err)
	}
	defer claim1.Release()

	if err := pcd.WriteDescriptor(4943, Descriptor{Project: "proj-a", Network: "local"}); err != nil {
		t.Fatal(err)
	}

	_, err = pcd.Claim(4943, "proj-b", "local")
	var pc *ErrPortAlreadyClaimed
	if err == nil {
		t.Fatal("expected a port-already-claimed error")
	}
	if pc, _ = err.(*ErrPortAlreadyClaimed); pc == nil {
		t.Fatalf("got %v, want *ErrPortAlreadyClaimed", err)
	}
	if pc.OtherProject != "proj-a" {
		t.Fatalf("got other project %q, want proj-a", pc.OtherProject)
	}
}

func TestStopIsIdempotentWhenDescriptorMissing(t *testing.T) {
	s := NewSupervisor(t.TempDir(), PortClaimDir{Dir: t.TempDir()}, nil, nil, nil)
	net := project.Network{Name: "local", Managed: &project.ManagedConfig{}}
	if err := s.Stop(context.Background(), net); err != nil {
		t.Fatalf("stop with no descriptor should succeed: %v", err)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateStopped:       "stopped",
		StateStarting:      "starting",
		StateSeeding:       "seeding",
		StateRunning:       "running",
		StateStopping:      "stopping",
		StateStartupFailed: "startup-failed",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
