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
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func singleCanisterProject(t *testing.T) string {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ManifestFileName), "canisters: canisters/*\n")
	writeFile(t, filepath.Join(root, "canisters", "counter", CanisterManifestFileName), `
name: counter
build:
  - type: script
    command: "make build"
sync:
  - type: script
    command: "make sync"
`)
	writeFile(t, filepath.Join(root, "canisters", "greeter", CanisterManifestFileName), `
name: greeter
build:
  - type: prebuilt
    source: greeter.wasm
`)
	return root
}

func TestLocateWalksUpward(t *testing.T) {
	root := singleCanisterProject(t)
	nested := filepath.Join(root, "canisters", "counter")
	got, err := Locate(nested)
	if err != nil {
		t.Fatal(err)
	}
	if got != root {
		t.Fatalf("got root %q, want %q", got, root)
	}
}

func TestLocateNotFound(t *testing.T) {
	_, err := Locate(t.TempDir())
	if err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestLoadMaterializesDefaultsAndSelectors(t *testing.T) {
	root := singleCanisterProject(t)
	l := NewLoader(nil)
	proj, err := l.Load(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}

	if len(proj.Canisters) != 2 {
		t.Fatalf("expected 2 canisters, got %d", len(proj.Canisters))
	}
	if _, ok := proj.Networks[DefaultNetworkName]; !ok {
		t.Fatal("expected default `local` network to be injected")
	}
	env, ok := proj.Environments[DefaultEnvironmentName]
	if !ok {
		t.Fatal("expected default `local` environment to be injected")
	}
	if len(env.Canisters) != 2 {
		t.Fatalf("default environment should select all canisters, got %d", len(env.Canisters))
	}
}

func TestLoadRejectsReservedNetworkName(t *testing.T) {
	root := singleCanisterProject(t)
	writeFile(t, filepath.Join(root, ManifestFileName), `
canisters: canisters/*
networks:
  - name: ic
`)
	l := NewLoader(nil)
	_, err := l.Load(context.Background(), root)
	if err == nil {
		t.Fatal("expected an error redefining the reserved `ic` network")
	}
}

func TestLoadRejectsBuildAndRecipeTogether(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ManifestFileName), "canisters: canisters/*\n")
	writeFile(t, filepath.Join(root, "canisters", "bad", CanisterManifestFileName), `
name: bad
recipe:
  type: motoko
build:
  - type: script
    command: "make build"
`)
	l := NewLoader(nil)
	_, err := l.Load(context.Background(), root)
	if err == nil {
		t.Fatal("expected an error declaring both `recipe` and `build`")
	}
}

func TestLoadRejectsNeitherBuildNorRecipe(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ManifestFileName), "canisters: canisters/*\n")
	writeFile(t, filepath.Join(root, "canisters", "bad", CanisterManifestFileName), "name: bad\n")
	l := NewLoader(nil)
	_, err := l.Load(context.Background(), root)
	if err == nil {
		t.Fatal("expected an error declaring neither `recipe` nor `build`")
	}
}

func TestLoadEnvironmentNamedSelector(t *testing.T) {
	root := singleCanisterProject(t)
	writeFile(t, filepath.Join(root, ManifestFileName), `
canisters: canisters/*
environments:
  - name: staging
    canisters:
      - counter
`)
	l := NewLoader(nil)
	proj, err := l.Load(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	env := proj.Environments["staging"]
	if len(env.Canisters) != 1 {
		t.Fatalf("expected 1 selected canister, got %d", len(env.Canisters))
	}
	if _, ok := env.Canisters["counter"]; !ok {
		t.Fatalf("expected `counter` to be selected, got %v", env.Canisters)
	}
}

func TestLoadEnvironmentUnknownCanisterReference(t *testing.T) {
	root := singleCanisterProject(t)
	writeFile(t, filepath.Join(root, ManifestFileName), `
canisters: canisters/*
environments:
  - name: staging
    canisters:
      - ghost
`)
	l := NewLoader(nil)
	_, err := l.Load(context.Background(), root)
	if err == nil {
		t.Fatal("expected an error for an unknown canister reference")
	}
}

func TestLoadEnvironmentUnknownNetworkReference(t *testing.T) {
	root := singleCanisterProject(t)
	writeFile(t, filepath.Join(root, ManifestFileName), `
canisters: canisters/*
environments:
  - name: staging
    network: ghost-network
`)
	l := NewLoader(nil)
	_, err := l.Load(context.Background(), root)
	if err == nil {
		t.Fatal("expected an error for an unknown network reference")
	}
}

// TestLoadIsDeterministic is testable property 5: loading the same project
// twice yields byte-for-byte (deep) equal results.
func TestLoadIsDeterministic(t *testing.T) {
	root := singleCanisterProject(t)
	l := NewLoader(nil)

	first, err := l.Load(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	second, err := l.Load(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("project load is not deterministic (-first +second):\n%s", diff)
	}
}

func TestLoadGlobSkipsNonCanisterDirs(t *testing.T) {
	root := singleCanisterProject(t)
	if err := os.MkdirAll(filepath.Join(root, "canisters", "not-a-canister"), 0o755); err != nil {
		t.Fatal(err)
	}
	l := NewLoader(nil)
	proj, err := l.Load(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if len(proj.Canisters) != 2 {
		t.Fatalf("expected glob to skip the non-canister directory, got %d canisters", len(proj.Canisters))
	}
}

func TestLoadExplicitPathMustContainManifest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ManifestFileName), `
canisters:
  - does-not-exist
`)
	if err := os.MkdirAll(filepath.Join(root, "does-not-exist"), 0o755); err != nil {
		t.Fatal(err)
	}
	l := NewLoader(nil)
	_, err := l.Load(context.Background(), root)
	if err == nil {
		t.Fatal("expected an error for an explicit canister path lacking a manifest")
	}
}
