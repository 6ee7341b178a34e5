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

package build

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/icp-cli/icp/pkg/artifact"
	"github.com/icp-cli/icp/pkg/project"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	store, err := artifact.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewPipeline(store, nil)
}

func TestRunSucceedsAndStoresArtifact(t *testing.T) {
	p := newTestPipeline(t)
	c := project.Canister{
		Name: "counter",
		Build: []project.BuildStep{
			{Kind: project.BuildStepScript, Command: `echo hello > "$ICP_WASM_OUTPUT_PATH"`},
		},
		RootDir: t.TempDir(),
	}

	results, err := p.Run(context.Background(), []Task{{Canister: c}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("canister build failed: %v", results[0].Err)
	}

	data, err := p.Store.Load("counter")
	if err != nil {
		t.Fatalf("load artifact: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty stored artifact")
	}
}

func TestRunFailsOnNonZeroExit(t *testing.T) {
	p := newTestPipeline(t)
	c := project.Canister{
		Name: "broken",
		Build: []project.BuildStep{
			{Kind: project.BuildStepScript, Command: "exit 1"},
		},
		RootDir: t.TempDir(),
	}

	_, err := p.Run(context.Background(), []Task{{Canister: c}})
	if err == nil {
		t.Fatal("expected a step failure")
	}
	var sf *StepFailure
	if !errors.As(err, &sf) {
		t.Fatalf("got %v, want *StepFailure", err)
	}
}

func TestRunFailsOnMissingArtifact(t *testing.T) {
	p := newTestPipeline(t)
	c := project.Canister{
		Name: "empty-output",
		Build: []project.BuildStep{
			{Kind: project.BuildStepScript, Command: "true"},
		},
		RootDir: t.TempDir(),
	}

	_, err := p.Run(context.Background(), []Task{{Canister: c}})
	var me *MissingArtifactError
	if !errors.As(err, &me) {
		t.Fatalf("got %v, want *MissingArtifactError", err)
	}
}

func TestRunPreservesSubmissionOrder(t *testing.T) {
	p := newTestPipeline(t)
	var tasks []Task
	names := []string{"c1", "c2", "c3", "c4"}
	for _, n := range names {
		tasks = append(tasks, Task{Canister: project.Canister{
			Name: n,
			Build: []project.BuildStep{
				{Kind: project.BuildStepScript, Command: `echo x > "$ICP_WASM_OUTPUT_PATH"`},
			},
			RootDir: t.TempDir(),
		}})
	}

	results, err := p.Run(context.Background(), tasks)
	if err != nil {
		t.Fatal(err)
	}
	for i, name := range names {
		if results[i].Canister != name {
			t.Fatalf("result[%d] = %q, want %q (submission order)", i, results[i].Canister, name)
		}
	}
}

func TestRunPrebuiltStepCopiesLocalFile(t *testing.T) {
	dir := t.TempDir()
	srcPath := dir + "/prebuilt.wasm"
	if err := writeFile(srcPath, []byte("\x00asm-bytes")); err != nil {
		t.Fatal(err)
	}

	p := newTestPipeline(t)
	c := project.Canister{
		Name: "prebuilt",
		Build: []project.BuildStep{
			{Kind: project.BuildStepPrebuilt, Source: "prebuilt.wasm"},
		},
		RootDir: dir,
	}

	_, err := p.Run(context.Background(), []Task{{Canister: c}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	data, err := p.Store.Load("prebuilt")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "\x00asm-bytes" {
		t.Fatalf("got %q", data)
	}
}

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}
