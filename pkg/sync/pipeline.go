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

// Package sync implements SyncPipeline (C9): concurrent, per-canister
// execution of ordered sync steps (install Wasm, upload assets, run
// scripts), sharing BuildPipeline's output-capture and ordering contract.
package sync

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/creack/pty"

	"github.com/icp-cli/icp/pkg/cmdutil"
	"github.com/icp-cli/icp/pkg/progress"
	"github.com/icp-cli/icp/pkg/project"
	"github.com/icp-cli/icp/pkg/remote"
)

// CanisterIDEnvVar is the environment variable exported to sync script
// steps, pointing at the canister's resolved principal identifier (§4.7
// SyncPipeline: "an additional environment variable").
const CanisterIDEnvVar = "ICP_CANISTER_ID"

// IDResolver looks up a canister's registered identifier for an
// environment. idstore.Store does not satisfy it directly (its Lookup takes
// an idstore.Key); production wiring uses the adapter in pkg/icpcontext.
type IDResolver interface {
	Lookup(environment, canister string) (string, error)
}

// ErrCanisterNotCreated is returned when a selected canister has no
// registered identifier in IdStore (§4.7 "the pipeline never mutates
// IdStore; it reads from it").
type ErrCanisterNotCreated struct{ Canister string }

func (e *ErrCanisterNotCreated) Error() string {
	return fmt.Sprintf("sync: canister %q has not been created (no registered id)", e.Canister)
}

// StepFailure mirrors build.StepFailure for sync steps.
type StepFailure struct {
	Canister  string
	StepIndex int
	Err       error
}

func (e *StepFailure) Error() string {
	return fmt.Sprintf("Failed to sync canister: %v", e.Err)
}
func (e *StepFailure) Unwrap() error { return e.Err }

// CommandFailedError mirrors build.CommandFailedError for sync script
// steps.
type CommandFailedError struct {
	Command  string
	ExitCode int
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("command '%s' failed with status code %d", e.Command, e.ExitCode)
}

// Task is one canister's sync work item, submitted in enqueue order.
type Task struct {
	Canister    project.Canister
	Environment string
}

// Result is one canister's sync outcome.
type Result struct {
	Canister string
	Err      error
}

// Pipeline runs SyncPipeline over a selection of canisters (C9).
type Pipeline struct {
	IDs      IDResolver
	Remote   remote.Canister
	Shell    string
	Sink     progress.Sink
}

// NewPipeline builds a Pipeline reading identifiers via ids and calling
// through rc for asset uploads.
func NewPipeline(ids IDResolver, rc remote.Canister, sink progress.Sink) *Pipeline {
	if sink == nil {
		sink = progress.NopSink{}
	}
	return &Pipeline{IDs: ids, Remote: rc, Shell: cmdutil.DefaultShell(), Sink: sink}
}

// Run executes tasks concurrently, one goroutine per canister, returning
// results in FIFO submission order (identical ordering contract to
// BuildPipeline, §4.7/§5). Returns the first surfaced error; in-flight
// tasks are allowed to run to completion, and their errors stay in the
// returned results but never replace that first error.
// Failure-buffer dumps are emitted in submission order rather than from
// inside each goroutine, for the same reason as BuildPipeline: two
// canisters failing concurrently must not race each other onto Sink.
func (p *Pipeline) Run(ctx context.Context, tasks []Task) ([]Result, error) {
	results := make([]Result, len(tasks))
	bufs := make([]*progress.Buffer, len(tasks))
	done := make(chan int, len(tasks))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i, task := range tasks {
		i, task := i, task
		go func() {
			buf, err := p.runOne(runCtx, task)
			bufs[i] = buf
			results[i] = Result{Canister: task.Canister.Name, Err: err}
			done <- i
		}()
	}

	var firstErr error
	for range tasks {
		i := <-done
		if results[i].Err != nil && firstErr == nil {
			firstErr = results[i].Err
		}
	}

	for i, r := range results {
		if r.Err != nil {
			bufs[i].Failed(r.Err)
		}
	}

	if firstErr != nil {
		return results, firstErr
	}
	return results, nil
}

func (p *Pipeline) runOne(ctx context.Context, t Task) (*progress.Buffer, error) {
	c := t.Canister
	buf := progress.NewBuffer(p.Sink, c.Name)

	canisterID, err := p.IDs.Lookup(t.Environment, c.Name)
	if err != nil {
		return buf, &ErrCanisterNotCreated{Canister: c.Name}
	}

	for i, step := range c.Sync {
		if err := p.runStep(ctx, c, canisterID, i, step, buf); err != nil {
			return buf, err
		}
	}

	buf.Succeeded()
	return buf, nil
}

func (p *Pipeline) runStep(ctx context.Context, c project.Canister, canisterID string, idx int, step project.SyncStep, buf *progress.Buffer) error {
	switch step.Kind {
	case project.SyncStepScript:
		env := append(os.Environ(), CanisterIDEnvVar+"="+canisterID)
		for k, v := range c.Settings.EnvironmentVariables {
			env = append(env, k+"="+v)
		}
		buf.Append(fmt.Sprintf("$ %s", step.Command))
		if err := runScriptStep(ctx, p.Shell, step.Command, c.RootDir, env, buf); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				err = &CommandFailedError{Command: step.Command, ExitCode: exitErr.ExitCode()}
			}
			return &StepFailure{Canister: c.Name, StepIndex: idx, Err: err}
		}
		return nil
	case project.SyncStepAssets:
		if err := p.uploadAssets(ctx, c, canisterID, step.Dir, buf); err != nil {
			return &StepFailure{Canister: c.Name, StepIndex: idx, Err: err}
		}
		return nil
	default:
		return &StepFailure{Canister: c.Name, StepIndex: idx, Err: fmt.Errorf("unknown sync step kind")}
	}
}

// runScriptStep mirrors build.runScriptStep exactly: the faithful
// implementation §9's Open Question calls for (capped 10,000-line
// complete buffer, 4-line rolling window), via the same PTY-backed
// capture path.
func runScriptStep(ctx context.Context, shell, command, dir string, env []string, buf *progress.Buffer) error {
	cmd := cmdutil.NewShellCmd(ctx, shell, command, env)
	cmd.Dir = dir

	f, err := pty.Start(cmd)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		buf.Append(scanner.Text())
	}

	return cmd.Wait()
}

func (p *Pipeline) uploadAssets(ctx context.Context, c project.Canister, canisterID, dir string, buf *progress.Buffer) error {
	root := dir
	if !filepath.IsAbs(root) {
		root = filepath.Join(c.RootDir, dir)
	}

	entry, bundled, err := bundleEntryPoint(root)
	if err != nil {
		return fmt.Errorf("bundle assets: %w", err)
	}
	if entry != "" {
		buf.Append(fmt.Sprintf("bundled %s -> entry.js (%d bytes)", entry, len(bundled)))
	}

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		data := bundled
		if entry == "" || path != entry {
			data, err = os.ReadFile(path)
			if err != nil {
				return err
			}
		} else {
			rel = "entry.js"
		}

		buf.Append(fmt.Sprintf("uploading asset %s", rel))
		return p.Remote.UploadAsset(ctx, canisterID, rel, data)
	})
}
