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

// Package build implements BuildPipeline (C8): concurrent, FIFO-ordered,
// per-canister execution of ordered build steps with bounded output
// capture and artifact storage.
package build

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/icp-cli/icp/pkg/artifact"
	"github.com/icp-cli/icp/pkg/cmdutil"
	"github.com/icp-cli/icp/pkg/progress"
	"github.com/icp-cli/icp/pkg/project"

	"github.com/creack/pty"
)

// WasmOutputEnvVar is the environment variable exported to every build
// script step, pointing at the temp file it must produce (§4.7 step 1).
const WasmOutputEnvVar = "ICP_WASM_OUTPUT_PATH"

// Task is one canister's build work item, submitted in enqueue order.
type Task struct {
	Canister project.Canister
}

// Result is one canister's build outcome.
type Result struct {
	Canister string
	Err      error
}

// StepFailure is the typed error surfaced on a build step failure.
type StepFailure struct {
	Canister  string
	StepIndex int
	Err       error
}

func (e *StepFailure) Error() string {
	return fmt.Sprintf("Failed to build canister: %v", e.Err)
}
func (e *StepFailure) Unwrap() error { return e.Err }

// CommandFailedError is a Script step's exit status, wrapped with the
// command line it ran so the dumped-output message names both (spec.md
// Scenario S1: `Failed to build canister: command '...' failed with
// status code 1`).
type CommandFailedError struct {
	Command  string
	ExitCode int
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("command '%s' failed with status code %d", e.Command, e.ExitCode)
}

// MissingArtifactError is returned when a canister's build steps complete
// without producing wasm_output_path (§4.7 step 3).
type MissingArtifactError struct{ Canister string }

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("build: canister %q produced no wasm output (missing or empty %s)", e.Canister, WasmOutputEnvVar)
}

// Pipeline runs BuildPipeline over a selection of canisters (C8).
type Pipeline struct {
	Store *artifact.Store
	Shell string // defaults to cmdutil.DefaultShell()
	Sink  progress.Sink

	HTTPClient *http.Client // used for Prebuilt steps whose source is a URL
}

// NewPipeline builds a Pipeline writing artifacts to store.
func NewPipeline(store *artifact.Store, sink progress.Sink) *Pipeline {
	if sink == nil {
		sink = progress.NopSink{}
	}
	shell := cmdutil.DefaultShell()
	return &Pipeline{Store: store, Shell: shell, Sink: sink, HTTPClient: http.DefaultClient}
}

// Run executes tasks concurrently, one goroutine per canister, and
// returns results in the order tasks were enqueued (FIFO of submission),
// not completion order (§4.7 "Ordering guarantee"). The whole pipeline
// returns the first surfaced error; other in-flight tasks are allowed to
// run to completion, and their outcomes stay in the returned results but
// never replace that first error. Failure-buffer dumps
// are likewise emitted in submission order, not in whatever order the
// goroutines happen to hit their failing step (Scenario S1): each
// goroutine only fills its own buffer, and the dump to Sink happens here,
// walking tasks in enqueue order, once every goroutine has finished.
func (p *Pipeline) Run(ctx context.Context, tasks []Task) ([]Result, error) {
	results := make([]Result, len(tasks))
	bufs := make([]*progress.Buffer, len(tasks))
	done := make(chan int, len(tasks))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i, task := range tasks {
		i, task := i, task
		go func() {
			buf, err := p.runOne(runCtx, task.Canister)
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

func (p *Pipeline) runOne(ctx context.Context, c project.Canister) (*progress.Buffer, error) {
	buf := progress.NewBuffer(p.Sink, c.Name)

	tmpDir, err := os.MkdirTemp("", "icp-build-"+c.Name+"-")
	if err != nil {
		return buf, err
	}
	defer os.RemoveAll(tmpDir)

	wasmOutputPath := filepath.Join(tmpDir, "out.wasm")

	for i, step := range c.Build {
		if err := p.runBuildStep(ctx, c, i, step, wasmOutputPath, buf); err != nil {
			return buf, err
		}
	}

	info, err := os.Stat(wasmOutputPath)
	if err != nil || info.Size() == 0 {
		return buf, &MissingArtifactError{Canister: c.Name}
	}

	data, err := os.ReadFile(wasmOutputPath)
	if err != nil {
		return buf, err
	}
	if _, err := p.Store.Save(c.Name, data); err != nil {
		return buf, err
	}

	buf.Succeeded()
	return buf, nil
}

func (p *Pipeline) runBuildStep(ctx context.Context, c project.Canister, idx int, step project.BuildStep, wasmOutputPath string, buf *progress.Buffer) error {
	switch step.Kind {
	case project.BuildStepScript:
		env := append(os.Environ(), WasmOutputEnvVar+"="+wasmOutputPath)
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
	case project.BuildStepPrebuilt:
		if err := copyOrFetch(ctx, p.HTTPClient, step.Source, step.SHA256, c.RootDir, wasmOutputPath); err != nil {
			return &StepFailure{Canister: c.Name, StepIndex: idx, Err: err}
		}
		return nil
	default:
		return &StepFailure{Canister: c.Name, StepIndex: idx, Err: fmt.Errorf("unknown build step kind")}
	}
}

// runScriptStep invokes command under a PTY so interleaved stdout/stderr
// line output can be captured live into buf, mirroring the teacher's
// terminal-capture approach for child-process scripts.
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

	if err := cmd.Wait(); err != nil {
		return err
	}
	return nil
}

func copyOrFetch(ctx context.Context, client *http.Client, source, sha256sum, baseDir, destPath string) error {
	var data []byte
	var err error

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		data, err = fetchHTTP(ctx, client, source)
	} else {
		path := source
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}

	if sha256sum != "" {
		sum := sha256.Sum256(data)
		actual := hex.EncodeToString(sum[:])
		if actual != strings.ToLower(sha256sum) {
			return fmt.Errorf("checksum mismatch: expected %s, got %s", sha256sum, actual)
		}
	}

	return os.WriteFile(destPath, data, 0o644)
}

func fetchHTTP(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
