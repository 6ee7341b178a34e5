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

// Package cmdutil provides small helpers around os/exec used by every
// component that shells out to a child process (build/sync step scripts,
// the network launcher, the docker CLI fallback path).
package cmdutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// NewStdCmd builds a command wired to the current process's stdio. It is the
// default for anything that should behave like a plain foreground command.
func NewStdCmd(name string, arg ...string) *exec.Cmd {
	cmd := exec.Command(name, arg...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

// NewShellCmd wraps a shell command line the way build/sync Script steps
// invoke it: through the target shell, not argv-split.
func NewShellCmd(ctx context.Context, shell, commandLine string, env []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, shell, "-c", commandLine)
	cmd.Env = env
	return cmd
}

// DefaultShell returns the shell used to run Script steps, honoring $SHELL
// the way an interactive user's environment would.
func DefaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// Confirm prompts msg on w and reads a y/N answer from r.
func Confirm(r io.Reader, w io.Writer, msg string) (bool, error) {
	fmt.Fprintf(w, "%s [y/N]: ", msg)

	var confirm string
	_, err := fmt.Fscanln(r, &confirm)
	if err != nil && err.Error() != "unexpected newline" {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	return strings.ToLower(confirm) == "y", nil
}
