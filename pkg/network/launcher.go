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
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/icp-cli/icp/pkg/project"
)

// Launcher spawns the replica launcher and waits for it to publish
// status.json (§4.6 steps 5-6). Two implementations exist: one spawns a
// child process directly (read from ICP_CLI_NETWORK_LAUNCHER_PATH, mirroring
// the original tool), the other runs it inside a Docker container.
type Launcher interface {
	// Launch starts the launcher, returning a Handle once status.json has
	// been read successfully, or an error (including ChildExited if the
	// child exits before the file is complete).
	Launch(ctx context.Context, cfg *project.ManagedConfig, statusDir, stateDir string) (*Handle, error)
}

// Handle identifies a running launcher instance (process or container) plus
// its reported status.
type Handle struct {
	PID         int    // set for ProcessLauncher
	ContainerID string // set for ContainerLauncher
	Status      launcherStatus

	stop func(ctx context.Context) error
}

// Stop sends a graceful interrupt to the launcher and awaits exit.
func (h *Handle) Stop(ctx context.Context) error {
	if h.stop == nil {
		return nil
	}
	return h.stop(ctx)
}

// ErrChildExited is returned when the launcher process/container exits
// before status.json is complete.
type ErrChildExited struct{ Err error }

func (e *ErrChildExited) Error() string { return fmt.Sprintf("network: launcher exited before startup completed: %v", e.Err) }
func (e *ErrChildExited) Unwrap() error { return e.Err }

// ProcessLauncher runs the network launcher binary as a local child
// process, per ICP_CLI_NETWORK_LAUNCHER_PATH.
type ProcessLauncher struct {
	BinaryPath string
}

func (l *ProcessLauncher) Launch(ctx context.Context, cfg *project.ManagedConfig, statusDir, stateDir string) (*Handle, error) {
	args := []string{"--status-dir", statusDir, "--state-dir", stateDir}
	if cfg.GatewayPort.Fixed {
		args = append(args, "--gateway-port", strconv.Itoa(int(cfg.GatewayPort.Port)))
	}
	if cfg.NNS {
		args = append(args, "--nns")
	}
	if cfg.II {
		args = append(args, "--ii")
	}
	for _, s := range cfg.Subnets {
		args = append(args, "--subnet", s)
	}

	cmd := exec.CommandContext(ctx, l.BinaryPath, args...)
	stdoutFile, err := os.Create(filepath.Join(stateDir, "launcher.stdout.log"))
	if err != nil {
		return nil, err
	}
	stderrFile, err := os.Create(filepath.Join(stateDir, "launcher.stderr.log"))
	if err != nil {
		return nil, err
	}
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile

	if err := cmd.Start(); err != nil {
		return nil, &ErrChildExited{Err: err}
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	status, err := waitForStatus(statusDir, exited)
	if err != nil {
		return nil, err
	}

	return &Handle{
		PID:    cmd.Process.Pid,
		Status: *status,
		stop: func(ctx context.Context) error {
			if cmd.Process == nil {
				return nil
			}
			_ = cmd.Process.Signal(os.Interrupt)
			select {
			case <-exited:
				return nil
			case <-time.After(10 * time.Second):
				return cmd.Process.Kill()
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}, nil
}

// ContainerLauncher runs the network launcher inside a Docker container,
// per spec §4.6/§9's container-mode note.
type ContainerLauncher struct {
	Client *client.Client
	Image  string
}

func (l *ContainerLauncher) Launch(ctx context.Context, cfg *project.ManagedConfig, statusDir, stateDir string) (*Handle, error) {
	if err := l.EnsureImage(ctx); err != nil {
		return nil, err
	}

	hostCfg := &container.HostConfig{
		Binds: []string{
			statusDir + ":/status",
			stateDir + ":/state",
		},
	}
	containerCfg := &container.Config{
		Image: l.Image,
		Cmd:   []string{"--status-dir", "/status", "--state-dir", "/state"},
	}
	if cfg.GatewayPort.Fixed {
		containerCfg.Cmd = append(containerCfg.Cmd, "--gateway-port", strconv.Itoa(int(cfg.GatewayPort.Port)))
	}

	resp, err := l.Client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, err
	}
	if err := l.Client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, err
	}

	exited := make(chan error, 1)
	go func() {
		statusCh, errCh := l.Client.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
		select {
		case <-statusCh:
			exited <- nil
		case err := <-errCh:
			exited <- err
		}
	}()

	status, err := waitForStatus(statusDir, exited)
	if err != nil {
		return nil, err
	}

	return &Handle{
		ContainerID: resp.ID,
		Status:      *status,
		stop: func(ctx context.Context) error {
			timeout := 10
			return l.Client.ContainerStop(ctx, resp.ID, container.StopOptions{Timeout: &timeout})
		},
	}, nil
}

// waitForStatus polls statusDir/status.json until it contains a complete,
// valid line, or the child exits first.
func waitForStatus(statusDir string, exited <-chan error) (*launcherStatus, error) {
	path := filepath.Join(statusDir, "status.json")
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err := <-exited:
			// One last check: the child may have written the file right
			// before exiting (e.g. a one-shot foreground launcher).
			if st, readErr := readStatusFile(path); readErr == nil {
				return st, nil
			}
			return nil, &ErrChildExited{Err: err}
		case <-ticker.C:
			if st, err := readStatusFile(path); err == nil {
				return st, nil
			}
		}
	}
}

func readStatusFile(path string) (*launcherStatus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() {
		return nil, fmt.Errorf("network: status.json is not yet a complete line")
	}
	return parseLauncherStatus(scanner.Bytes())
}
