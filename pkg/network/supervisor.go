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
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/docker/docker/api/types/container"

	"github.com/icp-cli/icp/pkg/fslock"
	"github.com/icp-cli/icp/pkg/project"
)

// State is one of the NetworkSupervisor state machine's states (§4.6).
type State int

const (
	StateStopped State = iota
	StateStarting
	StateSeeding
	StateRunning
	StateStopping
	StateStartupFailed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateSeeding:
		return "seeding"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStartupFailed:
		return "startup-failed"
	default:
		return "unknown"
	}
}

// ErrAlreadyRunning is returned by Start when the network directory's
// exclusive lock is already held.
type ErrAlreadyRunning struct{ ThisProject string }

func (e *ErrAlreadyRunning) Error() string {
	return fmt.Sprintf("network: already running for project %q", e.ThisProject)
}

// Seeder mints initial token balances for the seed accounts (§4.6
// "Seeding"), factored out behind an interface so the supervisor doesn't
// need to know the ledger/cycles-minting-canister wire protocol.
type Seeder interface {
	Seed(ctx context.Context, access Access, seedAccounts []string) error
}

// Supervisor launches and manages a managed network's local replica
// process (C7).
type Supervisor struct {
	NetworksDir  string // project-local network data root
	PortClaimDir PortClaimDir
	Launcher     Launcher
	Seeder       Seeder

	onState func(State)
}

// NewSupervisor builds a Supervisor. onState, if non-nil, is invoked on
// every state transition (for CLI progress reporting).
func NewSupervisor(networksDir string, portClaimDir PortClaimDir, launcher Launcher, seeder Seeder, onState func(State)) *Supervisor {
	if onState == nil {
		onState = func(State) {}
	}
	return &Supervisor{NetworksDir: networksDir, PortClaimDir: portClaimDir, Launcher: launcher, Seeder: seeder, onState: onState}
}

func (s *Supervisor) networkDir(name string) string {
	return filepath.Join(s.NetworksDir, name)
}

// Start runs the full start protocol (§4.6 steps 1-8). If background is
// false, Start blocks until Ctrl-C (or ctx cancellation), then tears the
// network down before returning.
func (s *Supervisor) Start(ctx context.Context, projectName string, net project.Network, seedAccounts []string, background bool) error {
	cfg := net.Managed
	if cfg == nil {
		return fmt.Errorf("network: %q is not a managed network", net.Name)
	}

	dir := s.networkDir(net.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	s.onState(StateStarting)

	h, err := fslock.Open(networkPaths{dir: dir})
	if err != nil {
		return err
	}
	claim, err := fslock.TryAcquireExclusive(h)
	if err != nil {
		if errors.Is(err, fslock.ErrBusy) {
			return &ErrAlreadyRunning{ThisProject: projectName}
		}
		return err
	}
	defer claim.Release()

	var portClaim *fslock.Claim
	if cfg.GatewayPort.Fixed {
		portClaim, err = s.PortClaimDir.Claim(cfg.GatewayPort.Port, projectName, net.Name)
		if err != nil {
			s.onState(StateStartupFailed)
			return err
		}
		defer portClaim.Release()
	}

	stateDir := filepath.Join(dir, "state")
	if err := os.RemoveAll(stateDir); err != nil {
		s.onState(StateStartupFailed)
		return err
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		s.onState(StateStartupFailed)
		return err
	}
	statusDir := filepath.Join(dir, "status")
	if err := os.MkdirAll(statusDir, 0o755); err != nil {
		s.onState(StateStartupFailed)
		return err
	}

	launchHandle, err := s.Launcher.Launch(ctx, cfg, statusDir, stateDir)
	if err != nil {
		s.onState(StateStartupFailed)
		return err
	}

	access := Access{
		URL: fmt.Sprintf("http://%s:%d", cfg.GatewayHost, launchHandle.Status.GatewayPort),
	}

	s.onState(StateSeeding)
	if s.Seeder != nil && len(seedAccounts) > 0 {
		if err := s.Seeder.Seed(ctx, access, seedAccounts); err != nil {
			_ = launchHandle.Stop(ctx)
			s.onState(StateStartupFailed)
			return fmt.Errorf("network: seeding failed: %w", err)
		}
	}

	desc := Descriptor{
		Project:            projectName,
		Network:            net.Name,
		PID:                launchHandle.PID,
		ContainerID:        launchHandle.ContainerID,
		InstanceID:         launchHandle.Status.InstanceID,
		AdminPort:          launchHandle.Status.AdminPort,
		GatewayPort:        launchHandle.Status.GatewayPort,
		RootKeyHex:         launchHandle.Status.RootKeyHex,
		DefaultEffectiveID: launchHandle.Status.DefaultEffectiveID,
	}
	// The exclusive claim on this directory's lock file is already held, so
	// the descriptor is written directly rather than under WithWrite.
	if err := WriteDescriptor(dir, desc); err != nil {
		_ = launchHandle.Stop(ctx)
		s.onState(StateStartupFailed)
		return err
	}
	if cfg.GatewayPort.Fixed {
		if err := s.PortClaimDir.WriteDescriptor(cfg.GatewayPort.Port, desc); err != nil {
			_ = launchHandle.Stop(ctx)
			s.onState(StateStartupFailed)
			return err
		}
	}

	s.onState(StateRunning)

	if background {
		return nil
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	s.onState(StateStopping)
	stopErr := launchHandle.Stop(context.Background())
	_ = RemoveDescriptor(dir)
	if cfg.GatewayPort.Fixed {
		_ = s.PortClaimDir.RemoveDescriptor(cfg.GatewayPort.Port)
	}
	s.onState(StateStopped)
	return stopErr
}

// Stop implements the stop protocol (§4.6 "Stop protocol"): idempotent,
// reporting success when no descriptor is present.
func (s *Supervisor) Stop(ctx context.Context, net project.Network) error {
	dir := s.networkDir(net.Name)
	desc, err := LoadDescriptor(dir)
	if err != nil {
		return err
	}
	if desc == nil {
		return nil
	}

	if err := stopProcessOrContainer(ctx, desc, s.Launcher); err != nil {
		return err
	}

	if err := RemoveDescriptor(dir); err != nil {
		return err
	}
	if net.Managed != nil && net.Managed.GatewayPort.Fixed {
		if err := s.PortClaimDir.RemoveDescriptor(net.Managed.GatewayPort.Port); err != nil {
			return err
		}
	}
	return nil
}

func stopProcessOrContainer(ctx context.Context, desc *Descriptor, launcher Launcher) error {
	if desc.PID > 0 {
		proc, err := os.FindProcess(desc.PID)
		if err != nil {
			return nil // process already gone; stop is idempotent
		}
		if err := proc.Signal(os.Interrupt); err != nil {
			return nil
		}
		_, _ = proc.Wait()
		return nil
	}
	// Container identifiers are stopped through the Docker client of the
	// supervisor's ContainerLauncher; with any other launcher the container
	// is left as it is and only descriptor state is managed.
	if cl, ok := launcher.(*ContainerLauncher); ok && cl.Client != nil && desc.ContainerID != "" {
		timeout := 10
		_ = cl.Client.ContainerStop(ctx, desc.ContainerID, container.StopOptions{Timeout: &timeout})
	}
	return nil
}
