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

// Package managementclient adapts remote.Canister's opaque Call into the
// management-canister operations `canister create` and `canister settings
// update` need (create_canister, canister_status, update_settings), and
// into the NNS migration canister's Start/Poll/ControllerAttached surface
// internal/migrate needs. Like internal/ledgeradapter and
// internal/agentclient, this fixes method names and a JSON envelope over
// the deliberately opaque remote.Canister the core leaves out of scope.
package managementclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/icp-cli/icp/internal/migrate"
	"github.com/icp-cli/icp/pkg/project"
	"github.com/icp-cli/icp/pkg/remote"
)

// ManagementCanisterID is the platform's well-known management canister,
// addressed like any other canister through remote.Canister.Call.
const ManagementCanisterID = "aaaaa-aa"

// MigrationCanisterID is the well-known NNS canister migrate-id talks to.
const MigrationCanisterID = "rwlgt-iiaaa-aaaaa-aaaaa-cai"

// Client wraps one remote.Canister for management-canister operations.
type Client struct {
	RC remote.Canister
}

type settingsWire struct {
	Controllers             []string `json:"controllers,omitempty"`
	ComputeAllocation       *uint64  `json:"compute_allocation,omitempty"`
	MemoryAllocation        *uint64  `json:"memory_allocation,omitempty"`
	FreezingThreshold       *uint64  `json:"freezing_threshold,omitempty"`
	ReservedCyclesLimit     *uint64  `json:"reserved_cycles_limit,omitempty"`
	WasmMemoryLimit         *uint64  `json:"wasm_memory_limit,omitempty"`
	WasmMemoryThreshold     *uint64  `json:"wasm_memory_threshold,omitempty"`
	LogVisibility           string   `json:"log_visibility,omitempty"`
}

func toWireSettings(settings project.Settings, controllers []string) settingsWire {
	return settingsWire{
		Controllers:         controllers,
		ComputeAllocation:   settings.ComputeAllocation,
		MemoryAllocation:    settings.MemoryAllocation,
		FreezingThreshold:   settings.FreezingThreshold,
		ReservedCyclesLimit: settings.ReservedCyclesLimit,
		WasmMemoryLimit:     settings.WasmMemoryLimit,
		WasmMemoryThreshold: settings.WasmMemoryThreshold,
		LogVisibility:       string(settings.LogVisibility),
	}
}

type createArgs struct {
	Subnet   string       `json:"subnet,omitempty"`
	Settings settingsWire `json:"settings"`
}

type createResult struct {
	CanisterID string `json:"canister_id"`
}

// CreateCanister provisions a new canister on subnet (empty means "let the
// replica choose"), with the given initial settings/controllers.
func (c *Client) CreateCanister(ctx context.Context, subnet string, settings project.Settings, controllers []string) (string, error) {
	arg, err := json.Marshal(createArgs{Subnet: subnet, Settings: toWireSettings(settings, controllers)})
	if err != nil {
		return "", err
	}
	out, err := c.RC.Call(ctx, ManagementCanisterID, "provisional_create_canister_with_cycles", arg)
	if err != nil {
		return "", fmt.Errorf("managementclient: create_canister: %w", err)
	}
	var res createResult
	if err := json.Unmarshal(out, &res); err != nil {
		return "", fmt.Errorf("managementclient: decode create result: %w", err)
	}
	return res.CanisterID, nil
}

type statusResult struct {
	Settings settingsWire `json:"settings"`
}

func fromWireSettings(w settingsWire) project.Settings {
	return project.Settings{
		ComputeAllocation:   w.ComputeAllocation,
		MemoryAllocation:    w.MemoryAllocation,
		FreezingThreshold:   w.FreezingThreshold,
		ReservedCyclesLimit: w.ReservedCyclesLimit,
		WasmMemoryLimit:     w.WasmMemoryLimit,
		WasmMemoryThreshold: w.WasmMemoryThreshold,
		LogVisibility:       project.LogVisibility(w.LogVisibility),
		Controllers:         w.Controllers,
	}
}

// ReadSettings fetches a canister's current settings and controller list.
func (c *Client) ReadSettings(ctx context.Context, canisterID string) (project.Settings, []string, error) {
	arg, _ := json.Marshal(struct {
		CanisterID string `json:"canister_id"`
	}{canisterID})
	out, err := c.RC.Call(ctx, ManagementCanisterID, "canister_status", arg)
	if err != nil {
		return project.Settings{}, nil, fmt.Errorf("managementclient: canister_status: %w", err)
	}
	var res statusResult
	if err := json.Unmarshal(out, &res); err != nil {
		return project.Settings{}, nil, fmt.Errorf("managementclient: decode status result: %w", err)
	}
	return fromWireSettings(res.Settings), res.Settings.Controllers, nil
}

// Controllers reports a canister's current controller list, for
// internal/settingsupdate's add/remove resolution.
func (c *Client) Controllers(ctx context.Context, canisterID string) ([]string, error) {
	_, controllers, err := c.ReadSettings(ctx, canisterID)
	return controllers, err
}

type updateArgs struct {
	CanisterID string       `json:"canister_id"`
	Settings   settingsWire `json:"settings"`
}

// UpdateSettings submits the canister's new settings/controllers wholesale.
func (c *Client) UpdateSettings(ctx context.Context, canisterID string, settings project.Settings, controllers []string) error {
	arg, err := json.Marshal(updateArgs{CanisterID: canisterID, Settings: toWireSettings(settings, controllers)})
	if err != nil {
		return err
	}
	_, err = c.RC.Call(ctx, ManagementCanisterID, "update_settings", arg)
	if err != nil {
		return fmt.Errorf("managementclient: update_settings: %w", err)
	}
	return nil
}

// MigrationAdapter implements migrate.MigrationCanister over remote.Canister.
type MigrationAdapter struct {
	RC remote.Canister
}

var _ migrate.MigrationCanister = (*MigrationAdapter)(nil)

func (m *MigrationAdapter) Start(ctx context.Context, source, target string) (string, error) {
	arg, _ := json.Marshal(struct {
		Source string `json:"source"`
		Target string `json:"target"`
	}{source, target})
	out, err := m.RC.Call(ctx, MigrationCanisterID, "migrate_canister", arg)
	if err != nil {
		return "", fmt.Errorf("managementclient: migrate_canister: %w", err)
	}
	var res struct {
		MigrationID string `json:"migration_id"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		return "", fmt.Errorf("managementclient: decode migration id: %w", err)
	}
	return res.MigrationID, nil
}

func (m *MigrationAdapter) Poll(ctx context.Context, migrationID string) (migrate.Status, error) {
	arg, _ := json.Marshal(struct {
		MigrationID string `json:"migration_id"`
	}{migrationID})
	out, err := m.RC.Call(ctx, MigrationCanisterID, "migration_status", arg)
	if err != nil {
		return migrate.StatusPending, fmt.Errorf("managementclient: migration_status: %w", err)
	}
	var res struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		return migrate.StatusPending, fmt.Errorf("managementclient: decode migration status: %w", err)
	}
	switch res.Status {
	case "in-progress":
		return migrate.StatusInProgress, nil
	case "succeeded":
		return migrate.StatusSucceeded, nil
	case "failed":
		return migrate.StatusFailed, nil
	default:
		return migrate.StatusPending, nil
	}
}

func (m *MigrationAdapter) ControllerAttached(ctx context.Context, canisterID string) (bool, error) {
	controllers, err := (&Client{RC: m.RC}).Controllers(ctx, canisterID)
	if err != nil {
		return false, err
	}
	for _, c := range controllers {
		if c == MigrationCanisterID {
			return true, nil
		}
	}
	return false, nil
}
