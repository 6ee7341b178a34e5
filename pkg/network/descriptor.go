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

// Package network implements NetworkAccess (C6) and NetworkSupervisor (C7):
// resolving a Network into reachable endpoint coordinates, and launching,
// supervising, and tearing down the local replica process backing a
// managed network.
package network

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"tailscale.com/atomicfile"
)

// LauncherInterfaceVersion is the only status.json interface version this
// supervisor understands.
const LauncherInterfaceVersion = "1"

// Descriptor is the on-disk NetworkDescriptor written atomically to both
// the network directory and the port-claim directory once a managed
// network finishes starting (§4.6 step 7).
type Descriptor struct {
	Project            string `json:"project"`
	Network            string `json:"network"`
	PID                int    `json:"pid,omitempty"`
	ContainerID        string `json:"container_id,omitempty"`
	InstanceID         string `json:"instance_id"`
	AdminPort          uint16 `json:"admin_port"`
	GatewayPort        uint16 `json:"gateway_port"`
	RootKeyHex         string `json:"root_key"`
	DefaultEffectiveID string `json:"default_effective_canister_id"`
}

func descriptorPath(dir string) string { return filepath.Join(dir, "network_descriptor.json") }

// WriteDescriptor atomically persists d to dir/network_descriptor.json.
func WriteDescriptor(dir string, d Descriptor) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(descriptorPath(dir), data, 0o644)
}

// LoadDescriptor reads dir/network_descriptor.json. Returns (nil, nil) if
// it does not exist.
func LoadDescriptor(dir string) (*Descriptor, error) {
	data, err := os.ReadFile(descriptorPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// RemoveDescriptor deletes the descriptor file; a missing file is not an
// error (stopping is idempotent).
func RemoveDescriptor(dir string) error {
	err := os.Remove(descriptorPath(dir))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// launcherStatus is the shape the launcher child process writes to
// status.json, one line, trailing newline, once ready (§4.6 step 6).
type launcherStatus struct {
	V                  string `json:"v"`
	InstanceID         string `json:"instance_id"`
	AdminPort          uint16 `json:"admin_port"`
	GatewayPort        uint16 `json:"gateway_port"`
	RootKeyHex         string `json:"root_key"`
	DefaultEffectiveID string `json:"default_effective_canister_id"`
}

func parseLauncherStatus(data []byte) (*launcherStatus, error) {
	var st launcherStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	if st.V != LauncherInterfaceVersion {
		return nil, fmt.Errorf("network: launcher reported interface version %q, want %q", st.V, LauncherInterfaceVersion)
	}
	return &st, nil
}
