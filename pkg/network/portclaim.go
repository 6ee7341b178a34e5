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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/icp-cli/icp/pkg/fslock"
)

// ErrPortAlreadyClaimed is returned by PortClaimDir.Claim when another project's
// network already holds the requested fixed port.
type ErrPortAlreadyClaimed struct {
	Port         uint16
	OtherNetwork string
	OtherProject string
}

func (e *ErrPortAlreadyClaimed) Error() string {
	return fmt.Sprintf("network: port %d already claimed by network %q of project %q", e.Port, e.OtherNetwork, e.OtherProject)
}

// PortClaimDir is the shared global directory (not the per-project network
// directory) keyed by fixed gateway port (§4.6 step 3).
type PortClaimDir struct {
	Dir string
}

type portPaths struct{ dir string }

func (p portPaths) LockFile() string { return p.dir + ".lock" }

func (c PortClaimDir) portDir(port uint16) string {
	return filepath.Join(c.Dir, strconv.Itoa(int(port)))
}

// Claim acquires the exclusive port-claim lock for port, keyed by port
// number, under the global port-claim directory. Returns ErrPortAlreadyClaimed
// (with the existing owner's identity) if another project already holds it.
func (c PortClaimDir) Claim(port uint16, project, networkName string) (*fslock.Claim, error) {
	dir := c.portDir(port)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	h, err := fslock.Open(portPaths{dir: dir})
	if err != nil {
		return nil, err
	}
	claim, err := fslock.TryAcquireExclusive(h)
	if err != nil {
		if errors.Is(err, fslock.ErrBusy) {
			existing, readErr := LoadDescriptor(dir)
			if readErr == nil && existing != nil {
				return nil, &ErrPortAlreadyClaimed{Port: port, OtherNetwork: existing.Network, OtherProject: existing.Project}
			}
			return nil, &ErrPortAlreadyClaimed{Port: port, OtherNetwork: "unknown", OtherProject: "unknown"}
		}
		return nil, err
	}
	return claim, nil
}

// WriteDescriptor persists the same Descriptor into this port's claim
// directory, so a concurrent claimant can report ownership.
func (c PortClaimDir) WriteDescriptor(port uint16, d Descriptor) error {
	return WriteDescriptor(c.portDir(port), d)
}

// RemoveDescriptor deletes the descriptor from this port's claim directory.
func (c PortClaimDir) RemoveDescriptor(port uint16) error {
	return RemoveDescriptor(c.portDir(port))
}
