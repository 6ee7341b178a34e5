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
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/icp-cli/icp/pkg/fslock"
	"github.com/icp-cli/icp/pkg/project"
)

// ErrNetworkNotRunning is returned by Resolve and AdminURL when a managed
// network has no published descriptor (AdminURL also returns it for every
// connected network).
var ErrNetworkNotRunning = errors.New("network: not running")

// Access is the resolved endpoint coordinates for a Network (C6).
type Access struct {
	URL     string
	RootKey []byte // optional; nil for Connected networks that don't supply one
}

// networkPaths implements fslock.PathsAccess for a network's on-disk
// directory.
type networkPaths struct{ dir string }

func (p networkPaths) LockFile() string { return p.dir + ".lock" }

// Resolve builds an Access record for net, whose managed-network directory
// (when applicable) lives under networksDir/<name> (§4.5).
func Resolve(net project.Network, networksDir string) (Access, error) {
	if !net.IsManaged() {
		c := net.Connected
		var rootKey []byte
		if c.RootKeyHex != "" {
			var err error
			rootKey, err = hex.DecodeString(c.RootKeyHex)
			if err != nil {
				return Access{}, fmt.Errorf("network: connected network %q has invalid root-key hex: %w", net.Name, err)
			}
		}
		url := c.GatewayURL
		if url == "" {
			url = c.APIURL
		}
		return Access{URL: url, RootKey: rootKey}, nil
	}

	dir := networksDirFor(networksDir, net.Name)
	h, err := fslock.Open(networkPaths{dir: dir})
	if err != nil {
		return Access{}, err
	}

	desc, err := readDescriptorWithRetry(h, dir)
	if err != nil {
		return Access{}, err
	}
	if desc == nil {
		return Access{}, ErrNetworkNotRunning
	}

	rootKey, err := hex.DecodeString(desc.RootKeyHex)
	if err != nil {
		return Access{}, fmt.Errorf("network: descriptor for %q has invalid root-key hex: %w", net.Name, err)
	}
	return Access{
		URL:     fmt.Sprintf("http://%s:%d", net.Managed.GatewayHost, desc.GatewayPort),
		RootKey: rootKey,
	}, nil
}

// readDescriptorWithRetry acquires a shared lock and loads the descriptor,
// retrying with a small bounded loop if the file exists but isn't yet
// valid JSON (a launcher may be mid-write).
func readDescriptorWithRetry(h *fslock.Handle, dir string) (*Descriptor, error) {
	const attempts = 5
	var lastErr error
	for i := 0; i < attempts; i++ {
		d, err := fslock.WithRead(h, func(fslock.LRead) (*Descriptor, error) {
			return LoadDescriptor(dir)
		})
		if err == nil {
			return d, nil
		}
		lastErr = err
		time.Sleep(20 * time.Millisecond)
	}
	return nil, lastErr
}

func networksDirFor(networksDir, name string) string {
	return filepath.Join(networksDir, name)
}

// AdminURL resolves a managed network's control-plane base URL (host plus
// the admin port recorded in its NetworkDescriptor), the coordinate
// WatchState dials `/watch` against for `network ping --wait-healthy` and
// `network logs --follow` (SPEC_FULL.md's gorilla/websocket wiring).
// Connected networks have no control plane and always fail with
// ErrNetworkNotRunning.
func AdminURL(net project.Network, networksDir string) (string, error) {
	if !net.IsManaged() {
		return "", ErrNetworkNotRunning
	}
	dir := networksDirFor(networksDir, net.Name)
	h, err := fslock.Open(networkPaths{dir: dir})
	if err != nil {
		return "", err
	}
	desc, err := readDescriptorWithRetry(h, dir)
	if err != nil {
		return "", err
	}
	if desc == nil {
		return "", ErrNetworkNotRunning
	}
	return fmt.Sprintf("http://%s:%d", net.Managed.GatewayHost, desc.AdminPort), nil
}
