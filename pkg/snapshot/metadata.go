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

package snapshot

import (
	"encoding/json"
	"fmt"
	"os"

	"tailscale.com/atomicfile"

	"github.com/icp-cli/icp/pkg/remote"
)

// ErrInvalidMetadata is returned when metadata.json exists but fails to
// parse.
type ErrInvalidMetadata struct{ Err error }

func (e *ErrInvalidMetadata) Error() string { return fmt.Sprintf("snapshot: invalid metadata: %v", e.Err) }
func (e *ErrInvalidMetadata) Unwrap() error { return e.Err }

// SaveMetadata atomically persists meta to metadata.json.
func (d *Directory) SaveMetadata(meta remote.SnapshotMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(d.metadataPath(), data, 0o644)
}

// LoadMetadata reads metadata.json.
func (d *Directory) LoadMetadata() (remote.SnapshotMetadata, error) {
	var meta remote.SnapshotMetadata
	data, err := os.ReadFile(d.metadataPath())
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, &ErrInvalidMetadata{Err: err}
	}
	return meta, nil
}

func blobSize(meta remote.SnapshotMetadata, blob BlobName) uint64 {
	switch blob {
	case WasmModule:
		return meta.WasmModuleSize
	case WasmMemory:
		return meta.WasmMemorySize
	default:
		return meta.StableMemorySize
	}
}

func allBlobs() []BlobName { return []BlobName{WasmModule, WasmMemory, StableMemory} }
