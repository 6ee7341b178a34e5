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

// Package snapshot implements SnapshotTransfer (C10): chunked, parallel,
// resumable blob download and upload of a canister's snapshot (Wasm
// module, Wasm memory, stable memory, chunk store) with crash-safe
// progress persistence.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/icp-cli/icp/pkg/fslock"
)

// MaxChunkSize is the maximum chunk size for transfer (§4.8 "Chunking").
const MaxChunkSize = 2_000_000

// ChunkSizeAt computes the size of the chunk starting at offset, given the
// blob's total size (§4.8 "Chunking").
func ChunkSizeAt(offset, total uint64) uint64 {
	remaining := total - offset
	if remaining > MaxChunkSize {
		return MaxChunkSize
	}
	return remaining
}

// ChunkOffsets enumerates 0, MaxChunkSize, 2*MaxChunkSize, ... up to total.
func ChunkOffsets(total uint64) []uint64 {
	var offsets []uint64
	for off := uint64(0); off < total; off += MaxChunkSize {
		offsets = append(offsets, off)
	}
	return offsets
}

// Directory is an on-disk SnapshotDirectory (§3), owned exclusively by one
// transfer operation at a time via its FSLock.
type Directory struct {
	Path string
	lock *fslock.Handle
}

// lockPath is the directory's lock file; dirPaths wraps it to implement
// fslock.PathsAccess.
func (d *Directory) lockPath() string { return filepath.Join(d.Path, ".lock") }

type dirPaths struct{ path string }

func (p dirPaths) LockFile() string { return p.path }

// Open prepares dir as a SnapshotDirectory, creating it if absent and
// acquiring its FSLock handle (not yet held).
func Open(dir string) (*Directory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "wasm_chunk_store"), 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create chunk store directory: %w", err)
	}
	d := &Directory{Path: dir}
	h, err := fslock.Open(dirPaths{path: d.lockPath()})
	if err != nil {
		return nil, err
	}
	d.lock = h
	return d, nil
}

func (d *Directory) metadataPath() string         { return filepath.Join(d.Path, "metadata.json") }
func (d *Directory) downloadProgressPath() string  { return filepath.Join(d.Path, ".download_progress.json") }
func (d *Directory) uploadProgressPath() string    { return filepath.Join(d.Path, ".upload_progress.json") }
func (d *Directory) blobPath(blob BlobName) string { return filepath.Join(d.Path, blob.filename()) }
func (d *Directory) chunkStorePath(hash string) string {
	return filepath.Join(d.Path, "wasm_chunk_store", hash+".bin")
}

// BlobName is one of the three large per-snapshot blobs.
type BlobName int

const (
	WasmModule BlobName = iota
	WasmMemory
	StableMemory
)

func (b BlobName) filename() string {
	switch b {
	case WasmModule:
		return "wasm_module.bin"
	case WasmMemory:
		return "wasm_memory.bin"
	case StableMemory:
		return "stable_memory.bin"
	default:
		return "unknown.bin"
	}
}

// IsDownloadResumable reports whether dir holds download progress that a
// subsequent invocation may continue from (§4.8 "Failure model").
func (d *Directory) IsDownloadResumable() bool {
	_, err := os.Stat(d.metadataPath())
	if err != nil {
		return false
	}
	_, err = os.Stat(d.downloadProgressPath())
	return err == nil
}

// IsUploadResumable reports whether dir holds upload progress.
func (d *Directory) IsUploadResumable() bool {
	_, err := os.Stat(d.uploadProgressPath())
	return err == nil
}

// ErrDirectoryNotEmpty is returned when starting a fresh transfer into a
// directory that already has unrelated contents, to prevent silent
// overwrites (§4.8 "Failure model").
type ErrDirectoryNotEmpty struct{ Path string }

func (e *ErrDirectoryNotEmpty) Error() string {
	return fmt.Sprintf("snapshot: directory %q is not empty and has no resumable progress", e.Path)
}

// RequireFreshOrResumable enforces the "starting afresh into a non-empty
// directory is refused" rule unless resume is requested or the directory
// genuinely has no entries yet.
func (d *Directory) RequireFreshOrResumable(resume, forUpload bool) error {
	resumable := d.IsDownloadResumable()
	if forUpload {
		resumable = d.IsUploadResumable()
	}
	if resume {
		if !resumable {
			if forUpload {
				return ErrNoUploadProgress
			}
			return ErrNoExistingDownload
		}
		return nil
	}
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return err
	}
	nonTrivial := 0
	for _, e := range entries {
		if e.Name() == "wasm_chunk_store" {
			continue
		}
		nonTrivial++
	}
	if nonTrivial > 0 {
		return &ErrDirectoryNotEmpty{Path: d.Path}
	}
	return nil
}
