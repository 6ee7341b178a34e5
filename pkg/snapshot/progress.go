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
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"tailscale.com/atomicfile"
)

var (
	ErrNoExistingDownload = errors.New("snapshot: no existing download to resume")
	ErrNoUploadProgress   = errors.New("snapshot: no existing upload progress to resume")
	ErrSnapshotIDMismatch = errors.New("snapshot: upload progress belongs to a different snapshot id")
)

// BlobDownloadProgress tracks one blob's write frontier and the set of
// ahead-of-frontier completed offsets (§3 SnapshotDirectory,
// §4.8 "mark_complete semantics").
type BlobDownloadProgress struct {
	Frontier uint64          `json:"frontier"`
	Ahead    map[uint64]bool `json:"ahead"`
}

func newBlobDownloadProgress() BlobDownloadProgress {
	return BlobDownloadProgress{Ahead: map[uint64]bool{}}
}

// NeedsDownload reports whether offset still needs to be fetched.
func (p *BlobDownloadProgress) NeedsDownload(offset uint64) bool {
	if offset < p.Frontier {
		return false
	}
	return !p.Ahead[offset]
}

// MarkComplete implements the exact §4.8 "mark_complete(offset, total)"
// algorithm: no-op if behind the frontier, record-ahead if beyond it, or
// advance the frontier (possibly draining a run of already-recorded ahead
// entries) if it lands exactly on it.
func (p *BlobDownloadProgress) MarkComplete(offset, total uint64) {
	if p.Ahead == nil {
		p.Ahead = map[uint64]bool{}
	}
	switch {
	case offset < p.Frontier:
		return
	case offset > p.Frontier:
		p.Ahead[offset] = true
	default:
		p.Frontier += ChunkSizeAt(p.Frontier, total)
		for p.Ahead[p.Frontier] {
			delete(p.Ahead, p.Frontier)
			p.Frontier += ChunkSizeAt(p.Frontier, total)
		}
	}
}

// downloadProgressDoc is the on-disk shape of .download_progress.json: a
// per-blob map, since a snapshot download tracks three blobs at once.
type downloadProgressDoc struct {
	Blobs map[string]*aheadDoc `json:"blobs"`
}

type aheadDoc struct {
	Frontier uint64   `json:"frontier"`
	Ahead    []uint64 `json:"ahead"`
}

// DownloadProgressStore loads/persists BlobDownloadProgress for all three
// blobs of one SnapshotDirectory, atomically, under the directory's lock.
type DownloadProgressStore struct {
	mu   sync.Mutex
	path string
	doc  downloadProgressDoc
}

// LoadDownloadProgress reads .download_progress.json, defaulting absent
// blobs to a fresh BlobDownloadProgress.
func (d *Directory) LoadDownloadProgress() (*DownloadProgressStore, error) {
	s := &DownloadProgressStore{path: d.downloadProgressPath(), doc: downloadProgressDoc{Blobs: map[string]*aheadDoc{}}}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("snapshot: read download progress: %w", err)
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("snapshot: parse download progress: %w", err)
	}
	if s.doc.Blobs == nil {
		s.doc.Blobs = map[string]*aheadDoc{}
	}
	return s, nil
}

// Get returns the progress for blob, defaulting to a fresh zero-value one.
func (s *DownloadProgressStore) Get(blob BlobName) BlobDownloadProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	ad, ok := s.doc.Blobs[blob.filename()]
	if !ok {
		return newBlobDownloadProgress()
	}
	ahead := map[uint64]bool{}
	for _, o := range ad.Ahead {
		ahead[o] = true
	}
	return BlobDownloadProgress{Frontier: ad.Frontier, Ahead: ahead}
}

// Save persists p for blob, atomically rewriting the whole document
// (write-temp-then-rename, §4.8 step 2e).
func (s *DownloadProgressStore) Save(blob BlobName, p BlobDownloadProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ahead := make([]uint64, 0, len(p.Ahead))
	for o := range p.Ahead {
		ahead = append(ahead, o)
	}
	sort.Slice(ahead, func(i, j int) bool { return ahead[i] < ahead[j] })
	s.doc.Blobs[blob.filename()] = &aheadDoc{Frontier: p.Frontier, Ahead: ahead}

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(s.path, data, 0o644)
}

// UploadProgress is the on-disk shape of .upload_progress.json (§3, §4.8
// "Upload" step 1).
type UploadProgress struct {
	SnapshotID         string          `json:"snapshot_id"`
	MetadataUploaded   bool            `json:"metadata_uploaded"`
	WasmModuleOffset   uint64          `json:"wasm_module_offset"`
	WasmMemoryOffset   uint64          `json:"wasm_memory_offset"`
	StableMemoryOffset uint64          `json:"stable_memory_offset"`
	WasmChunksUploaded map[string]bool `json:"wasm_chunks_uploaded"`
}

func (u *UploadProgress) offset(blob BlobName) uint64 {
	switch blob {
	case WasmModule:
		return u.WasmModuleOffset
	case WasmMemory:
		return u.WasmMemoryOffset
	default:
		return u.StableMemoryOffset
	}
}

func (u *UploadProgress) setOffset(blob BlobName, v uint64) {
	switch blob {
	case WasmModule:
		u.WasmModuleOffset = v
	case WasmMemory:
		u.WasmMemoryOffset = v
	default:
		u.StableMemoryOffset = v
	}
}

// LoadUploadProgress reads .upload_progress.json, or returns a fresh
// UploadProgress for snapshotID if absent. If the file exists and
// disagrees on snapshot id, returns ErrSnapshotIDMismatch (§4.8 "Upload"
// step 1).
func (d *Directory) LoadUploadProgress(snapshotID string) (*UploadProgress, error) {
	data, err := os.ReadFile(d.uploadProgressPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &UploadProgress{SnapshotID: snapshotID, WasmChunksUploaded: map[string]bool{}}, nil
		}
		return nil, fmt.Errorf("snapshot: read upload progress: %w", err)
	}
	var p UploadProgress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("snapshot: parse upload progress: %w", err)
	}
	if p.WasmChunksUploaded == nil {
		p.WasmChunksUploaded = map[string]bool{}
	}
	if p.SnapshotID != "" && p.SnapshotID != snapshotID {
		return nil, ErrSnapshotIDMismatch
	}
	return &p, nil
}

// SaveUploadProgress atomically persists p to .upload_progress.json.
func (d *Directory) SaveUploadProgress(p *UploadProgress) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(d.uploadProgressPath(), data, 0o644)
}
