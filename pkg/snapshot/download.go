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
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"
	"tailscale.com/atomicfile"

	"github.com/icp-cli/icp/pkg/fslock"
	"github.com/icp-cli/icp/pkg/progress"
	"github.com/icp-cli/icp/pkg/remote"
)

// BlobIOError carries the specific filesystem path a blob I/O failure
// touched (§4.8 "Failure model").
type BlobIOError struct {
	Path string
	Err  error
}

func (e *BlobIOError) Error() string { return fmt.Sprintf("snapshot: i/o error on %s: %v", e.Path, e.Err) }
func (e *BlobIOError) Unwrap() error { return e.Err }

// RemoteReadFailedError wraps a non-retryable failure reading a chunk at
// offset.
type RemoteReadFailedError struct {
	Offset uint64
	Err    error
}

func (e *RemoteReadFailedError) Error() string {
	return fmt.Sprintf("snapshot: remote read at offset %d failed: %v", e.Offset, e.Err)
}
func (e *RemoteReadFailedError) Unwrap() error { return e.Err }

// Download implements SnapshotTransfer's download protocol (§4.8
// "Download"): fetches metadata, then for each non-zero-size blob,
// downloads every chunk the progress file says is still needed, in
// parallel, persisting crash-safe progress after each write.
func Download(ctx context.Context, rc remote.Canister, canisterID, snapshotID string, dir *Directory, sink progress.Sink) error {
	if sink == nil {
		sink = progress.NopSink{}
	}

	meta, err := withRetry(ctx, func(ctx context.Context) (remote.SnapshotMetadata, error) {
		return rc.ReadSnapshotMetadata(ctx, canisterID, snapshotID)
	})
	if err != nil {
		return err
	}
	if err := dir.SaveMetadata(meta); err != nil {
		return &BlobIOError{Path: dir.metadataPath(), Err: err}
	}

	store, err := dir.LoadDownloadProgress()
	if err != nil {
		return err
	}

	_, err = fslock.WithWrite(dir.lock, func(fslock.LWrite) (struct{}, error) {
		for _, blob := range allBlobs() {
			total := blobSize(meta, blob)
			if total == 0 {
				if err := ensureEmptyFile(dir.blobPath(blob)); err != nil {
					return struct{}{}, &BlobIOError{Path: dir.blobPath(blob), Err: err}
				}
				sink.SetProgress(blob.filename(), 0, 0)
				continue
			}
			if err := downloadBlob(ctx, rc, canisterID, dir, store, blob, total, sink); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}

	for _, hash := range meta.ChunkHashes {
		path := dir.chunkStorePath(hash)
		if _, statErr := os.Stat(path); statErr == nil {
			continue
		}
		data, err := withRetry(ctx, func(ctx context.Context) ([]byte, error) {
			return rc.ReadChunkStoreEntry(ctx, canisterID, hash)
		})
		if err != nil {
			return err
		}
		if err := atomicfile.WriteFile(path, data, 0o644); err != nil {
			return &BlobIOError{Path: path, Err: err}
		}
	}

	return nil
}

func ensureEmptyFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func downloadBlob(ctx context.Context, rc remote.Canister, canisterID string, dir *Directory, store *DownloadProgressStore, blob BlobName, total uint64, sink progress.Sink) error {
	path := dir.blobPath(blob)

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return &BlobIOError{Path: path, Err: err}
		}
		if err := preallocate(path, total); err != nil {
			return &BlobIOError{Path: path, Err: err}
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return &BlobIOError{Path: path, Err: err}
	}
	defer f.Close()

	var mu sync.Mutex
	progressState := store.Get(blob)
	sink.SetProgress(blob.filename(), progressState.Frontier, total)

	var needed []uint64
	for _, off := range ChunkOffsets(total) {
		if progressState.NeedsDownload(off) {
			needed = append(needed, off)
		}
	}

	group, gctx := errgroup.WithContext(ctx)
	for _, offset := range needed {
		offset := offset
		group.Go(func() error {
			size := ChunkSizeAt(offset, total)
			data, err := withRetry(gctx, func(ctx context.Context) ([]byte, error) {
				return rc.ReadSnapshotChunk(ctx, canisterID, remoteBlobKind(blob), offset, size)
			})
			if err != nil {
				return &RemoteReadFailedError{Offset: offset, Err: err}
			}

			mu.Lock()
			defer mu.Unlock()
			if _, err := f.WriteAt(data, int64(offset)); err != nil {
				return &BlobIOError{Path: path, Err: err}
			}
			if err := f.Sync(); err != nil {
				return &BlobIOError{Path: path, Err: err}
			}
			progressState.MarkComplete(offset, total)
			if err := store.Save(blob, progressState); err != nil {
				return err
			}
			sink.SetProgress(blob.filename(), progressState.Frontier, total)
			return nil
		})
	}

	return group.Wait()
}

func preallocate(path string, size uint64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(int64(size))
}

func remoteBlobKind(b BlobName) remote.BlobKind {
	switch b {
	case WasmModule:
		return remote.BlobWasmModule
	case WasmMemory:
		return remote.BlobWasmMemory
	default:
		return remote.BlobStableMemory
	}
}
