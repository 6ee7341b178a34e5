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

	"github.com/icp-cli/icp/pkg/fslock"
	"github.com/icp-cli/icp/pkg/progress"
	"github.com/icp-cli/icp/pkg/remote"
)

// RemoteUploadFailedError wraps a non-retryable failure uploading a chunk
// at offset.
type RemoteUploadFailedError struct {
	Offset uint64
	Err    error
}

func (e *RemoteUploadFailedError) Error() string {
	return fmt.Sprintf("snapshot: remote upload at offset %d failed: %v", e.Offset, e.Err)
}
func (e *RemoteUploadFailedError) Unwrap() error { return e.Err }

// ChunkStoreMissingError is returned when a chunk-store file the metadata
// references is absent from disk at upload time.
type ChunkStoreMissingError struct{ Hash string }

func (e *ChunkStoreMissingError) Error() string {
	return fmt.Sprintf("snapshot: chunk store entry %q missing from directory", e.Hash)
}

// Upload implements SnapshotTransfer's upload protocol (§4.8 "Upload"):
// re-uploads metadata if not yet done, then uploads each blob's remaining
// bytes (blobs sequential, chunks within a blob parallel with an ordered
// completion map preserving monotonic progress), then any chunk-store
// entries not yet uploaded.
func Upload(ctx context.Context, rc remote.Canister, targetCanisterID string, dir *Directory, sink progress.Sink) error {
	if sink == nil {
		sink = progress.NopSink{}
	}

	meta, err := dir.LoadMetadata()
	if err != nil {
		return err
	}

	up, err := dir.LoadUploadProgress(meta.SnapshotID)
	if err != nil {
		return err
	}

	_, err = fslock.WithWrite(dir.lock, func(fslock.LWrite) (struct{}, error) {
		if !up.MetadataUploaded {
			newID, err := withRetry(ctx, func(ctx context.Context) (string, error) {
				return rc.UploadSnapshotMetadata(ctx, targetCanisterID, meta)
			})
			if err != nil {
				return struct{}{}, err
			}
			up.SnapshotID = newID
			up.MetadataUploaded = true
			if err := dir.SaveUploadProgress(up); err != nil {
				return struct{}{}, err
			}
		}

		for _, blob := range allBlobs() {
			total := blobSize(meta, blob)
			if total == 0 {
				continue
			}
			if err := uploadBlob(ctx, rc, targetCanisterID, dir, up, blob, total, sink); err != nil {
				return struct{}{}, err
			}
		}

		for _, hash := range meta.ChunkHashes {
			if up.WasmChunksUploaded[hash] {
				continue
			}
			data, err := os.ReadFile(dir.chunkStorePath(hash))
			if err != nil {
				if os.IsNotExist(err) {
					return struct{}{}, &ChunkStoreMissingError{Hash: hash}
				}
				return struct{}{}, &BlobIOError{Path: dir.chunkStorePath(hash), Err: err}
			}
			if _, err := withRetry(ctx, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, rc.UploadChunkStoreEntry(ctx, targetCanisterID, hash, data)
			}); err != nil {
				return struct{}{}, err
			}
			up.WasmChunksUploaded[hash] = true
			if err := dir.SaveUploadProgress(up); err != nil {
				return struct{}{}, err
			}
		}

		return struct{}{}, nil
	})
	return err
}

type uploadResult struct {
	offset uint64
	size   uint64
	err    error
}

// uploadBlob uploads blob's remaining chunks in parallel, but persists
// progress in strict offset order via an ordered completion map (§4.8
// "Upload" step 3c), so ProgressSink never observes a regression even
// though underlying uploads complete out of order.
func uploadBlob(ctx context.Context, rc remote.Canister, targetCanisterID string, dir *Directory, up *UploadProgress, blob BlobName, total uint64, sink progress.Sink) error {
	path := dir.blobPath(blob)
	f, err := os.Open(path)
	if err != nil {
		return &BlobIOError{Path: path, Err: err}
	}
	defer f.Close()

	start := up.offset(blob)
	sink.SetProgress(blob.filename(), start, total)

	var offsets []uint64
	for off := start; off < total; off += ChunkSizeAt(off, total) {
		offsets = append(offsets, off)
	}

	results := make(chan uploadResult, len(offsets))
	var wg sync.WaitGroup
	for _, offset := range offsets {
		offset := offset
		size := ChunkSizeAt(offset, total)
		data := make([]byte, size)
		if _, err := f.ReadAt(data, int64(offset)); err != nil {
			return &BlobIOError{Path: path, Err: err}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := withRetry(ctx, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, rc.UploadSnapshotChunk(ctx, targetCanisterID, remoteBlobKind(blob), offset, data)
			})
			if err != nil {
				err = &RemoteUploadFailedError{Offset: offset, Err: err}
			}
			results <- uploadResult{offset: offset, size: size, err: err}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	pending := map[uint64]uint64{} // offset -> size, for completions not yet at the drain frontier
	nextOffset := start
	var firstErr error

	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		pending[res.offset] = res.size
		for {
			size, ok := pending[nextOffset]
			if !ok {
				break
			}
			delete(pending, nextOffset)
			nextOffset += size
			up.setOffset(blob, nextOffset)
			if err := dir.SaveUploadProgress(up); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				break
			}
			sink.SetProgress(blob.filename(), nextOffset, total)
		}
	}

	return firstErr
}
