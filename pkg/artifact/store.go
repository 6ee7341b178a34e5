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

// Package artifact is the content-addressed build-artifact cache (C2):
// a flat directory, one file per canister, written atomically.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/icp-cli/icp/pkg/codecutil"
	"github.com/opencontainers/go-digest"
	"tailscale.com/atomicfile"
)

// Store is a flat, content-addressed cache of built Wasm artifacts keyed by
// canister name. Artifacts are stored zstd-compressed on disk; callers
// always see the plain bytes.
type Store struct {
	dir string
}

// New returns an artifact store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(canisterName string) string {
	return filepath.Join(s.dir, canisterName+".wasm.zst")
}

// Save writes bytes for canisterName, replacing any prior artifact. The
// write is atomic (temp file + rename) so a concurrent Load never observes
// a partial artifact.
func (s *Store) Save(canisterName string, data []byte) (digest.Digest, error) {
	d := digest.FromBytes(data)
	compressed, err := codecutil.CompressBytes(data)
	if err != nil {
		return "", fmt.Errorf("artifact: compress %s: %w", canisterName, err)
	}
	if err := atomicfile.WriteFile(s.path(canisterName), compressed, 0o644); err != nil {
		return "", fmt.Errorf("artifact: save %s: %w", canisterName, err)
	}
	return d, nil
}

// ErrNotFound is returned by Load when no artifact has been saved for the
// given canister.
var ErrNotFound = fmt.Errorf("artifact: not found")

// Load returns the bytes previously saved for canisterName.
func (s *Store) Load(canisterName string) ([]byte, error) {
	compressed, err := os.ReadFile(s.path(canisterName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("artifact: load %s: %w", canisterName, err)
	}
	data, err := codecutil.DecompressBytes(compressed)
	if err != nil {
		return nil, fmt.Errorf("artifact: decompress %s: %w", canisterName, err)
	}
	return data, nil
}

// Digest returns the content digest of the currently cached artifact for
// canisterName, without decompressing the whole thing into memory twice.
func (s *Store) Digest(canisterName string) (digest.Digest, error) {
	data, err := s.Load(canisterName)
	if err != nil {
		return "", err
	}
	return digest.FromBytes(data), nil
}
